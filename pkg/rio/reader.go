// Package rio reads HTTP header lines off a connection.
package rio

import (
	"bufio"
	"io"
)

// MaxLine is the default cap on the length of a single line.
const MaxLine = 1024

// Reader yields CR, LF or CRLF terminated lines from an underlying stream.
// Bytes that were read ahead but not consumed as lines are still available
// through Read, so a request body can follow the header block.
type Reader struct {
	br  *bufio.Reader
	max int
}

func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, MaxLine)
}

// NewReaderSize returns a Reader whose lines are capped at max bytes.
func NewReaderSize(r io.Reader, max int) *Reader {
	if max < 2 {
		max = 2
	}
	return &Reader{
		br:  bufio.NewReaderSize(r, max),
		max: max,
	}
}

// ReadLine returns the next line including its terminator.
// A lone '\r' terminates a line just like "\r\n" and '\n' do.
// Lines longer than the cap are truncated and the rest of the line is
// discarded. At end of stream a partial line is returned with a nil error;
// io.EOF is returned only when no bytes were left.
func (r *Reader) ReadLine() ([]byte, error) {
	line := make([]byte, 0, 64)
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return line, err
		}

		if len(line) == r.max {
			// over the cap: swallow the tail of this line
			r.br.UnreadByte()
			if err := r.skipLine(); err != nil && err != io.EOF {
				return line, err
			}
			return line, nil
		}

		line = append(line, c)
		switch c {
		case '\n':
			return line, nil
		case '\r':
			if next, err := r.br.Peek(1); err == nil && next[0] == '\n' {
				r.br.ReadByte()
				if len(line) < r.max {
					line = append(line, '\n')
				}
			}
			return line, nil
		}
	}
}

func (r *Reader) skipLine() error {
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			return err
		}
		switch c {
		case '\n':
			return nil
		case '\r':
			if next, err := r.br.Peek(1); err == nil && next[0] == '\n' {
				r.br.ReadByte()
			}
			return nil
		}
	}
}

// Read reads raw bytes, starting with whatever ReadLine left buffered.
func (r *Reader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}
