// Package static writes files and directory listings to a connection.
package static

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/raphaelreyna/ez-httpd/pkg/request"
	"github.com/raphaelreyna/ez-httpd/pkg/response"
)

// ErrNotFound is returned, before anything is written, when the file cannot be opened.
var ErrNotFound = errors.New("static: not found")

// Window returns the byte window [offset, end) to serve out of a file of the
// given size and whether it is a partial one. Ranges that are empty or start
// past the end fall back to the whole file.
func Window(req *request.Request, size int64) (offset, end int64, partial bool) {
	if req == nil || !req.HasRange {
		return 0, size, false
	}
	offset, end = req.Range.Start, req.Range.End
	if end == 0 || end > size {
		end = size
	}
	if offset < 0 || offset >= end {
		return 0, size, false
	}
	return offset, end, true
}

// File sends the regular file at path, or the byte range req asks for.
// Once the head is out, a failed or short copy just ends the stream; the
// error is still returned for logging.
func File(w io.Writer, path string, req *request.Request) (response.StatusCode, error) {
	f, err := os.Open(path)
	if err != nil {
		return response.StatusNotFound, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return response.StatusNotFound, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	size := info.Size()
	offset, end, partial := Window(req, size)

	var head response.Head
	if partial {
		head = response.NewHead(response.StatusPartialContent).
			With("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, size))
	} else {
		head = response.NewHead(response.StatusOK).
			With("Accept-Ranges", "bytes")
	}
	head = head.
		With("Cache-Control", "no-cache").
		With("Content-Length", strconv.FormatInt(end-offset, 10)).
		With("Content-Type", ContentType(path))

	if err := response.WriteAll(w, head.Bytes()); err != nil {
		return head.Status, err
	}
	if end == offset {
		return head.Status, nil
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return head.Status, err
		}
	}
	// *net.TCPConn turns this into sendfile.
	if _, err := io.CopyN(w, f, end-offset); err != nil {
		return head.Status, fmt.Errorf("static: short copy of %s: %w", path, err)
	}
	return head.Status, nil
}
