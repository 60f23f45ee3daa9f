package request

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/raphaelreyna/ez-httpd/pkg/rio"
)

var (
	// ErrBadRequest is wrapped by every error that should be answered with 400.
	ErrBadRequest           = errors.New("bad request")
	ErrMissingContentLength = fmt.Errorf("%w: missing content-length", ErrBadRequest)
	ErrBadContentLength     = fmt.Errorf("%w: invalid content-length", ErrBadRequest)
)

// maxHeaders bounds how many distinct header names are kept; the rest are drained.
const maxHeaders = 100

type Method int

const (
	MethodUnsupported Method = iota
	MethodGet
	MethodPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	}
	return "UNSUPPORTED"
}

func parseMethod(s string) Method {
	switch {
	case strings.EqualFold(s, "GET"):
		return MethodGet
	case strings.EqualFold(s, "POST"):
		return MethodPost
	}
	return MethodUnsupported
}

// Header maps lowercased header names to their values.
// Repeated headers are joined with ", ".
type Header map[string]string

func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Range is a byte window [Start, End) of a resource. A zero End means end of file.
type Range struct {
	Start int64
	End   int64
}

// Request is everything the server needs to know about one request.
// It is built once by Parse and not modified afterwards.
type Request struct {
	Method    Method
	RawMethod string
	Target    string
	Version   string

	// RawPath is Target up to the first '?', undecoded.
	RawPath string
	// Path is RawPath with percent-escapes decoded.
	Path     string
	Query    string
	HasQuery bool

	Header   Header
	Range    Range
	HasRange bool
	// ContentLength is -1 when the header was absent.
	ContentLength int64

	RemoteAddr string
}

// Parse reads the request line and the whole header block from r.
// The header block is always consumed, even when the method is unsupported or
// an error is returned, so that the caller may answer on a drained socket.
// An error wrapping ErrBadRequest comes with a non-nil Request.
// io.EOF is returned when the peer sent nothing at all.
func Parse(r *rio.Reader) (*Request, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}

	req := &Request{
		Header:        Header{},
		ContentLength: -1,
	}

	fields := strings.Fields(string(line))
	if len(fields) > 0 {
		req.RawMethod = fields[0]
	}
	if len(fields) > 1 {
		req.Target = fields[1]
	}
	if len(fields) > 2 {
		req.Version = fields[2]
	}
	req.Method = parseMethod(req.RawMethod)

	req.RawPath = req.Target
	if i := strings.IndexByte(req.Target, '?'); i >= 0 {
		req.RawPath = req.Target[:i]
		if req.Method == MethodGet {
			req.Query = req.Target[i+1:]
			req.HasQuery = true
		}
	}
	req.Path = Unescape(req.RawPath)

	if err := req.readHeaders(r); err != nil {
		return req, err
	}

	if req.Method == MethodPost {
		v, ok := req.Header["content-length"]
		if !ok {
			return req, ErrMissingContentLength
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return req, fmt.Errorf("%w: %q", ErrBadContentLength, v)
		}
		req.ContentLength = n
	}

	return req, nil
}

func (req *Request) readHeaders(r *rio.Reader) error {
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			return nil
		}

		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		key := strings.ToLower(string(bytes.TrimSpace(name)))
		val := string(bytes.TrimSpace(value))

		if key == "range" && req.Method == MethodGet {
			req.Range, req.HasRange = ParseRange(val)
		}

		if prev, ok := req.Header[key]; ok {
			req.Header[key] = prev + ", " + val
			continue
		}
		if len(req.Header) < maxHeaders {
			req.Header[key] = val
		}
	}
}

// ParseRange parses "bytes = <start> ~ <end>" (or "bytes=<start>-<end>").
// Whitespace around the tokens is optional. A non-zero end is made
// exclusive by adding one; a missing or zero end means end of file.
func ParseRange(v string) (Range, bool) {
	s, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes")
	if !ok {
		return Range{}, false
	}
	s, ok = strings.CutPrefix(strings.TrimSpace(s), "=")
	if !ok {
		return Range{}, false
	}

	start, s, ok := leadingInt(strings.TrimSpace(s))
	if !ok {
		return Range{}, false
	}
	rng := Range{Start: start}

	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '~' && s[0] != '-') {
		return rng, true
	}
	end, _, ok := leadingInt(strings.TrimSpace(s[1:]))
	if ok && end > 0 {
		rng.End = end + 1
	}
	return rng, true
}

func leadingInt(s string) (int64, string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, s, false
	}
	return n, s[i:], true
}
