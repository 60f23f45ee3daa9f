package response

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"syscall"
)

type StatusCode int

const (
	StatusOK                  StatusCode = 200
	StatusPartialContent      StatusCode = 206
	StatusFound               StatusCode = 302
	StatusBadRequest          StatusCode = 400
	StatusNotFound            StatusCode = 404
	StatusInternalServerError StatusCode = 500
	StatusNotImplemented      StatusCode = 501
)

var reasonPhrases = map[StatusCode]string{
	StatusOK:                  "OK",
	StatusPartialContent:      "Partial Content",
	StatusFound:               "Found",
	StatusBadRequest:          "Bad Request",
	StatusNotFound:            "Not Found",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
}

// otherReasons covers codes CGI programs commonly send with a Status header.
var otherReasons = map[StatusCode]string{
	201: "Created",
	202: "Accepted",
	204: "No Content",
	301: "Moved Permanently",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	401: "Unauthorized",
	403: "Forbidden",
	405: "Method Not Allowed",
	409: "Conflict",
	410: "Gone",
	413: "Content Too Large",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	422: "Unprocessable Content",
	429: "Too Many Requests",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// Reason returns the reason phrase for c. Unknown codes get a phrase for
// their class so a status line never ends without one.
func (c StatusCode) Reason() string {
	if r, ok := reasonPhrases[c]; ok {
		return r
	}
	if r, ok := otherReasons[c]; ok {
		return r
	}
	switch c / 100 {
	case 1:
		return "Informational"
	case 2:
		return "Success"
	case 3:
		return "Redirection"
	case 4:
		return "Client Error"
	case 5:
		return "Server Error"
	}
	return "Unknown"
}

// StatusLine renders "HTTP/1.1 <code> <reason>\r\n".
func StatusLine(code StatusCode) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, code.Reason()))
}

type field struct {
	name, value string
}

// Head is the status line and header block of a response.
// It is a value: With returns a new Head and leaves the receiver untouched.
type Head struct {
	Status StatusCode
	fields []field
}

func NewHead(code StatusCode) Head {
	return Head{Status: code}
}

func (h Head) With(name, value string) Head {
	fields := make([]field, len(h.fields), len(h.fields)+1)
	copy(fields, h.fields)
	h.fields = append(fields, field{name, value})
	return h
}

func (h Head) WithLength(n int64) Head {
	return h.With("Content-Length", strconv.FormatInt(n, 10))
}

// Get returns the first value set for name.
func (h Head) Get(name string) string {
	for _, f := range h.fields {
		if f.name == name {
			return f.value
		}
	}
	return ""
}

// Bytes renders the head, including the blank line that ends it.
func (h Head) Bytes() []byte {
	b := StatusLine(h.Status)
	for _, f := range h.fields {
		b = append(b, f.name...)
		b = append(b, ": "...)
		b = append(b, f.value...)
		b = append(b, "\r\n"...)
	}
	return append(b, "\r\n"...)
}

// WriteAll writes all of p to w. Interrupted writes are retried; any other
// failure is returned and nothing more should be written to w.
func WriteAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if n > 0 {
			p = p[n:]
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

var errorBodies = map[StatusCode]string{
	StatusBadRequest:          "The request could not be understood.",
	StatusNotFound:            "File not found.",
	StatusInternalServerError: "The server could not run the requested program.",
	StatusNotImplemented:      "Only GET and POST are supported.",
}

// WriteError sends a complete response with a fixed HTML page for code.
func WriteError(w io.Writer, code StatusCode) error {
	body := fmt.Sprintf("<html><head><title>%d %s</title></head><body><h1>%d %s</h1><p>%s</p></body></html>\n",
		code, code.Reason(), code, code.Reason(), errorBodies[code])
	head := NewHead(code).
		With("Content-Type", "text/html").
		WithLength(int64(len(body)))
	return WriteAll(w, append(head.Bytes(), body...))
}
