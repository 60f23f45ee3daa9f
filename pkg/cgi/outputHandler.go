package cgi

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/raphaelreyna/ez-httpd/pkg/response"
)

// OutputHandler reads the program's output from stdout and writes the
// response to the client. It is called once the program has started; the
// program is killed if it returns an error.
type OutputHandler func(w io.Writer, h *Handler, stdout io.Reader) (response.StatusCode, error)

// RawOutputHandler sends a bare "200 OK" status line followed by the
// program's output byte for byte. The program is expected to print its own
// headers and the blank line before its body.
var RawOutputHandler OutputHandler = func(w io.Writer, h *Handler, stdout io.Reader) (response.StatusCode, error) {
	if err := response.WriteAll(w, response.StatusLine(response.StatusOK)); err != nil {
		return response.StatusOK, err
	}

	linebody := bufio.NewReaderSize(stdout, 1024)
	if _, err := io.Copy(w, linebody); err != nil {
		h.logErr("cgi: copy error: %v", err)
		return response.StatusOK, err
	}
	return response.StatusOK, nil
}

// HeaderOutputHandler scans the program's output for CGI headers and builds a
// complete response head from them. A "Status" header sets the status code, a
// "Location" header without one means 302, and Content-Type defaults to
// text/plain. Scanning stops at the first blank line or at the first line that
// is not a header; that line starts the body.
var HeaderOutputHandler OutputHandler = func(w io.Writer, h *Handler, stdout io.Reader) (response.StatusCode, error) {
	linebody := bufio.NewReaderSize(stdout, 1024)

	// readBytes holds the bytes read during header scan but that aren't part of the header.
	var readBytes []byte
	var names []string
	headers := map[string]string{}
	statusCode := response.StatusCode(0)

	for {
		line, tooBig, err := linebody.ReadLine()
		if tooBig {
			// too long for a header, the line starts the body and the rest
			// of it is still buffered
			readBytes = append([]byte{}, line...)
			break
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logErr("cgi: error reading headers: %v", err)
			return response.StatusInternalServerError, writeFailure(w, err)
		}
		if len(line) == 0 {
			break
		}

		parts := strings.SplitN(string(line), ":", 2)
		if len(parts) < 2 {
			// This line is not a header, add it to the head of the body and break
			readBytes = append(append([]byte{}, line...), '\r', '\n')
			break
		}

		k := strings.TrimSpace(parts[0])
		v := strings.TrimSpace(parts[1])
		switch {
		case k == "Status":
			if len(v) < 3 {
				h.logErr("cgi: bogus status (short): %q", v)
				return response.StatusInternalServerError, writeFailure(w, nil)
			}
			code, err := strconv.Atoi(v[0:3])
			if err != nil {
				h.logErr("cgi: bogus status: %q", v)
				h.logErr("cgi: line was %q", line)
				return response.StatusInternalServerError, writeFailure(w, nil)
			}
			statusCode = response.StatusCode(code)
		default:
			if _, ok := headers[k]; !ok {
				names = append(names, k)
			}
			headers[k] = v
		}
	}

	if _, ok := headers["Location"]; ok && statusCode == 0 {
		statusCode = response.StatusFound
	}
	if statusCode == 0 {
		statusCode = response.StatusOK
	}
	if _, ok := headers["Content-Type"]; !ok {
		names = append(names, "Content-Type")
		headers["Content-Type"] = "text/plain"
	}

	head := response.NewHead(statusCode)
	for _, k := range names {
		head = head.With(k, headers[k])
	}
	head = head.With("Connection", "close")

	if err := response.WriteAll(w, append(head.Bytes(), readBytes...)); err != nil {
		return statusCode, err
	}

	if _, err := io.Copy(w, linebody); err != nil {
		h.logErr("cgi: copy error: %v", err)
		return statusCode, err
	}
	return statusCode, nil
}

// errBadOutput is returned when the program's headers cannot be used.
type errBadOutput struct{ cause error }

func (e errBadOutput) Error() string {
	if e.cause != nil {
		return "cgi: bad program output: " + e.cause.Error()
	}
	return "cgi: bad program output"
}

func (e errBadOutput) Unwrap() error { return e.cause }

func writeFailure(w io.Writer, cause error) error {
	if err := response.WriteError(w, response.StatusInternalServerError); err != nil {
		return err
	}
	return errBadOutput{cause}
}
