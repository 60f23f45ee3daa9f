// Package cgi runs programs below the document root as CGI scripts and
// streams their output back over the raw connection.
package cgi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/raphaelreyna/ez-httpd/pkg/request"
	"github.com/raphaelreyna/ez-httpd/pkg/response"
)

// ErrSpawn wraps failures to create the pipes or start the program.
// The client has already been sent a 500 when it is returned.
var ErrSpawn = errors.New("cgi: could not start program")

// Handler runs an executable per request with a CGI environment.
type Handler struct {
	Name string // value to use for SERVER_SOFTWARE env var
	Port string // value to use for SERVER_PORT env var

	// InheritEnv lists variables copied from the server's environment.
	// Entries of the form KEY=VALUE are passed on verbatim.
	InheritEnv []string
	Logger     *log.Logger
	Stderr     io.Writer

	// Timeout kills the program if it runs longer. Zero means no limit.
	Timeout time.Duration

	// OutputHandler turns the program's stdout into the response.
	// RawOutputHandler is used when nil.
	OutputHandler OutputHandler
}

// Serve runs the program at path for req and writes its output to w.
// For POST exactly req.ContentLength bytes of body are fed to the program.
// The program has exited and all pipes are closed when Serve returns.
func (h *Handler) Serve(ctx context.Context, w io.Writer, body io.Reader, path string, req *request.Request) (response.StatusCode, error) {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path)
	setProcessGroup(cmd)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = h.env(req, path)
	cmd.Stderr = h.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	c, err := spawn(cmd)
	if err != nil {
		h.logErr("cgi: %s: %v", path, err)
		if werr := response.WriteError(w, response.StatusInternalServerError); werr != nil {
			h.logErr("cgi: writing error response: %v", werr)
		}
		return response.StatusInternalServerError, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	defer func() {
		if err := c.reap(); err != nil {
			h.logErr("cgi: %s: %v", path, err)
		}
	}()

	if req.Method == request.MethodPost && req.ContentLength > 0 {
		// a stalled body read must not outlive a timeout or shutdown
		if d, ok := body.(readDeadliner); ok {
			c.unblock = context.AfterFunc(ctx, func() {
				d.SetReadDeadline(time.Now())
			})
		}
		c.fed = make(chan struct{})
		go c.feed(body, req.ContentLength)
	} else {
		c.stdin.Close()
	}

	out := h.OutputHandler
	if out == nil {
		out = RawOutputHandler
	}
	status, err := out(w, h, c.stdout)
	if err != nil {
		c.kill()
		return status, err
	}
	return status, nil
}

func (h *Handler) logErr(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

// readDeadliner is implemented by bodies read from a connection.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// maxDiscard bounds how much body is read and dropped once the program
// stops taking it.
const maxDiscard = 256 << 10

// child is a started program together with the parent's ends of its
// stdin and stdout pipes. spawn and reap bracket its whole life, including
// the goroutine feeding its stdin.
type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	fed    chan struct{}

	unblock func() bool
}

func spawn(cmd *exec.Cmd) (*child, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	return &child{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
	}, nil
}

// feed copies n bytes of request body into the program and closes its stdin.
// It runs alongside the output copy so a program that writes before it has
// read everything cannot wedge the exchange. Whatever the program leaves
// unread is drained so the client is not reset before it reads the response.
func (c *child) feed(body io.Reader, n int64) {
	defer close(c.fed)
	lr := &io.LimitedReader{R: body, N: n}
	io.Copy(c.stdin, lr)
	c.stdin.Close()
	if lr.N > 0 && lr.N <= maxDiscard {
		io.Copy(io.Discard, lr)
	}
}

func (c *child) kill() {
	if c.cmd.Process != nil {
		killProcessGroup(c.cmd.Process)
	}
}

// reap closes the parent's pipe ends, waits for the feeding goroutine and
// then for the program to exit.
func (c *child) reap() error {
	c.stdin.Close()
	c.stdout.Close()
	if c.fed != nil {
		<-c.fed
	}
	if c.unblock != nil {
		c.unblock()
	}
	return c.cmd.Wait()
}
