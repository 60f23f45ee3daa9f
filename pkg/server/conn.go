package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/raphaelreyna/ez-httpd/pkg/request"
	"github.com/raphaelreyna/ez-httpd/pkg/response"
	"github.com/raphaelreyna/ez-httpd/pkg/rio"
	"github.com/raphaelreyna/ez-httpd/pkg/static"
)

// ServeConn answers the single request on conn and closes it.
// Everything it allocates belongs to this connection alone.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	if s.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	r := rio.NewReader(conn)
	req, err := request.Parse(r)
	if req == nil {
		if err != nil && err != io.EOF {
			s.logErr("%s: reading request: %v", conn.RemoteAddr(), err)
		}
		return
	}
	req.RemoteAddr = conn.RemoteAddr().String()

	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}

	status, err := s.respond(conn, r, req, err)
	if err != nil {
		s.logErr("%s %s: %v", req.RawMethod, req.Target, err)
	}
	s.logAccess(conn, status, req)
}

// respond routes req and writes exactly one response. parseErr is whatever
// request.Parse returned along with req.
func (s *Server) respond(conn net.Conn, body io.Reader, req *request.Request, parseErr error) (response.StatusCode, error) {
	switch {
	case errors.Is(parseErr, request.ErrBadRequest):
		return response.StatusBadRequest, response.WriteError(conn, response.StatusBadRequest)
	case parseErr != nil:
		// the connection failed while the header block was read
		return 0, parseErr
	}

	fsPath := request.Resolve(s.cfg.Root, req.Path, s.cfg.Index, s.cfg.Confine)
	rt, fsPath, _ := routeRequest(req, fsPath, s.cfg.Index)
	if rt != routeCGI && req.Method == request.MethodPost {
		discardBody(body, req.ContentLength)
	}

	switch rt {
	case routeBadMethod:
		return response.StatusNotImplemented, response.WriteError(conn, response.StatusNotImplemented)
	case routeNotFound:
		return response.StatusNotFound, response.WriteError(conn, response.StatusNotFound)
	case routeDirectory:
		return s.writeStatic(conn, rt, func() (response.StatusCode, error) {
			return static.Dir(conn, fsPath, s.cfg.Confine)
		})
	case routeStatic:
		return s.writeStatic(conn, rt, func() (response.StatusCode, error) {
			return static.File(conn, fsPath, req)
		})
	}

	if s.cfg.WriteTimeout > 0 {
		// the program's run time is bounded by CGITimeout instead
		conn.SetWriteDeadline(time.Time{})
	}
	return s.cgi.Serve(s.ctx, conn, requestBody{body, conn}, fsPath, req)
}

// requestBody reads a body through the buffered line reader and lets the
// CGI handler interrupt a stalled read on the connection.
type requestBody struct {
	io.Reader
	conn net.Conn
}

func (b requestBody) SetReadDeadline(t time.Time) error {
	return b.conn.SetReadDeadline(t)
}

// writeStatic runs a static responder and turns a late open failure into a 404.
func (s *Server) writeStatic(conn net.Conn, rt route, serve func() (response.StatusCode, error)) (response.StatusCode, error) {
	status, err := serve()
	if errors.Is(err, static.ErrNotFound) {
		s.logErr("static: %s: %v", rt, err)
		return response.StatusNotFound, response.WriteError(conn, response.StatusNotFound)
	}
	return status, err
}

// maxDiscard bounds how much of an unused POST body is read and dropped
// before answering.
const maxDiscard = 256 << 10

func discardBody(body io.Reader, n int64) {
	if n > maxDiscard {
		n = maxDiscard
	}
	if n > 0 {
		io.CopyN(io.Discard, body, n)
	}
}

func (s *Server) logAccess(conn net.Conn, status response.StatusCode, req *request.Request) {
	if s.cfg.AccessLog == nil {
		return
	}
	s.cfg.AccessLog.Printf("%s %d - %s", conn.RemoteAddr(), status, req.Target)
}
