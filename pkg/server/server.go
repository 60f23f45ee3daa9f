package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/raphaelreyna/ez-httpd/pkg/cgi"
	"github.com/raphaelreyna/ez-httpd/pkg/request"
)

// DefaultAddr is where the server listens when Config.Addr is empty.
const DefaultAddr = ":1234"

// Config holds everything needed to run a Server. Zero values give the
// plain behavior: no timeouts, no connection cap, one goroutine per
// connection, paths joined to the root without canonicalization.
type Config struct {
	Addr  string
	Root  string
	Index string
	// Name is passed to CGI programs as SERVER_SOFTWARE.
	Name  string

	// Confine cleans request paths so they cannot leave Root and
	// HTML-escapes names in directory listings.
	Confine bool

	// Serial handles each connection to completion before accepting the next.
	Serial bool
	// MaxConns caps the number of connections being served at once.
	MaxConns int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CGITimeout   time.Duration

	// CGIHeaders makes the server parse CGI headers instead of passing the
	// program's output through after a bare status line.
	CGIHeaders bool
	InheritEnv []string
	Stderr     io.Writer

	// Logger receives errors; the log package's standard logger is used when nil.
	Logger *log.Logger
	// AccessLog receives one line per request; nothing is logged when nil.
	AccessLog *log.Logger
}

// Server holds the state for our http server.
type Server struct {
	cfg    Config
	cgi    *cgi.Handler
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

// New checks cfg and returns a Server for it. Root is made absolute and must
// be a directory.
func New(cfg Config) (*Server, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	cfg.Root = root

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Index == "" {
		cfg.Index = request.DefaultIndex
	}

	h := &cgi.Handler{
		Name:       cfg.Name,
		InheritEnv: cfg.InheritEnv,
		Logger:     cfg.Logger,
		Stderr:     cfg.Stderr,
		Timeout:    cfg.CGITimeout,
	}
	if _, port, err := net.SplitHostPort(cfg.Addr); err == nil {
		h.Port = port
	}
	if cfg.CGIHeaders {
		h.OutputHandler = cgi.HeaderOutputHandler
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		cgi:    h,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Root is the absolute document root.
func (s *Server) Root() string {
	return s.cfg.Root
}

// Addr is the address being served, nil until Serve is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on the configured address and serves until Close.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close is called. It always returns a
// non-nil error; after Close that error is net.ErrClosed.
func (s *Server) Serve(l net.Listener) error {
	if s.cfg.MaxConns > 0 {
		l = netutil.LimitListener(l, s.cfg.MaxConns)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	if s.closed.Load() {
		l.Close()
		return net.ErrClosed
	}

	if s.cgi.Port == "" || s.cgi.Port == "0" {
		if addr, ok := l.Addr().(*net.TCPAddr); ok {
			s.cgi.Port = strconv.Itoa(addr.Port)
		}
	}

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return net.ErrClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logErr("accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		s.wg.Add(1)
		if s.cfg.Serial {
			s.serve(conn)
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	s.ServeConn(conn)
}

// Close stops accepting connections, stops running CGI programs and waits
// for in-flight connections to finish.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.cancel()

	var err error
	s.mu.Lock()
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) logErr(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}
