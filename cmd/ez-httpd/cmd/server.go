package cmd

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelreyna/ez-httpd/pkg/server"
)

type daemon struct {
	srv    *server.Server
	cfg    server.Config
	logger *log.Logger
}

func newServer(cfg server.Config) (*daemon, error) {
	srv, err := server.New(cfg)
	if err != nil {
		return nil, err
	}
	return &daemon{
		srv:    srv,
		cfg:    cfg,
		logger: log.New(os.Stdout, "", log.LstdFlags),
	}, nil
}

// run serves until the listener fails, ctx is done or SIGINT/SIGTERM arrives.
func (d *daemon) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- d.srv.ListenAndServe()
	}()
	d.logger.Printf("serving %s on %s", d.srv.Root(), d.cfg.Addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	d.logger.Println("shutting down")
	d.srv.Close()
	if err := <-errc; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
