package svc

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remind101/fieldcrypt/logger"
)

// NewServerOpt allows users to customize the http.Server used by RunServer.
type NewServerOpt func(*http.Server)

// ServerDefaults specifies default server options to use for RunServer.
// Rotation runs are synchronous, so the write timeout is generous.
var ServerDefaults = func(srv *http.Server) {
	srv.Addr = ":8080"
	srv.WriteTimeout = 10 * time.Minute
	srv.ReadHeaderTimeout = 5 * time.Second
	srv.IdleTimeout = 120 * time.Second
}

// WithPort sets the port for the server to run on.
func WithPort(port string) NewServerOpt {
	return func(srv *http.Server) {
		srv.Addr = ":" + port
	}
}

// WithBaseContext makes every request context derive from ctx.
func WithBaseContext(ctx context.Context) NewServerOpt {
	return func(srv *http.Server) {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
}

// NewServer offers some convenience and good defaults for creating an http.Server
func NewServer(h http.Handler, opts ...NewServerOpt) *http.Server {
	srv := &http.Server{Handler: h}

	// Prepend defaults to server options.
	opts = append([]NewServerOpt{ServerDefaults}, opts...)
	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// RunServer handles the biolerplate of starting an http server and handling
// signals gracefully. The shutdown funcs run after the server stops.
func RunServer(ctx context.Context, srv *http.Server, shutdownFuncs ...func()) error {
	idleConnsClosed := make(chan struct{})

	go func() {
		// Handle SIGINT and SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info(ctx, "received signal, stopping", "signal", sig)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// We received an interrupt signal, shut down.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Error from closing listeners, or context timeout:
			logger.Error(ctx, "http server shutdown", "err", err)
		}
		close(idleConnsClosed)
	}()

	logger.Info(ctx, "http server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		// Error starting or closing listener:
		return err
	}

	<-idleConnsClosed

	for _, fn := range shutdownFuncs {
		fn()
	}
	return nil
}
