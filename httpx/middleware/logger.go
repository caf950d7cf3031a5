package middleware

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/remind101/fieldcrypt/httpx"
	"github.com/remind101/fieldcrypt/logger"
)

// LoggerGenerator builds the logger inserted into a request's context.
type LoggerGenerator func(context.Context, *http.Request) logger.Logger

// LoggerWithRequestID derives a logger from the context's logger (or
// logger.DefaultLogger) tagged with the request id.
func LoggerWithRequestID(ctx context.Context, r *http.Request) logger.Logger {
	return logger.FromContextOrDefault(ctx).With("request_id", httpx.RequestID(ctx))
}

// StdoutLoggerWithLevel generates loggers writing to stdout at lvl.
func StdoutLoggerWithLevel(lvl string) LoggerGenerator {
	l := logger.New(log.New(os.Stdout, "", 0), logger.ParseLevel(lvl))
	return func(ctx context.Context, r *http.Request) logger.Logger {
		return l.With("request_id", httpx.RequestID(ctx))
	}
}

// LogTo is an httpx middleware that wraps the handler to insert a logger and
// log the request to it.
func LogTo(h httpx.Handler, g LoggerGenerator) httpx.Handler {
	return InsertLogger(Log(h), g)
}

// InsertLogger returns an httpx.Handler middleware that will call f to generate
// a logger, then insert it into the context.
func InsertLogger(h httpx.Handler, g LoggerGenerator) httpx.Handler {
	return httpx.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		l := g(ctx, r)
		ctx = logger.WithLogger(ctx, l)
		return h.ServeHTTPContext(ctx, w, r)
	})
}

// Logger is middleware that logs the request details to the logger.Logger
// embedded within the context.
type Logger struct {
	// handler is the wrapped httpx.Handler
	handler httpx.Handler
}

func Log(h httpx.Handler) *Logger {
	return &Logger{
		handler: h,
	}
}

func (h *Logger) ServeHTTPContext(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	rw := NewResponseWriter(w)

	t := time.Now()

	err := h.handler.ServeHTTPContext(ctx, rw, r)

	logger.Info(ctx, "request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rw.Status(),
		"ms", time.Since(t).Milliseconds(),
	)

	return err
}
