package middleware

import (
	"context"
	"net/http"

	"github.com/remind101/fieldcrypt/httpx"
)

// Background is middleware that implements the http.Handler interface to inject
// an initial context object. Use this as the entry point from an http.Handler
// server.
type Background struct {
	// The wrapped httpx.Handler to call down to.
	handler httpx.Handler
}

func BackgroundContext(h httpx.Handler) *Background {
	return &Background{
		handler: h,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *Background) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeHTTPContext(r.Context(), w, r)
}

func (h *Background) ServeHTTPContext(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.handler.ServeHTTPContext(ctx, w, r)
}
