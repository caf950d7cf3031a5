package middleware

import (
	"context"
	"net/http"

	"github.com/pborman/uuid"
	"github.com/remind101/fieldcrypt/httpx"
)

// DefaultRequestIDExtractor is the default function to use to extract a request
// id from an http.Request.
var DefaultRequestIDExtractor = HeaderExtractor([]string{"X-Request-Id", "Request-Id"})

// RequestID is middleware that extracts a request id from the headers and
// inserts it into the context. Requests without one get a generated id. The
// id is echoed in the X-Request-Id response header.
type RequestID struct {
	// Extractor is a function that can extract a request id from an
	// http.Request. The zero value is a function that will pull a request
	// id from the `X-Request-ID` or `Request-ID` headers.
	Extractor func(*http.Request) string

	// Generate is used when no id was extracted. The zero value generates
	// a random uuid.
	Generate func() string

	// handler is the wrapped httpx.Handler.
	handler httpx.Handler
}

func ExtractRequestID(h httpx.Handler) *RequestID {
	return &RequestID{
		handler: h,
	}
}

// ServeHTTPContext implements the httpx.Handler interface.
func (h *RequestID) ServeHTTPContext(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	e := h.Extractor
	if e == nil {
		e = DefaultRequestIDExtractor
	}
	requestID := e(r)
	if requestID == "" {
		g := h.Generate
		if g == nil {
			g = uuid.New
		}
		requestID = g()
	}

	w.Header().Set("X-Request-Id", requestID)
	return h.handler.ServeHTTPContext(httpx.WithRequestID(ctx, requestID), w, r)
}

// HeaderExtractor returns a function that can extract a request id from a list
// of headers.
func HeaderExtractor(headers []string) func(*http.Request) string {
	return func(r *http.Request) string {
		for _, h := range headers {
			v := r.Header.Get(h)
			if v != "" {
				return v
			}
		}

		return ""
	}
}
