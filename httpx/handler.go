package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// Handler is represents a Handler that can take a context.Context as the
// first argument. Errors returned are handled by upstream middleware.
type Handler interface {
	ServeHTTPContext(context.Context, http.ResponseWriter, *http.Request) error
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as
// httpx handlers.
type HandlerFunc func(context.Context, http.ResponseWriter, *http.Request) error

// ServeHTTPContext calls f(ctx, w, r)
func (f HandlerFunc) ServeHTTPContext(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return f(ctx, w, r)
}

// RequestID extracts a request id from a context.
func RequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}

// WithRequestID inserts a RequestID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Encode writes v as JSON with the given status.
func Encode(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// BadRequestError is returned when a request body can't be decoded.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string   { return e.Err.Error() }
func (e *BadRequestError) StatusCode() int { return http.StatusBadRequest }

// Decode reads a JSON request body into v. An empty body leaves v untouched.
func Decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &BadRequestError{Err: errors.Wrap(err, "decoding request body")}
	}
	return nil
}
