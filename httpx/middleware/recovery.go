package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/httpx"
)

// BasicRecovery converts panics into errors for upstream middleware to
// handle.
type BasicRecovery struct {
	handler httpx.Handler
}

// ServeHTTPContext implements the httpx.Handler interface. It recovers from
// panics and returns an error for upstream middleware to handle.
func (h *BasicRecovery) ServeHTTPContext(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if v := recover(); v != nil {
			var ok bool
			if err, ok = v.(error); !ok {
				err = fmt.Errorf("%v", v)
			}
			err = errors.WithStack(err)
		}
	}()

	err = h.handler.ServeHTTPContext(ctx, w, r)

	return
}

func BasicRecover(h httpx.Handler) *BasicRecovery {
	return &BasicRecovery{handler: h}
}
