package httpx

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/logger"
)

// Error logs err and writes it as a JSON error response.
func Error(ctx context.Context, err error, rw http.ResponseWriter, r *http.Request) {
	status := ErrorStatusCode(err)
	if status >= 500 {
		logger.Error(ctx, "request failed", "status", status, "error", err)
	} else {
		logger.Info(ctx, "request rejected", "status", status, "error", err)
	}
	EncodeError(err, rw)
}

type temporaryError interface {
	Temporary() bool // Is the error temporary?
}

type timeoutError interface {
	Timeout() bool // Is the error a timeout?
}

type statusCoder interface {
	StatusCode() int
}

func EncodeError(err error, rw http.ResponseWriter) {
	errorResp := map[string]string{
		"error": err.Error(),
	}
	Encode(rw, ErrorStatusCode(err), errorResp)
}

// ErrorStatusCode maps err to an HTTP status. The first error in the chain
// implementing StatusCode wins; temporary errors and timeouts map to 503.
func ErrorStatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}

	var te temporaryError
	if errors.As(err, &te) && te.Temporary() {
		return http.StatusServiceUnavailable
	}

	var to timeoutError
	if errors.As(err, &to) && to.Timeout() {
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
