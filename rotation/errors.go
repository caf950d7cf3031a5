package rotation

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrFinalizeRefused is matched by errors returned when Finalize's guard
// rejects the target label.
var ErrFinalizeRefused = errors.New("finalize refused")

// FinalizeRefusedError explains why a target can't become the write label.
type FinalizeRefusedError struct {
	Target string
	Reason string
}

func (e *FinalizeRefusedError) Error() string {
	return fmt.Sprintf("%s: %q %s", ErrFinalizeRefused, e.Target, e.Reason)
}

func (e *FinalizeRefusedError) Is(target error) bool { return target == ErrFinalizeRefused }

func (e *FinalizeRefusedError) StatusCode() int { return http.StatusConflict }

// RequestError is returned for malformed rotation requests.
type RequestError struct {
	msg string
}

func (e *RequestError) Error() string   { return e.msg }
func (e *RequestError) StatusCode() int { return http.StatusBadRequest }

func requestErrorf(format string, args ...interface{}) error {
	return &RequestError{msg: fmt.Sprintf(format, args...)}
}
