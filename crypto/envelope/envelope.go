// Package envelope wraps data encryption keys (DEKs) with a key encryption
// key held by an external service, and composes that wrapping with field
// level AEAD.
//
// Envelope encryption is the process of setting up an encryption chain, where
// keys are encrypted with other keys higher up the chain. In production the
// top level key lives in KMS; in development it's a local 256 bit key.
//
// Only wrapped DEKs are ever persisted. Unwrapped DEK bytes are handed to
// callers and never logged.
package envelope

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

const (
	ModeLocal = "local"
	ModeKMS   = "kms"
)

// ErrWrapFailure is matched (with errors.Is) by every error a Wrapper
// returns.
var ErrWrapFailure = errors.New("wrap failure")

// WrapFailure reports that the key wrapping provider could not wrap or unwrap
// a DEK. It usually means the provider is unreachable or refused the call.
type WrapFailure struct {
	Mode string
	Op   string
	Err  error
}

func (e *WrapFailure) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrWrapFailure, e.Mode, e.Op, e.Err)
}

func (e *WrapFailure) Unwrap() error { return e.Err }

func (e *WrapFailure) Is(target error) bool { return target == ErrWrapFailure }

// Temporary lets httpx map the error to a 503.
func (e *WrapFailure) Temporary() bool { return true }

func wrapFailure(mode, op string, err error) error {
	if err == nil {
		return nil
	}
	return &WrapFailure{Mode: mode, Op: op, Err: err}
}

// Envelope is a wrapped DEK as persisted in the key registry.
type Envelope struct {
	// Ciphertext is the wrapped key.
	Ciphertext []byte `json:"ciphertext"`
	// Nonce is the wrap nonce. It is nil for providers that embed their
	// own (KMS).
	Nonce []byte `json:"nonce,omitempty"`
}

// Wrapper is the pluggable key wrapping provider.
type Wrapper interface {
	Wrap(ctx context.Context, dek []byte) (*Envelope, error)
	Unwrap(ctx context.Context, e *Envelope) ([]byte, error)
	// Mode names the provider for status reporting ("local", "kms").
	Mode() string
}
