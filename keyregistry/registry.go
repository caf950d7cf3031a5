// Package keyregistry persists wrapped data encryption keys by label.
//
// A KeyRecord is immutable once written and is never deleted: every label
// that was ever used to seal a row must stay resolvable. The registry holds
// no cryptographic logic, it only stores what the envelope package produced.
package keyregistry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// WriteLabelSetting is the name of the setting holding the label new writes
// are sealed under.
const WriteLabelSetting = "write_label"

var (
	// ErrKeyNotFound is matched by the error returned when a label has no
	// record.
	ErrKeyNotFound = errors.New("key not found")

	// ErrDuplicateLabel is returned by Put when the label already exists.
	ErrDuplicateLabel = errors.New("duplicate label")

	// ErrSettingNotFound is returned when a setting was never stored.
	ErrSettingNotFound = errors.New("setting not found")
)

// KeyNotFoundError names the label that could not be resolved.
type KeyNotFoundError struct {
	Label string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("%s: %q", ErrKeyNotFound, e.Label)
}

func (e *KeyNotFoundError) Is(target error) bool { return target == ErrKeyNotFound }

func (e *KeyNotFoundError) StatusCode() int { return http.StatusNotFound }

type duplicateLabelError struct {
	label string
}

func (e *duplicateLabelError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDuplicateLabel, e.label)
}

func (e *duplicateLabelError) Is(target error) bool { return target == ErrDuplicateLabel }

func (e *duplicateLabelError) StatusCode() int { return http.StatusConflict }

// KeyRecord is a wrapped DEK as stored in the registry.
type KeyRecord struct {
	Label      string    `json:"label"`
	WrappedDEK []byte    `json:"-"`
	WrapNonce  []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Registry stores KeyRecords.
type Registry interface {
	// Get returns the record for label, or an error matching
	// ErrKeyNotFound.
	Get(ctx context.Context, label string) (*KeyRecord, error)

	// Put stores a new record. It returns an error matching
	// ErrDuplicateLabel if the label is taken.
	Put(ctx context.Context, r KeyRecord) error

	// ListLabels returns every label, sorted.
	ListLabels(ctx context.Context) ([]string, error)
}

// SettingStore persists the write label across restarts.
type SettingStore interface {
	// WriteLabel returns ErrSettingNotFound when no label was stored yet.
	WriteLabel(ctx context.Context) (string, error)
	SetWriteLabel(ctx context.Context, label string) error
}

// Store is a backend that is both a Registry and a SettingStore. Every
// backend in this package is one.
type Store interface {
	Registry
	SettingStore
}

func validate(r KeyRecord) error {
	if r.Label == "" {
		return errors.New("key record requires a label")
	}
	if len(r.WrappedDEK) == 0 {
		return errors.Errorf("key record %q has no wrapped dek", r.Label)
	}
	return nil
}
