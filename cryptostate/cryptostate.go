// Package cryptostate holds the process wide crypto context: the cache of
// unwrapped DEKs and the label new writes are sealed under.
//
// A Context is created by the service layer and injected wherever fields are
// encoded or decoded. It is safe for concurrent use.
package cryptostate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/crypto/envelope"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/remind101/fieldcrypt/logger"
	"github.com/remind101/fieldcrypt/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultInitialLabel is the label created by Bootstrap when none is given.
const DefaultInitialLabel = "active"

// ErrNoWriteLabel is returned when a write is attempted before a write label
// was set.
var ErrNoWriteLabel = errors.New("no write label configured")

// Crypto is the subset of envelope.Crypto the context needs.
type Crypto interface {
	Mode() string
	GenerateDEK() ([]byte, error)
	WrapDEK(ctx context.Context, dek []byte) (*envelope.Envelope, error)
	UnwrapDEK(ctx context.Context, e *envelope.Envelope) ([]byte, error)
}

type Options struct {
	Registry keyregistry.Registry
	// Settings persists the write label. Optional.
	Settings keyregistry.SettingStore
	Crypto   Crypto
}

// Status is reported by health probes.
type Status struct {
	Ready bool   `json:"ready"`
	Mode  string `json:"mode"`
	Label string `json:"label"`
}

type Context struct {
	registry keyregistry.Registry
	settings keyregistry.SettingStore
	crypto   Crypto

	mu    sync.RWMutex
	cache map[string][]byte
	group singleflight.Group

	writeLabel atomic.Value // string
}

func New(opts Options) *Context {
	c := &Context{
		registry: opts.Registry,
		settings: opts.Settings,
		crypto:   opts.Crypto,
		cache:    make(map[string][]byte),
	}
	c.writeLabel.Store("")
	return c
}

// DEK returns the unwrapped key for label, resolving it through the registry
// and the wrap provider on first use. Concurrent misses for one label share a
// single unwrap call.
//
// The returned slice must not be modified.
func (c *Context) DEK(ctx context.Context, label string) ([]byte, error) {
	c.mu.RLock()
	dek, ok := c.cache[label]
	c.mu.RUnlock()
	if ok {
		return dek, nil
	}

	v, err, _ := c.group.Do(label, func() (interface{}, error) {
		// Every waiter shares this call.
		return c.resolve(context.WithoutCancel(ctx), label)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Context) resolve(ctx context.Context, label string) ([]byte, error) {
	c.mu.RLock()
	dek, ok := c.cache[label]
	c.mu.RUnlock()
	if ok {
		return dek, nil
	}

	dek, err := c.unwrap(ctx, label)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[label] = dek
	c.mu.Unlock()
	return dek, nil
}

// Refresh resolves label through the registry and the wrap provider,
// bypassing the cache. The cached entry is replaced only on success; on
// failure the previous entry keeps serving.
func (c *Context) Refresh(ctx context.Context, label string) ([]byte, error) {
	dek, err := c.unwrap(ctx, label)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[label] = dek
	c.mu.Unlock()
	return dek, nil
}

func (c *Context) unwrap(ctx context.Context, label string) ([]byte, error) {
	t := metrics.Time("fieldcrypt.dek.resolve", map[string]string{"mode": c.crypto.Mode()}, 1.0)
	defer t.Done()

	r, err := c.registry.Get(ctx, label)
	if err != nil {
		return nil, err
	}
	dek, err := c.crypto.UnwrapDEK(ctx, &envelope.Envelope{Ciphertext: r.WrappedDEK, Nonce: r.WrapNonce})
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx, "dek resolved", "label", label, "mode", c.crypto.Mode())
	return dek, nil
}

// Purge evicts cached DEKs for the given labels, or every label when none
// are given. Callers already holding a DEK keep a valid slice.
func (c *Context) Purge(labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(labels) == 0 {
		c.cache = make(map[string][]byte)
		return
	}
	for _, l := range labels {
		delete(c.cache, l)
	}
}

// Cached reports whether label currently has a cached DEK.
func (c *Context) Cached(label string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[label]
	return ok
}

// WriteLabel returns the label new writes use. It is empty until Bootstrap
// or SetWriteLabel is called.
func (c *Context) WriteLabel() string {
	return c.writeLabel.Load().(string)
}

// SetWriteLabel persists label as the write label and then switches to it.
// The label must exist in the registry.
func (c *Context) SetWriteLabel(ctx context.Context, label string) error {
	if _, err := c.registry.Get(ctx, label); err != nil {
		return err
	}
	if c.settings != nil {
		if err := c.settings.SetWriteLabel(ctx, label); err != nil {
			return err
		}
	}
	prev := c.WriteLabel()
	c.writeLabel.Store(label)
	logger.Info(ctx, "write label changed", "from", prev, "to", label)
	return nil
}

// CreateKey generates a DEK, wraps it and stores it under label.
func (c *Context) CreateKey(ctx context.Context, label string) (*keyregistry.KeyRecord, error) {
	if label == "" {
		return nil, errors.New("label is required")
	}
	if _, err := c.registry.Get(ctx, label); err == nil {
		return nil, errors.Wrapf(keyregistry.ErrDuplicateLabel, "label %q", label)
	} else if !errors.Is(err, keyregistry.ErrKeyNotFound) {
		return nil, err
	}

	dek, err := c.crypto.GenerateDEK()
	if err != nil {
		return nil, errors.Wrap(err, "generating dek")
	}
	e, err := c.crypto.WrapDEK(ctx, dek)
	if err != nil {
		return nil, err
	}

	r := keyregistry.KeyRecord{
		Label:      label,
		WrappedDEK: e.Ciphertext,
		WrapNonce:  e.Nonce,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.registry.Put(ctx, r); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[label] = dek
	c.mu.Unlock()

	logger.Info(ctx, "key created", "label", label, "mode", c.crypto.Mode())
	metrics.Count("fieldcrypt.keys.created", 1, map[string]string{"mode": c.crypto.Mode()}, 1.0)
	return &r, nil
}

// Bootstrap loads the persisted write label. When none is stored it creates
// initialLabel (unless it already exists) and makes it the write label.
func (c *Context) Bootstrap(ctx context.Context, initialLabel string) error {
	if c.settings != nil {
		label, err := c.settings.WriteLabel(ctx)
		switch {
		case err == nil:
			c.writeLabel.Store(label)
			logger.Info(ctx, "write label loaded", "label", label)
			return nil
		case errors.Cause(err) != keyregistry.ErrSettingNotFound:
			return err
		}
	}

	if initialLabel == "" {
		initialLabel = DefaultInitialLabel
	}
	if _, err := c.registry.Get(ctx, initialLabel); errors.Is(err, keyregistry.ErrKeyNotFound) {
		if _, err := c.CreateKey(ctx, initialLabel); err != nil && !errors.Is(err, keyregistry.ErrDuplicateLabel) {
			return err
		}
	} else if err != nil {
		return err
	}
	return c.SetWriteLabel(ctx, initialLabel)
}

// Status resolves the write label's DEK to report readiness.
func (c *Context) Status(ctx context.Context) Status {
	s := Status{Mode: c.crypto.Mode(), Label: c.WriteLabel()}
	if s.Label == "" {
		return s
	}
	if _, err := c.DEK(ctx, s.Label); err != nil {
		logger.Warn(ctx, "crypto not ready", "label", s.Label, "error", err)
		return s
	}
	s.Ready = true
	return s
}
