// Package fieldcodec encrypts and decrypts individual text columns.
//
// Every encrypted column is accessed through a Field. A Field never reads or
// writes the row label by itself: Encode reports the label it sealed under
// and Decode is handed the label stored with the row. That is what lets rows
// written under an old label keep decoding while a rotation is in progress.
package fieldcodec

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/cryptostate"
)

// ErrInvalidPayload is returned when only one of ciphertext and nonce is
// set.
var ErrInvalidPayload = invalidPayloadError{}

type invalidPayloadError struct{}

func (invalidPayloadError) Error() string {
	return "invalid payload: ciphertext and nonce must be set together"
}
func (invalidPayloadError) StatusCode() int { return http.StatusUnprocessableEntity }

// Payload is the stored form of one encrypted field. A zero Payload means
// the field is absent.
type Payload struct {
	Ciphertext []byte
	Nonce      []byte
}

func (p Payload) IsZero() bool {
	return p.Ciphertext == nil && p.Nonce == nil
}

func (p Payload) valid() bool {
	return (p.Ciphertext == nil) == (p.Nonce == nil)
}

// Row is the encrypted portion of a stored entity. A single Label covers
// every field in Fields. An empty Label is a legacy row written before
// labels existed.
type Row struct {
	ID     int64
	Label  string
	Fields map[string]Payload
}

// HasData reports whether at least one field is set.
func (r Row) HasData() bool {
	for _, p := range r.Fields {
		if !p.IsZero() {
			return true
		}
	}
	return false
}

// Cipher is the field level AEAD the codec seals with.
type Cipher interface {
	Encrypt(dek, plaintext, aad []byte) ([]byte, []byte, error)
	Decrypt(dek, ciphertext, nonce, aad []byte) ([]byte, error)
}

type Options struct {
	State  *cryptostate.Context
	Cipher Cipher
	// AADTag binds ciphertext to an entity version, e.g. "txn:v1".
	AADTag string
	// LegacyLabel is the key used for rows with no stored label.
	LegacyLabel string
}

type Codec struct {
	state       *cryptostate.Context
	cipher      Cipher
	aadTag      string
	legacyLabel string
}

func New(opts Options) *Codec {
	legacy := opts.LegacyLabel
	if legacy == "" {
		legacy = cryptostate.DefaultInitialLabel
	}
	return &Codec{
		state:       opts.State,
		cipher:      opts.Cipher,
		aadTag:      opts.AADTag,
		legacyLabel: legacy,
	}
}

// Field returns the capability for the named column.
func (c *Codec) Field(name string) *Field {
	return &Field{codec: c, name: name, aad: []byte(c.aadTag + ":" + name)}
}

// KeyLabel maps a stored row label to the registry label holding its key.
func (c *Codec) KeyLabel(label string) string {
	if label == "" {
		return c.legacyLabel
	}
	return label
}

// Writer snapshots the current write label and its DEK.
func (c *Codec) Writer(ctx context.Context) (*Writer, error) {
	label := c.state.WriteLabel()
	if label == "" {
		return nil, cryptostate.ErrNoWriteLabel
	}
	return c.WriterFor(ctx, label)
}

// WriterFor returns a Writer sealing under label regardless of the write
// label.
func (c *Codec) WriterFor(ctx context.Context, label string) (*Writer, error) {
	dek, err := c.state.DEK(ctx, label)
	if err != nil {
		return nil, err
	}
	return &Writer{codec: c, label: label, dek: dek}, nil
}

// Reader resolves the DEK for a stored row label once so every field of the
// row can be opened with it.
func (c *Codec) Reader(ctx context.Context, label string) (*Reader, error) {
	dek, err := c.state.DEK(ctx, c.KeyLabel(label))
	if err != nil {
		return nil, err
	}
	return &Reader{codec: c, dek: dek}, nil
}

// Field is one encrypted column.
type Field struct {
	codec *Codec
	name  string
	aad   []byte
}

func (f *Field) Name() string { return f.name }

// Encode seals plaintext under the current write label. A nil plaintext
// yields a zero Payload and an empty label.
func (f *Field) Encode(ctx context.Context, plaintext *string) (Payload, string, error) {
	if plaintext == nil {
		return Payload{}, "", nil
	}
	w, err := f.codec.Writer(ctx)
	if err != nil {
		return Payload{}, "", err
	}
	p, err := w.Seal(f, plaintext)
	return p, w.Label(), err
}

// Decode opens a payload with the key of the row's stored label.
func (f *Field) Decode(ctx context.Context, p Payload, label string) (*string, error) {
	if p.IsZero() {
		return nil, nil
	}
	r, err := f.codec.Reader(ctx, label)
	if err != nil {
		return nil, err
	}
	return r.Open(f, p)
}

// Writer seals fields under one fixed label.
type Writer struct {
	codec *Codec
	label string
	dek   []byte
}

func (w *Writer) Label() string { return w.label }

// Seal encrypts plaintext for field f. Nil stays absent.
func (w *Writer) Seal(f *Field, plaintext *string) (Payload, error) {
	if plaintext == nil {
		return Payload{}, nil
	}
	ct, nonce, err := w.codec.cipher.Encrypt(w.dek, []byte(*plaintext), f.aad)
	if err != nil {
		return Payload{}, errors.Wrapf(err, "encrypting %s", f.name)
	}
	return Payload{Ciphertext: ct, Nonce: nonce}, nil
}

// Reader opens fields sealed under one label.
type Reader struct {
	codec *Codec
	dek   []byte
}

// Open decrypts p for field f. Authentication failures match
// aead.ErrDecryptionFailure.
func (r *Reader) Open(f *Field, p Payload) (*string, error) {
	if p.IsZero() {
		return nil, nil
	}
	if !p.valid() {
		return nil, ErrInvalidPayload
	}
	pt, err := r.codec.cipher.Decrypt(r.dek, p.Ciphertext, p.Nonce, f.aad)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypting %s", f.name)
	}
	s := string(pt)
	return &s, nil
}
