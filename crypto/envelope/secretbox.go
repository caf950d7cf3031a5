package envelope

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// SecretBoxWrapper wraps DEKs with NaCl secretbox under a local 256 bit key
// encryption key. It's meant for development and tests; production uses KMS.
//
// Unlike the field AEAD, the 192 bit nonce is large enough that random
// nonces never realistically collide, and it's returned separately as the
// envelope's wrap nonce.
type SecretBoxWrapper struct {
	kek [32]byte
}

// NewSecretBoxWrapper returns a wrapper keyed by kek, which must be 32 bytes.
func NewSecretBoxWrapper(kek []byte) (*SecretBoxWrapper, error) {
	w := &SecretBoxWrapper{}
	if n := copy(w.kek[:], kek); n != 32 || len(kek) != 32 {
		return nil, errors.Errorf("local kek must be 32 bytes, got %d", len(kek))
	}
	return w, nil
}

// NewSecretBoxWrapperFromBase64 decodes a standard base64 kek.
func NewSecretBoxWrapperFromBase64(s string) (*SecretBoxWrapper, error) {
	kek, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode local kek")
	}
	return NewSecretBoxWrapper(kek)
}

func (w *SecretBoxWrapper) Mode() string { return ModeLocal }

func (w *SecretBoxWrapper) Wrap(ctx context.Context, dek []byte) (*Envelope, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, wrapFailure(ModeLocal, "wrap", err)
	}
	return &Envelope{
		Ciphertext: secretbox.Seal(nil, dek, &nonce, &w.kek),
		Nonce:      nonce[:],
	}, nil
}

func (w *SecretBoxWrapper) Unwrap(ctx context.Context, e *Envelope) ([]byte, error) {
	if e == nil || len(e.Nonce) != 24 {
		return nil, wrapFailure(ModeLocal, "unwrap", errors.New("wrap nonce must be 24 bytes"))
	}
	var nonce [24]byte
	copy(nonce[:], e.Nonce)
	dek, ok := secretbox.Open(nil, e.Ciphertext, &nonce, &w.kek)
	if !ok {
		return nil, wrapFailure(ModeLocal, "unwrap", errors.New("unable to open wrapped key"))
	}
	return dek, nil
}

// GenerateRandomKey generates a secure 256 bit random key.
func GenerateRandomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return key, nil
}
