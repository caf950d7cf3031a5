package envelope

import (
	"context"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/crypto/aead"
)

// Crypto is the envelope crypto used by the rest of the system: it wraps and
// unwraps DEKs through a Wrapper and seals field values with an
// aead.Provider.
type Crypto struct {
	wrapper Wrapper
	aead    aead.Provider
}

func NewCrypto(w Wrapper, p aead.Provider) *Crypto {
	return &Crypto{wrapper: w, aead: p}
}

// Mode reports the wrap provider mode.
func (c *Crypto) Mode() string { return c.wrapper.Mode() }

// AEAD reports the field cipher name.
func (c *Crypto) AEAD() string { return c.aead.Name() }

// GenerateDEK returns fresh key material sized for the field cipher.
func (c *Crypto) GenerateDEK() ([]byte, error) {
	return GenerateRandomKey()
}

func (c *Crypto) WrapDEK(ctx context.Context, dek []byte) (*Envelope, error) {
	if len(dek) != aead.KeySize {
		return nil, errors.Errorf("dek must be %d bytes, got %d", aead.KeySize, len(dek))
	}
	return c.wrapper.Wrap(ctx, dek)
}

func (c *Crypto) UnwrapDEK(ctx context.Context, e *Envelope) ([]byte, error) {
	dek, err := c.wrapper.Unwrap(ctx, e)
	if err != nil {
		return nil, err
	}
	if len(dek) != aead.KeySize {
		return nil, wrapFailure(c.wrapper.Mode(), "unwrap", errors.Errorf("unwrapped key has %d bytes", len(dek)))
	}
	return dek, nil
}

// Encrypt seals plaintext under dek, returning the ciphertext and the fresh
// nonce it used.
func (c *Crypto) Encrypt(dek, plaintext, aad []byte) ([]byte, []byte, error) {
	return c.aead.Seal(dek, plaintext, aad)
}

// Decrypt opens a ciphertext. Authentication failures match
// aead.ErrDecryptionFailure.
func (c *Crypto) Decrypt(dek, ciphertext, nonce, aad []byte) ([]byte, error) {
	return c.aead.Open(dek, ciphertext, nonce, aad)
}
