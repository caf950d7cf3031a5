// Package aead seals and opens field values under a raw data encryption key.
//
// Every Seal draws a fresh random 96-bit nonce. The associated data binds a
// ciphertext to the logical slot it was written for, so a ciphertext copied
// into another field or table fails authentication.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the nonce length, in bytes, used by every production provider.
const NonceSize = 12

// KeySize is the DEK length, in bytes, every provider expects.
const KeySize = 32

const (
	NameAESGCM           = "aes-gcm"
	NameChaCha20Poly1305 = "chacha20poly1305"
	NameNull             = "null"
)

// ErrDecryptionFailure is returned when a ciphertext fails authentication:
// it was tampered with, corrupted, or opened with the wrong key or AAD.
var ErrDecryptionFailure = errors.New("decryption failure")

// ErrNullNotAllowed is returned by New when the null provider is requested
// without the explicit test flag.
var ErrNullNotAllowed = errors.New("aead: null provider requires the explicit test flag")

// Provider performs authenticated encryption of field plaintext.
type Provider interface {
	Name() string
	Seal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error)
	Open(key, ciphertext, nonce, aad []byte) ([]byte, error)
}

// New returns the provider registered under name. allowNull must be set
// for the passthrough provider to be returned; it exists for tests only.
func New(name string, allowNull bool) (Provider, error) {
	switch name {
	case "", NameAESGCM:
		return &AESGCM{}, nil
	case NameChaCha20Poly1305:
		return &ChaCha20Poly1305{}, nil
	case NameNull:
		if !allowNull {
			return nil, ErrNullNotAllowed
		}
		return &NullForTests{}, nil
	default:
		return nil, errors.Errorf("aead: unknown provider %q", name)
	}
}

// AESGCM is the production provider: AES-256-GCM.
type AESGCM struct {
	// Rand is the nonce source. The zero value uses crypto/rand.
	Rand io.Reader
}

func (p *AESGCM) Name() string { return NameAESGCM }

func (p *AESGCM) Seal(key, plaintext, aad []byte) ([]byte, []byte, error) {
	a, err := p.aead(key)
	if err != nil {
		return nil, nil, err
	}
	return seal(a, p.Rand, plaintext, aad)
}

func (p *AESGCM) Open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	a, err := p.aead(key)
	if err != nil {
		return nil, err
	}
	return open(a, ciphertext, nonce, aad)
}

func (p *AESGCM) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}
	return gcm, nil
}

// ChaCha20Poly1305 is the production alternative for hosts without AES
// hardware support.
type ChaCha20Poly1305 struct {
	Rand io.Reader
}

func (p *ChaCha20Poly1305) Name() string { return NameChaCha20Poly1305 }

func (p *ChaCha20Poly1305) Seal(key, plaintext, aad []byte) ([]byte, []byte, error) {
	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "new chacha20poly1305")
	}
	return seal(a, p.Rand, plaintext, aad)
}

func (p *ChaCha20Poly1305) Open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	a, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "new chacha20poly1305")
	}
	return open(a, ciphertext, nonce, aad)
}

func seal(a cipher.AEAD, r io.Reader, plaintext, aad []byte) ([]byte, []byte, error) {
	if r == nil {
		r = rand.Reader
	}
	// A nonce must never repeat under the same key.
	nonce := make([]byte, a.NonceSize())
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, nil, errors.Wrap(err, "read nonce")
	}
	return a.Seal(nil, nonce, plaintext, aad), nonce, nil
}

func open(a cipher.AEAD, ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != a.NonceSize() {
		return nil, errors.Wrapf(ErrDecryptionFailure, "nonce must be %d bytes, got %d", a.NonceSize(), len(nonce))
	}
	if len(ciphertext) < a.Overhead() {
		return nil, errors.Wrap(ErrDecryptionFailure, "ciphertext too short")
	}
	plaintext, err := a.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errors.Wrap(ErrDecryptionFailure, "authentication failed")
	}
	return plaintext, nil
}
