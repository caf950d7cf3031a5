package aead

import (
	"bytes"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
)

// TagSize is the authentication tag length of the production providers.
const TagSize = 16

// nullTag stands in for an authentication tag, so sealing "" still yields a
// non-empty ciphertext as it does in production.
var nullTag = bytes.Repeat([]byte{0x00}, TagSize)

// NullForTests stores plaintext as-is followed by a fixed tag. It still hands
// out random nonces so payload shape matches production, but it offers no
// confidentiality and no tamper detection. Only New with allowNull returns
// it.
type NullForTests struct{}

func (p *NullForTests) Name() string { return NameNull }

func (p *NullForTests) Seal(key, plaintext, aad []byte) ([]byte, []byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, errors.Wrap(err, "read nonce")
	}
	ct := make([]byte, 0, len(plaintext)+TagSize)
	ct = append(ct, plaintext...)
	return append(ct, nullTag...), nonce, nil
}

func (p *NullForTests) Open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errors.Wrap(ErrDecryptionFailure, "bad nonce length")
	}
	if len(ciphertext) < TagSize || !bytes.Equal(ciphertext[len(ciphertext)-TagSize:], nullTag) {
		return nil, errors.Wrap(ErrDecryptionFailure, "missing tag")
	}
	return append([]byte{}, ciphertext[:len(ciphertext)-TagSize]...), nil
}
