// Package fieldcodectest builds a working codec for tests: a local
// secretbox wrapper, AES-GCM and an in memory registry bootstrapped with
// the "active" label.
package fieldcodectest

import (
	"context"
	"testing"

	"github.com/remind101/fieldcrypt/crypto/aead"
	"github.com/remind101/fieldcrypt/crypto/envelope"
	"github.com/remind101/fieldcrypt/cryptostate"
	"github.com/remind101/fieldcrypt/fieldcodec"
	"github.com/remind101/fieldcrypt/keyregistry"
	"github.com/stretchr/testify/require"
)

// AADTag is the tag codecs built here seal under.
const AADTag = "txn:v1"

type Env struct {
	Codec    *fieldcodec.Codec
	State    *cryptostate.Context
	Registry *keyregistry.MemoryRegistry
	Crypto   *envelope.Crypto
}

// New returns an Env wrapping keys with a fresh local KEK.
func New(t testing.TB) *Env {
	return NewWithWrapper(t, NewWrapper(t))
}

// NewWrapper returns a secretbox wrapper under a random KEK.
func NewWrapper(t testing.TB) *envelope.SecretBoxWrapper {
	kek, err := envelope.GenerateRandomKey()
	require.NoError(t, err)
	w, err := envelope.NewSecretBoxWrapper(kek)
	require.NoError(t, err)
	return w
}

// NewWithWrapper returns an Env wrapping keys with w.
func NewWithWrapper(t testing.TB, w envelope.Wrapper) *Env {
	return NewWithProvider(t, w, &aead.AESGCM{})
}

// NewWithProvider returns an Env wrapping keys with w and sealing fields
// with p.
func NewWithProvider(t testing.TB, w envelope.Wrapper, p aead.Provider) *Env {
	crypto := envelope.NewCrypto(w, p)
	reg := keyregistry.NewMemoryRegistry()
	state := cryptostate.New(cryptostate.Options{Registry: reg, Settings: reg, Crypto: crypto})
	require.NoError(t, state.Bootstrap(context.Background(), cryptostate.DefaultInitialLabel))

	return &Env{
		Codec:    fieldcodec.New(fieldcodec.Options{State: state, Cipher: crypto, AADTag: AADTag}),
		State:    state,
		Registry: reg,
		Crypto:   crypto,
	}
}
