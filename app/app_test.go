package app

import (
	"context"
	"testing"

	"github.com/remind101/fieldcrypt/config"
	"github.com/remind101/fieldcrypt/rotation"
	"github.com/remind101/fieldcrypt/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKEK = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func newApp(t *testing.T, env map[string]string) *App {
	env["FIELDCRYPT_LOCAL_KEK"] = testKEK
	env["DATABASE_URL"] = ":memory:"
	cfg, err := config.LoadFrom(env)
	require.NoError(t, err)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_EndToEnd(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, map[string]string{"FIELDCRYPT_AEAD": "chacha20poly1305"})
	assert.Equal(t, "active", a.State.WriteLabel())
	assert.Equal(t, "chacha20poly1305", a.Crypto.AEAD())

	notes := "reimbursable"
	created, err := a.Txns.Create(ctx, &txn.Transaction{AccountID: "acct", Currency: "EUR", Notes: &notes})
	require.NoError(t, err)

	_, err = a.Rotation.Begin(ctx, "rotating")
	require.NoError(t, err)
	res, err := a.Rotation.Run(ctx, rotation.Request{Target: "rotating"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Processed)

	_, err = a.Rotation.Finalize(ctx, "rotating")
	require.NoError(t, err)

	got, err := a.Txns.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "reimbursable", *got.Notes)

	persisted, err := a.Registry.WriteLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotating", persisted)
}

func TestNew_NullAEAD(t *testing.T) {
	a := newApp(t, map[string]string{"FIELDCRYPT_AEAD": "null", "FIELDCRYPT_ALLOW_NULL_AEAD": "true"})
	assert.Equal(t, "null", a.Crypto.AEAD())
}

func TestNew_BadKEK(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"FIELDCRYPT_LOCAL_KEK": "c2hvcnQ=", "DATABASE_URL": ":memory:"})
	require.NoError(t, err)

	_, err = New(context.Background(), cfg)
	assert.EqualError(t, err, "local kek must be 32 bytes, got 5")
}
