package keyregistry

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLRegistry(t *testing.T) *SQLRegistry {
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return NewSQLRegistry(db)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryRegistry() },
		"sql":    func(t *testing.T) Store { return newSQLRegistry(t) },
		"dynamo": func(t *testing.T) Store { return NewDynamoRegistryWithClient(newFakeDynamo(), "fieldcrypt-keys") },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
			t.Run("Duplicate", func(t *testing.T) { testDuplicate(t, newStore(t)) })
			t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
			t.Run("ListLabels", func(t *testing.T) { testListLabels(t, newStore(t)) })
			t.Run("WriteLabel", func(t *testing.T) { testWriteLabel(t, newStore(t)) })
			t.Run("Validate", func(t *testing.T) { testValidate(t, newStore(t)) })
		})
	}
}

func testPutGet(t *testing.T, s Store) {
	ctx := context.Background()
	err := s.Put(ctx, KeyRecord{Label: "active", WrappedDEK: []byte("wrapped"), WrapNonce: []byte("nonce")})
	require.NoError(t, err)

	r, err := s.Get(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, "active", r.Label)
	assert.Equal(t, []byte("wrapped"), r.WrappedDEK)
	assert.Equal(t, []byte("nonce"), r.WrapNonce)
	assert.False(t, r.CreatedAt.IsZero())
}

func testDuplicate(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, KeyRecord{Label: "active", WrappedDEK: []byte("first")}))

	err := s.Put(ctx, KeyRecord{Label: "active", WrappedDEK: []byte("second")})
	assert.True(t, errors.Is(err, ErrDuplicateLabel))

	// The first record is immutable.
	r, err := s.Get(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), r.WrappedDEK)
}

func testNotFound(t *testing.T, s Store) {
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	var knf *KeyNotFoundError
	require.True(t, errors.As(err, &knf))
	assert.Equal(t, "missing", knf.Label)
}

func testListLabels(t *testing.T, s Store) {
	ctx := context.Background()
	for _, l := range []string{"rotating::2", "active", "rotating::1"} {
		require.NoError(t, s.Put(ctx, KeyRecord{Label: l, WrappedDEK: []byte(l)}))
	}
	require.NoError(t, s.SetWriteLabel(ctx, "active"))

	labels, err := s.ListLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "rotating::1", "rotating::2"}, labels)
}

func testWriteLabel(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.WriteLabel(ctx)
	assert.Equal(t, ErrSettingNotFound, errors.Cause(err))

	require.NoError(t, s.SetWriteLabel(ctx, "active"))
	require.NoError(t, s.SetWriteLabel(ctx, "rotating"))

	l, err := s.WriteLabel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotating", l)
}

func testValidate(t *testing.T, s Store) {
	ctx := context.Background()
	assert.Error(t, s.Put(ctx, KeyRecord{WrappedDEK: []byte("x")}))
	assert.Error(t, s.Put(ctx, KeyRecord{Label: "empty"}))
}

func TestKeyNotFoundError(t *testing.T) {
	err := &KeyNotFoundError{Label: "gone"}
	assert.Equal(t, `key not found: "gone"`, err.Error())
	assert.Equal(t, 404, err.StatusCode())
}
