package database

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))
	// A second migration is a no-op.
	require.NoError(t, db.Migrate(ctx))

	_, err = db.ExecContext(ctx, db.Rebind(`INSERT INTO settings (name, value) VALUES (?, ?)`), "write_label", "a")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, db.Rebind(`INSERT INTO settings (name, value) VALUES (?, ?)`), "write_label", "b")
	assert.True(t, IsUniqueViolation(err))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.EqualError(t, err, `unsupported database driver "mysql"`)
}

func TestRebind(t *testing.T) {
	pg := &DB{Driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b > $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b > ?"))

	lite := &DB{Driver: DriverSQLite}
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", lite.Rebind("SELECT * FROM t WHERE a = ?"))
}

func TestSchema_Postgres(t *testing.T) {
	for _, stmt := range schema(DriverPostgres) {
		assert.NotContains(t, stmt, "BLOB")
		assert.NotContains(t, stmt, "AUTOINCREMENT")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("no such table")))
	assert.True(t, IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: settings.name (1555)")))
}
