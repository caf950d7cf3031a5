// Package database opens the relational store backing the key registry, the
// transaction table and the rotation run log.
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go) and
// "postgres", which is served by the instrumented driver in package pq.
package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/pq"
	"github.com/remind101/fieldcrypt/retry"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is a *sql.DB that remembers which dialect it speaks.
type DB struct {
	*sql.DB
	Driver string
}

// ConnectRetrier is used to wait for the database to accept connections.
var ConnectRetrier = retry.NewRetrier("database.connect", nil, retry.RetryOnAnyError)

// Open opens a connection pool and pings it until it answers.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	name, err := sqlDriverName(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database", driver)
	}

	if driver == DriverSQLite {
		// Every connection to ":memory:" is a distinct database.
		db.SetMaxOpenConns(1)
	}

	if err := ConnectRetrier.Retry(ctx, db.PingContext); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to %s database", driver)
	}

	return &DB{DB: db, Driver: driver}, nil
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite", nil
	case DriverPostgres:
		return pq.DriverName, nil
	default:
		return "", errors.Errorf("unsupported database driver %q", driver)
	}
}

// Rebind rewrites "?" placeholders into the "$n" form postgres expects.
// Queries are returned untouched for sqlite.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate applies the schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema(db.Driver) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrating: %s", firstLine(stmt))
		}
	}
	return nil
}

// IsUniqueViolation reports whether err came from a unique or primary key
// constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pq.IsUniqueViolation(err) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
