package database

import "strings"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS key_records (
	label       TEXT PRIMARY KEY,
	wrapped_dek BLOB NOT NULL,
	wrap_nonce  BLOB,
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id                 {{serial}},
	account_id         TEXT NOT NULL,
	amount_cents       BIGINT NOT NULL,
	currency           TEXT NOT NULL,
	posted_at          TIMESTAMP NOT NULL,
	enc_label          TEXT NOT NULL DEFAULT '',
	description_ct     BLOB,
	description_nonce  BLOB,
	merchant_raw_ct    BLOB,
	merchant_raw_nonce BLOB,
	notes_ct           BLOB,
	notes_nonce        BLOB
);

CREATE INDEX IF NOT EXISTS transactions_enc_label_id ON transactions (enc_label, id);

CREATE TABLE IF NOT EXISTS rotation_runs (
	run_id       TEXT PRIMARY KEY,
	source_label TEXT NOT NULL,
	target_label TEXT NOT NULL,
	finished_at  TIMESTAMP NOT NULL,
	eta_seconds  DOUBLE PRECISION NOT NULL
);
`

// schema returns the migration statements in the dialect of driver.
func schema(driver string) []string {
	s := schemaSQL
	if driver == DriverPostgres {
		s = strings.ReplaceAll(s, "BLOB", "BYTEA")
		s = strings.ReplaceAll(s, "{{serial}}", "BIGSERIAL PRIMARY KEY")
	} else {
		s = strings.ReplaceAll(s, "{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT")
	}

	var stmts []string
	for _, stmt := range strings.Split(s, ";") {
		if strings.TrimSpace(stmt) != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
