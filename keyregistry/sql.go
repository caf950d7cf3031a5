package keyregistry

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/database"
)

// SQLRegistry is a Store backed by the key_records and settings tables.
type SQLRegistry struct {
	db *database.DB
}

func NewSQLRegistry(db *database.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

func (s *SQLRegistry) Get(ctx context.Context, label string) (*KeyRecord, error) {
	var r KeyRecord
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT label, wrapped_dek, wrap_nonce, created_at FROM key_records WHERE label = ?`),
		label,
	).Scan(&r.Label, &r.WrappedDEK, &r.WrapNonce, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &KeyNotFoundError{Label: label}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading key record %q", label)
	}
	return &r, nil
}

func (s *SQLRegistry) Put(ctx context.Context, r KeyRecord) error {
	if err := validate(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO key_records (label, wrapped_dek, wrap_nonce, created_at) VALUES (?, ?, ?, ?)`),
		r.Label, r.WrappedDEK, r.WrapNonce, r.CreatedAt,
	)
	if database.IsUniqueViolation(err) {
		return &duplicateLabelError{label: r.Label}
	}
	return errors.Wrapf(err, "inserting key record %q", r.Label)
}

func (s *SQLRegistry) ListLabels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label FROM key_records ORDER BY label`)
	if err != nil {
		return nil, errors.Wrap(err, "listing key records")
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (s *SQLRegistry) WriteLabel(ctx context.Context) (string, error) {
	var label string
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT value FROM settings WHERE name = ?`),
		WriteLabelSetting,
	).Scan(&label)
	if err == sql.ErrNoRows {
		return "", ErrSettingNotFound
	}
	return label, errors.Wrap(err, "reading write label")
}

func (s *SQLRegistry) SetWriteLabel(ctx context.Context, label string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO settings (name, value) VALUES (?, ?) ON CONFLICT (name) DO UPDATE SET value = excluded.value`),
		WriteLabelSetting, label,
	)
	return errors.Wrap(err, "storing write label")
}
