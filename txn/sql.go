package txn

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/database"
	"github.com/remind101/fieldcrypt/fieldcodec"
)

// SQLStore stores records in the transactions table. Each encrypted field
// has a <field>_ct and a <field>_nonce column; enc_label is the empty string
// for legacy rows.
type SQLStore struct {
	db *database.DB
}

func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

var (
	encColumns = func() []string {
		var cols []string
		for _, f := range Fields {
			cols = append(cols, f+"_ct", f+"_nonce")
		}
		return cols
	}()

	recordColumns = append([]string{"id", "account_id", "amount_cents", "currency", "posted_at", "enc_label"}, encColumns...)

	// hasDataClause matches rows with at least one encrypted field.
	hasDataClause = func() string {
		var parts []string
		for _, f := range Fields {
			parts = append(parts, f+"_ct IS NOT NULL OR "+f+"_nonce IS NOT NULL")
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	}()
)

func (s *SQLStore) Insert(ctx context.Context, r *Record) (int64, error) {
	args := []interface{}{r.AccountID, r.AmountCents, r.Currency, r.PostedAt.UTC(), r.Label}
	args = append(args, encArgs(r.Fields)...)

	query := `INSERT INTO transactions (` + strings.Join(recordColumns[1:], ", ") + `) VALUES (` + placeholders(len(recordColumns)-1) + `)`

	var id int64
	if s.db.Driver == database.DriverPostgres {
		err := s.db.QueryRowContext(ctx, s.db.Rebind(query+` RETURNING id`), args...).Scan(&id)
		return id, errors.Wrap(err, "inserting transaction")
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "inserting transaction")
	}
	return res.LastInsertId()
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT `+strings.Join(recordColumns, ", ")+` FROM transactions WHERE id = ?`), id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	return r, errors.Wrapf(err, "reading transaction %d", id)
}

func (s *SQLStore) Update(ctx context.Context, r *Record) error {
	sets := []string{"account_id = ?", "amount_cents = ?", "currency = ?", "posted_at = ?"}
	args := []interface{}{r.AccountID, r.AmountCents, r.Currency, r.PostedAt.UTC()}

	res, err := s.updateEncrypted(ctx, s.db, r.ID, r.Label, r.Fields, sets, args)
	if err != nil {
		return errors.Wrapf(err, "updating transaction %d", r.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ID: r.ID}
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, afterID int64, limit int) ([]*Record, error) {
	query := `SELECT ` + strings.Join(recordColumns, ", ") + ` FROM transactions WHERE id > ? ORDER BY id`
	args := []interface{}{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

func (s *SQLStore) ScanBatch(ctx context.Context, source string, afterID int64, limit int) ([]fieldcodec.Row, error) {
	recs, err := s.query(ctx,
		`SELECT `+strings.Join(recordColumns, ", ")+` FROM transactions
		WHERE (enc_label = '' OR enc_label = ?) AND `+hasDataClause+` AND id > ?
		ORDER BY id LIMIT ?`,
		source, afterID, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]fieldcodec.Row, len(recs))
	for i, r := range recs {
		rows[i] = r.Row()
	}
	return rows, nil
}

// ApplyBatch rewrites the encrypted columns of every row in one database
// transaction.
func (s *SQLStore) ApplyBatch(ctx context.Context, rows []fieldcodec.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning batch")
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := s.updateEncrypted(ctx, tx, row.ID, row.Label, row.Fields, nil, nil); err != nil {
			return errors.Wrapf(err, "updating transaction %d", row.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "committing batch")
}

func (s *SQLStore) CountLabel(ctx context.Context, label string) (int64, error) {
	return s.count(ctx, `enc_label = ? AND `+hasDataClause, label)
}

func (s *SQLStore) CountPending(ctx context.Context, source string) (int64, error) {
	return s.count(ctx, `(enc_label = '' OR enc_label = ?) AND `+hasDataClause, source)
}

func (s *SQLStore) CountEncrypted(ctx context.Context) (int64, error) {
	return s.count(ctx, hasDataClause)
}

func (s *SQLStore) count(ctx context.Context, where string, args ...interface{}) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM transactions WHERE `+where), args...).Scan(&n)
	return n, errors.Wrap(err, "counting transactions")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLStore) updateEncrypted(ctx context.Context, e execer, id int64, label string, fields map[string]fieldcodec.Payload, sets []string, args []interface{}) (sql.Result, error) {
	sets = append(sets, "enc_label = ?")
	args = append(args, label)
	for _, c := range encColumns {
		sets = append(sets, c+" = ?")
	}
	args = append(args, encArgs(fields)...)
	args = append(args, id)

	return e.ExecContext(ctx, s.db.Rebind(`UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying transactions")
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var r Record
	enc := make([][]byte, len(encColumns))
	dest := []interface{}{&r.ID, &r.AccountID, &r.AmountCents, &r.Currency, &r.PostedAt, &r.Label}
	for i := range enc {
		dest = append(dest, &enc[i])
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	r.Fields = make(map[string]fieldcodec.Payload, len(Fields))
	for i, f := range Fields {
		p := fieldcodec.Payload{Ciphertext: enc[2*i], Nonce: enc[2*i+1]}
		if !p.IsZero() {
			r.Fields[f] = p
		}
	}
	return &r, nil
}

// encArgs returns ciphertext and nonce for each field, NULL when absent.
func encArgs(fields map[string]fieldcodec.Payload) []interface{} {
	var args []interface{}
	for _, f := range Fields {
		p := fields[f]
		args = append(args, nullBytes(p.Ciphertext), nullBytes(p.Nonce))
	}
	return args
}

func nullBytes(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
