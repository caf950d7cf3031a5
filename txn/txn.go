// Package txn is the financial transaction entity and its storage.
//
// Description, MerchantRaw and Notes are sensitive free text. They only ever
// reach storage sealed by a fieldcodec.Field; the stores in this package
// never see plaintext.
package txn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/fieldcodec"
)

// Encrypted column names. They are also bound into each field's AAD.
const (
	FieldDescription = "description"
	FieldMerchantRaw = "merchant_raw"
	FieldNotes       = "notes"
)

// Fields lists the encrypted columns in storage order.
var Fields = []string{FieldDescription, FieldMerchantRaw, FieldNotes}

// Transaction is the plaintext view handed to callers.
type Transaction struct {
	ID          int64     `json:"id"`
	AccountID   string    `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PostedAt    time.Time `json:"posted_at"`
	Description *string   `json:"description"`
	MerchantRaw *string   `json:"merchant_raw"`
	Notes       *string   `json:"notes"`
}

func (t *Transaction) field(name string) **string {
	switch name {
	case FieldDescription:
		return &t.Description
	case FieldMerchantRaw:
		return &t.MerchantRaw
	case FieldNotes:
		return &t.Notes
	}
	panic(fmt.Sprintf("txn: unknown field %q", name))
}

// Record is the stored view: cleartext metadata plus the encrypted row.
type Record struct {
	ID          int64
	AccountID   string
	AmountCents int64
	Currency    string
	PostedAt    time.Time
	Label       string
	Fields      map[string]fieldcodec.Payload
}

// Row returns the encrypted portion of the record.
func (r *Record) Row() fieldcodec.Row {
	return fieldcodec.Row{ID: r.ID, Label: r.Label, Fields: r.Fields}
}

// NotFoundError is returned when a transaction does not exist.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string   { return fmt.Sprintf("transaction %d not found", e.ID) }
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// Store persists Records.
type Store interface {
	Insert(ctx context.Context, r *Record) (int64, error)
	Get(ctx context.Context, id int64) (*Record, error)
	Update(ctx context.Context, r *Record) error
	List(ctx context.Context, afterID int64, limit int) ([]*Record, error)
}

// Repository is the only way application code reads or writes
// transactions.
type Repository struct {
	store  Store
	codec  *fieldcodec.Codec
	fields []*fieldcodec.Field
}

func NewRepository(store Store, codec *fieldcodec.Codec) *Repository {
	r := &Repository{store: store, codec: codec}
	for _, name := range Fields {
		r.fields = append(r.fields, codec.Field(name))
	}
	return r
}

func (r *Repository) Create(ctx context.Context, t *Transaction) (*Transaction, error) {
	rec, err := r.seal(ctx, t)
	if err != nil {
		return nil, err
	}
	id, err := r.store.Insert(ctx, rec)
	if err != nil {
		return nil, err
	}
	created := *t
	created.ID = id
	return &created, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*Transaction, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, rec)
}

// Update rewrites every field under the current write label.
func (r *Repository) Update(ctx context.Context, t *Transaction) error {
	rec, err := r.seal(ctx, t)
	if err != nil {
		return err
	}
	return r.store.Update(ctx, rec)
}

func (r *Repository) List(ctx context.Context, afterID int64, limit int) ([]*Transaction, error) {
	recs, err := r.store.List(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	ts := make([]*Transaction, 0, len(recs))
	for _, rec := range recs {
		t, err := r.open(ctx, rec)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}

func (r *Repository) seal(ctx context.Context, t *Transaction) (*Record, error) {
	rec := &Record{
		ID:          t.ID,
		AccountID:   t.AccountID,
		AmountCents: t.AmountCents,
		Currency:    t.Currency,
		PostedAt:    t.PostedAt,
		Fields:      make(map[string]fieldcodec.Payload, len(r.fields)),
	}

	var w *fieldcodec.Writer
	for _, f := range r.fields {
		pt := *t.field(f.Name())
		if pt == nil {
			continue
		}
		if w == nil {
			var err error
			if w, err = r.codec.Writer(ctx); err != nil {
				return nil, err
			}
			rec.Label = w.Label()
		}
		p, err := w.Seal(f, pt)
		if err != nil {
			return nil, err
		}
		rec.Fields[f.Name()] = p
	}
	return rec, nil
}

func (r *Repository) open(ctx context.Context, rec *Record) (*Transaction, error) {
	t := &Transaction{
		ID:          rec.ID,
		AccountID:   rec.AccountID,
		AmountCents: rec.AmountCents,
		Currency:    rec.Currency,
		PostedAt:    rec.PostedAt,
	}
	if !rec.Row().HasData() {
		return t, nil
	}

	reader, err := r.codec.Reader(ctx, rec.Label)
	if err != nil {
		return nil, errors.Wrapf(err, "transaction %d", rec.ID)
	}
	for _, f := range r.fields {
		pt, err := reader.Open(f, rec.Fields[f.Name()])
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %d", rec.ID)
		}
		*t.field(f.Name()) = pt
	}
	return t, nil
}
