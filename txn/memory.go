package txn

import (
	"context"
	"sort"
	"sync"

	"github.com/remind101/fieldcrypt/fieldcodec"
)

// MemoryStore is an in process Store. It also serves as a rotation row
// store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*Record
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*Record)}
}

func (m *MemoryStore) Insert(ctx context.Context, r *Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	c := copyRecord(r)
	c.ID = m.nextID
	m.records[c.ID] = c
	return c.ID, nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) Update(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; !ok {
		return &NotFoundError{ID: r.ID}
	}
	m.records[r.ID] = copyRecord(r)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, afterID int64, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, id := range m.sortedIDs() {
		if id <= afterID {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyRecord(m.records[id]))
	}
	return out, nil
}

func (m *MemoryStore) ScanBatch(ctx context.Context, source string, afterID int64, limit int) ([]fieldcodec.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []fieldcodec.Row
	for _, id := range m.sortedIDs() {
		if len(rows) == limit {
			break
		}
		r := m.records[id]
		if id <= afterID || !pending(r, source) {
			continue
		}
		rows = append(rows, copyRecord(r).Row())
	}
	return rows, nil
}

// ApplyBatch writes every row or none.
func (m *MemoryStore) ApplyBatch(ctx context.Context, rows []fieldcodec.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		if _, ok := m.records[row.ID]; !ok {
			return &NotFoundError{ID: row.ID}
		}
	}
	for _, row := range rows {
		r := m.records[row.ID]
		r.Label = row.Label
		r.Fields = copyFields(row.Fields)
	}
	return nil
}

func (m *MemoryStore) CountLabel(ctx context.Context, label string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, r := range m.records {
		if r.Label == label && r.Row().HasData() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountPending(ctx context.Context, source string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, r := range m.records {
		if pending(r, source) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountEncrypted(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, r := range m.records {
		if r.Row().HasData() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func pending(r *Record, source string) bool {
	return (r.Label == "" || r.Label == source) && r.Row().HasData()
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Fields = copyFields(r.Fields)
	return &c
}

func copyFields(fields map[string]fieldcodec.Payload) map[string]fieldcodec.Payload {
	c := make(map[string]fieldcodec.Payload, len(fields))
	for k, p := range fields {
		if p.IsZero() {
			continue
		}
		c[k] = fieldcodec.Payload{
			Ciphertext: append([]byte(nil), p.Ciphertext...),
			Nonce:      append([]byte(nil), p.Nonce...),
		}
	}
	return c
}
