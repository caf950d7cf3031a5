package keyregistry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in process Store for tests and development.
type MemoryRegistry struct {
	mu         sync.RWMutex
	records    map[string]KeyRecord
	writeLabel string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]KeyRecord)}
}

func (m *MemoryRegistry) Get(ctx context.Context, label string) (*KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[label]
	if !ok {
		return nil, &KeyNotFoundError{Label: label}
	}
	return &r, nil
}

func (m *MemoryRegistry) Put(ctx context.Context, r KeyRecord) error {
	if err := validate(r); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.Label]; ok {
		return &duplicateLabelError{label: r.Label}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.WrappedDEK = append([]byte(nil), r.WrappedDEK...)
	r.WrapNonce = append([]byte(nil), r.WrapNonce...)
	m.records[r.Label] = r
	return nil
}

func (m *MemoryRegistry) ListLabels(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	labels := make([]string, 0, len(m.records))
	for l := range m.records {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels, nil
}

func (m *MemoryRegistry) WriteLabel(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.writeLabel == "" {
		return "", ErrSettingNotFound
	}
	return m.writeLabel, nil
}

func (m *MemoryRegistry) SetWriteLabel(ctx context.Context, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeLabel = label
	return nil
}
