package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

type recordKey struct {
	kind Kind
	key  contracts.Address
}

// MemoryBackend implements Backend in memory.
// Thread-safe via RWMutex.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[recordKey]Record)}
}

// NewMemory returns Records over a fresh MemoryBackend.
func NewMemory() *Records {
	return New(NewMemoryBackend())
}

func (m *MemoryBackend) Load(_ context.Context, kind Kind, key contracts.Address) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey{kind, key}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *MemoryBackend) Scan(_ context.Context, kind Kind, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for k, rec := range m.records {
		if k.kind == kind && f.Matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryBackend) Apply(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		cur, ok := m.records[recordKey{op.Record.Kind, op.Record.Key}]
		var have uint64
		if ok {
			have = cur.Revision
		}
		if have != op.Record.Revision || (op.Delete && !ok) {
			return ErrConflict
		}
	}
	for _, op := range ops {
		k := recordKey{op.Record.Kind, op.Record.Key}
		if op.Delete {
			delete(m.records, k)
			continue
		}
		rec := cloneRecord(op.Record)
		rec.Revision++
		m.records[k] = rec
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

func cloneRecord(r Record) Record {
	r.Body = append([]byte(nil), r.Body...)
	return r
}
