// Package store persists registry roots, mutations and execution receipts
// as versioned records. Writes are grouped into batches that commit
// atomically only if no record they touch changed since it was read.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned by Commit when a record's revision moved.
	ErrConflict = errors.New("store: revision conflict")
)

// SchemaVersion is written by backends on Init and checked against
// SchemaConstraint when an existing store is opened.
const (
	SchemaVersion    = "1.0.0"
	SchemaConstraint = "^1.0.0"
)

// Kind is the record type.
type Kind string

const (
	KindTransmuter Kind = "transmuter"
	KindMutation   Kind = "mutation"
	KindReceipt    Kind = "receipt"
)

// Record is the stored form of any record. The index columns allow
// filtered scans without decoding the body.
type Record struct {
	Kind       Kind
	Key        contracts.Address
	Transmuter contracts.Address
	Mutation   contracts.Address
	Taker      contracts.Address
	Revision   uint64
	Body       []byte
}

// Filter narrows a scan; zero fields match anything.
type Filter struct {
	Transmuter contracts.Address
	Mutation   contracts.Address
	Taker      contracts.Address
}

// Matches reports whether rec passes the filter.
func (f Filter) Matches(rec Record) bool {
	return (f.Transmuter == "" || f.Transmuter == rec.Transmuter) &&
		(f.Mutation == "" || f.Mutation == rec.Mutation) &&
		(f.Taker == "" || f.Taker == rec.Taker)
}

// Op is one write of a batch. Record.Revision carries the revision the
// writer read (0 for a record that must not exist yet). A put stores the
// record at Revision+1.
type Op struct {
	Record Record
	Delete bool
}

// Backend is implemented by each storage engine.
type Backend interface {
	Load(ctx context.Context, kind Kind, key contracts.Address) (Record, error)
	Scan(ctx context.Context, kind Kind, f Filter) ([]Record, error)
	// Apply writes every op or none. It fails with ErrConflict if any op's
	// expected revision differs from the stored one.
	Apply(ctx context.Context, ops []Op) error
	Close() error
}

// Records is the typed view over a Backend used by the lifecycle controller.
type Records struct {
	backend Backend
}

func New(b Backend) *Records {
	return &Records{backend: b}
}

// Close releases the backend.
func (r *Records) Close() error {
	return r.backend.Close()
}

func (r *Records) GetTransmuter(ctx context.Context, key contracts.Address) (*contracts.Transmuter, error) {
	var t contracts.Transmuter
	if err := r.load(ctx, KindTransmuter, key, &t, &t.Revision); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Records) ListTransmuters(ctx context.Context) ([]*contracts.Transmuter, error) {
	return scanAs(ctx, r.backend, KindTransmuter, Filter{}, func(t *contracts.Transmuter) *uint64 { return &t.Revision })
}

func (r *Records) GetMutation(ctx context.Context, key contracts.Address) (*contracts.Mutation, error) {
	var m contracts.Mutation
	if err := r.load(ctx, KindMutation, key, &m, &m.Revision); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMutations returns the mutations of a root, or all when transmuter is zero.
func (r *Records) ListMutations(ctx context.Context, transmuter contracts.Address) ([]*contracts.Mutation, error) {
	return scanAs(ctx, r.backend, KindMutation, Filter{Transmuter: transmuter}, func(m *contracts.Mutation) *uint64 { return &m.Revision })
}

func (r *Records) GetReceipt(ctx context.Context, key contracts.Address) (*contracts.ExecutionReceipt, error) {
	var rc contracts.ExecutionReceipt
	if err := r.load(ctx, KindReceipt, key, &rc, &rc.Revision); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *Records) ListReceipts(ctx context.Context, f Filter) ([]*contracts.ExecutionReceipt, error) {
	return scanAs(ctx, r.backend, KindReceipt, f, func(rc *contracts.ExecutionReceipt) *uint64 { return &rc.Revision })
}

// Commit applies the batch. On success every put record's Revision is
// advanced to the stored revision.
func (r *Records) Commit(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	ops := make([]Op, 0, len(b.writes))
	for _, w := range b.writes {
		op := Op{Record: w.rec, Delete: w.delete}
		op.Record.Revision = *w.rev
		if !w.delete {
			body, err := json.Marshal(w.value)
			if err != nil {
				return contracts.Errorf(contracts.CodeSerializationIssue, "%s %s: %v", w.rec.Kind, w.rec.Key.Short(), err)
			}
			op.Record.Body = body
		}
		ops = append(ops, op)
	}
	if err := r.backend.Apply(ctx, ops); err != nil {
		return err
	}
	for _, w := range b.writes {
		if !w.delete {
			*w.rev++
		}
	}
	return nil
}

func (r *Records) load(ctx context.Context, kind Kind, key contracts.Address, into any, rev *uint64) error {
	rec, err := r.backend.Load(ctx, kind, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Body, into); err != nil {
		return contracts.Errorf(contracts.CodeSerializationIssue, "%s %s: %v", kind, key.Short(), err)
	}
	*rev = rec.Revision
	return nil
}

func scanAs[T any](ctx context.Context, b Backend, kind Kind, f Filter, rev func(*T) *uint64) ([]*T, error) {
	recs, err := b.Scan(ctx, kind, f)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", kind, err)
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := json.Unmarshal(rec.Body, v); err != nil {
			return nil, contracts.Errorf(contracts.CodeSerializationIssue, "%s %s: %v", kind, rec.Key.Short(), err)
		}
		*rev(v) = rec.Revision
		out = append(out, v)
	}
	return out, nil
}

type write struct {
	rec    Record
	value  any
	rev    *uint64
	delete bool
}

// Batch collects the writes of one operation.
type Batch struct {
	writes []write
}

func NewBatch() *Batch {
	return &Batch{}
}

// Len returns the number of writes.
func (b *Batch) Len() int {
	return len(b.writes)
}

func (b *Batch) PutTransmuter(t *contracts.Transmuter) {
	b.writes = append(b.writes, write{
		rec:   Record{Kind: KindTransmuter, Key: t.Key, Transmuter: t.Key},
		value: t, rev: &t.Revision,
	})
}

func (b *Batch) PutMutation(m *contracts.Mutation) {
	b.writes = append(b.writes, write{
		rec:   Record{Kind: KindMutation, Key: m.Key, Transmuter: m.Transmuter, Mutation: m.Key},
		value: m, rev: &m.Revision,
	})
}

func (b *Batch) DeleteMutation(m *contracts.Mutation) {
	b.writes = append(b.writes, write{
		rec: Record{Kind: KindMutation, Key: m.Key, Transmuter: m.Transmuter, Mutation: m.Key},
		rev: &m.Revision, delete: true,
	})
}

func (b *Batch) PutReceipt(r *contracts.ExecutionReceipt) {
	b.writes = append(b.writes, write{
		rec:   Record{Kind: KindReceipt, Key: r.Key, Transmuter: r.Transmuter, Mutation: r.Mutation, Taker: r.Taker},
		value: r, rev: &r.Revision,
	})
}

func (b *Batch) DeleteReceipt(r *contracts.ExecutionReceipt) {
	b.writes = append(b.writes, write{
		rec: Record{Kind: KindReceipt, Key: r.Key, Transmuter: r.Transmuter, Mutation: r.Mutation, Taker: r.Taker},
		rev: &r.Revision, delete: true,
	})
}
