// Package journal keeps an append-only, hash-chained log of committed
// protocol operations. Entries are hashed over their RFC 8785 canonical JSON
// form so the chain can be re-verified from an exported copy.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Genesis is the predecessor hash of the first entry.
const Genesis = "genesis"

// Entry is one committed operation.
type Entry struct {
	ID          string            `json:"id"`
	Sequence    uint64            `json:"sequence"`
	Operation   string            `json:"operation"`
	Actor       contracts.Address `json:"actor"`
	Subject     contracts.Address `json:"subject"`
	Data        map[string]any    `json:"data,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	PrevHash    string            `json:"prev_hash"`
	ContentHash string            `json:"content_hash"`
}

// Journal is safe for concurrent use.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	clock   func() time.Time
}

func New() *Journal {
	return &Journal{head: Genesis, clock: time.Now}
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

// Append records an operation and returns the new entry.
func (j *Journal) Append(op string, actor, subject contracts.Address, data map[string]any) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := Entry{
		ID:        uuid.NewString(),
		Sequence:  uint64(len(j.entries)) + 1,
		Operation: op,
		Actor:     actor,
		Subject:   subject,
		Data:      data,
		Timestamp: j.clock().UTC(),
		PrevHash:  j.head,
	}
	h, err := contentHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.ContentHash = h
	j.entries = append(j.entries, e)
	j.head = h
	return e, nil
}

// Get retrieves an entry by sequence number.
func (j *Journal) Get(seq uint64) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if seq == 0 || seq > uint64(len(j.entries)) {
		return Entry{}, fmt.Errorf("entry %d not found", seq)
	}
	return j.entries[seq-1], nil
}

// Entries returns a copy of every entry with sequence >= from.
func (j *Journal) Entries(from uint64) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	if from > uint64(len(j.entries)) {
		return nil
	}
	return append([]Entry(nil), j.entries[from-1:]...)
}

// Head returns the current head hash.
func (j *Journal) Head() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.head
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Verify checks the integrity of the whole chain.
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return VerifyChain(j.entries)
}

// VerifyChain checks a sequence of entries, e.g. one read back from an export.
func VerifyChain(entries []Entry) error {
	prev := Genesis
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("entry %d: sequence %d out of order", i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		h, err := contentHash(e)
		if err != nil {
			return err
		}
		if h != e.ContentHash {
			return fmt.Errorf("hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return nil
}

func contentHash(e Entry) (string, error) {
	e.ContentHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
