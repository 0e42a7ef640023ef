package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/journal"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/gowebpki/jcs"
)

// SnapshotVersion is the format version written by Export.
const SnapshotVersion = "1"

// Snapshot is a point-in-time copy of every persisted record and,
// optionally, the operation journal.
type Snapshot struct {
	Version     string                        `json:"version"`
	TakenAt     time.Time                     `json:"taken_at"`
	Transmuters []*contracts.Transmuter       `json:"transmuters"`
	Mutations   []*contracts.Mutation         `json:"mutations"`
	Receipts    []*contracts.ExecutionReceipt `json:"receipts"`
	JournalHead string                        `json:"journal_head,omitempty"`
	Journal     []journal.Entry               `json:"journal,omitempty"`
}

// Take reads every record from records. j may be nil.
func Take(ctx context.Context, records *store.Records, j *journal.Journal, now time.Time) (*Snapshot, error) {
	ts, err := records.ListTransmuters(ctx)
	if err != nil {
		return nil, err
	}
	ms, err := records.ListMutations(ctx, "")
	if err != nil {
		return nil, err
	}
	rs, err := records.ListReceipts(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Version:     SnapshotVersion,
		TakenAt:     now.UTC(),
		Transmuters: ts,
		Mutations:   ms,
		Receipts:    rs,
	}
	if j != nil {
		snap.Journal = j.Entries(1)
		snap.JournalHead = j.Head()
	}
	return snap, nil
}

// Canonical returns the RFC 8785 form of snap. Equal snapshots always
// produce equal bytes and therefore equal hashes.
func (s *Snapshot) Canonical() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return out, nil
}

// Export writes snap to st and returns its content hash.
func Export(ctx context.Context, st Store, snap *Snapshot) (string, error) {
	data, err := snap.Canonical()
	if err != nil {
		return "", err
	}
	return st.Put(ctx, data)
}

// Load reads the snapshot at hash, checking the blob against its address
// and the journal chain it carries.
func Load(ctx context.Context, st Store, hash string) (*Snapshot, error) {
	data, err := st.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if got := ContentHash(data); got != hash {
		return nil, fmt.Errorf("snapshot %s: content hash is %s", hash, got)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported version %q", hash, snap.Version)
	}
	if err := journal.VerifyChain(snap.Journal); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", hash, err)
	}
	if n := len(snap.Journal); n > 0 && snap.Journal[n-1].ContentHash != snap.JournalHead {
		return nil, fmt.Errorf("snapshot %s: journal head does not match last entry", hash)
	}
	return &snap, nil
}
