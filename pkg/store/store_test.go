package store_test

import (
	"context"
	"testing"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every backend that runs without external services.
func backends(t *testing.T) map[string]*store.Records {
	t.Helper()
	sqlite, err := store.OpenSQL(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]*store.Records{
		"memory": store.NewMemory(),
		"sqlite": sqlite,
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	for name, recs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			testRoundTrip(t, recs)
		})
	}
}

func TestRecordsCompareAndCommit(t *testing.T) {
	for name, recs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			testCompareAndCommit(t, recs)
		})
	}
}

func TestRecordsReceiptFilters(t *testing.T) {
	for name, recs := range backends(t) {
		t.Run(name, func(t *testing.T) {
			testReceiptFilters(t, recs)
		})
	}
}

func testRoundTrip(t *testing.T, recs *store.Records) {
	ctx := context.Background()
	tr := &contracts.Transmuter{Key: "root", Owner: "owner", BankA: "bank-a", BankB: contracts.Some[contracts.Address]("bank-b")}
	m := &contracts.Mutation{Key: "mut", Transmuter: "root", Name: "swap",
		Config: contracts.MutationConfig{MakerTokenC: contracts.Some(contracts.MakerTokenConfig{Mint: "m", TotalFunding: 4, AmountPerUse: 2})}}
	m.InitUses(2)

	b := store.NewBatch()
	b.PutTransmuter(tr)
	b.PutMutation(m)
	require.NoError(t, recs.Commit(ctx, b))
	assert.Equal(t, uint64(1), tr.Revision)
	assert.Equal(t, uint64(1), m.Revision)

	gotT, err := recs.GetTransmuter(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, tr, gotT)

	gotM, err := recs.GetMutation(ctx, "mut")
	require.NoError(t, err)
	assert.Equal(t, m, gotM)

	list, err := recs.ListMutations(ctx, "root")
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = recs.ListMutations(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, list)

	roots, err := recs.ListTransmuters(ctx)
	require.NoError(t, err)
	assert.Len(t, roots, 1)

	_, err = recs.GetReceipt(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCompareAndCommit(t *testing.T, recs *store.Records) {
	ctx := context.Background()
	m := &contracts.Mutation{Key: "mut", Transmuter: "root"}
	m.InitUses(3)
	b := store.NewBatch()
	b.PutMutation(m)
	require.NoError(t, recs.Commit(ctx, b))

	first, err := recs.GetMutation(ctx, "mut")
	require.NoError(t, err)
	second, err := recs.GetMutation(ctx, "mut")
	require.NoError(t, err)

	require.NoError(t, first.TryDecrementUses())
	b = store.NewBatch()
	b.PutMutation(first)
	require.NoError(t, recs.Commit(ctx, b))

	require.NoError(t, second.TryDecrementUses())
	b = store.NewBatch()
	b.PutMutation(second)
	assert.ErrorIs(t, recs.Commit(ctx, b), store.ErrConflict)
	assert.Equal(t, uint64(1), second.Revision, "failed commit leaves revision untouched")

	// creating a record that already exists conflicts too
	dup := &contracts.Mutation{Key: "mut", Transmuter: "root"}
	b = store.NewBatch()
	b.PutMutation(dup)
	assert.ErrorIs(t, recs.Commit(ctx, b), store.ErrConflict)

	// a conflicting op rolls back the whole batch
	r := &contracts.ExecutionReceipt{Key: "rcpt", Mutation: "mut", Taker: "taker"}
	b = store.NewBatch()
	b.PutReceipt(r)
	b.PutMutation(second)
	assert.ErrorIs(t, recs.Commit(ctx, b), store.ErrConflict)
	_, err = recs.GetReceipt(ctx, "rcpt")
	assert.ErrorIs(t, err, store.ErrNotFound)

	fresh, err := recs.GetMutation(ctx, "mut")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fresh.RemainingUses)
	b = store.NewBatch()
	b.DeleteMutation(fresh)
	require.NoError(t, recs.Commit(ctx, b))
	_, err = recs.GetMutation(ctx, "mut")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testReceiptFilters(t *testing.T, recs *store.Records) {
	ctx := context.Background()
	b := store.NewBatch()
	for _, r := range []*contracts.ExecutionReceipt{
		{Key: "r1", Transmuter: "root", Mutation: "m1", Taker: "alice", State: contracts.ExecutionComplete},
		{Key: "r2", Transmuter: "root", Mutation: "m1", Taker: "bob", State: contracts.ExecutionPending},
		{Key: "r3", Transmuter: "root", Mutation: "m2", Taker: "alice", State: contracts.ExecutionNotStarted},
	} {
		b.PutReceipt(r)
	}
	require.NoError(t, recs.Commit(ctx, b))

	all, err := recs.ListReceipts(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byMutation, err := recs.ListReceipts(ctx, store.Filter{Mutation: "m1"})
	require.NoError(t, err)
	assert.Len(t, byMutation, 2)

	byTaker, err := recs.ListReceipts(ctx, store.Filter{Taker: "alice", Mutation: "m2"})
	require.NoError(t, err)
	require.Len(t, byTaker, 1)
	assert.Equal(t, contracts.Address("r3"), byTaker[0].Key)
	assert.Equal(t, uint64(1), byTaker[0].Revision)

	r, err := recs.GetReceipt(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, contracts.ExecutionPending, r.State)
}
