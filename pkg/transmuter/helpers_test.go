package transmuter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/journal"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner   = contracts.Address("owner")
	gemMint = contracts.Address("gem-mint")

	lamportsPerSol = 1_000_000_000
	ownerSupply    = 1_000_000
)

var payoutMints = [3]contracts.Address{"mint-a", "mint-b", "mint-c"}

// flakyLedger fails token transfers into one party, to exercise rollback.
type flakyLedger struct {
	*token.MemoryLedger
	failTo contracts.Address
}

func (l *flakyLedger) Transfer(ctx context.Context, mint, from, to contracts.Address, amount uint64) error {
	if to == l.failTo {
		return errors.New("ledger unavailable")
	}
	return l.MemoryLedger.Transfer(ctx, mint, from, to, amount)
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	svc     *Service
	bank    *bank.MemoryBank
	ledger  *flakyLedger
	backend *store.MemoryBackend
	records *store.Records
	journal *journal.Journal
	now     time.Time
	root    *contracts.Transmuter
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		bank:    bank.NewMemoryBank(),
		ledger:  &flakyLedger{MemoryLedger: token.NewMemoryLedger()},
		backend: store.NewMemoryBackend(),
		journal: journal.New(),
		now:     time.Unix(1_700_000_000, 0),
	}
	f.records = store.New(f.backend)
	base := []Option{
		WithClock(func() time.Time { return f.now }),
		WithJournal(f.journal),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	svc, err := New(f.records, f.bank, f.ledger, append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc

	require.NoError(t, f.ledger.Airdrop(f.ctx, owner, 100*lamportsPerSol))
	for _, m := range payoutMints {
		require.NoError(t, f.ledger.CreateMint(f.ctx, m))
		require.NoError(t, f.ledger.MintTo(f.ctx, m, owner, ownerSupply))
	}
	f.root, err = svc.InitTransmuter(f.ctx, InitTransmuterRequest{Owner: owner, Seed: "root", Banks: 3})
	require.NoError(t, err)
	return f
}

// peer returns a second service over the fixture's store, bank and ledger
// with its own in-process locks, the way another replica would run. Nil
// arguments use the fixture's own backend and bank.
func (f *fixture) peer(backend store.Backend, vaults bank.VaultService) *Service {
	f.t.Helper()
	if backend == nil {
		backend = f.backend
	}
	if vaults == nil {
		vaults = f.bank
	}
	svc, err := New(store.New(backend), vaults, f.ledger,
		WithClock(func() time.Time { return f.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(f.t, err)
	return svc
}

// gate pauses the first call that reaches it until opened.
type gate struct {
	once    sync.Once
	reached chan struct{}
	open    chan struct{}
}

func newGate() *gate {
	return &gate{reached: make(chan struct{}), open: make(chan struct{})}
}

func (g *gate) pass() {
	g.once.Do(func() {
		close(g.reached)
		<-g.open
	})
}

// gatedBackend returns the first record of kind it loads only after its
// gate opens, so the reader goes on with what was stored at that moment.
type gatedBackend struct {
	store.Backend
	kind store.Kind
	gate *gate
}

func (b *gatedBackend) Load(ctx context.Context, kind store.Kind, key contracts.Address) (store.Record, error) {
	rec, err := b.Backend.Load(ctx, kind, key)
	if kind == b.kind {
		b.gate.pass()
	}
	return rec, err
}

// gatedBank holds the first contents query at its gate.
type gatedBank struct {
	*bank.MemoryBank
	gate *gate
}

func (b *gatedBank) QueryContents(ctx context.Context, vault contracts.Address) (contracts.VaultContents, error) {
	b.gate.pass()
	return b.MemoryBank.QueryContents(ctx, vault)
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// lockConfig is a one-slot mutation: 2 gems in bank A, perUse of mint-a.
func (f *fixture) lockConfig(uses, perUse uint64) contracts.MutationConfig {
	return contracts.MutationConfig{
		TakerTokenA: contracts.TakerTokenConfig{
			GemBank:        f.root.BankA,
			RequiredAmount: 2,
			RequiredUnits:  contracts.UnitsGems,
			VaultAction:    contracts.VaultActionLock,
		},
		MakerTokenA: contracts.MakerTokenConfig{Mint: payoutMints[0], TotalFunding: perUse * uses, AmountPerUse: perUse},
		Reversible:  true,
	}
}

func (f *fixture) mutation(seed string, cfg contracts.MutationConfig, uses uint64) *contracts.Mutation {
	f.t.Helper()
	m, err := f.svc.InitMutation(f.ctx, InitMutationRequest{
		Transmuter: f.root.Key,
		Caller:     owner,
		Config:     cfg,
		Uses:       uses,
		Name:       "mutation " + seed,
		Seed:       seed,
	})
	require.NoError(f.t, err)
	return m
}

// taker funds a taker with lamports and stocks a vault with gems in every
// bank the mutation requires.
func (f *fixture) taker(m *contracts.Mutation, name string, gems uint64) contracts.Address {
	f.t.Helper()
	taker := contracts.Address(name)
	require.NoError(f.t, f.ledger.Airdrop(f.ctx, taker, 10*lamportsPerSol))
	for _, slot := range m.Config.TakerSlots() {
		v, err := f.svc.InitTakerVault(f.ctx, m.Key, taker, slot.Config.GemBank)
		require.NoError(f.t, err)
		if gems > 0 {
			require.NoError(f.t, f.bank.DepositGem(f.ctx, v.Key, gemMint, "", gems))
		}
	}
	return taker
}

func (f *fixture) balance(mint, who contracts.Address) uint64 {
	f.t.Helper()
	b, err := f.ledger.Balance(f.ctx, mint, who)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) lamports(who contracts.Address) uint64 {
	f.t.Helper()
	l, err := f.ledger.Lamports(f.ctx, who)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) vault(m *contracts.Mutation, taker, b contracts.Address) contracts.Vault {
	f.t.Helper()
	v, err := f.svc.InitTakerVault(f.ctx, m.Key, taker, b)
	require.NoError(f.t, err)
	return *v
}

func (f *fixture) receipt(m *contracts.Mutation, taker contracts.Address) *contracts.ExecutionReceipt {
	f.t.Helper()
	rc, err := f.svc.FindReceipt(f.ctx, m.Key, taker)
	require.NoError(f.t, err)
	return rc
}

func (f *fixture) reload(m *contracts.Mutation) *contracts.Mutation {
	f.t.Helper()
	got, err := f.svc.FindMutation(f.ctx, m.Key)
	require.NoError(f.t, err)
	return got
}

// assertConservation checks remaining uses plus active receipts equals total.
func (f *fixture) assertConservation(m *contracts.Mutation) {
	f.t.Helper()
	m = f.reload(m)
	receipts, err := f.svc.FindAllReceipts(f.ctx, ReceiptQuery{Mutation: m.Key})
	require.NoError(f.t, err)
	var active uint64
	for _, rc := range receipts {
		if rc.State.Active() {
			active++
		}
	}
	assert.Equal(f.t, m.TotalUses, m.RemainingUses+active, "remaining %d + active %d", m.RemainingUses, active)
	assert.Equal(f.t, m.RemainingUses == 0, m.State == contracts.MutationExhausted)
}

func requireCode(t *testing.T, err error, want contracts.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	got, ok := contracts.CodeOf(err)
	require.True(t, ok, "not a protocol error: %v", err)
	require.Equal(t, want.Name(), got.Name(), "error: %v", err)
}
