package token

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

var _ Service = (*MemoryLedger)(nil)

type holdingKey struct {
	mint  contracts.Address
	owner contracts.Address
}

// MemoryLedger implements Service in memory. It also mints tokens and
// airdrops lamports, which sandboxes and tests use to fund parties.
// Thread-safe via RWMutex.
type MemoryLedger struct {
	mu       sync.RWMutex
	mints    map[contracts.Address]uint64 // mint -> supply
	holdings map[holdingKey]uint64
	escrows  map[contracts.Address]contracts.Address // escrow -> mint
	lamports map[contracts.Address]uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		mints:    make(map[contracts.Address]uint64),
		holdings: make(map[holdingKey]uint64),
		escrows:  make(map[contracts.Address]contracts.Address),
		lamports: make(map[contracts.Address]uint64),
	}
}

// CreateMint registers a mint with zero supply.
func (l *MemoryLedger) CreateMint(_ context.Context, mint contracts.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.mints[mint]; !ok {
		l.mints[mint] = 0
	}
	return nil
}

// MintTo creates amount new tokens in to's holding.
func (l *MemoryLedger) MintTo(_ context.Context, mint, to contracts.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, ok := l.mints[mint]
	if !ok {
		return contracts.Errorf(contracts.CodeAccountNotFound, "mint %s", mint)
	}
	supply, err := contracts.TryAdd(supply, amount)
	if err != nil {
		return err
	}
	k := holdingKey{mint, to}
	bal, err := contracts.TryAdd(l.holdings[k], amount)
	if err != nil {
		return err
	}
	l.mints[mint] = supply
	l.holdings[k] = bal
	return nil
}

// Airdrop credits lamports to owner.
func (l *MemoryLedger) Airdrop(_ context.Context, owner contracts.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, err := contracts.TryAdd(l.lamports[owner], amount)
	if err != nil {
		return err
	}
	l.lamports[owner] = bal
	return nil
}

func (l *MemoryLedger) CreateEscrow(_ context.Context, escrow, mint contracts.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.mints[mint]; !ok {
		return contracts.Errorf(contracts.CodeAccountNotFound, "mint %s", mint)
	}
	if existing, ok := l.escrows[escrow]; ok {
		if existing != mint {
			return contracts.Errorf(contracts.CodeMintDoesNotMatch, "escrow %s holds %s", escrow.Short(), existing.Short())
		}
		return nil
	}
	l.escrows[escrow] = mint
	return nil
}

func (l *MemoryLedger) CloseEscrow(_ context.Context, escrow contracts.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	mint, ok := l.escrows[escrow]
	if !ok {
		return contracts.Errorf(contracts.CodeAccountNotFound, "escrow %s", escrow.Short())
	}
	k := holdingKey{mint, escrow}
	if bal := l.holdings[k]; bal != 0 {
		return fmt.Errorf("token: close escrow %s with balance %d", escrow.Short(), bal)
	}
	delete(l.holdings, k)
	delete(l.escrows, escrow)
	return nil
}

func (l *MemoryLedger) EscrowMint(_ context.Context, escrow contracts.Address) (contracts.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	mint, ok := l.escrows[escrow]
	if !ok {
		return "", contracts.Errorf(contracts.CodeAccountNotFound, "escrow %s", escrow.Short())
	}
	return mint, nil
}

func (l *MemoryLedger) Transfer(_ context.Context, mint, from, to contracts.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.mints[mint]; !ok {
		return contracts.Errorf(contracts.CodeAccountNotFound, "mint %s", mint)
	}
	for _, party := range []contracts.Address{from, to} {
		if m, isEscrow := l.escrows[party]; isEscrow && m != mint {
			return contracts.Errorf(contracts.CodeMintDoesNotMatch, "escrow %s holds %s, not %s", party.Short(), m.Short(), mint.Short())
		}
	}
	if amount == 0 || from == to {
		return nil
	}
	fk, tk := holdingKey{mint, from}, holdingKey{mint, to}
	if l.holdings[fk] < amount {
		return fmt.Errorf("%w: %s holds %d of %s, needs %d", ErrInsufficientFunds, from.Short(), l.holdings[fk], mint.Short(), amount)
	}
	credited, err := contracts.TryAdd(l.holdings[tk], amount)
	if err != nil {
		return err
	}
	l.holdings[fk] -= amount
	l.holdings[tk] = credited
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, mint, owner contracts.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holdings[holdingKey{mint, owner}], nil
}

func (l *MemoryLedger) TransferLamports(_ context.Context, from, to contracts.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount == 0 || from == to {
		return nil
	}
	if l.lamports[from] < amount {
		return fmt.Errorf("%w: %s holds %d lamports, needs %d", ErrInsufficientFunds, from.Short(), l.lamports[from], amount)
	}
	credited, err := contracts.TryAdd(l.lamports[to], amount)
	if err != nil {
		return err
	}
	l.lamports[from] -= amount
	l.lamports[to] = credited
	return nil
}

func (l *MemoryLedger) Lamports(_ context.Context, owner contracts.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lamports[owner], nil
}

// Holding is one non-empty (mint, owner) balance.
type Holding struct {
	Mint    contracts.Address `json:"mint"`
	Owner   contracts.Address `json:"owner"`
	Balance uint64            `json:"balance"`
}

// Holdings lists every non-empty holding sorted by mint then owner.
func (l *MemoryLedger) Holdings() []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Holding, 0, len(l.holdings))
	for k, v := range l.holdings {
		if v > 0 {
			out = append(out, Holding{Mint: k.mint, Owner: k.owner, Balance: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mint != out[j].Mint {
			return out[i].Mint < out[j].Mint
		}
		return out[i].Owner < out[j].Owner
	})
	return out
}
