// Package escrow keeps the books of a mutation's payout escrows: funding at
// creation, a fixed amount per use on payout, the same amount back on
// reversal, and a full drain on destruction.
//
// Every movement is applied through a txn.UnitOfWork so that a failure later
// in the same operation undoes it.
package escrow

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/transmuter/pkg/address"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/token"
	"github.com/Mindburn-Labs/transmuter/pkg/txn"
)

// Accounting moves payout assets between makers, escrows and takers.
type Accounting struct {
	tokens token.Service
}

func New(tokens token.Service) *Accounting {
	return &Accounting{tokens: tokens}
}

// ValidateFunding checks every configured payout slot before anything moves.
// Exact funding is checked across all slots first, then that every slot
// names a mint and no mint is used by two slots (two slots with one mint
// would derive the same escrow).
func ValidateFunding(cfg *contracts.MutationConfig, uses uint64) error {
	slots := cfg.MakerSlots()
	for _, s := range slots {
		if err := s.Config.AssertSufficientFunding(uses); err != nil {
			return fmt.Errorf("slot %s: %w", s.Index, err)
		}
	}
	seen := make(map[contracts.Address]contracts.SlotIndex, 3)
	for _, s := range slots {
		if s.Config.Mint.IsZero() {
			return contracts.Errorf(contracts.CodeMintDoesNotMatch, "slot %s has no mint", s.Index)
		}
		if prev, dup := seen[s.Config.Mint]; dup {
			return contracts.Errorf(contracts.CodeMintDoesNotMatch, "slots %s and %s share mint %s", prev, s.Index, s.Config.Mint.Short())
		}
		seen[s.Config.Mint] = s.Index
	}
	return nil
}

// Fund creates the slot's escrow and moves the full funding into it from
// the maker. It returns the escrow address.
func (a *Accounting) Fund(ctx context.Context, u *txn.UnitOfWork, mutation, maker contracts.Address, slot contracts.MakerSlot, uses uint64) (contracts.Address, error) {
	cfg := slot.Config
	if err := cfg.AssertSufficientFunding(uses); err != nil {
		return "", err
	}
	escrow := address.Escrow(mutation, cfg.Mint)

	err := u.Do(ctx, "create escrow "+slot.Index.String(),
		func(ctx context.Context) error { return a.tokens.CreateEscrow(ctx, escrow, cfg.Mint) },
		func(ctx context.Context) error { return a.tokens.CloseEscrow(ctx, escrow) })
	if err != nil {
		return "", fmt.Errorf("create escrow %s: %w", slot.Index, err)
	}
	if err := a.move(ctx, u, "fund escrow "+slot.Index.String(), cfg.Mint, maker, escrow, cfg.TotalFunding); err != nil {
		return "", err
	}
	return escrow, nil
}

// Payout moves amountPerUse from the escrow to the taker.
func (a *Accounting) Payout(ctx context.Context, u *txn.UnitOfWork, escrow, taker contracts.Address, slot contracts.MakerSlot) error {
	if err := a.assertMint(ctx, escrow, slot.Config.Mint); err != nil {
		return err
	}
	return a.move(ctx, u, "payout "+slot.Index.String(), slot.Config.Mint, escrow, taker, slot.Config.AmountPerUse)
}

// Refund moves amountPerUse from the taker back into the escrow.
func (a *Accounting) Refund(ctx context.Context, u *txn.UnitOfWork, escrow, taker contracts.Address, slot contracts.MakerSlot) error {
	if err := a.assertMint(ctx, escrow, slot.Config.Mint); err != nil {
		return err
	}
	return a.move(ctx, u, "refund "+slot.Index.String(), slot.Config.Mint, taker, escrow, slot.Config.AmountPerUse)
}

// Drain moves the whole escrow balance to destination and closes the escrow.
// It returns the amount drained.
func (a *Accounting) Drain(ctx context.Context, u *txn.UnitOfWork, escrow, destination contracts.Address, slot contracts.MakerSlot) (uint64, error) {
	mint := slot.Config.Mint
	if err := a.assertMint(ctx, escrow, mint); err != nil {
		return 0, err
	}
	remaining, err := a.tokens.Balance(ctx, mint, escrow)
	if err != nil {
		return 0, fmt.Errorf("escrow balance: %w", err)
	}
	if err := a.move(ctx, u, "drain "+slot.Index.String(), mint, escrow, destination, remaining); err != nil {
		return 0, err
	}
	err = u.Do(ctx, "close escrow "+slot.Index.String(),
		func(ctx context.Context) error { return a.tokens.CloseEscrow(ctx, escrow) },
		func(ctx context.Context) error { return a.tokens.CreateEscrow(ctx, escrow, mint) })
	if err != nil {
		return 0, fmt.Errorf("close escrow %s: %w", slot.Index, err)
	}
	return remaining, nil
}

// Remaining returns the escrow's balance of the slot mint.
func (a *Accounting) Remaining(ctx context.Context, escrow contracts.Address, slot contracts.MakerSlot) (uint64, error) {
	return a.tokens.Balance(ctx, slot.Config.Mint, escrow)
}

func (a *Accounting) assertMint(ctx context.Context, escrow, mint contracts.Address) error {
	got, err := a.tokens.EscrowMint(ctx, escrow)
	if err != nil {
		return err
	}
	if got != mint {
		return contracts.Errorf(contracts.CodeMintDoesNotMatch, "escrow %s holds %s, config says %s", escrow.Short(), got.Short(), mint.Short())
	}
	return nil
}

func (a *Accounting) move(ctx context.Context, u *txn.UnitOfWork, name string, mint, from, to contracts.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	err := u.Do(ctx, name,
		func(ctx context.Context) error { return a.tokens.Transfer(ctx, mint, from, to, amount) },
		func(ctx context.Context) error { return a.tokens.Transfer(ctx, mint, to, from, amount) })
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
