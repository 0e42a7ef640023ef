// Package token is the fungible-asset custody contract the protocol consumes:
// escrow holdings, token transfers and lamport transfers.
package token

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

// ErrInsufficientFunds is returned when a holding cannot cover a transfer.
var ErrInsufficientFunds = errors.New("token: insufficient funds")

// Service moves fungible assets between holdings. A holding is identified by
// (mint, owner); an escrow is a holding owned by its own escrow address and
// bound to one mint.
type Service interface {
	// CreateEscrow opens an empty escrow for mint. Creating an escrow that
	// already exists for the same mint is a no-op.
	CreateEscrow(ctx context.Context, escrow, mint contracts.Address) error
	// CloseEscrow removes an empty escrow.
	CloseEscrow(ctx context.Context, escrow contracts.Address) error
	EscrowMint(ctx context.Context, escrow contracts.Address) (contracts.Address, error)

	Transfer(ctx context.Context, mint, from, to contracts.Address, amount uint64) error
	Balance(ctx context.Context, mint, owner contracts.Address) (uint64, error)

	TransferLamports(ctx context.Context, from, to contracts.Address, amount uint64) error
	Lamports(ctx context.Context, owner contracts.Address) (uint64, error)
}
