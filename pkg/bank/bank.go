// Package bank is the resource-pool contract the protocol consumes. A bank
// holds takers' gems in vaults, tracks rarity points per gem mint and lets
// its manager lock vaults or reassign their ownership.
package bank

import (
	"context"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

// WhitelistKind selects what a whitelist entry matches on a deposit.
type WhitelistKind string

const (
	WhitelistMint    WhitelistKind = "Mint"
	WhitelistCreator WhitelistKind = "Creator"
)

// Rarity assigns rarity points to every gem of a mint.
type Rarity struct {
	Mint   contracts.Address `json:"mint"`
	Points uint16            `json:"points"`
}

// VaultService is implemented by resource pools. Every mutating call is
// signed by manager and fails with Unauthorized unless manager manages bank.
type VaultService interface {
	// InitBank creates a bank managed by manager. Re-initializing with the
	// same manager is a no-op.
	InitBank(ctx context.Context, bank, manager contracts.Address) error
	// InitVault creates (or returns the existing) vault of creator in bank,
	// owned by owner.
	InitVault(ctx context.Context, bank, creator, owner contracts.Address) (contracts.Vault, error)
	Vault(ctx context.Context, vault contracts.Address) (contracts.Vault, error)
	VaultBelongsTo(ctx context.Context, vault, bank contracts.Address) (bool, error)
	QueryContents(ctx context.Context, vault contracts.Address) (contracts.VaultContents, error)

	LockVault(ctx context.Context, manager, bank, vault contracts.Address) error
	UnlockVault(ctx context.Context, manager, bank, vault contracts.Address) error
	TransferVaultOwnership(ctx context.Context, manager, bank, vault, newOwner contracts.Address) error

	AddToWhitelist(ctx context.Context, manager, bank, addr contracts.Address, kind WhitelistKind) error
	RemoveFromWhitelist(ctx context.Context, manager, bank, addr contracts.Address) error
	RecordRarityPoints(ctx context.Context, manager, bank contracts.Address, rarities []Rarity) error
}
