package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/transmuter/pkg/address"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
)

var _ VaultService = (*MemoryBank)(nil)

// ErrVaultLocked is returned when depositing into or withdrawing from a locked vault.
var ErrVaultLocked = errors.New("bank: vault is locked")

type bankState struct {
	manager   contracts.Address
	whitelist map[contracts.Address]WhitelistKind
	rarities  map[contracts.Address]uint16
}

type vaultState struct {
	vault contracts.Vault
	gems  map[contracts.Address]uint64 // gem mint -> count
}

// MemoryBank implements VaultService in memory. Deposits and withdrawals are
// taker-side operations outside the protocol; sandboxes and tests use them
// to stock vaults.
// Thread-safe via RWMutex.
type MemoryBank struct {
	mu     sync.RWMutex
	banks  map[contracts.Address]*bankState
	vaults map[contracts.Address]*vaultState
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		banks:  make(map[contracts.Address]*bankState),
		vaults: make(map[contracts.Address]*vaultState),
	}
}

func (b *MemoryBank) InitBank(_ context.Context, bank, manager contracts.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.banks[bank]; ok {
		if existing.manager != manager {
			return contracts.Errorf(contracts.CodeUnauthorized, "bank %s already managed", bank.Short())
		}
		return nil
	}
	b.banks[bank] = &bankState{
		manager:   manager,
		whitelist: make(map[contracts.Address]WhitelistKind),
		rarities:  make(map[contracts.Address]uint16),
	}
	return nil
}

func (b *MemoryBank) InitVault(_ context.Context, bank, creator, owner contracts.Address) (contracts.Vault, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.banks[bank]; !ok {
		return contracts.Vault{}, contracts.Errorf(contracts.CodeAccountNotFound, "bank %s", bank.Short())
	}
	key := address.Vault(bank, creator)
	if v, ok := b.vaults[key]; ok {
		return v.vault, nil
	}
	v := &vaultState{
		vault: contracts.Vault{Key: key, Bank: bank, Owner: owner, Creator: creator},
		gems:  make(map[contracts.Address]uint64),
	}
	b.vaults[key] = v
	return v.vault, nil
}

func (b *MemoryBank) Vault(_ context.Context, vault contracts.Address) (contracts.Vault, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vaults[vault]
	if !ok {
		return contracts.Vault{}, contracts.Errorf(contracts.CodeAccountNotFound, "vault %s", vault.Short())
	}
	return v.vault, nil
}

func (b *MemoryBank) VaultBelongsTo(_ context.Context, vault, bank contracts.Address) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vaults[vault]
	if !ok {
		return false, contracts.Errorf(contracts.CodeAccountNotFound, "vault %s", vault.Short())
	}
	return v.vault.Bank == bank, nil
}

func (b *MemoryBank) QueryContents(_ context.Context, vault contracts.Address) (contracts.VaultContents, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.vaults[vault]
	if !ok {
		return contracts.VaultContents{}, contracts.Errorf(contracts.CodeAccountNotFound, "vault %s", vault.Short())
	}
	return v.vault.VaultContents, nil
}

func (b *MemoryBank) LockVault(_ context.Context, manager, bank, vault contracts.Address) error {
	return b.withManagedVault(manager, bank, vault, func(v *vaultState) error {
		v.vault.Locked = true
		return nil
	})
}

func (b *MemoryBank) UnlockVault(_ context.Context, manager, bank, vault contracts.Address) error {
	return b.withManagedVault(manager, bank, vault, func(v *vaultState) error {
		v.vault.Locked = false
		return nil
	})
}

func (b *MemoryBank) TransferVaultOwnership(_ context.Context, manager, bank, vault, newOwner contracts.Address) error {
	return b.withManagedVault(manager, bank, vault, func(v *vaultState) error {
		v.vault.Owner = newOwner
		return nil
	})
}

func (b *MemoryBank) AddToWhitelist(_ context.Context, manager, bank, addr contracts.Address, kind WhitelistKind) error {
	if kind != WhitelistMint && kind != WhitelistCreator {
		return fmt.Errorf("bank: unknown whitelist kind %q", kind)
	}
	return b.withManagedBank(manager, bank, func(s *bankState) error {
		s.whitelist[addr] = kind
		return nil
	})
}

func (b *MemoryBank) RemoveFromWhitelist(_ context.Context, manager, bank, addr contracts.Address) error {
	return b.withManagedBank(manager, bank, func(s *bankState) error {
		if _, ok := s.whitelist[addr]; !ok {
			return contracts.Errorf(contracts.CodeAccountNotFound, "whitelist entry %s", addr.Short())
		}
		delete(s.whitelist, addr)
		return nil
	})
}

// RecordRarityPoints sets rarity points per mint. Vaults already holding a
// re-rated mint have their totals recomputed.
func (b *MemoryBank) RecordRarityPoints(_ context.Context, manager, bank contracts.Address, rarities []Rarity) error {
	return b.withManagedBank(manager, bank, func(s *bankState) error {
		for _, r := range rarities {
			s.rarities[r.Mint] = r.Points
		}
		for _, v := range b.vaults {
			if v.vault.Bank != bank {
				continue
			}
			total, err := rarityTotal(s, v.gems)
			if err != nil {
				return err
			}
			v.vault.RarityPoints = total
		}
		return nil
	})
}

// Whitelisted reports whether a bank's whitelist admits addr.
func (b *MemoryBank) Whitelisted(bank, addr contracts.Address) (WhitelistKind, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.banks[bank]
	if !ok {
		return "", false
	}
	kind, ok := s.whitelist[addr]
	return kind, ok
}

// DepositGem adds amount gems of mint to an unlocked vault. When the bank
// has a whitelist the mint or its creator must be on it. Gems without a
// recorded rarity count one point each.
func (b *MemoryBank) DepositGem(_ context.Context, vault, mint, creator contracts.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.vaults[vault]
	if !ok {
		return contracts.Errorf(contracts.CodeAccountNotFound, "vault %s", vault.Short())
	}
	if v.vault.Locked {
		return ErrVaultLocked
	}
	s := b.banks[v.vault.Bank]
	if len(s.whitelist) > 0 {
		_, mintOK := s.whitelist[mint]
		kind, creatorOK := s.whitelist[creator]
		if !mintOK && !(creatorOK && kind == WhitelistCreator) {
			return fmt.Errorf("bank: gem %s is not whitelisted in %s", mint.Short(), v.vault.Bank.Short())
		}
	}
	count, err := contracts.TryAdd(v.gems[mint], amount)
	if err != nil {
		return err
	}
	gems, err := contracts.TryAdd(v.vault.GemCount, amount)
	if err != nil {
		return err
	}
	points, err := contracts.TryMul(rarityOf(s, mint), amount)
	if err != nil {
		return err
	}
	rarity, err := contracts.TryAdd(v.vault.RarityPoints, points)
	if err != nil {
		return err
	}
	v.gems[mint] = count
	v.vault.GemCount = gems
	v.vault.RarityPoints = rarity
	return nil
}

// WithdrawGem removes amount gems of mint from an unlocked vault.
func (b *MemoryBank) WithdrawGem(_ context.Context, vault, mint contracts.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.vaults[vault]
	if !ok {
		return contracts.Errorf(contracts.CodeAccountNotFound, "vault %s", vault.Short())
	}
	if v.vault.Locked {
		return ErrVaultLocked
	}
	count, err := contracts.TrySub(v.gems[mint], amount)
	if err != nil {
		return err
	}
	s := b.banks[v.vault.Bank]
	points, err := contracts.TryMul(rarityOf(s, mint), amount)
	if err != nil {
		return err
	}
	v.gems[mint] = count
	v.vault.GemCount -= amount
	v.vault.RarityPoints -= points
	return nil
}

func (b *MemoryBank) withManagedBank(manager, bank contracts.Address, fn func(*bankState) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.banks[bank]
	if !ok {
		return contracts.Errorf(contracts.CodeAccountNotFound, "bank %s", bank.Short())
	}
	if s.manager != manager {
		return contracts.Errorf(contracts.CodeUnauthorized, "%s does not manage bank %s", manager.Short(), bank.Short())
	}
	return fn(s)
}

func (b *MemoryBank) withManagedVault(manager, bank, vault contracts.Address, fn func(*vaultState) error) error {
	return b.withManagedBank(manager, bank, func(*bankState) error {
		v, ok := b.vaults[vault]
		if !ok {
			return contracts.Errorf(contracts.CodeAccountNotFound, "vault %s", vault.Short())
		}
		if v.vault.Bank != bank {
			return contracts.ErrVaultDoesNotBelongToBank
		}
		return fn(v)
	})
}

func rarityOf(s *bankState, mint contracts.Address) uint64 {
	if p, ok := s.rarities[mint]; ok {
		return uint64(p)
	}
	return 1
}

func rarityTotal(s *bankState, gems map[contracts.Address]uint64) (uint64, error) {
	var total uint64
	for mint, count := range gems {
		points, err := contracts.TryMul(rarityOf(s, mint), count)
		if err != nil {
			return 0, err
		}
		if total, err = contracts.TryAdd(total, points); err != nil {
			return 0, err
		}
	}
	return total, nil
}
