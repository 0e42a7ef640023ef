package transmuter

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/transmuter/pkg/address"
	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/txn"
)

// InitTransmuterRequest creates a registry root.
type InitTransmuterRequest struct {
	Owner contracts.Address `json:"owner"`
	// Seed makes the root address; a random seed is used when empty.
	Seed string `json:"seed,omitempty"`
	// Banks is the number of pools to create, 1 to 3.
	Banks int `json:"banks"`
	// FeeDestination receives execution prices. Defaults to Owner.
	FeeDestination contracts.Address `json:"fee_destination,omitempty"`
}

// InitTransmuter creates a registry root and its banks. The root's derived
// authority manages every bank, so only this service can lock or reassign
// the vaults inside them.
func (s *Service) InitTransmuter(ctx context.Context, req InitTransmuterRequest) (_ *contracts.Transmuter, err error) {
	ctx, done := s.track(ctx, "init_transmuter", "owner", req.Owner.String())
	defer done(&err)

	if req.Owner.IsZero() {
		return nil, contracts.Errorf(contracts.CodeUnauthorized, "owner required")
	}
	if req.Banks < 1 || req.Banks > len(contracts.Slots) {
		return nil, contracts.Errorf(contracts.CodeInvalidTokenIndex, "bank count %d", req.Banks)
	}
	seed := req.Seed
	if seed == "" {
		seed = address.NewSeed()
	}

	key := address.Transmuter(req.Owner, seed)
	unlock := s.locks.Lock(key)
	defer unlock()

	if _, err := s.records.GetTransmuter(ctx, key); err == nil {
		return nil, contracts.Errorf(contracts.CodeConcurrentModification, "transmuter %s already exists", key.Short())
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	t := &contracts.Transmuter{
		Key:            key,
		Version:        contracts.LatestTransmuterVersion,
		Owner:          req.Owner,
		Authority:      address.Authority(key),
		FeeDestination: req.FeeDestination,
	}
	if t.FeeDestination.IsZero() {
		t.FeeDestination = req.Owner
	}

	err = txn.Run(ctx, s.logger, func(ctx context.Context, u *txn.UnitOfWork) error {
		if err := s.collectFee(ctx, u, "transmuter fee", req.Owner, s.fees.TransmuterFee); err != nil {
			return err
		}
		for _, slot := range contracts.Slots[:req.Banks] {
			b := address.Bank(key, slot)
			if err := s.vaults.InitBank(ctx, b, t.Authority); err != nil {
				return err
			}
			switch slot {
			case contracts.SlotA:
				t.BankA = b
			case contracts.SlotB:
				t.BankB = contracts.Some(b)
			case contracts.SlotC:
				t.BankC = contracts.Some(b)
			}
		}
		batch := store.NewBatch()
		batch.PutTransmuter(t)
		return s.commit(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, "init_transmuter", req.Owner, key, map[string]any{"banks": req.Banks})
	return t, nil
}

// UpdateTransmuterOwner reassigns a root. Only the current owner may call it.
func (s *Service) UpdateTransmuterOwner(ctx context.Context, key, caller, newOwner contracts.Address) (_ *contracts.Transmuter, err error) {
	ctx, done := s.track(ctx, "update_transmuter_owner", "transmuter", key.String())
	defer done(&err)

	unlock := s.locks.Lock(key)
	defer unlock()

	t, err := s.loadOwned(ctx, key, caller)
	if err != nil {
		return nil, err
	}
	if newOwner.IsZero() {
		return nil, contracts.Errorf(contracts.CodeUnauthorized, "new owner required")
	}
	t.Owner = newOwner

	batch := store.NewBatch()
	batch.PutTransmuter(t)
	if err := s.commit(ctx, batch); err != nil {
		return nil, err
	}
	s.record(ctx, "update_transmuter_owner", caller, key, map[string]any{"new_owner": newOwner.String()})
	return t, nil
}

// AddToBankWhitelist allows a gem mint or creator into one of the root's banks.
func (s *Service) AddToBankWhitelist(ctx context.Context, key, caller, b, addr contracts.Address, kind bank.WhitelistKind) (err error) {
	ctx, done := s.track(ctx, "add_to_bank_whitelist", "transmuter", key.String(), "bank", b.String())
	defer done(&err)

	t, err := s.adminBank(ctx, key, caller, b)
	if err != nil {
		return err
	}
	if err := s.vaults.AddToWhitelist(ctx, t.Authority, b, addr, kind); err != nil {
		return err
	}
	s.record(ctx, "add_to_bank_whitelist", caller, b, map[string]any{"address": addr.String(), "kind": string(kind)})
	return nil
}

// RemoveFromBankWhitelist removes a whitelist entry from one of the root's banks.
func (s *Service) RemoveFromBankWhitelist(ctx context.Context, key, caller, b, addr contracts.Address) (err error) {
	ctx, done := s.track(ctx, "remove_from_bank_whitelist", "transmuter", key.String(), "bank", b.String())
	defer done(&err)

	t, err := s.adminBank(ctx, key, caller, b)
	if err != nil {
		return err
	}
	if err := s.vaults.RemoveFromWhitelist(ctx, t.Authority, b, addr); err != nil {
		return err
	}
	s.record(ctx, "remove_from_bank_whitelist", caller, b, map[string]any{"address": addr.String()})
	return nil
}

// AddRaritiesToBank records rarity points per gem mint in one of the root's banks.
func (s *Service) AddRaritiesToBank(ctx context.Context, key, caller, b contracts.Address, rarities []bank.Rarity) (err error) {
	ctx, done := s.track(ctx, "add_rarities_to_bank", "transmuter", key.String(), "bank", b.String())
	defer done(&err)

	t, err := s.adminBank(ctx, key, caller, b)
	if err != nil {
		return err
	}
	if err := s.vaults.RecordRarityPoints(ctx, t.Authority, b, rarities); err != nil {
		return err
	}
	s.record(ctx, "add_rarities_to_bank", caller, b, map[string]any{"count": len(rarities)})
	return nil
}

func (s *Service) adminBank(ctx context.Context, key, caller, b contracts.Address) (*contracts.Transmuter, error) {
	t, err := s.loadOwned(ctx, key, caller)
	if err != nil {
		return nil, err
	}
	if !t.OwnsBank(b) {
		return nil, contracts.Errorf(contracts.CodeBankDoesNotMatch, "bank %s is not one of transmuter %s", b.Short(), key.Short())
	}
	return t, nil
}
