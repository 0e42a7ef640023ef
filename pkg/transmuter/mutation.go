package transmuter

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/transmuter/pkg/address"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/escrow"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/txn"
)

// InitMutationRequest creates a mutation under a root.
type InitMutationRequest struct {
	Transmuter contracts.Address        `json:"transmuter"`
	Caller     contracts.Address        `json:"caller"`
	Config     contracts.MutationConfig `json:"config"`
	Uses       uint64                   `json:"uses"`
	Name       string                   `json:"name"`
	// Seed makes the mutation address; a random seed is used when empty.
	Seed string `json:"seed,omitempty"`
}

// InitMutation validates the configuration, charges the mutation fee, funds
// every payout escrow from the caller and persists the mutation. Nothing is
// created when any check fails.
func (s *Service) InitMutation(ctx context.Context, req InitMutationRequest) (_ *contracts.Mutation, err error) {
	ctx, done := s.track(ctx, "init_mutation", "transmuter", req.Transmuter.String())
	defer done(&err)

	// The root lock and the root's revision in the commit batch keep an
	// owner change from racing the ownership check.
	unlockRoot := s.locks.Lock(req.Transmuter)
	defer unlockRoot()

	t, err := s.loadOwned(ctx, req.Transmuter, req.Caller)
	if err != nil {
		return nil, err
	}
	cfg := req.Config
	if err := validateConfig(t, &cfg, req.Uses); err != nil {
		return nil, err
	}
	name, err := contracts.NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}

	seed := req.Seed
	if seed == "" {
		seed = address.NewSeed()
	}
	key := address.Mutation(t.Key, seed)
	unlock := s.locks.Lock(key)
	defer unlock()

	if _, err := s.records.GetMutation(ctx, key); err == nil {
		return nil, contracts.Errorf(contracts.CodeConcurrentModification, "mutation %s already exists", key.Short())
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	m := &contracts.Mutation{
		Key:        key,
		Transmuter: t.Key,
		Maker:      req.Caller,
		Config:     cfg,
		Name:       name,
		CreatedAt:  s.clock().UTC(),
	}
	m.InitUses(req.Uses)

	err = txn.Run(ctx, s.logger, func(ctx context.Context, u *txn.UnitOfWork) error {
		if err := s.collectFee(ctx, u, "mutation fee", req.Caller, s.fees.MutationFee); err != nil {
			return err
		}
		for _, slot := range cfg.MakerSlots() {
			e, err := s.escrow.Fund(ctx, u, key, req.Caller, slot, req.Uses)
			if err != nil {
				return err
			}
			m.SetEscrow(slot.Index, e)
		}
		batch := store.NewBatch()
		batch.PutTransmuter(t)
		batch.PutMutation(m)
		return s.commit(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, "init_mutation", req.Caller, key, map[string]any{
		"transmuter": t.Key.String(),
		"uses":       req.Uses,
		"name":       name,
	})
	return m, nil
}

// validateConfig runs every creation check that needs no collaborator:
// funding arithmetic first, then the reversibility gate, then pools.
func validateConfig(t *contracts.Transmuter, cfg *contracts.MutationConfig, uses uint64) error {
	if uses == 0 {
		return contracts.ErrInvalidUses
	}
	if err := escrow.ValidateFunding(cfg, uses); err != nil {
		return err
	}
	if err := cfg.AssertReversibleVaults(); err != nil {
		return err
	}
	for _, slot := range cfg.TakerSlots() {
		c := slot.Config
		if !c.VaultAction.Valid() {
			return contracts.Errorf(contracts.CodeSerializationIssue, "slot %s: unknown vault action %q", slot.Index, c.VaultAction)
		}
		if !c.RequiredUnits.Valid() {
			return contracts.Errorf(contracts.CodeSerializationIssue, "slot %s: unknown units %q", slot.Index, c.RequiredUnits)
		}
		if !t.OwnsBank(c.GemBank) {
			return contracts.Errorf(contracts.CodeBankDoesNotMatch, "slot %s: bank %s is not one of transmuter %s", slot.Index, c.GemBank.Short(), t.Key.Short())
		}
	}
	return nil
}

// Destruction reports what a destroyed mutation returned to its maker.
type Destruction struct {
	Mutation contracts.Address                         `json:"mutation"`
	Drained  map[contracts.SlotIndex]uint64            `json:"drained"`
	Escrows  map[contracts.SlotIndex]contracts.Address `json:"escrows"`
	Receipts int                                       `json:"receipts_closed"`
}

// Destroy drains every escrow back to the maker, closes the escrows and
// removes the mutation with its receipts. Only the root owner may destroy,
// and only while no use is outstanding.
func (s *Service) Destroy(ctx context.Context, mutation, caller contracts.Address) (_ *Destruction, err error) {
	ctx, done := s.track(ctx, "destroy", "mutation", mutation.String())
	defer done(&err)

	unlock := s.locks.Lock(mutation)
	defer unlock()

	m, err := s.loadMutation(ctx, mutation)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadOwned(ctx, m.Transmuter, caller); err != nil {
		return nil, err
	}
	if m.RemainingUses != m.TotalUses {
		return nil, contracts.Errorf(contracts.CodeOutstandingExecutions, "%d of %d uses outstanding", m.OutstandingUses(), m.TotalUses)
	}
	receipts, err := s.records.ListReceipts(ctx, store.Filter{Mutation: m.Key})
	if err != nil {
		return nil, err
	}
	now := s.clock().Unix()
	for _, rc := range receipts {
		if rc.LeaseHeld(now) {
			return nil, contracts.Errorf(contracts.CodeConcurrentModification, "receipt of %s is held by another operation", rc.Taker.Short())
		}
	}

	out := &Destruction{
		Mutation: m.Key,
		Drained:  make(map[contracts.SlotIndex]uint64, 3),
		Escrows:  make(map[contracts.SlotIndex]contracts.Address, 3),
	}
	err = txn.Run(ctx, s.logger, func(ctx context.Context, u *txn.UnitOfWork) error {
		for _, slot := range m.Config.MakerSlots() {
			e, ok := m.Escrow(slot.Index)
			if !ok {
				return contracts.Errorf(contracts.CodeAccountNotFound, "escrow for slot %s", slot.Index)
			}
			amount, err := s.escrow.Drain(ctx, u, e, m.Maker, slot)
			if err != nil {
				return err
			}
			out.Drained[slot.Index] = amount
			out.Escrows[slot.Index] = e
		}
		batch := store.NewBatch()
		for _, rc := range receipts {
			if rc.State.Active() {
				return contracts.Errorf(contracts.CodeOutstandingExecutions, "receipt of %s is %s", rc.Taker.Short(), rc.State)
			}
			batch.DeleteReceipt(rc)
		}
		batch.DeleteMutation(m)
		return s.commit(ctx, batch)
	})
	if err != nil {
		return nil, err
	}
	out.Receipts = len(receipts)

	drained := make(map[string]any, len(out.Drained))
	for slot, amt := range out.Drained {
		drained[slot.String()] = amt
	}
	s.record(ctx, "destroy", caller, m.Key, map[string]any{"drained": drained, "receipts_closed": len(receipts)})
	return out, nil
}

// EscrowBalances returns the remaining balance of every payout escrow.
func (s *Service) EscrowBalances(ctx context.Context, mutation contracts.Address) (map[contracts.SlotIndex]uint64, error) {
	m, err := s.loadMutation(ctx, mutation)
	if err != nil {
		return nil, err
	}
	out := make(map[contracts.SlotIndex]uint64, 3)
	for _, slot := range m.Config.MakerSlots() {
		e, ok := m.Escrow(slot.Index)
		if !ok {
			continue
		}
		bal, err := s.escrow.Remaining(ctx, e, slot)
		if err != nil {
			return nil, fmt.Errorf("escrow %s: %w", slot.Index, err)
		}
		out[slot.Index] = bal
	}
	return out, nil
}
