package transmuter

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Mindburn-Labs/transmuter/pkg/address"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/requirement"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/txn"
)

// Execution is the state after an execute or reverse call.
type Execution struct {
	Mutation *contracts.Mutation         `json:"mutation"`
	Receipt  *contracts.ExecutionReceipt `json:"receipt"`
	// Charged is the price paid by the taker in this call; negative when
	// the fee destination paid the taker.
	Charged int64 `json:"charged"`
	PaidOut bool  `json:"paid_out"`
}

// InitTakerVault creates the taker's vault for this mutation in one of the
// root's banks and the taker's receipt if it does not exist yet. Calling it
// again is harmless.
func (s *Service) InitTakerVault(ctx context.Context, mutation, taker, b contracts.Address) (_ *contracts.Vault, err error) {
	ctx, done := s.track(ctx, "init_taker_vault", "mutation", mutation.String(), "taker", taker.String())
	defer done(&err)

	if taker.IsZero() {
		return nil, contracts.Errorf(contracts.CodeUnauthorized, "taker required")
	}
	unlock := s.locks.Lock(mutation)
	defer unlock()

	m, err := s.loadMutation(ctx, mutation)
	if err != nil {
		return nil, err
	}
	t, err := s.loadTransmuter(ctx, m.Transmuter)
	if err != nil {
		return nil, err
	}
	if !t.OwnsBank(b) {
		return nil, contracts.Errorf(contracts.CodeNoneOfTheBanksMatch, "bank %s", b.Short())
	}

	v, err := s.vaults.InitVault(ctx, b, address.Creator(m.Key, taker), taker)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	rc, err := s.records.GetReceipt(ctx, address.Receipt(m.Key, taker))
	switch {
	case errors.Is(err, store.ErrNotFound):
		rc = newReceipt(m, taker)
		batch := store.NewBatch()
		batch.PutReceipt(rc)
		if err := s.commit(ctx, batch); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	s.record(ctx, "init_taker_vault", taker, v.Key, map[string]any{"mutation": m.Key.String(), "bank": b.String()})
	return &v, nil
}

func newReceipt(m *contracts.Mutation, taker contracts.Address) *contracts.ExecutionReceipt {
	return &contracts.ExecutionReceipt{
		Key:        address.Receipt(m.Key, taker),
		Transmuter: m.Transmuter,
		Mutation:   m.Key,
		Taker:      taker,
		State:      contracts.ExecutionNotStarted,
	}
}

// Execute runs one execution attempt for taker.
//
// From NotStarted it checks every requirement, applies the custody actions,
// consumes a use, charges the price and, when the mutation has no duration,
// pays out immediately. From Pending it finalizes once the completion time
// has passed. A Complete receipt is rejected until it is reversed.
func (s *Service) Execute(ctx context.Context, mutation, taker contracts.Address) (_ *Execution, err error) {
	ctx, done := s.track(ctx, "execute", "mutation", mutation.String(), "taker", taker.String())
	defer done(&err)

	unlock := s.locks.Lock(mutation)
	defer unlock()
	now := s.clock().Unix()

	m, err := s.loadMutation(ctx, mutation)
	if err != nil {
		return nil, err
	}
	t, err := s.loadTransmuter(ctx, m.Transmuter)
	if err != nil {
		return nil, err
	}
	rc, err := s.records.GetReceipt(ctx, address.Receipt(m.Key, taker))
	if errors.Is(err, store.ErrNotFound) {
		rc, err = newReceipt(m, taker), nil
	}
	if err != nil {
		return nil, err
	}

	switch rc.State {
	case contracts.ExecutionNotStarted:
		if m.RemainingUses == 0 {
			return nil, contracts.ErrNoMoreUsesLeft
		}
	case contracts.ExecutionPending:
		if !rc.Ready(now) {
			return nil, contracts.Errorf(contracts.CodeMutationNotComplete, "completes at %d, now %d", rc.MutationCompleteTs, now)
		}
	case contracts.ExecutionComplete:
		return nil, contracts.ErrMutationAlreadyComplete
	default:
		return nil, contracts.Errorf(contracts.CodeSerializationIssue, "receipt state %q", rc.State)
	}

	claim, err := s.claimReceipt(ctx, rc, now)
	if err != nil {
		return nil, err
	}
	out := &Execution{Mutation: m, Receipt: rc}
	err = txn.Run(ctx, s.logger, func(ctx context.Context, u *txn.UnitOfWork) error {
		batch := store.NewBatch()
		if rc.State == contracts.ExecutionNotStarted {
			if err := s.begin(ctx, u, t, m, rc, now, out); err != nil {
				return err
			}
			batch.PutMutation(m)
		} else {
			rc.MarkComplete()
		}

		if rc.State == contracts.ExecutionComplete {
			if err := s.payout(ctx, u, m, taker); err != nil {
				return err
			}
			out.PaidOut = true
		}
		rc.ReleaseLease()
		batch.PutReceipt(rc)
		return s.commit(ctx, batch)
	})
	if err != nil {
		s.releaseReceipt(ctx, rc.Key, claim)
		return nil, err
	}

	s.record(ctx, "execute", taker, m.Key, map[string]any{
		"state":          string(rc.State),
		"remaining_uses": m.RemainingUses,
		"charged":        out.Charged,
		"paid_out":       out.PaidOut,
	})
	return out, nil
}

// begin is the NotStarted branch of Execute.
func (s *Service) begin(ctx context.Context, u *txn.UnitOfWork, t *contracts.Transmuter, m *contracts.Mutation, rc *contracts.ExecutionReceipt, now int64, out *Execution) error {
	if err := m.TryDecrementUses(); err != nil {
		return err
	}

	vaults, err := s.resolveVaults(ctx, t, m, rc.Taker)
	if err != nil {
		return err
	}
	err = requirement.EvaluateAll(&m.Config, func(slot contracts.TakerSlot) (contracts.VaultContents, error) {
		return s.vaults.QueryContents(ctx, vaults[slot.Index])
	})
	if err != nil {
		return err
	}

	for _, slot := range m.Config.TakerSlots() {
		if err := s.applyVaultAction(ctx, u, t, m, rc, slot, vaults[slot.Index]); err != nil {
			return err
		}
	}

	firstPass := rc.Executions == 0
	if rc.Executions, err = contracts.TryAdd(rc.Executions, 1); err != nil {
		return err
	}

	price := m.Config.Price
	if price.PriceLamports > 0 && (price.PayEveryTime || firstPass) {
		if price.PriceLamports > math.MaxInt64 {
			return contracts.Errorf(contracts.CodeArithmeticError, "price %d", price.PriceLamports)
		}
		if err := s.transferLamports(ctx, u, "execution price", rc.Taker, t.FeeDestination, price.PriceLamports); err != nil {
			return err
		}
		out.Charged = int64(price.PriceLamports)
	}

	dur := m.Config.MutationTimeSec
	if now < 0 || dur > uint64(math.MaxInt64-now) {
		return contracts.Errorf(contracts.CodeArithmeticError, "completion time %d + %d", now, dur)
	}
	rc.MarkPending(now + int64(dur))
	if dur == 0 {
		rc.MarkComplete()
	}
	return nil
}

// resolveVaults finds the taker's vault for every requirement slot.
func (s *Service) resolveVaults(ctx context.Context, t *contracts.Transmuter, m *contracts.Mutation, taker contracts.Address) (map[contracts.SlotIndex]contracts.Address, error) {
	out := make(map[contracts.SlotIndex]contracts.Address, 3)
	for _, slot := range m.Config.TakerSlots() {
		b := slot.Config.GemBank
		if !t.OwnsBank(b) {
			return nil, contracts.Errorf(contracts.CodeNoneOfTheBanksMatch, "slot %s: bank %s", slot.Index, b.Short())
		}
		key := address.TakerVault(b, m.Key, taker)
		v, err := s.vaults.Vault(ctx, key)
		if errors.Is(err, contracts.ErrAccountNotFound) {
			return nil, contracts.Errorf(contracts.CodeTakerVaultNotFound, "slot %s", slot.Index)
		}
		if err != nil {
			return nil, fmt.Errorf("load vault %s: %w", slot.Index, err)
		}
		belongs, err := s.vaults.VaultBelongsTo(ctx, key, b)
		if err != nil {
			return nil, fmt.Errorf("vault %s membership: %w", slot.Index, err)
		}
		if !belongs || v.Bank != b {
			return nil, contracts.Errorf(contracts.CodeVaultDoesNotBelongToBank, "slot %s", slot.Index)
		}
		if v.Owner != taker {
			return nil, contracts.Errorf(contracts.CodeTakerVaultNotFound, "slot %s: vault owned by %s", slot.Index, v.Owner.Short())
		}
		out[slot.Index] = key
	}
	return out, nil
}

// applyVaultAction is the single dispatch point for custody actions.
func (s *Service) applyVaultAction(ctx context.Context, u *txn.UnitOfWork, t *contracts.Transmuter, m *contracts.Mutation, rc *contracts.ExecutionReceipt, slot contracts.TakerSlot, vault contracts.Address) error {
	b := slot.Config.GemBank
	action := slot.Config.VaultAction
	if m.Config.Reversible && action != contracts.VaultActionLock {
		return contracts.Errorf(contracts.CodeVaultsNotSetToLock, "slot %s is %s", slot.Index, action)
	}

	switch action {
	case contracts.VaultActionLock:
		err := u.Do(ctx, "lock vault "+slot.Index.String(),
			func(ctx context.Context) error { return s.vaults.LockVault(ctx, t.Authority, b, vault) },
			func(ctx context.Context) error { return s.vaults.UnlockVault(ctx, t.Authority, b, vault) })
		if err != nil {
			return fmt.Errorf("lock vault %s: %w", slot.Index, err)
		}
	case contracts.VaultActionChangeOwner:
		err := u.Do(ctx, "change vault owner "+slot.Index.String(),
			func(ctx context.Context) error {
				return s.vaults.TransferVaultOwnership(ctx, t.Authority, b, vault, m.Maker)
			},
			func(ctx context.Context) error {
				return s.vaults.TransferVaultOwnership(ctx, t.Authority, b, vault, rc.Taker)
			})
		if err != nil {
			return fmt.Errorf("change vault owner %s: %w", slot.Index, err)
		}
	case contracts.VaultActionDoNothing:
		return nil
	default:
		return contracts.Errorf(contracts.CodeSerializationIssue, "slot %s: unknown vault action %q", slot.Index, action)
	}
	rc.RecordVault(slot.Index, vault)
	return nil
}

func (s *Service) payout(ctx context.Context, u *txn.UnitOfWork, m *contracts.Mutation, taker contracts.Address) error {
	for _, slot := range m.Config.MakerSlots() {
		e, ok := m.Escrow(slot.Index)
		if !ok {
			return contracts.Errorf(contracts.CodeAccountNotFound, "escrow for slot %s", slot.Index)
		}
		if err := s.escrow.Payout(ctx, u, e, taker, slot); err != nil {
			return err
		}
	}
	return nil
}

// Reverse undoes a completed execution: the recorded vaults are unlocked,
// the payouts return to the escrows, the use is restored, the receipt goes
// back to NotStarted and the reversal price is settled.
func (s *Service) Reverse(ctx context.Context, mutation, taker contracts.Address) (_ *Execution, err error) {
	ctx, done := s.track(ctx, "reverse", "mutation", mutation.String(), "taker", taker.String())
	defer done(&err)

	unlock := s.locks.Lock(mutation)
	defer unlock()

	m, err := s.loadMutation(ctx, mutation)
	if err != nil {
		return nil, err
	}
	if !m.Config.Reversible {
		return nil, contracts.ErrMutationNotReversible
	}
	t, err := s.loadTransmuter(ctx, m.Transmuter)
	if err != nil {
		return nil, err
	}
	rc, err := s.records.GetReceipt(ctx, address.Receipt(m.Key, taker))
	if errors.Is(err, store.ErrNotFound) {
		return nil, contracts.Errorf(contracts.CodeExecutionReceiptMissing, "taker %s", taker.Short())
	}
	if err != nil {
		return nil, err
	}
	switch rc.State {
	case contracts.ExecutionNotStarted:
		return nil, contracts.Errorf(contracts.CodeExecutionReceiptMissing, "nothing to reverse for %s", taker.Short())
	case contracts.ExecutionPending:
		return nil, contracts.Errorf(contracts.CodeMutationNotComplete, "completes at %d", rc.MutationCompleteTs)
	}

	claim, err := s.claimReceipt(ctx, rc, s.clock().Unix())
	if err != nil {
		return nil, err
	}
	out := &Execution{Mutation: m, Receipt: rc}
	err = txn.Run(ctx, s.logger, func(ctx context.Context, u *txn.UnitOfWork) error {
		for _, slot := range m.Config.TakerSlots() {
			if slot.Config.VaultAction != contracts.VaultActionLock {
				return contracts.Errorf(contracts.CodeVaultsNotSetToLock, "slot %s is %s", slot.Index, slot.Config.VaultAction)
			}
			vault, ok := rc.Vault(slot.Index)
			if !ok {
				return contracts.Errorf(contracts.CodeTakerVaultNotFound, "no vault recorded for slot %s", slot.Index)
			}
			b := slot.Config.GemBank
			err := u.Do(ctx, "unlock vault "+slot.Index.String(),
				func(ctx context.Context) error { return s.vaults.UnlockVault(ctx, t.Authority, b, vault) },
				func(ctx context.Context) error { return s.vaults.LockVault(ctx, t.Authority, b, vault) })
			if err != nil {
				return fmt.Errorf("unlock vault %s: %w", slot.Index, err)
			}
		}

		for _, slot := range m.Config.MakerSlots() {
			e, ok := m.Escrow(slot.Index)
			if !ok {
				return contracts.Errorf(contracts.CodeAccountNotFound, "escrow for slot %s", slot.Index)
			}
			if err := s.escrow.Refund(ctx, u, e, taker, slot); err != nil {
				return err
			}
		}

		if err := m.IncrementUses(); err != nil {
			return err
		}
		rc.Reset()
		rc.ReleaseLease()

		rp := m.Config.Price.ReversalPriceLamports
		switch {
		case rp > 0:
			if err := s.transferLamports(ctx, u, "reversal price", taker, t.FeeDestination, uint64(rp)); err != nil {
				return err
			}
		case rp < 0:
			if err := s.transferLamports(ctx, u, "reversal refund", t.FeeDestination, taker, contracts.AbsInt64(rp)); err != nil {
				return err
			}
		}
		out.Charged = rp

		batch := store.NewBatch()
		batch.PutMutation(m)
		batch.PutReceipt(rc)
		return s.commit(ctx, batch)
	})
	if err != nil {
		s.releaseReceipt(ctx, rc.Key, claim)
		return nil, err
	}

	s.record(ctx, "reverse", taker, m.Key, map[string]any{
		"remaining_uses": m.RemainingUses,
		"charged":        out.Charged,
	})
	return out, nil
}
