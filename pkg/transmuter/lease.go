package transmuter

import (
	"context"
	"math"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/google/uuid"
)

// ReceiptLease bounds how long an execute or reverse holds its receipt. A
// receipt whose operation died mid-flight is free again after this long.
const ReceiptLease = time.Minute

// receiptClaim is the lease an operation holds while its effects run.
type receiptClaim struct {
	holder string
	// fresh marks a receipt that the claim itself created.
	fresh bool
}

// claimReceipt leases rc to the calling operation and commits the lease
// under the receipt's revision guard. It runs before any collaborator
// effect: of two operations on one receipt, in this process or another,
// only one gets past it and the other fails with ConcurrentModification.
func (s *Service) claimReceipt(ctx context.Context, rc *contracts.ExecutionReceipt, now int64) (*receiptClaim, error) {
	if rc.LeaseHeld(now) {
		return nil, contracts.Errorf(contracts.CodeConcurrentModification, "receipt %s is held by another operation until %d", rc.Key.Short(), rc.LeasedUntil)
	}
	ttl := int64(ReceiptLease / time.Second)
	if now > math.MaxInt64-ttl {
		return nil, contracts.Errorf(contracts.CodeArithmeticError, "lease end %d + %d", now, ttl)
	}

	c := &receiptClaim{holder: uuid.NewString(), fresh: rc.Revision == 0}
	rc.Lease(c.holder, now+ttl)
	batch := store.NewBatch()
	batch.PutReceipt(rc)
	if err := s.commit(ctx, batch); err != nil {
		rc.ReleaseLease()
		return nil, err
	}
	return c, nil
}

// releaseReceipt drops the claim of an operation that failed. The stored
// receipt is reloaded since the failed operation changed its own copy; a
// receipt the claim created is removed again. If the release cannot be
// written the lease lapses after ReceiptLease.
func (s *Service) releaseReceipt(ctx context.Context, key contracts.Address, c *receiptClaim) {
	ctx = context.WithoutCancel(ctx)
	rc, err := s.records.GetReceipt(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "receipt release: reload failed", "receipt", key.String(), "error", err)
		return
	}
	if rc.LeasedBy != c.holder {
		return
	}
	batch := store.NewBatch()
	if c.fresh {
		batch.DeleteReceipt(rc)
	} else {
		rc.ReleaseLease()
		batch.PutReceipt(rc)
	}
	if err := s.commit(ctx, batch); err != nil {
		s.logger.WarnContext(ctx, "receipt release failed", "receipt", key.String(), "error", err)
	}
}
