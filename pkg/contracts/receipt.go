package contracts

// ExecutionState is the progress of one taker's execution of a mutation.
type ExecutionState string

const (
	ExecutionNotStarted ExecutionState = "NotStarted"
	ExecutionPending    ExecutionState = "Pending"
	ExecutionComplete   ExecutionState = "Complete"
)

// Active reports whether the state holds one of the mutation's uses.
func (s ExecutionState) Active() bool {
	return s == ExecutionPending || s == ExecutionComplete
}

// ExecutionReceipt is the per (mutation, taker) execution record. Its key is
// derived from the pair so at most one exists.
type ExecutionReceipt struct {
	Key        Address `json:"key"`
	Transmuter Address `json:"transmuter"`
	Mutation   Address `json:"mutation"`
	Taker      Address `json:"taker"`

	// MutationCompleteTs is the unix second at or after which a Pending
	// receipt may be finalized.
	MutationCompleteTs int64          `json:"mutation_complete_ts"`
	State              ExecutionState `json:"state"`

	// Vaults acted upon during the current execution, by slot.
	VaultA Option[Address] `json:"vault_a"`
	VaultB Option[Address] `json:"vault_b"`
	VaultC Option[Address] `json:"vault_c"`

	// Executions counts requirement passes over the receipt's lifetime and
	// survives reversal. It drives the charge-once price policy.
	Executions uint64 `json:"executions"`

	// LeasedBy names the operation running collaborator effects for this
	// receipt. No other operation may take the receipt before LeasedUntil
	// (unix seconds).
	LeasedBy    string `json:"leased_by,omitempty"`
	LeasedUntil int64  `json:"leased_until,omitempty"`

	Revision uint64 `json:"revision"`
}

// Vault returns the vault recorded for slot.
func (r *ExecutionReceipt) Vault(slot SlotIndex) (Address, bool) {
	switch slot {
	case SlotA:
		return r.VaultA.Get()
	case SlotB:
		return r.VaultB.Get()
	case SlotC:
		return r.VaultC.Get()
	}
	return "", false
}

// RecordVault remembers the vault acted upon for slot.
func (r *ExecutionReceipt) RecordVault(slot SlotIndex, vault Address) {
	switch slot {
	case SlotA:
		r.VaultA = Some(vault)
	case SlotB:
		r.VaultB = Some(vault)
	case SlotC:
		r.VaultC = Some(vault)
	}
}

// MarkPending stamps the completion time and moves the receipt into Pending.
func (r *ExecutionReceipt) MarkPending(completeTs int64) {
	r.MutationCompleteTs = completeTs
	r.State = ExecutionPending
}

// MarkComplete finalizes the receipt.
func (r *ExecutionReceipt) MarkComplete() {
	r.State = ExecutionComplete
}

// Ready reports whether a Pending receipt may be finalized at now (unix seconds).
func (r *ExecutionReceipt) Ready(now int64) bool {
	return now >= r.MutationCompleteTs
}

// Reset returns the receipt to NotStarted after a reversal. The executions
// counter is kept.
func (r *ExecutionReceipt) Reset() {
	r.State = ExecutionNotStarted
	r.MutationCompleteTs = 0
	r.VaultA = None[Address]()
	r.VaultB = None[Address]()
	r.VaultC = None[Address]()
}

// LeaseHeld reports whether an operation holds a live lease at now.
func (r *ExecutionReceipt) LeaseHeld(now int64) bool {
	return r.LeasedBy != "" && now < r.LeasedUntil
}

// Lease hands the receipt to holder until the given unix second.
func (r *ExecutionReceipt) Lease(holder string, until int64) {
	r.LeasedBy = holder
	r.LeasedUntil = until
}

// ReleaseLease clears the lease.
func (r *ExecutionReceipt) ReleaseLease() {
	r.LeasedBy = ""
	r.LeasedUntil = 0
}
