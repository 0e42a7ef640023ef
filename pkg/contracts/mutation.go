package contracts

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MaxNameLen is the byte length available for a mutation's display name.
const MaxNameLen = 32

// VaultAction is what happens to a taker's vault once all requirements pass.
type VaultAction string

const (
	VaultActionChangeOwner VaultAction = "ChangeOwner"
	VaultActionLock        VaultAction = "Lock"
	VaultActionDoNothing   VaultAction = "DoNothing"
)

// Valid reports whether a is a known action.
func (a VaultAction) Valid() bool {
	switch a {
	case VaultActionChangeOwner, VaultActionLock, VaultActionDoNothing:
		return true
	}
	return false
}

// RequiredUnits selects the metric a requirement is measured in.
type RequiredUnits string

const (
	UnitsRarityPoints RequiredUnits = "RarityPoints"
	UnitsGems         RequiredUnits = "Gems"
)

// Valid reports whether u is a known unit.
func (u RequiredUnits) Valid() bool {
	return u == UnitsRarityPoints || u == UnitsGems
}

// MutationState is a function of the remaining uses.
type MutationState string

const (
	MutationAvailable MutationState = "Available"
	MutationExhausted MutationState = "Exhausted"
)

// TakerTokenConfig is one requirement slot: what the taker must hold in a bank.
type TakerTokenConfig struct {
	GemBank        Address       `json:"gem_bank"`
	RequiredAmount uint64        `json:"required_amount"`
	RequiredUnits  RequiredUnits `json:"required_units"`
	VaultAction    VaultAction   `json:"vault_action"`
}

// MakerTokenConfig is one payout slot funded by the maker.
type MakerTokenConfig struct {
	Mint         Address `json:"mint"`
	TotalFunding uint64  `json:"total_funding"`
	AmountPerUse uint64  `json:"amount_per_use"`
}

// PriceConfig holds execution and reversal prices in lamports. A negative
// reversal price is paid from the fee destination to the taker.
type PriceConfig struct {
	PriceLamports         uint64 `json:"price_lamports"`
	ReversalPriceLamports int64  `json:"reversal_price_lamports"`
	PayEveryTime          bool   `json:"pay_every_time"`
}

// MutationConfig is the immutable configuration of a mutation.
type MutationConfig struct {
	TakerTokenA TakerTokenConfig         `json:"taker_token_a"`
	TakerTokenB Option[TakerTokenConfig] `json:"taker_token_b"`
	TakerTokenC Option[TakerTokenConfig] `json:"taker_token_c"`

	MakerTokenA MakerTokenConfig         `json:"maker_token_a"`
	MakerTokenB Option[MakerTokenConfig] `json:"maker_token_b"`
	MakerTokenC Option[MakerTokenConfig] `json:"maker_token_c"`

	Price           PriceConfig `json:"price"`
	MutationTimeSec uint64      `json:"mutation_time_sec"`
	Reversible      bool        `json:"reversible"`
}

// TakerSlot pairs a configured requirement with its slot.
type TakerSlot struct {
	Index  SlotIndex
	Config TakerTokenConfig
}

// MakerSlot pairs a configured payout with its slot.
type MakerSlot struct {
	Index  SlotIndex
	Config MakerTokenConfig
}

// TakerSlots returns the configured requirement slots in order.
func (c *MutationConfig) TakerSlots() []TakerSlot {
	slots := []TakerSlot{{Index: SlotA, Config: c.TakerTokenA}}
	if v, ok := c.TakerTokenB.Get(); ok {
		slots = append(slots, TakerSlot{Index: SlotB, Config: v})
	}
	if v, ok := c.TakerTokenC.Get(); ok {
		slots = append(slots, TakerSlot{Index: SlotC, Config: v})
	}
	return slots
}

// MakerSlots returns the configured payout slots in order.
func (c *MutationConfig) MakerSlots() []MakerSlot {
	slots := []MakerSlot{{Index: SlotA, Config: c.MakerTokenA}}
	if v, ok := c.MakerTokenB.Get(); ok {
		slots = append(slots, MakerSlot{Index: SlotB, Config: v})
	}
	if v, ok := c.MakerTokenC.Get(); ok {
		slots = append(slots, MakerSlot{Index: SlotC, Config: v})
	}
	return slots
}

// TakerSlot returns the requirement configured for slot.
func (c *MutationConfig) TakerSlot(slot SlotIndex) (TakerTokenConfig, bool) {
	switch slot {
	case SlotA:
		return c.TakerTokenA, true
	case SlotB:
		return c.TakerTokenB.Get()
	case SlotC:
		return c.TakerTokenC.Get()
	}
	return TakerTokenConfig{}, false
}

// AssertReversibleVaults enforces that a reversible mutation locks every
// configured vault: reversal can only undo a lock.
func (c *MutationConfig) AssertReversibleVaults() error {
	if !c.Reversible {
		return nil
	}
	for _, s := range c.TakerSlots() {
		if s.Config.VaultAction != VaultActionLock {
			return Errorf(CodeVaultsNotSetToLock, "slot %s is %s", s.Index, s.Config.VaultAction)
		}
	}
	return nil
}

// AssertSufficientFunding checks totalFunding == amountPerUse * uses for one payout slot.
func (m MakerTokenConfig) AssertSufficientFunding(uses uint64) error {
	want, err := TryMul(m.AmountPerUse, uses)
	if err != nil {
		return err
	}
	if m.TotalFunding != want {
		return Errorf(CodeIncorrectFunding, "total %d != %d x %d", m.TotalFunding, m.AmountPerUse, uses)
	}
	return nil
}

// Mutation is one exchange offer created by a maker under a registry root.
type Mutation struct {
	Key        Address        `json:"key"`
	Transmuter Address        `json:"transmuter"`
	Maker      Address        `json:"maker"`
	Config     MutationConfig `json:"config"`

	TotalUses     uint64        `json:"total_uses"`
	RemainingUses uint64        `json:"remaining_uses"`
	State         MutationState `json:"state"`

	TokenAEscrow Address         `json:"token_a_escrow"`
	TokenBEscrow Option[Address] `json:"token_b_escrow"`
	TokenCEscrow Option[Address] `json:"token_c_escrow"`

	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	Revision uint64 `json:"revision"`
}

// InitUses sets both counters and the matching state.
func (m *Mutation) InitUses(uses uint64) {
	m.TotalUses = uses
	m.RemainingUses = uses
	m.syncState()
}

// TryDecrementUses consumes one use or fails with NoMoreUsesLeft.
func (m *Mutation) TryDecrementUses() error {
	if m.RemainingUses == 0 {
		return ErrNoMoreUsesLeft
	}
	remaining, err := TrySub(m.RemainingUses, 1)
	if err != nil {
		return err
	}
	m.RemainingUses = remaining
	m.syncState()
	return nil
}

// IncrementUses returns one use; remaining can never exceed total.
func (m *Mutation) IncrementUses() error {
	remaining, err := TryAdd(m.RemainingUses, 1)
	if err != nil {
		return err
	}
	if remaining > m.TotalUses {
		return Errorf(CodeArithmeticError, "remaining uses %d would exceed total %d", remaining, m.TotalUses)
	}
	m.RemainingUses = remaining
	m.syncState()
	return nil
}

// OutstandingUses is the number of uses held by Pending or Complete receipts.
func (m *Mutation) OutstandingUses() uint64 {
	return m.TotalUses - m.RemainingUses
}

func (m *Mutation) syncState() {
	if m.RemainingUses == 0 {
		m.State = MutationExhausted
	} else {
		m.State = MutationAvailable
	}
}

// Escrow returns the escrow holding for a payout slot.
func (m *Mutation) Escrow(slot SlotIndex) (Address, bool) {
	switch slot {
	case SlotA:
		return m.TokenAEscrow, !m.TokenAEscrow.IsZero()
	case SlotB:
		return m.TokenBEscrow.Get()
	case SlotC:
		return m.TokenCEscrow.Get()
	}
	return "", false
}

// SetEscrow records the escrow holding for a payout slot.
func (m *Mutation) SetEscrow(slot SlotIndex, escrow Address) {
	switch slot {
	case SlotA:
		m.TokenAEscrow = escrow
	case SlotB:
		m.TokenBEscrow = Some(escrow)
	case SlotC:
		m.TokenCEscrow = Some(escrow)
	}
}

// NormalizeName returns the NFC form of name, rejecting names over MaxNameLen bytes.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	if len(n) > MaxNameLen {
		return "", Errorf(CodeInvalidName, "%d bytes", len(n))
	}
	return n, nil
}
