// Package contracts defines the persisted records of the transmuter protocol:
// registry roots, mutations and execution receipts, together with the
// stable error codes every operation reports.
package contracts

// LatestTransmuterVersion is stamped on newly created registry roots.
const LatestTransmuterVersion uint16 = 0

// Address identifies an account: a party, a record, a bank, a vault or an escrow.
type Address string

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}

func (a Address) String() string {
	return string(a)
}

// Short returns an abbreviated form for logs.
func (a Address) Short() string {
	if len(a) <= 12 {
		return string(a)
	}
	return string(a[:6]) + ".." + string(a[len(a)-4:])
}

// SlotIndex identifies one of the three requirement/payout slots.
type SlotIndex uint8

const (
	SlotA SlotIndex = 1
	SlotB SlotIndex = 2
	SlotC SlotIndex = 3
)

// Slots lists every slot in evaluation order.
var Slots = [...]SlotIndex{SlotA, SlotB, SlotC}

func (s SlotIndex) String() string {
	switch s {
	case SlotA:
		return "a"
	case SlotB:
		return "b"
	case SlotC:
		return "c"
	default:
		return "invalid"
	}
}

// Valid reports whether s is one of A, B or C.
func (s SlotIndex) Valid() bool {
	return s >= SlotA && s <= SlotC
}

// ParseSlot maps "a"/"b"/"c" (or 1/2/3) to a slot.
func ParseSlot(v string) (SlotIndex, error) {
	switch v {
	case "a", "A", "1":
		return SlotA, nil
	case "b", "B", "2":
		return SlotB, nil
	case "c", "C", "3":
		return SlotC, nil
	}
	return 0, Errorf(CodeInvalidTokenIndex, "slot %q", v)
}

// Transmuter is the registry root. It owns up to three resource pools
// ("banks") that mutations draw their requirements from.
type Transmuter struct {
	Key       Address `json:"key"`
	Version   uint16  `json:"version"`
	Owner     Address `json:"owner"`
	Authority Address `json:"authority"`

	BankA Address         `json:"bank_a"`
	BankB Option[Address] `json:"bank_b"`
	BankC Option[Address] `json:"bank_c"`

	// FeeDestination receives execution prices and pays out negative
	// reversal prices.
	FeeDestination Address `json:"fee_destination"`

	// Revision is maintained by the store for compare-and-commit.
	Revision uint64 `json:"revision"`
}

// Bank returns the bank configured for slot.
func (t *Transmuter) Bank(slot SlotIndex) (Address, bool) {
	switch slot {
	case SlotA:
		return t.BankA, !t.BankA.IsZero()
	case SlotB:
		return t.BankB.Get()
	case SlotC:
		return t.BankC.Get()
	}
	return "", false
}

// Banks returns every configured bank in slot order.
func (t *Transmuter) Banks() []Address {
	banks := make([]Address, 0, 3)
	for _, s := range Slots {
		if b, ok := t.Bank(s); ok {
			banks = append(banks, b)
		}
	}
	return banks
}

// OwnsBank reports whether bank is one of the root's pools.
func (t *Transmuter) OwnsBank(bank Address) bool {
	for _, b := range t.Banks() {
		if b == bank {
			return true
		}
	}
	return false
}
