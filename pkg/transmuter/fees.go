package transmuter

import "github.com/Mindburn-Labs/transmuter/pkg/contracts"

// FeeSchedule is the protocol's own fee, charged in lamports when a root or
// a mutation is created. It is separate from a mutation's execution price,
// which goes to the root's fee destination.
type FeeSchedule struct {
	TransmuterFee uint64
	MutationFee   uint64
	Wallets       []contracts.Address
}

// FeeShare is one wallet's part of a fee.
type FeeShare struct {
	Wallet contracts.Address
	Amount uint64
}

// Split divides total evenly across the wallets; the first wallet takes the
// remainder. It returns nil when there are no wallets or nothing to charge.
func (f FeeSchedule) Split(total uint64) []FeeShare {
	if total == 0 || len(f.Wallets) == 0 {
		return nil
	}
	n := uint64(len(f.Wallets))
	each, rem := total/n, total%n
	shares := make([]FeeShare, 0, len(f.Wallets))
	for i, w := range f.Wallets {
		amt := each
		if i == 0 {
			amt += rem
		}
		if amt > 0 {
			shares = append(shares, FeeShare{Wallet: w, Amount: amt})
		}
	}
	return shares
}
