// Package address derives stable record addresses from seeds and parent
// identities, so any party can recompute a mutation, escrow, vault or
// receipt address without a lookup table.
package address

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Program namespaces every derivation; two deployments with different
// programs never collide.
const Program = "transmuter.v0"

// Seeds used by the protocol.
const (
	SeedTransmuter = "transmuter"
	SeedBank       = "bank"
	SeedMutation   = "mutation"
	SeedEscrow     = "escrow"
	SeedCreator    = "creator"
	SeedVault      = "vault"
	SeedReceipt    = "receipt"
)

// Derive hashes the length-prefixed seeds under the program key.
func Derive(seeds ...string) contracts.Address {
	h, err := blake2b.New256([]byte(Program))
	if err != nil {
		// only returned for keys longer than 64 bytes
		panic(err)
	}
	var n [4]byte
	for _, s := range seeds {
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	return contracts.Address(hex.EncodeToString(h.Sum(nil)))
}

// Transmuter derives a registry root address from its owner and a seed.
func Transmuter(owner contracts.Address, seed string) contracts.Address {
	return Derive(SeedTransmuter, owner.String(), seed)
}

// Authority derives the execution identity that acts on a root's behalf.
func Authority(transmuter contracts.Address) contracts.Address {
	return Derive(transmuter.String())
}

// Bank derives the pool address for one of a root's slots.
func Bank(transmuter contracts.Address, slot contracts.SlotIndex) contracts.Address {
	return Derive(SeedBank, transmuter.String(), slot.String())
}

// Mutation derives a mutation address under a root.
func Mutation(transmuter contracts.Address, seed string) contracts.Address {
	return Derive(SeedMutation, transmuter.String(), seed)
}

// NewSeed returns a fresh random seed for Mutation.
func NewSeed() string {
	return uuid.NewString()
}

// Escrow derives the escrow holding of one payout mint.
func Escrow(mutation, mint contracts.Address) contracts.Address {
	return Derive(SeedEscrow, mutation.String(), mint.String())
}

// Creator derives the per (mutation, taker) identity that creates the
// taker's vaults, binding them to one mutation.
func Creator(mutation, taker contracts.Address) contracts.Address {
	return Derive(SeedCreator, mutation.String(), taker.String())
}

// Vault derives the vault a creator owns in a bank.
func Vault(bank, creator contracts.Address) contracts.Address {
	return Derive(SeedVault, bank.String(), creator.String())
}

// TakerVault is Vault(bank, Creator(mutation, taker)).
func TakerVault(bank, mutation, taker contracts.Address) contracts.Address {
	return Vault(bank, Creator(mutation, taker))
}

// Receipt derives the execution receipt address of a (mutation, taker) pair.
func Receipt(mutation, taker contracts.Address) contracts.Address {
	return Derive(SeedReceipt, mutation.String(), taker.String())
}
