package transmuter

import (
	"testing"

	"github.com/Mindburn-Labs/transmuter/pkg/address"
	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTransmuterCreatesBanks(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, address.Transmuter(owner, "root"), f.root.Key)
	assert.Equal(t, owner, f.root.FeeDestination)
	assert.Equal(t, address.Authority(f.root.Key), f.root.Authority)
	assert.Len(t, f.root.Banks(), 3)
	assert.Equal(t, address.Bank(f.root.Key, contracts.SlotC), f.root.BankC.MustGet())

	one, err := f.svc.InitTransmuter(f.ctx, InitTransmuterRequest{Owner: owner, Seed: "single", Banks: 1, FeeDestination: "treasury"})
	require.NoError(t, err)
	assert.Len(t, one.Banks(), 1)
	assert.False(t, one.BankB.IsSome())
	assert.Equal(t, contracts.Address("treasury"), one.FeeDestination)

	got, err := f.svc.FindTransmuters(f.ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestInitTransmuterRejections(t *testing.T) {
	f := newFixture(t)

	for _, n := range []int{0, 4} {
		_, err := f.svc.InitTransmuter(f.ctx, InitTransmuterRequest{Owner: owner, Banks: n})
		requireCode(t, err, contracts.CodeInvalidTokenIndex)
	}
	_, err := f.svc.InitTransmuter(f.ctx, InitTransmuterRequest{Banks: 1})
	requireCode(t, err, contracts.CodeUnauthorized)

	_, err = f.svc.InitTransmuter(f.ctx, InitTransmuterRequest{Owner: owner, Seed: "root", Banks: 1})
	requireCode(t, err, contracts.CodeConcurrentModification)
}

func TestProtocolFeesAreSplit(t *testing.T) {
	fees := FeeSchedule{TransmuterFee: 1001, MutationFee: 300, Wallets: []contracts.Address{"fee-1", "fee-2"}}
	f := newFixture(t, WithFees(fees))

	assert.Equal(t, uint64(501), f.lamports("fee-1"))
	assert.Equal(t, uint64(500), f.lamports("fee-2"))
	assert.Equal(t, uint64(100*lamportsPerSol-1001), f.lamports(owner))

	f.mutation("paid", f.lockConfig(1, 1), 1)
	assert.Equal(t, uint64(651), f.lamports("fee-1"))
	assert.Equal(t, uint64(650), f.lamports("fee-2"))
}

func TestUnaffordableFeeCreatesNothing(t *testing.T) {
	f := newFixture(t, WithFees(FeeSchedule{MutationFee: 1000 * lamportsPerSol, Wallets: []contracts.Address{"fee"}}))

	_, err := f.svc.InitMutation(f.ctx, InitMutationRequest{Transmuter: f.root.Key, Caller: owner, Config: f.lockConfig(1, 10), Uses: 1, Seed: "x"})
	require.Error(t, err)
	assert.Equal(t, uint64(ownerSupply), f.balance(payoutMints[0], owner))
	assert.Zero(t, f.lamports("fee"))
}

func TestFeeScheduleSplit(t *testing.T) {
	tests := []struct {
		name    string
		wallets []contracts.Address
		total   uint64
		want    []FeeShare
	}{
		{"no wallets", nil, 100, nil},
		{"zero total", []contracts.Address{"a"}, 0, nil},
		{"single", []contracts.Address{"a"}, 7, []FeeShare{{"a", 7}}},
		{"remainder to first", []contracts.Address{"a", "b", "c"}, 10, []FeeShare{{"a", 4}, {"b", 3}, {"c", 3}}},
		{"smaller than wallets", []contracts.Address{"a", "b", "c"}, 2, []FeeShare{{"a", 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FeeSchedule{Wallets: tt.wallets}.Split(tt.total))
		})
	}
}

func TestUpdateTransmuterOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateTransmuterOwner(f.ctx, f.root.Key, "stranger", "stranger")
	requireCode(t, err, contracts.CodeUnauthorized)
	_, err = f.svc.UpdateTransmuterOwner(f.ctx, f.root.Key, owner, "")
	requireCode(t, err, contracts.CodeUnauthorized)

	updated, err := f.svc.UpdateTransmuterOwner(f.ctx, f.root.Key, owner, "heir")
	require.NoError(t, err)
	assert.Equal(t, contracts.Address("heir"), updated.Owner)

	_, err = f.svc.InitMutation(f.ctx, InitMutationRequest{Transmuter: f.root.Key, Caller: owner, Config: f.lockConfig(1, 1), Uses: 1})
	requireCode(t, err, contracts.CodeUnauthorized)
}

func TestInitMutationRacingOwnerChange(t *testing.T) {
	f := newFixture(t)

	g := newGate()
	replica := f.peer(&gatedBackend{Backend: f.backend, kind: store.KindTransmuter, gate: g}, nil)
	done := make(chan error, 1)
	go func() {
		_, err := replica.InitMutation(f.ctx, InitMutationRequest{
			Transmuter: f.root.Key, Caller: owner, Config: f.lockConfig(1, 10), Uses: 1, Seed: "late",
		})
		done <- err
	}()
	<-g.reached

	_, err := f.svc.UpdateTransmuterOwner(f.ctx, f.root.Key, owner, "heir")
	require.NoError(t, err)

	close(g.open)
	requireCode(t, <-done, contracts.CodeConcurrentModification)

	_, err = f.svc.FindMutation(f.ctx, address.Mutation(f.root.Key, "late"))
	requireCode(t, err, contracts.CodeAccountNotFound)
	assert.Equal(t, uint64(ownerSupply), f.balance(payoutMints[0], owner))
}

func TestBankAdministration(t *testing.T) {
	f := newFixture(t)
	bankA := f.root.BankA

	err := f.svc.AddToBankWhitelist(f.ctx, f.root.Key, "stranger", bankA, gemMint, bank.WhitelistMint)
	requireCode(t, err, contracts.CodeUnauthorized)
	err = f.svc.AddToBankWhitelist(f.ctx, f.root.Key, owner, "foreign-bank", gemMint, bank.WhitelistMint)
	requireCode(t, err, contracts.CodeBankDoesNotMatch)

	require.NoError(t, f.svc.AddToBankWhitelist(f.ctx, f.root.Key, owner, bankA, gemMint, bank.WhitelistMint))
	kind, ok := f.bank.Whitelisted(bankA, gemMint)
	require.True(t, ok)
	assert.Equal(t, bank.WhitelistMint, kind)

	require.NoError(t, f.svc.RemoveFromBankWhitelist(f.ctx, f.root.Key, owner, bankA, gemMint))
	_, ok = f.bank.Whitelisted(bankA, gemMint)
	assert.False(t, ok)

	err = f.svc.AddRaritiesToBank(f.ctx, f.root.Key, "stranger", bankA, []bank.Rarity{{Mint: gemMint, Points: 5}})
	requireCode(t, err, contracts.CodeUnauthorized)
}

func TestRarityRequirement(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.AddRaritiesToBank(f.ctx, f.root.Key, owner, f.root.BankA, []bank.Rarity{{Mint: gemMint, Points: 5}}))

	cfg := f.lockConfig(2, 10)
	cfg.TakerTokenA.RequiredUnits = contracts.UnitsRarityPoints
	cfg.TakerTokenA.RequiredAmount = 10
	m := f.mutation("rarity", cfg, 2)

	weak := f.taker(m, "weak", 1)
	_, err := f.svc.Execute(f.ctx, m.Key, weak)
	requireCode(t, err, contracts.CodeInsufficientVaultRarityPoints)

	strong := f.taker(m, "strong", 2)
	_, err = f.svc.Execute(f.ctx, m.Key, strong)
	require.NoError(t, err)
}
