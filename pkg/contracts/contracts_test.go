package contracts_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodesAreStable(t *testing.T) {
	assert.Equal(t, contracts.ErrorCode(6000), contracts.CodeInvalidTokenIndex)
	assert.Equal(t, contracts.ErrorCode(6017), contracts.CodeTakerVaultNotFound)
	assert.Equal(t, "0x1775", contracts.CodeNoMoreUsesLeft.Hex())
	assert.Equal(t, "MutationNotComplete", contracts.CodeMutationNotComplete.Name())
	assert.Equal(t, contracts.KindTemporal, contracts.CodeMutationNotComplete.Kind())
	assert.Equal(t, contracts.KindEligibility, contracts.CodeInsufficientVaultGems.Kind())
	assert.Equal(t, "Code7000", contracts.ErrorCode(7000).Name())
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("execute: %w", contracts.Errorf(contracts.CodeNoMoreUsesLeft, "mutation %s", "m1"))

	assert.True(t, errors.Is(err, contracts.ErrNoMoreUsesLeft))
	assert.False(t, errors.Is(err, contracts.ErrIncorrectFunding))

	code, ok := contracts.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, contracts.CodeNoMoreUsesLeft, code)
	assert.Contains(t, err.Error(), "NoMoreUsesLeft (6005)")
	assert.Contains(t, err.Error(), "mutation m1")

	_, ok = contracts.CodeOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := contracts.TryAdd(math.MaxUint64, 1)
	assert.ErrorIs(t, err, contracts.ErrArithmetic)

	_, err = contracts.TrySub(0, 1)
	assert.ErrorIs(t, err, contracts.ErrArithmetic)

	_, err = contracts.TryMul(math.MaxUint64, 2)
	assert.ErrorIs(t, err, contracts.ErrArithmetic)

	v, err := contracts.TryMul(10, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), v)

	assert.Equal(t, uint64(1)<<63, contracts.AbsInt64(math.MinInt64))
	assert.Equal(t, uint64(5), contracts.AbsInt64(-5))
}

func TestOptionJSON(t *testing.T) {
	type wrapper struct {
		A contracts.Option[uint64] `json:"a"`
		B contracts.Option[uint64] `json:"b"`
	}
	raw, err := json.Marshal(wrapper{A: contracts.Some[uint64](7)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":7,"b":null}`, string(raw))

	var back wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"a":7}`), &back))
	v, ok := back.A.Get()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)
	assert.False(t, back.B.IsSome())

	assert.Panics(t, func() { back.B.MustGet() })
}

func TestParseSlot(t *testing.T) {
	s, err := contracts.ParseSlot("b")
	require.NoError(t, err)
	assert.Equal(t, contracts.SlotB, s)
	assert.Equal(t, "b", s.String())

	_, err = contracts.ParseSlot("d")
	assert.ErrorIs(t, err, contracts.ErrInvalidTokenIndex)
	assert.False(t, contracts.SlotIndex(4).Valid())
}

func TestTransmuterBanks(t *testing.T) {
	tr := contracts.Transmuter{BankA: "bank-a", BankC: contracts.Some[contracts.Address]("bank-c")}

	assert.Equal(t, []contracts.Address{"bank-a", "bank-c"}, tr.Banks())
	assert.True(t, tr.OwnsBank("bank-c"))
	assert.False(t, tr.OwnsBank("bank-b"))
	_, ok := tr.Bank(contracts.SlotB)
	assert.False(t, ok)
}

func TestMutationUses(t *testing.T) {
	var m contracts.Mutation
	m.InitUses(2)
	assert.Equal(t, contracts.MutationAvailable, m.State)

	require.NoError(t, m.TryDecrementUses())
	require.NoError(t, m.TryDecrementUses())
	assert.Equal(t, contracts.MutationExhausted, m.State)
	assert.Equal(t, uint64(2), m.OutstandingUses())
	assert.ErrorIs(t, m.TryDecrementUses(), contracts.ErrNoMoreUsesLeft)

	require.NoError(t, m.IncrementUses())
	assert.Equal(t, contracts.MutationAvailable, m.State)
	require.NoError(t, m.IncrementUses())
	assert.ErrorIs(t, m.IncrementUses(), contracts.ErrArithmetic)
}

func TestMutationConfigSlots(t *testing.T) {
	cfg := contracts.MutationConfig{
		TakerTokenA: contracts.TakerTokenConfig{GemBank: "a", VaultAction: contracts.VaultActionLock},
		TakerTokenC: contracts.Some(contracts.TakerTokenConfig{GemBank: "c", VaultAction: contracts.VaultActionChangeOwner}),
		MakerTokenA: contracts.MakerTokenConfig{Mint: "m1", TotalFunding: 20, AmountPerUse: 10},
		MakerTokenB: contracts.Some(contracts.MakerTokenConfig{Mint: "m2", TotalFunding: 15, AmountPerUse: 10}),
	}

	taker := cfg.TakerSlots()
	require.Len(t, taker, 2)
	assert.Equal(t, contracts.SlotC, taker[1].Index)
	require.Len(t, cfg.MakerSlots(), 2)

	assert.NoError(t, cfg.AssertReversibleVaults())
	cfg.Reversible = true
	assert.ErrorIs(t, cfg.AssertReversibleVaults(), contracts.ErrVaultsNotSetToLock)

	assert.NoError(t, cfg.MakerTokenA.AssertSufficientFunding(2))
	assert.ErrorIs(t, cfg.MakerSlots()[1].Config.AssertSufficientFunding(2), contracts.ErrIncorrectFunding)
	assert.ErrorIs(t, contracts.MakerTokenConfig{AmountPerUse: math.MaxUint64}.AssertSufficientFunding(2), contracts.ErrArithmetic)
}

func TestNormalizeName(t *testing.T) {
	n, err := contracts.NormalizeName("  Café ")
	require.NoError(t, err)
	assert.Equal(t, "Café", n)

	_, err = contracts.NormalizeName(strings.Repeat("x", contracts.MaxNameLen+1))
	assert.ErrorIs(t, err, contracts.ErrInvalidName)
}

func TestReceiptTransitions(t *testing.T) {
	r := contracts.ExecutionReceipt{State: contracts.ExecutionNotStarted}
	assert.False(t, r.State.Active())

	r.MarkPending(100)
	r.RecordVault(contracts.SlotB, "vault-b")
	assert.True(t, r.State.Active())
	assert.False(t, r.Ready(99))
	assert.True(t, r.Ready(100))

	r.MarkComplete()
	v, ok := r.Vault(contracts.SlotB)
	require.True(t, ok)
	assert.Equal(t, contracts.Address("vault-b"), v)

	r.Executions = 3
	r.Reset()
	assert.Equal(t, contracts.ExecutionNotStarted, r.State)
	assert.Zero(t, r.MutationCompleteTs)
	assert.False(t, r.VaultB.IsSome())
	assert.Equal(t, uint64(3), r.Executions)
}

func TestReceiptLease(t *testing.T) {
	var r contracts.ExecutionReceipt
	assert.False(t, r.LeaseHeld(0))

	r.Lease("op-1", 160)
	assert.True(t, r.LeaseHeld(100))
	assert.False(t, r.LeaseHeld(160), "a lapsed lease is free")

	r.ReleaseLease()
	assert.False(t, r.LeaseHeld(100))
	assert.Empty(t, r.LeasedBy)
}
