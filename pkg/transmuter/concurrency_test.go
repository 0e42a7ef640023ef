package transmuter

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentExecuteSameTaker(t *testing.T) {
	f := newFixture(t)
	m := f.mutation("same-taker", f.lockConfig(5, 10), 5)
	taker := f.taker(m, "taker", 2)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Execute(f.ctx, m.Key, taker)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		requireCode(t, err, contracts.CodeMutationAlreadyComplete)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, uint64(4), f.reload(m).RemainingUses)
	assert.Equal(t, uint64(10), f.balance(payoutMints[0], taker))
	f.assertConservation(m)
	assert.Zero(t, f.svc.locks.size())
}

func TestConcurrentExecuteDifferentTakers(t *testing.T) {
	f := newFixture(t)
	m := f.mutation("many-takers", f.lockConfig(3, 10), 3)

	const workers = 5
	takers := make([]contracts.Address, workers)
	for i := range takers {
		takers[i] = f.taker(m, fmt.Sprintf("taker-%d", i), 2)
	}

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i, taker := range takers {
		wg.Add(1)
		go func(i int, taker contracts.Address) {
			defer wg.Done()
			_, errs[i] = f.svc.Execute(f.ctx, m.Key, taker)
		}(i, taker)
	}
	wg.Wait()

	var ok, exhausted int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			requireCode(t, err, contracts.CodeNoMoreUsesLeft)
			exhausted++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, exhausted)

	got := f.reload(m)
	assert.Zero(t, got.RemainingUses)
	assert.Equal(t, contracts.MutationExhausted, got.State)
	assert.Zero(t, f.balance(payoutMints[0], got.TokenAEscrow))
	f.assertConservation(m)
}

func (f *fixture) bankVault(key contracts.Address) contracts.Vault {
	f.t.Helper()
	v, err := f.bank.Vault(f.ctx, key)
	require.NoError(f.t, err)
	return v
}

func TestReplicaExecuteOnStaleReceipt(t *testing.T) {
	for _, action := range []contracts.VaultAction{contracts.VaultActionLock, contracts.VaultActionChangeOwner} {
		t.Run(string(action), func(t *testing.T) {
			f := newFixture(t)
			cfg := f.lockConfig(5, 10)
			cfg.TakerTokenA.VaultAction = action
			cfg.Reversible = action == contracts.VaultActionLock
			m := f.mutation("stale-"+string(action), cfg, 5)
			taker := f.taker(m, "taker", 2)
			vault := f.vault(m, taker, f.root.BankA).Key

			g := newGate()
			replica := f.peer(&gatedBackend{Backend: f.backend, kind: store.KindReceipt, gate: g}, nil)
			done := make(chan error, 1)
			go func() {
				_, err := replica.Execute(f.ctx, m.Key, taker)
				done <- err
			}()
			<-g.reached

			res, err := f.svc.Execute(f.ctx, m.Key, taker)
			require.NoError(t, err)
			require.Equal(t, contracts.ExecutionComplete, res.Receipt.State)

			close(g.open)
			requireCode(t, <-done, contracts.CodeConcurrentModification)

			rc := f.receipt(m, taker)
			assert.Equal(t, contracts.ExecutionComplete, rc.State)
			assert.Empty(t, rc.LeasedBy)
			v := f.bankVault(vault)
			if action == contracts.VaultActionLock {
				assert.True(t, v.Locked, "completed receipt keeps its vault locked")
				assert.Equal(t, taker, v.Owner)
			} else {
				assert.Equal(t, owner, v.Owner, "vault stays with the maker")
			}
			assert.Equal(t, uint64(10), f.balance(payoutMints[0], taker))
			assert.Equal(t, uint64(4), f.reload(m).RemainingUses)
			f.assertConservation(m)
		})
	}
}

func TestReplicaExecuteWhileReceiptHeld(t *testing.T) {
	f := newFixture(t)
	m := f.mutation("held", f.lockConfig(5, 10), 5)
	taker := f.taker(m, "taker", 2)
	vault := f.vault(m, taker, f.root.BankA).Key

	g := newGate()
	replica := f.peer(nil, &gatedBank{MemoryBank: f.bank, gate: g})
	done := make(chan error, 1)
	go func() {
		_, err := replica.Execute(f.ctx, m.Key, taker)
		done <- err
	}()
	<-g.reached

	assert.NotEmpty(t, f.receipt(m, taker).LeasedBy)
	_, err := f.svc.Execute(f.ctx, m.Key, taker)
	requireCode(t, err, contracts.CodeConcurrentModification)
	_, err = f.svc.Destroy(f.ctx, m.Key, owner)
	requireCode(t, err, contracts.CodeConcurrentModification)
	assert.False(t, f.bankVault(vault).Locked)

	close(g.open)
	require.NoError(t, <-done)

	rc := f.receipt(m, taker)
	assert.Equal(t, contracts.ExecutionComplete, rc.State)
	assert.Empty(t, rc.LeasedBy)
	assert.True(t, f.bankVault(vault).Locked)
	assert.Equal(t, uint64(10), f.balance(payoutMints[0], taker))
	f.assertConservation(m)
}

func TestReplicaExecuteDifferentTakers(t *testing.T) {
	f := newFixture(t)
	cfg := f.lockConfig(2, 10)
	cfg.Price = contracts.PriceConfig{PriceLamports: 500}
	m := f.mutation("replicas", cfg, 2)
	first := f.taker(m, "first", 2)
	second := f.taker(m, "second", 2)
	firstVault := f.vault(m, first, f.root.BankA).Key
	secondVault := f.vault(m, second, f.root.BankA).Key
	l0 := f.lamports(second)

	g := newGate()
	replica := f.peer(nil, &gatedBank{MemoryBank: f.bank, gate: g})
	done := make(chan error, 1)
	go func() {
		_, err := replica.Execute(f.ctx, m.Key, second)
		done <- err
	}()
	<-g.reached

	_, err := f.svc.Execute(f.ctx, m.Key, first)
	require.NoError(t, err)

	close(g.open)
	requireCode(t, <-done, contracts.CodeConcurrentModification)

	got := f.reload(m)
	assert.Equal(t, uint64(1), got.RemainingUses)
	assert.Equal(t, contracts.MutationAvailable, got.State)
	assert.Equal(t, uint64(10), f.balance(payoutMints[0], got.TokenAEscrow))
	assert.Zero(t, f.balance(payoutMints[0], second))
	assert.Equal(t, l0, f.lamports(second))
	assert.True(t, f.bankVault(firstVault).Locked)
	assert.False(t, f.bankVault(secondVault).Locked)
	rc := f.receipt(m, second)
	assert.Equal(t, contracts.ExecutionNotStarted, rc.State)
	assert.Empty(t, rc.LeasedBy)
	assert.Zero(t, rc.Executions)
	f.assertConservation(m)

	res, err := replica.Execute(f.ctx, m.Key, second)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Charged)
	assert.Equal(t, l0-500, f.lamports(second))
	assert.Equal(t, uint64(10), f.balance(payoutMints[0], second))
	assert.Equal(t, contracts.MutationExhausted, f.reload(m).State)
	f.assertConservation(m)
}

func TestReplicaReverseOnStaleReceipt(t *testing.T) {
	f := newFixture(t)
	m := f.mutation("double-reverse", f.lockConfig(2, 10), 2)
	taker := f.taker(m, "taker", 2)
	vault := f.vault(m, taker, f.root.BankA).Key
	_, err := f.svc.Execute(f.ctx, m.Key, taker)
	require.NoError(t, err)

	g := newGate()
	replica := f.peer(&gatedBackend{Backend: f.backend, kind: store.KindReceipt, gate: g}, nil)
	done := make(chan error, 1)
	go func() {
		_, err := replica.Reverse(f.ctx, m.Key, taker)
		done <- err
	}()
	<-g.reached

	_, err = f.svc.Reverse(f.ctx, m.Key, taker)
	require.NoError(t, err)

	close(g.open)
	requireCode(t, <-done, contracts.CodeConcurrentModification)

	got := f.reload(m)
	assert.Equal(t, uint64(2), got.RemainingUses)
	assert.Equal(t, uint64(20), f.balance(payoutMints[0], got.TokenAEscrow))
	assert.Zero(t, f.balance(payoutMints[0], taker))
	assert.False(t, f.bankVault(vault).Locked)
	rc := f.receipt(m, taker)
	assert.Equal(t, contracts.ExecutionNotStarted, rc.State)
	assert.Empty(t, rc.LeasedBy)
	f.assertConservation(m)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	default:
	}
	unlockA()
	<-acquired
	unlockB()

	require.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
