//go:build property
// +build property

package transmuter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/token"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// world is a fixture that reports errors instead of failing the test, so it
// can run inside property checks.
type world struct {
	ctx    context.Context
	svc    *Service
	bank   *bank.MemoryBank
	ledger *token.MemoryLedger
	now    time.Time
	root   *contracts.Transmuter
}

func newWorld() (*world, error) {
	w := &world{
		ctx:    context.Background(),
		bank:   bank.NewMemoryBank(),
		ledger: token.NewMemoryLedger(),
		now:    time.Unix(1_700_000_000, 0),
	}
	svc, err := New(store.NewMemory(), w.bank, w.ledger,
		WithClock(func() time.Time { return w.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		return nil, err
	}
	w.svc = svc
	if err := w.ledger.Airdrop(w.ctx, owner, 100*lamportsPerSol); err != nil {
		return nil, err
	}
	if err := w.ledger.CreateMint(w.ctx, payoutMints[0]); err != nil {
		return nil, err
	}
	if err := w.ledger.MintTo(w.ctx, payoutMints[0], owner, 1<<40); err != nil {
		return nil, err
	}
	w.root, err = svc.InitTransmuter(w.ctx, InitTransmuterRequest{Owner: owner, Seed: "root", Banks: 1})
	return w, err
}

func (w *world) config(perUse, uses, duration uint64) contracts.MutationConfig {
	return contracts.MutationConfig{
		TakerTokenA: contracts.TakerTokenConfig{
			GemBank:        w.root.BankA,
			RequiredAmount: 1,
			RequiredUnits:  contracts.UnitsGems,
			VaultAction:    contracts.VaultActionLock,
		},
		MakerTokenA:     contracts.MakerTokenConfig{Mint: payoutMints[0], TotalFunding: perUse * uses, AmountPerUse: perUse},
		MutationTimeSec: duration,
		Reversible:      true,
	}
}

func (w *world) taker(m *contracts.Mutation, name string) (contracts.Address, error) {
	taker := contracts.Address(name)
	v, err := w.svc.InitTakerVault(w.ctx, m.Key, taker, w.root.BankA)
	if err != nil {
		return "", err
	}
	return taker, w.bank.DepositGem(w.ctx, v.Key, gemMint, "", 1)
}

// check verifies use conservation and escrow accounting for m.
func (w *world) check(m *contracts.Mutation) error {
	got, err := w.svc.FindMutation(w.ctx, m.Key)
	if err != nil {
		return err
	}
	receipts, err := w.svc.FindAllReceipts(w.ctx, ReceiptQuery{Mutation: m.Key})
	if err != nil {
		return err
	}
	var active, complete uint64
	for _, rc := range receipts {
		if rc.State.Active() {
			active++
		}
		if rc.State == contracts.ExecutionComplete {
			complete++
		}
	}
	if got.RemainingUses+active != got.TotalUses {
		return fmt.Errorf("remaining %d + active %d != total %d", got.RemainingUses, active, got.TotalUses)
	}
	bal, err := w.ledger.Balance(w.ctx, payoutMints[0], got.TokenAEscrow)
	if err != nil {
		return err
	}
	perUse := got.Config.MakerTokenA.AmountPerUse
	if want := perUse * (got.TotalUses - complete); bal != want {
		return fmt.Errorf("escrow holds %d, want %d", bal, want)
	}
	return nil
}

type step struct {
	Taker int
	Op    int
}

func genStep() gopter.Gen {
	return gopter.CombineGens(gen.IntRange(0, 3), gen.IntRange(0, 2)).Map(func(v []interface{}) step {
		return step{Taker: v[0].(int), Op: v[1].(int)}
	})
}

func TestUsesAndEscrowsAreConserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("remaining + active == total after any sequence", prop.ForAll(
		func(uses uint64, steps []step) string {
			w, err := newWorld()
			if err != nil {
				return err.Error()
			}
			m, err := w.svc.InitMutation(w.ctx, InitMutationRequest{Transmuter: w.root.Key, Caller: owner, Config: w.config(7, uses, 5), Uses: uses, Seed: "m"})
			if err != nil {
				return err.Error()
			}
			takers := make([]contracts.Address, 4)
			for i := range takers {
				if takers[i], err = w.taker(m, fmt.Sprintf("taker-%d", i)); err != nil {
					return err.Error()
				}
			}
			for i, s := range steps {
				switch s.Op {
				case 0:
					_, err = w.svc.Execute(w.ctx, m.Key, takers[s.Taker])
				case 1:
					_, err = w.svc.Reverse(w.ctx, m.Key, takers[s.Taker])
				default:
					w.now = w.now.Add(3 * time.Second)
					err = nil
				}
				if _, coded := contracts.CodeOf(err); err != nil && !coded {
					return fmt.Sprintf("step %d: %v", i, err)
				}
				if err := w.check(m); err != nil {
					return fmt.Sprintf("step %d: %v", i, err)
				}
			}
			return ""
		},
		gen.UInt64Range(1, 4),
		gen.SliceOf(genStep()),
	))

	properties.TestingRun(t)
}

func TestFundingMustBeExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("InitMutation accepts only total == uses * perUse", prop.ForAll(
		func(uses, perUse uint64, delta int64) bool {
			w, err := newWorld()
			if err != nil {
				return false
			}
			cfg := w.config(perUse, uses, 0)
			cfg.MakerTokenA.TotalFunding = uint64(int64(perUse*uses) + delta)
			_, err = w.svc.InitMutation(w.ctx, InitMutationRequest{Transmuter: w.root.Key, Caller: owner, Config: cfg, Uses: uses})
			if delta == 0 {
				return err == nil
			}
			code, ok := contracts.CodeOf(err)
			return ok && code == contracts.CodeIncorrectFunding
		},
		gen.UInt64Range(1, 50),
		gen.UInt64Range(10, 1000),
		gen.Int64Range(-5, 5),
	))

	properties.TestingRun(t)
}

func TestCompletionIsTimeMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a pending receipt completes iff the duration has elapsed", prop.ForAll(
		func(duration, wait uint64) bool {
			w, err := newWorld()
			if err != nil {
				return false
			}
			m, err := w.svc.InitMutation(w.ctx, InitMutationRequest{Transmuter: w.root.Key, Caller: owner, Config: w.config(1, 1, duration), Uses: 1})
			if err != nil {
				return false
			}
			taker, err := w.taker(m, "taker")
			if err != nil {
				return false
			}
			if _, err := w.svc.Execute(w.ctx, m.Key, taker); err != nil {
				return false
			}
			w.now = w.now.Add(time.Duration(wait) * time.Second)
			res, err := w.svc.Execute(w.ctx, m.Key, taker)
			if wait >= duration {
				return err == nil && res.Receipt.State == contracts.ExecutionComplete
			}
			code, ok := contracts.CodeOf(err)
			return ok && code == contracts.CodeMutationNotComplete
		},
		gen.UInt64Range(1, 1000),
		gen.UInt64Range(0, 2000),
	))

	properties.TestingRun(t)
}

func TestReversalRestoresState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("execute then reverse is the identity on uses, escrow and vault", prop.ForAll(
		func(uses, perUse uint64) bool {
			w, err := newWorld()
			if err != nil {
				return false
			}
			m, err := w.svc.InitMutation(w.ctx, InitMutationRequest{Transmuter: w.root.Key, Caller: owner, Config: w.config(perUse, uses, 0), Uses: uses})
			if err != nil {
				return false
			}
			taker, err := w.taker(m, "taker")
			if err != nil {
				return false
			}
			if _, err := w.svc.Execute(w.ctx, m.Key, taker); err != nil {
				return false
			}
			res, err := w.svc.Reverse(w.ctx, m.Key, taker)
			if err != nil {
				return false
			}
			bal, _ := w.ledger.Balance(w.ctx, payoutMints[0], m.TokenAEscrow)
			held, _ := w.ledger.Balance(w.ctx, payoutMints[0], taker)
			v, err := w.svc.InitTakerVault(w.ctx, m.Key, taker, w.root.BankA)
			if err != nil {
				return false
			}
			return res.Mutation.RemainingUses == uses &&
				res.Receipt.State == contracts.ExecutionNotStarted &&
				bal == uses*perUse && held == 0 && !v.Locked
		},
		gen.UInt64Range(1, 20),
		gen.UInt64Range(1, 500),
	))

	properties.TestingRun(t)
}
