package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/journal"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/token"
	"github.com/Mindburn-Labs/transmuter/pkg/transmuter"
)

const (
	demoMaker   = contracts.Address("demo-maker")
	demoReward  = contracts.Address("demo-reward-mint")
	demoGem     = contracts.Address("demo-gem-mint")
	demoDelay   = 60
	demoPerUse  = 100
	demoUses    = 2
	demoPrice   = 5_000
	demoLamport = 1_000_000_000
)

// demoSummary is the end state printed by `transmuter demo --json`.
type demoSummary struct {
	Transmuter    contracts.Address       `json:"transmuter"`
	Mutation      contracts.Address       `json:"mutation"`
	State         contracts.MutationState `json:"state"`
	RemainingUses uint64                  `json:"remaining_uses"`
	Receipts      map[string]string       `json:"receipts"`
	Rewards       map[string]uint64       `json:"rewards"`
	EscrowA       uint64                  `json:"escrow_a"`
	JournalHead   string                  `json:"journal_head"`
	Operations    int                     `json:"operations"`
}

// runDemoCmd implements `transmuter demo`: two takers execute a two-use,
// time-delayed mutation, then the first one reverses.
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output the end state as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	steps := stdout
	if *jsonOutput {
		steps = io.Discard
	}
	sum, err := runDemo(context.Background(), steps)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "demo failed: %v\n", err)
		return 1
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(sum, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "mutation %s is %s with %d use(s) left; journal head %s\n",
		sum.Mutation.Short(), sum.State, sum.RemainingUses, sum.JournalHead)
	return 0
}

func runDemo(ctx context.Context, out io.Writer) (*demoSummary, error) {
	now := time.Unix(1_700_000_000, 0)
	ledger := token.NewMemoryLedger()
	vaults := bank.NewMemoryBank()
	j := journal.New().WithClock(func() time.Time { return now })
	svc, err := transmuter.New(store.NewMemory(), vaults, ledger,
		transmuter.WithClock(func() time.Time { return now }),
		transmuter.WithJournal(j),
		transmuter.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return nil, err
	}
	step := func(format string, a ...any) {
		_, _ = fmt.Fprintf(out, "[%s] %s\n", now.UTC().Format(time.TimeOnly), fmt.Sprintf(format, a...))
	}

	if err := ledger.Airdrop(ctx, demoMaker, 10*demoLamport); err != nil {
		return nil, err
	}
	if err := ledger.CreateMint(ctx, demoReward); err != nil {
		return nil, err
	}
	if err := ledger.MintTo(ctx, demoReward, demoMaker, demoPerUse*demoUses); err != nil {
		return nil, err
	}

	root, err := svc.InitTransmuter(ctx, transmuter.InitTransmuterRequest{Owner: demoMaker, Seed: "demo", Banks: 1})
	if err != nil {
		return nil, err
	}
	step("created transmuter %s with bank %s", root.Key.Short(), root.BankA.Short())

	m, err := svc.InitMutation(ctx, transmuter.InitMutationRequest{
		Transmuter: root.Key,
		Caller:     demoMaker,
		Uses:       demoUses,
		Name:       "demo mutation",
		Seed:       "demo",
		Config: contracts.MutationConfig{
			TakerTokenA: contracts.TakerTokenConfig{
				GemBank:        root.BankA,
				RequiredAmount: 2,
				RequiredUnits:  contracts.UnitsGems,
				VaultAction:    contracts.VaultActionLock,
			},
			MakerTokenA: contracts.MakerTokenConfig{
				Mint:         demoReward,
				TotalFunding: demoPerUse * demoUses,
				AmountPerUse: demoPerUse,
			},
			Price:           contracts.PriceConfig{PriceLamports: demoPrice},
			MutationTimeSec: demoDelay,
			Reversible:      true,
		},
	})
	if err != nil {
		return nil, err
	}
	step("created mutation %s: %d uses, %d %s per use, %ds delay", m.Key.Short(), m.TotalUses, demoPerUse, demoReward, demoDelay)

	takers := []contracts.Address{"alice", "bob"}
	for _, taker := range takers {
		if err := ledger.Airdrop(ctx, taker, demoLamport); err != nil {
			return nil, err
		}
		v, err := svc.InitTakerVault(ctx, m.Key, taker, root.BankA)
		if err != nil {
			return nil, err
		}
		if err := vaults.DepositGem(ctx, v.Key, demoGem, "", 2); err != nil {
			return nil, err
		}
		step("%s stocked vault %s with 2 gems", taker, v.Key.Short())
	}

	for _, taker := range takers {
		ex, err := svc.Execute(ctx, m.Key, taker)
		if err != nil {
			return nil, err
		}
		step("%s executed: receipt %s, charged %d lamports", taker, ex.Receipt.State, ex.Charged)

		if _, err := svc.Execute(ctx, m.Key, taker); err != nil {
			code, _ := contracts.CodeOf(err)
			step("%s executed again too early: %s", taker, code.Name())
		}

		now = now.Add(demoDelay * time.Second)
		ex, err = svc.Execute(ctx, m.Key, taker)
		if err != nil {
			return nil, err
		}
		step("%s executed after %ds: receipt %s, paid out %t, %d uses left", taker, demoDelay, ex.Receipt.State, ex.PaidOut, ex.Mutation.RemainingUses)
	}

	ex, err := svc.Reverse(ctx, m.Key, takers[0])
	if err != nil {
		return nil, err
	}
	step("%s reversed: receipt %s, %d use(s) left, mutation %s", takers[0], ex.Receipt.State, ex.Mutation.RemainingUses, ex.Mutation.State)

	if err := j.Verify(); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	m, err = svc.FindMutation(ctx, m.Key)
	if err != nil {
		return nil, err
	}
	escrows, err := svc.EscrowBalances(ctx, m.Key)
	if err != nil {
		return nil, err
	}
	sum := &demoSummary{
		Transmuter:    root.Key,
		Mutation:      m.Key,
		State:         m.State,
		RemainingUses: m.RemainingUses,
		Receipts:      make(map[string]string, len(takers)),
		Rewards:       make(map[string]uint64, len(takers)),
		EscrowA:       escrows[contracts.SlotA],
		JournalHead:   j.Head(),
		Operations:    j.Len(),
	}
	for _, taker := range takers {
		rc, err := svc.FindReceipt(ctx, m.Key, taker)
		if err != nil {
			return nil, err
		}
		sum.Receipts[taker.String()] = string(rc.State)
		bal, err := ledger.Balance(ctx, demoReward, taker)
		if err != nil {
			return nil, err
		}
		sum.Rewards[taker.String()] = bal
	}
	return sum, nil
}
