package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/config"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/journal"
	"github.com/Mindburn-Labs/transmuter/pkg/observability"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/token"
	"github.com/Mindburn-Labs/transmuter/pkg/transmuter"
)

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openRecords opens the record store selected by STORE_BACKEND.
func openRecords(ctx context.Context, cfg *config.Config) (*store.Records, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.OpenSQL(ctx, "sqlite", cfg.SQLitePath)
	case "postgres":
		return store.OpenSQL(ctx, "postgres", cfg.DatabaseURL)
	case "redis":
		b := store.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := b.Init(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return store.New(b), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

func feeSchedule(fc config.FeesConfig) transmuter.FeeSchedule {
	wallets := make([]contracts.Address, 0, len(fc.Wallets))
	for _, w := range fc.Wallets {
		wallets = append(wallets, contracts.Address(w))
	}
	return transmuter.FeeSchedule{
		TransmuterFee: fc.TransmuterFeeLamports,
		MutationFee:   fc.MutationFeeLamports,
		Wallets:       wallets,
	}
}

// node is a fully wired service and the collaborators behind it.
type node struct {
	svc     *transmuter.Service
	records *store.Records
	bank    *bank.MemoryBank
	ledger  *token.MemoryLedger
	journal *journal.Journal
	obs     *observability.Provider
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	records, err := openRecords(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = cfg.OTelInsecure
	obsCfg.Enabled = cfg.OTelEnabled
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		_ = records.Close()
		return nil, fmt.Errorf("observability: %w", err)
	}

	n := &node{
		records: records,
		bank:    bank.NewMemoryBank(),
		ledger:  token.NewMemoryLedger(),
		journal: journal.New(),
		obs:     obs,
	}
	n.svc, err = transmuter.New(records, n.bank, n.ledger,
		transmuter.WithLogger(logger),
		transmuter.WithFees(feeSchedule(cfg.Fees)),
		transmuter.WithJournal(n.journal),
		transmuter.WithObservability(obs),
	)
	if err != nil {
		_ = n.Close(ctx)
		return nil, err
	}
	return n, nil
}

func (n *node) Close(ctx context.Context) error {
	err := n.obs.Shutdown(ctx)
	if cerr := n.records.Close(); err == nil {
		err = cerr
	}
	return err
}
