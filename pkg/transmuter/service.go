// Package transmuter is the lifecycle controller of the protocol. It creates
// registry roots and mutations, runs executions and reversals for takers and
// destroys exhausted offers, keeping escrows, vault custody, fees and the
// persisted records consistent with each other.
//
// Each operation reads a snapshot of the records it touches, applies its
// collaborator effects inside a txn.UnitOfWork and commits its record
// writes as one compare-and-commit batch. Execute and reverse first lease
// the taker's receipt, so only one operation at a time, across replicas,
// applies effects for a receipt. A failure at any point undoes the
// effects already applied; a concurrent writer surfaces as
// ConcurrentModification and the caller resubmits.
package transmuter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/transmuter/pkg/bank"
	"github.com/Mindburn-Labs/transmuter/pkg/contracts"
	"github.com/Mindburn-Labs/transmuter/pkg/escrow"
	"github.com/Mindburn-Labs/transmuter/pkg/journal"
	"github.com/Mindburn-Labs/transmuter/pkg/observability"
	"github.com/Mindburn-Labs/transmuter/pkg/store"
	"github.com/Mindburn-Labs/transmuter/pkg/token"
	"github.com/Mindburn-Labs/transmuter/pkg/txn"
	"go.opentelemetry.io/otel/attribute"
)

// Service implements every protocol operation. It is safe for concurrent use.
type Service struct {
	records *store.Records
	vaults  bank.VaultService
	tokens  token.Service
	escrow  *escrow.Accounting

	fees    FeeSchedule
	journal *journal.Journal
	obs     *observability.Provider
	logger  *slog.Logger
	clock   func() time.Time

	locks   *keyedMutex
	filters *receiptFilter
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock. Execution timestamps are unix seconds of
// the clock reading taken when an operation starts.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithFees sets the protocol fee schedule.
func WithFees(f FeeSchedule) Option {
	return func(s *Service) { s.fees = f }
}

// WithJournal appends every committed operation to j.
func WithJournal(j *journal.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithObservability sets the tracing and metrics provider.
func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

// New creates a Service over its collaborators.
func New(records *store.Records, vaults bank.VaultService, tokens token.Service, opts ...Option) (*Service, error) {
	s := &Service{
		records: records,
		vaults:  vaults,
		tokens:  tokens,
		escrow:  escrow.New(tokens),
		clock:   time.Now,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "transmuter")

	if s.obs == nil {
		p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("observability: %w", err)
		}
		s.obs = p
	}

	f, err := newReceiptFilter()
	if err != nil {
		return nil, err
	}
	s.filters = f
	return s, nil
}

// Journal returns the operation journal, or nil when none is configured.
func (s *Service) Journal() *journal.Journal {
	return s.journal
}

// track opens the span of an operation and returns the function that closes
// it and logs the outcome.
func (s *Service) track(ctx context.Context, op string, kv ...string) (context.Context, func(*error)) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	logArgs := make([]any, 0, len(kv)+2)
	logArgs = append(logArgs, "operation", op)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
		logArgs = append(logArgs, kv[i], kv[i+1])
	}
	ctx, done := s.obs.TrackOperation(ctx, op, attrs...)
	return ctx, func(errp *error) {
		err := *errp
		done(err)
		switch code, ok := contracts.CodeOf(err); {
		case err == nil:
			s.logger.InfoContext(ctx, "operation committed", logArgs...)
		case ok:
			s.logger.DebugContext(ctx, "operation rejected", append(logArgs, "code", code.Name(), "error", err)...)
		default:
			s.logger.ErrorContext(ctx, "operation failed", append(logArgs, "error", err)...)
		}
	}
}

// commit writes the batch, translating a revision conflict.
func (s *Service) commit(ctx context.Context, b *store.Batch) error {
	err := s.records.Commit(ctx, b)
	if errors.Is(err, store.ErrConflict) {
		return contracts.Errorf(contracts.CodeConcurrentModification, "%v", err)
	}
	return err
}

func (s *Service) record(ctx context.Context, op string, actor, subject contracts.Address, data map[string]any) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(op, actor, subject, data); err != nil {
		s.logger.ErrorContext(ctx, "journal append failed", "operation", op, "error", err)
	}
}

func notFound(err error, kind string, key contracts.Address) error {
	if errors.Is(err, store.ErrNotFound) {
		return contracts.Errorf(contracts.CodeAccountNotFound, "%s %s", kind, key.Short())
	}
	return err
}

func (s *Service) loadTransmuter(ctx context.Context, key contracts.Address) (*contracts.Transmuter, error) {
	t, err := s.records.GetTransmuter(ctx, key)
	if err != nil {
		return nil, notFound(err, "transmuter", key)
	}
	return t, nil
}

func (s *Service) loadMutation(ctx context.Context, key contracts.Address) (*contracts.Mutation, error) {
	m, err := s.records.GetMutation(ctx, key)
	if err != nil {
		return nil, notFound(err, "mutation", key)
	}
	return m, nil
}

// loadOwned loads a root and checks caller is its owner.
func (s *Service) loadOwned(ctx context.Context, key, caller contracts.Address) (*contracts.Transmuter, error) {
	t, err := s.loadTransmuter(ctx, key)
	if err != nil {
		return nil, err
	}
	if t.Owner != caller {
		return nil, contracts.Errorf(contracts.CodeUnauthorized, "%s does not own transmuter %s", caller.Short(), key.Short())
	}
	return t, nil
}

// transferLamports moves lamports as a compensated step.
func (s *Service) transferLamports(ctx context.Context, u *txn.UnitOfWork, name string, from, to contracts.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	err := u.Do(ctx, name,
		func(ctx context.Context) error { return s.tokens.TransferLamports(ctx, from, to, amount) },
		func(ctx context.Context) error { return s.tokens.TransferLamports(ctx, to, from, amount) })
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// collectFee splits a protocol fee across the fee wallets.
func (s *Service) collectFee(ctx context.Context, u *txn.UnitOfWork, name string, payer contracts.Address, total uint64) error {
	for _, share := range s.fees.Split(total) {
		if err := s.transferLamports(ctx, u, name, payer, share.Wallet, share.Amount); err != nil {
			return err
		}
	}
	return nil
}
