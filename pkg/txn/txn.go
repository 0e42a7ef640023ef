// Package txn runs collaborator effects as one unit of work. Every applied
// step registers a compensation; if a later step or the final commit fails,
// the compensations run in reverse order so no partial effect survives.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// MaxCompensationAttempts bounds retries of a single failing compensation.
const MaxCompensationAttempts = 3

// Step is one applied effect and its undo.
type Step struct {
	Order      int
	Name       string
	compensate func(context.Context) error
}

// UnitOfWork collects compensations for the effects applied so far.
// It is not safe for concurrent use.
type UnitOfWork struct {
	steps  []Step
	done   bool
	logger *slog.Logger
}

// New returns an empty unit of work.
func New(logger *slog.Logger) *UnitOfWork {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWork{logger: logger.With("component", "txn")}
}

// Do applies an effect and, when it succeeds, registers its compensation.
// A nil compensate marks a step with nothing to undo.
func (u *UnitOfWork) Do(ctx context.Context, name string, apply func(context.Context) error, compensate func(context.Context) error) error {
	if u.done {
		return fmt.Errorf("txn: step %q after unit of work finished", name)
	}
	if err := apply(ctx); err != nil {
		return err
	}
	if compensate != nil {
		u.steps = append(u.steps, Step{Order: len(u.steps), Name: name, compensate: compensate})
	}
	return nil
}

// Steps returns the names of the registered compensations in apply order.
func (u *UnitOfWork) Steps() []string {
	names := make([]string, len(u.steps))
	for i, s := range u.steps {
		names[i] = s.Name
	}
	return names
}

// Commit discards the compensations; the applied effects become final.
func (u *UnitOfWork) Commit() {
	u.steps = nil
	u.done = true
}

// Rollback runs every registered compensation in reverse order. Each
// compensation is retried up to MaxCompensationAttempts times; failures are
// joined and returned, and rollback carries on with the remaining steps.
// Compensations run on a context detached from ctx's cancellation.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(u.steps) - 1; i >= 0; i-- {
		s := u.steps[i]
		var err error
		for attempt := 1; attempt <= MaxCompensationAttempts; attempt++ {
			if err = s.compensate(ctx); err == nil {
				break
			}
			u.logger.Warn("compensation attempt failed", "step", s.Name, "attempt", attempt, "error", err)
		}
		if err != nil {
			u.logger.Error("compensation failed", "step", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("compensate %s: %w", s.Name, err))
		}
	}
	u.steps = nil
	return errors.Join(errs...)
}

// Run executes fn with a fresh unit of work. If fn returns an error the
// unit is rolled back and the original error is returned, joined with any
// compensation failure; otherwise it is committed.
func Run(ctx context.Context, logger *slog.Logger, fn func(context.Context, *UnitOfWork) error) error {
	u := New(logger)
	if err := fn(ctx, u); err != nil {
		if rbErr := u.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	u.Commit()
	return nil
}
