package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommitsOnSuccess(t *testing.T) {
	var undone []string
	err := Run(context.Background(), nil, func(ctx context.Context, u *UnitOfWork) error {
		require.NoError(t, u.Do(ctx, "a", noop, record(&undone, "a")))
		require.NoError(t, u.Do(ctx, "b", noop, record(&undone, "b")))
		assert.Equal(t, []string{"a", "b"}, u.Steps())
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, undone)
}

func TestRunCompensatesInReverseOrder(t *testing.T) {
	boom := errors.New("boom")
	var undone []string
	err := Run(context.Background(), nil, func(ctx context.Context, u *UnitOfWork) error {
		require.NoError(t, u.Do(ctx, "a", noop, record(&undone, "a")))
		require.NoError(t, u.Do(ctx, "skip", noop, nil))
		require.NoError(t, u.Do(ctx, "b", noop, record(&undone, "b")))
		return u.Do(ctx, "c", func(context.Context) error { return boom }, record(&undone, "c"))
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"b", "a"}, undone)
}

func TestRollbackRetriesAndReportsCompensationFailures(t *testing.T) {
	u := New(nil)
	ctx := context.Background()
	attempts := 0
	require.NoError(t, u.Do(ctx, "flaky", noop, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}))
	stuck := errors.New("stuck")
	require.NoError(t, u.Do(ctx, "stuck", noop, func(context.Context) error { return stuck }))

	err := u.Rollback(ctx)
	assert.ErrorIs(t, err, stuck)
	assert.Equal(t, 2, attempts)

	assert.NoError(t, u.Rollback(ctx), "second rollback is a no-op")
}

func TestRollbackIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	u := New(nil)
	ran := false
	require.NoError(t, u.Do(ctx, "a", noop, func(c context.Context) error {
		ran = c.Err() == nil
		return nil
	}))
	cancel()

	require.NoError(t, u.Rollback(ctx))
	assert.True(t, ran)
}

func TestDoAfterCommitFails(t *testing.T) {
	u := New(nil)
	u.Commit()
	assert.Error(t, u.Do(context.Background(), "late", noop, nil))
}

func noop(context.Context) error { return nil }

func record(into *[]string, name string) func(context.Context) error {
	return func(context.Context) error {
		*into = append(*into, name)
		return nil
	}
}
