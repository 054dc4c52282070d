package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func always(error) bool { return true }

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 3, Backoff: time.Millisecond}, "op", always, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 5, Backoff: time.Millisecond}, "op",
		func(error) bool { return false },
		func(context.Context) error {
			calls++
			return errFlaky
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Contains(t, err.Error(), "permanent")
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxRetries: 2, Backoff: time.Millisecond}, "op", always, func(context.Context) error {
		calls++
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxRetries: 10, Backoff: time.Hour}, "op", always, func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
