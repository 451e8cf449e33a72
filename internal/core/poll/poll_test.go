package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntil_TimesOutDeterministically(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := Until(context.Background(), clock, 2*time.Second, 10*time.Second, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})

	require.ErrorIs(t, err, ErrTimeout)
	// attempts at t=0,2,4,6,8,10
	assert.Equal(t, 6, calls)
	assert.Len(t, clock.Waits(), 5)
	assert.Equal(t, 10*time.Second, clock.Elapsed())
}

func TestUntil_SucceedsImmediately(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	err := Until(context.Background(), clock, time.Second, time.Minute, func(context.Context) (bool, error) {
		return true, nil
	})

	require.NoError(t, err)
	assert.Empty(t, clock.Waits())
}

func TestUntil_SucceedsAfterSomePolls(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := Until(context.Background(), clock, 2*time.Second, time.Minute, func(context.Context) (bool, error) {
		calls++
		return calls == 4, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 6*time.Second, clock.Elapsed())
}

func TestUntil_ConditionErrorStopsImmediately(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	boom := errors.New("container exited 1")

	err := Until(context.Background(), clock, 2*time.Second, time.Minute, func(context.Context) (bool, error) {
		return false, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Empty(t, clock.Waits())
}

func TestUntil_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := NewFakeClock(time.Unix(0, 0))
	calls := 0

	err := Until(ctx, clock, time.Second, time.Minute, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestUntil_RealClockShortTimeout(t *testing.T) {
	start := time.Now()
	err := Until(context.Background(), nil, 5*time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
