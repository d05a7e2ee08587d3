package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryerSucceedsAfterFailures(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerExhaustsRetries(t *testing.T) {
	r := New(fastPolicy(2), zap.NewNop())

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls) // initial + 2 retries
}

func TestRetryerRespectsShouldRetry(t *testing.T) {
	policy := fastPolicy(5)
	policy.ShouldRetry = func(err error) bool { return false }
	r := New(policy, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("fatal")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerCancelledContext(t *testing.T) {
	policy := fastPolicy(3)
	policy.InitialDelay = time.Hour // force the wait path
	policy.Jitter = false
	r := New(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error { return errors.New("transient") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayBounds(t *testing.T) {
	r := New(&Policy{
		MaxRetries:   5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}, zap.NewNop())

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 40*time.Millisecond, r.delay(6)) // capped
}
