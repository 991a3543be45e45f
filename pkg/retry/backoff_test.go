package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/migadu/protonfusion/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
		MaxRetries:      retries,
	}
}

func TestExponentialBackoffCapped(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
	})
	assert.Equal(t, 100*time.Millisecond, backoff(0))
	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 200*time.Millisecond, backoff(2))
	assert.Equal(t, 400*time.Millisecond, backoff(3))
	assert.Equal(t, time.Second, backoff(10))
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	})
	for i := 0; i < 50; i++ {
		d := backoff(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastConfig(3))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	cause := errors.New("down")
	err := WithRetry(context.Background(), func() error {
		calls++
		return cause
	}, fastConfig(2))
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestWithRetryStops(t *testing.T) {
	calls := 0
	cause := errors.New("no such rule")
	err := WithRetry(context.Background(), func() error {
		calls++
		return Stop(cause)
	}, fastConfig(5))
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, Stop(cause), cause)
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, func() error { return errors.New("fail") }, fastConfig(3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig(t *testing.T) {
	b, err := FromConfig(config.SyncConfig{MaxRetries: 4, InitialInterval: "250ms", MaxInterval: "3s"})
	require.NoError(t, err)
	assert.Equal(t, 4, b.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 3*time.Second, b.MaxInterval)

	_, err = FromConfig(config.SyncConfig{InitialInterval: "soon"})
	assert.Error(t, err)
}
