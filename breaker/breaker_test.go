package breaker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testBreaker(cfg Config) *Breaker {
	return New("test-dep", cfg, zerolog.New(io.Discard))
}

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func TestOpensAfterThreshold(t *testing.T) {
	b := testBreaker(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Call(ctx, failing)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	// Next call is rejected without invoking the function
	invoked := false
	err := b.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := testBreaker(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failing))
	require.Error(t, b.Call(ctx, failing))
	require.NoError(t, b.Call(ctx, succeeding))
	require.Error(t, b.Call(ctx, failing))
	require.Error(t, b.Call(ctx, failing))

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not open the circuit")
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := testBreaker(Config{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failing))
	require.Error(t, b.Call(ctx, failing))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Call(ctx, succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := testBreaker(Config{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failing))
	require.Error(t, b.Call(ctx, failing))
	time.Sleep(30 * time.Millisecond)

	require.ErrorIs(t, b.Call(ctx, failing), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenConcurrencyCap(t *testing.T) {
	b := testBreaker(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	require.Error(t, b.Call(ctx, failing))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	go func() {
		_ = b.Call(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// Second call while the probe is in flight is rejected immediately
	err := b.Call(ctx, succeeding)
	require.ErrorIs(t, err, ErrOpen)
	close(release)
}

func TestRegistryReusesBreakers(t *testing.T) {
	r := NewRegistry(zerolog.New(io.Discard))
	a := r.Get("openai", DefaultConfig())
	b := r.Get("openai", DefaultConfig())
	assert.Same(t, a, b)

	statuses := r.StatusAll()
	require.Len(t, statuses, 1)
	assert.Equal(t, "openai", statuses[0].Name)
}
