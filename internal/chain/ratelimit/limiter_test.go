package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5)

	require.NotNil(t, l)
	assert.InDelta(t, 10.0, float64(l.limiter.Limit()), 0.001)
	assert.Equal(t, 5, l.limiter.Burst())
}

func TestNewLimiter_ZeroRPSIsUnlimited(t *testing.T) {
	l := NewLimiter(0, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "eth_blockNumber"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_AllowWithinBurst(t *testing.T) {
	const burst = 5
	l := NewLimiter(100, burst)
	ctx := context.Background()

	for i := 0; i < burst; i++ {
		start := time.Now()
		err := l.Wait(ctx, "eth_getLogs")
		require.NoError(t, err, "request %d should not error", i)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	}
}

func TestLimiter_WaitWhenExhausted(t *testing.T) {
	l := NewLimiter(10, 1) // 1 token every 100ms
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "eth_call"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "eth_call"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := NewLimiter(1, 1)
	require.NoError(t, l.Wait(context.Background(), "eth_call"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, l.Wait(ctx, "eth_call"))
}

func TestLimiter_NilIsNoop(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background(), "eth_call"))

	called := false
	err := l.Do(context.Background(), "eth_call", time.Second, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestLimiter_DoAppliesTimeout(t *testing.T) {
	l := NewLimiter(100, 10)

	err := l.Do(context.Background(), "eth_getLogs", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_DoReturnsCallError(t *testing.T) {
	l := NewLimiter(100, 10)
	want := errors.New("boom")

	err := l.Do(context.Background(), "eth_call", time.Second, func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("429 Too Many Requests"), "rate_limited"},
		{errors.New("502 bad gateway"), "server_error"},
		{errors.New("dial tcp: connection refused"), "network_error"},
		{errors.New("execution reverted"), "reverted"},
		{errors.New("invalid argument"), "client_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRPCError(tt.err), "%v", tt.err)
	}
}
