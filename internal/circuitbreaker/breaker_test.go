package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move past OpenTimeout without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New(cfg)
	b.nowFn = clock.Now
	return b, clock
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, StateClosed, b.GetState())
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 1, b.successThreshold)
	assert.Equal(t, 30*time.Second, b.openTimeout)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Name: "dexscreener", FailureThreshold: 3, OpenTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	require.NoError(t, b.Allow(), "should still be closed below threshold")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.GetState())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Minute})

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.Advance(61 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.GetState())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Minute})

	b.RecordFailure()
	clock.Advance(2 * time.Minute)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.GetState())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b, _ := newTestBreaker(Config{
		Name:             "coingecko",
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	b.RecordFailure()
	assert.Equal(t, []string{"coingecko:closed->open"}, transitions)
}

func TestBreaker_Execute(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return boom }), boom)
	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return boom }), boom)

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_ExecuteIgnoresCallerCancellation(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := New(Config{FailureThreshold: 100})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Allow()
			if i%2 == 0 {
				b.RecordFailure()
			} else {
				b.RecordSuccess()
			}
			_ = b.GetState()
		}(i)
	}
	wg.Wait()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
