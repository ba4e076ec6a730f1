package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emperorhan/mint-watcher/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter shared by every RPC call the
// process makes against its selected endpoint.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a rate limiter that allows rps requests per second
// with a burst capacity of burst tokens. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the limiter allows one call of method, or ctx is done.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, method string) error {
	if l == nil {
		return ctx.Err()
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.RPCRateLimitWaits.WithLabelValues(method).Inc()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// Do waits for a token, runs fn under a per-call timeout and records the
// outcome.
func (l *Limiter) Do(ctx context.Context, method string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := l.Wait(ctx, method); err != nil {
		RecordRPCCall(method, err, 0)
		return err
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(callCtx)
	RecordRPCCall(method, err, time.Since(start))
	return err
}

// RecordRPCCall records an RPC call metric with status classification.
func RecordRPCCall(method string, err error, elapsed time.Duration) {
	status := ClassifyRPCError(err)
	metrics.RPCCallsTotal.WithLabelValues(method, status).Inc()
	if elapsed > 0 {
		metrics.RPCCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

// ClassifyRPCError classifies an RPC error into a category.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests"):
		return "rate_limited"
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server error"):
		return "server_error"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "network is unreachable") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof"):
		return "network_error"
	case strings.Contains(lower, "execution reverted"):
		return "reverted"
	default:
		return "client_error"
	}
}
