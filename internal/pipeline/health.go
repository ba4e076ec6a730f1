package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/emperorhan/mint-watcher/internal/metrics"
)

// HealthStatus represents the health state of a poller.
type HealthStatus string

const (
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusInactive  HealthStatus = "INACTIVE"
	HealthStatusDegraded  HealthStatus = "DEGRADED"

	// DefaultUnhealthyThreshold is the number of consecutive skipped
	// cycles before a poller is considered unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatencyThreshold is the P95 cycle latency above which
	// a poller is considered degraded.
	DefaultDegradedLatencyThreshold = 10 * time.Second

	latencyWindowSize = 10
)

func (s HealthStatus) gaugeValue() float64 {
	switch s {
	case HealthStatusHealthy:
		return 1
	case HealthStatusUnhealthy:
		return 2
	case HealthStatusInactive:
		return 3
	case HealthStatusDegraded:
		return 4
	default:
		return 0
	}
}

// PollerHealth tracks the health of one contract's poller.
type PollerHealth struct {
	mu                       sync.RWMutex
	contract                 string
	status                   HealthStatus
	consecutiveFailures      int
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	lastBlock                uint64
	unhealthyThreshold       int
	recentLatencies          []time.Duration
	degradedLatencyThreshold time.Duration
	nowFn                    func() time.Time
}

func NewPollerHealth(contract string, unhealthyThreshold int) *PollerHealth {
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = DefaultUnhealthyThreshold
	}
	h := &PollerHealth{
		contract:                 contract,
		status:                   HealthStatusUnknown,
		unhealthyThreshold:       unhealthyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
		nowFn:                    time.Now,
	}
	h.publish()
	return h
}

// SetStatus sets the health status directly.
func (h *PollerHealth) SetStatus(status HealthStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
	h.publish()
}

// RecordSuccess records a completed cycle for block and its latency.
// Returns true if this recovers the poller from UNHEALTHY.
func (h *PollerHealth) RecordSuccess(block uint64, latency time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	wasUnhealthy := h.status == HealthStatusUnhealthy
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	if block > h.lastBlock {
		h.lastBlock = block
	}
	if len(h.recentLatencies) >= latencyWindowSize {
		h.recentLatencies = h.recentLatencies[1:]
	}
	h.recentLatencies = append(h.recentLatencies, latency)
	if h.isLatencyDegraded() {
		h.status = HealthStatusDegraded
	} else {
		h.status = HealthStatusHealthy
	}
	h.publish()
	return wasUnhealthy
}

// RecordFailure records a skipped cycle. Returns true if the poller
// transitioned to UNHEALTHY on this call.
func (h *PollerHealth) RecordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	transitioned := false
	if h.consecutiveFailures >= h.unhealthyThreshold && h.status != HealthStatusUnhealthy {
		h.status = HealthStatusUnhealthy
		transitioned = true
	}
	h.publish()
	return transitioned
}

// isLatencyDegraded must be called with mu held.
func (h *PollerHealth) isLatencyDegraded() bool {
	if len(h.recentLatencies) < 2 {
		return false
	}
	return h.percentileLatency(95) > h.degradedLatencyThreshold
}

// percentileLatency must be called with mu held.
func (h *PollerHealth) percentileLatency(pct int) time.Duration {
	n := len(h.recentLatencies)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(h.recentLatencies)
	slices.Sort(sorted)
	idx := (pct*n - 1) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// publish must be called with mu held.
func (h *PollerHealth) publish() {
	metrics.PollerHealthStatus.WithLabelValues(h.contract).Set(h.status.gaugeValue())
	metrics.PollerConsecutiveFailures.WithLabelValues(h.contract).Set(float64(h.consecutiveFailures))
}

// Forget removes the contract's health series.
func (h *PollerHealth) Forget() {
	metrics.PollerHealthStatus.DeleteLabelValues(h.contract)
	metrics.PollerConsecutiveFailures.DeleteLabelValues(h.contract)
}

// Snapshot returns the current health state.
func (h *PollerHealth) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Contract:            h.contract,
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		LastBlock:           h.lastBlock,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
	}
}

// Healthy reports whether the poller is serving, possibly slowly.
func (s HealthSnapshot) Healthy() bool {
	return s.Status != string(HealthStatusUnhealthy)
}

// HealthSnapshot is a point-in-time view of poller health (JSON-safe).
type HealthSnapshot struct {
	Contract            string     `json:"contract"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastBlock           uint64     `json:"last_block"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}
