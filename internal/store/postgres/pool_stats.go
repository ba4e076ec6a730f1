package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/emperorhan/mint-watcher/internal/metrics"
)

type statsProvider interface {
	Stats() sql.DBStats
}

type poolGauges struct {
	open      prometheus.Gauge
	inUse     prometheus.Gauge
	idle      prometheus.Gauge
	waitCount prometheus.Gauge
}

func defaultPoolGauges() poolGauges {
	return poolGauges{
		open:      metrics.DBPoolOpen,
		inUse:     metrics.DBPoolInUse,
		idle:      metrics.DBPoolIdle,
		waitCount: metrics.DBPoolWaitCount,
	}
}

func collectPoolStats(db statsProvider, gauges poolGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.Set(float64(stats.OpenConnections))
	gauges.inUse.Set(float64(stats.InUse))
	gauges.idle.Set(float64(stats.Idle))
	gauges.waitCount.Set(float64(stats.WaitCount))
	return nil
}

// RunPoolStatsPump samples pool statistics into Prometheus every interval
// until ctx is done.
func (db *DB) RunPoolStatsPump(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	gauges := defaultPoolGauges()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := collectPoolStats(db.DB, gauges); err != nil {
		logger.Warn("failed to collect initial db pool stats", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := collectPoolStats(db.DB, gauges); err != nil {
				logger.Warn("failed to collect db pool stats", "error", err)
			}
		}
	}
}
