// Package notify delivers notifications to subscriber destinations.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/metrics"
)

// Sink delivers a notification to a list of destination IDs.
type Sink interface {
	Deliver(ctx context.Context, destinationIDs []string, n model.Notification) Report
}

// Destination is one resolved delivery target.
type Destination interface {
	ID() string
	Kind() string
	Accepts(kind model.NotificationKind) bool
	Send(ctx context.Context, n model.Notification) error
}

// Directory resolves destination IDs.
type Directory interface {
	Resolve(id string) (Destination, bool)
}

// Report summarizes one Deliver call. Every ID appears in at most one of
// the four lists.
type Report struct {
	Delivered  []string
	Failed     map[string]error
	Unresolved []string
	Rejected   []string
}

func (r Report) Attempted() int {
	return len(r.Delivered) + len(r.Failed)
}

// Err joins the send failures, if any.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, err := range r.Failed {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FanoutSink sends to each destination once, in the order given. A failure
// at one destination does not affect the others and is not retried.
type FanoutSink struct {
	directory Directory
	logger    *slog.Logger
}

var _ Sink = (*FanoutSink)(nil)

func NewFanoutSink(directory Directory, logger *slog.Logger) *FanoutSink {
	return &FanoutSink{
		directory: directory,
		logger:    logger.With("component", "notify"),
	}
}

func (f *FanoutSink) Deliver(ctx context.Context, destinationIDs []string, n model.Notification) Report {
	report := Report{Failed: make(map[string]error)}
	contract := n.ContractName()

	for _, id := range model.UniqueIDs(destinationIDs) {
		if ctx.Err() != nil {
			f.logger.Warn("delivery aborted", "contract", contract, "destination", id, "error", ctx.Err())
			report.Failed[id] = ctx.Err()
			continue
		}

		dest, ok := f.directory.Resolve(id)
		if !ok {
			f.logger.Warn("destination not found, skipping", "contract", contract, "destination", id)
			metrics.DeliveriesTotal.WithLabelValues("unknown", "unresolved").Inc()
			report.Unresolved = append(report.Unresolved, id)
			continue
		}
		if !dest.Accepts(n.Kind) {
			f.logger.Debug("destination does not accept notification kind",
				"contract", contract, "destination", id, "kind", n.Kind)
			metrics.DeliveriesTotal.WithLabelValues(dest.Kind(), "rejected").Inc()
			report.Rejected = append(report.Rejected, id)
			continue
		}

		if err := dest.Send(ctx, n); err != nil {
			f.logger.Warn("notification send failed",
				"contract", contract,
				"destination", id,
				"destination_kind", dest.Kind(),
				"kind", n.Kind,
				"error", err,
			)
			metrics.DeliveriesTotal.WithLabelValues(dest.Kind(), "failed").Inc()
			report.Failed[id] = err
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues(dest.Kind(), "delivered").Inc()
		report.Delivered = append(report.Delivered, id)
	}
	return report
}
