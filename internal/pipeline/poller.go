package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/metrics"
	"github.com/emperorhan/mint-watcher/internal/notify"
	"github.com/emperorhan/mint-watcher/internal/pipeline/failure"
	"github.com/emperorhan/mint-watcher/internal/tracing"
)

// State is the poller's position in its per-block cycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateClassifying
	StateValuing
	StateNotifying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateClassifying:
		return "classifying"
	case StateValuing:
		return "valuing"
	case StateNotifying:
		return "notifying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const DefaultOverlapBlocks = 1

// ImageResolver returns a displayable image for a token.
type ImageResolver interface {
	ImageURL(ctx context.Context, contract common.Address, tokenID *big.Int) string
}

// Deps are the collaborators shared by every poller.
type Deps struct {
	Client          chain.Client
	Dedup           Deduper
	Prices          PriceResolver
	Tokens          TokenMeta
	Images          ImageResolver
	Sink            notify.Sink
	Links           LinkTemplates
	ReferenceSymbol string
	// OverlapBlocks is how many blocks before B each cycle re-scans.
	OverlapBlocks      int
	UnhealthyThreshold int
	Logger             *slog.Logger
}

// CycleResult summarizes one processed block.
type CycleResult struct {
	Block         uint64
	Skipped       bool
	Logs          int
	Mints         int
	Sales         int
	Notifications int
	Flushed       bool
}

// Poller watches one contract. Cycles run strictly one after another.
type Poller struct {
	entry atomic.Pointer[model.WatchEntry]
	state atomic.Int32
	stop  chan struct{}
	once  sync.Once

	client     chain.Client
	dedup      Deduper
	classifier *Classifier
	valuer     *Valuer
	images     ImageResolver
	builder    *Builder
	sink       notify.Sink
	health     *PollerHealth
	overlap    uint64
	logger     *slog.Logger
}

func NewPoller(entry *model.WatchEntry, deps Deps) *Poller {
	overlap := deps.OverlapBlocks
	if overlap < 0 {
		overlap = DefaultOverlapBlocks
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		stop:       make(chan struct{}),
		client:     deps.Client,
		dedup:      deps.Dedup,
		classifier: NewClassifier(deps.Dedup),
		valuer:     NewValuer(deps.Client, deps.Prices, deps.Tokens, deps.ReferenceSymbol),
		images:     deps.Images,
		builder:    NewBuilder(deps.Links, deps.ReferenceSymbol),
		sink:       deps.Sink,
		health:     NewPollerHealth(entry.Name, deps.UnhealthyThreshold),
		overlap:    uint64(overlap),
		logger:     logger.With("component", "poller", "contract", entry.Name),
	}
	p.entry.Store(entry.Clone())
	return p
}

func (p *Poller) Name() string { return p.Entry().Name }

// Entry returns a copy of the current watch entry.
func (p *Poller) Entry() *model.WatchEntry { return p.entry.Load().Clone() }

// UpdateEntry swaps the entry used by subsequent cycles.
func (p *Poller) UpdateEntry(entry *model.WatchEntry) { p.entry.Store(entry.Clone()) }

func (p *Poller) State() State { return State(p.state.Load()) }

func (p *Poller) Health() *PollerHealth { return p.health }

func (p *Poller) setState(s State) {
	if p.State() == StateStopped {
		return
	}
	p.state.Store(int32(s))
}

// Stop prevents new cycles from starting. A cycle already in progress runs
// to completion.
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stop) })
}

func (p *Poller) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Run processes blocks until the channel closes, Stop is called or ctx is
// done.
func (p *Poller) Run(ctx context.Context, blocks <-chan uint64) error {
	metrics.ActivePollers.Inc()
	defer func() {
		metrics.ActivePollers.Dec()
		p.state.Store(int32(StateStopped))
		p.health.SetStatus(HealthStatusInactive)
	}()
	p.logger.Info("poller started", "contract_address", p.entry.Load().ContractAddress)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			p.logger.Info("poller stopped")
			return nil
		case block, ok := <-blocks:
			if !ok {
				p.logger.Info("block stream closed, poller stopping")
				return nil
			}
			if p.stopped() {
				return nil
			}
			p.Cycle(ctx, block)
		}
	}
}

// Cycle runs Polling → Classifying → Valuing → Notifying for block and
// returns to Idle. It never returns an error: a failed log fetch skips the
// block, and individual events that cannot be processed are dropped.
func (p *Poller) Cycle(ctx context.Context, block uint64) (result CycleResult) {
	entry := p.entry.Load()
	name := entry.Name
	result.Block = block
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "poller.cycle",
		attribute.String("contract", name),
		attribute.Int64("block", int64(block)),
	)
	var spanErr error
	defer func() {
		if r := recover(); r != nil {
			spanErr = fmt.Errorf("poller panic: %v", r)
			p.logger.Error("poll cycle panicked", "block", block, "panic", r, "stack", string(debug.Stack()))
			metrics.PollCyclesTotal.WithLabelValues(name, "panic").Inc()
			p.health.RecordFailure()
			result.Skipped = true
		}
		tracing.EndSpan(span, spanErr)
		p.setState(StateIdle)
	}()

	p.setState(StatePolling)
	from := uint64(0)
	if block > p.overlap {
		from = block - p.overlap
	}
	contract := common.HexToAddress(entry.ContractAddress)
	logs, err := p.client.GetLogs(ctx, from, block, contract, [][]common.Hash{{chain.TransferTopic}})
	if err != nil {
		spanErr = err
		decision := failure.Classify(err)
		p.logger.Debug("log fetch failed, skipping block",
			"block", block,
			"from_block", from,
			"failure_kind", decision.Kind,
			"failure_reason", decision.Reason,
			"error", err,
		)
		metrics.PollCyclesTotal.WithLabelValues(name, "skipped").Inc()
		if p.health.RecordFailure() {
			p.logger.Warn("poller unhealthy", "consecutive_failures", p.health.Snapshot().ConsecutiveFailures)
		}
		result.Skipped = true
		return result
	}
	result.Logs = len(logs)

	p.setState(StateClassifying)
	classified := p.classifier.Classify(ctx, name, logs)
	result.Mints = len(classified.Mints)
	result.Sales = len(classified.Sales)

	var notifications []model.Notification
	if !classified.Empty() {
		p.setState(StateValuing)
		notifications = p.value(ctx, entry, block, classified)
	}

	if len(notifications) > 0 {
		p.setState(StateNotifying)
		for _, n := range notifications {
			report := p.sink.Deliver(ctx, entry.DestinationIDs, n)
			metrics.NotificationsTotal.WithLabelValues(name, string(n.Kind)).Inc()
			if err := report.Err(); err != nil {
				p.logger.Warn("notification partially delivered",
					"id", n.ID,
					"kind", n.Kind,
					"delivered", len(report.Delivered),
					"failed", len(report.Failed),
					"error", err,
				)
			}
		}
		result.Notifications = len(notifications)
	}

	flushed, err := p.dedup.FlushIfDue(ctx, name, block)
	if err != nil {
		p.logger.Warn("dedup flush failed", "block", block, "error", err)
	}
	result.Flushed = flushed

	outcome := "ok"
	if classified.Empty() {
		outcome = "empty"
	}
	elapsed := time.Since(start)
	metrics.PollCyclesTotal.WithLabelValues(name, outcome).Inc()
	metrics.PollCycleLatency.WithLabelValues(name).Observe(elapsed.Seconds())
	metrics.PollerLastBlock.WithLabelValues(name).Set(float64(block))
	if p.health.RecordSuccess(block, elapsed) {
		p.logger.Info("poller recovered", "block", block)
	}
	return result
}

// value builds the notifications for a classified batch: one aggregated
// mint notification and one per valued sale.
func (p *Poller) value(ctx context.Context, entry *model.WatchEntry, block uint64, c Classification) []model.Notification {
	contract := common.HexToAddress(entry.ContractAddress)
	var out []model.Notification

	if len(c.Mints) > 0 {
		var (
			value MintValue
			image string
		)
		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			value = p.valuer.ValueMint(gCtx, entry, len(c.Mints))
			return nil
		})
		g.Go(func() error {
			image = p.images.ImageURL(gCtx, contract, c.Mints[0].TokenID)
			return nil
		})
		_ = g.Wait()

		if !value.Quote.Known() {
			p.logger.Info("mint batch value unavailable",
				"block", block,
				"total_paid", value.Total.String(),
				"payment_token", entry.PaymentToken,
			)
		}
		out = append(out, p.builder.MintBatch(entry, block, c.Mints, value, image))
	}

	for _, ev := range c.Sales {
		var (
			sale    SaleValue
			saleErr error
			image   string
		)
		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sale, saleErr = p.valuer.ValueSale(gCtx, contract, ev)
			return nil
		})
		g.Go(func() error {
			image = p.images.ImageURL(gCtx, contract, ev.TokenID)
			return nil
		})
		_ = g.Wait()

		if saleErr != nil {
			reason := "unvalued"
			if errors.Is(saleErr, ErrNoPayment) {
				reason = "no_payment"
			} else if failure.Classify(saleErr).IsTransient() && !errors.Is(saleErr, ErrUnvalued) {
				reason = "transient"
			}
			metrics.EventsSkippedTotal.WithLabelValues(entry.Name, reason).Inc()
			p.logger.Debug("sale dropped",
				"block", block,
				"token_id", ev.ID(),
				"tx_hash", ev.TxHash.Hex(),
				"reason", reason,
				"error", saleErr,
			)
			continue
		}
		out = append(out, p.builder.Sale(entry, block, ev, sale, image))
	}
	return out
}
