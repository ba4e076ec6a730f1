// Package price expresses an amount of a payment token in the reference
// (native) currency by trying on-chain and off-chain sources in order.
package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/circuitbreaker"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/metrics"
)

// ErrNoQuote is returned by a Source that has no price for the token.
var ErrNoQuote = errors.New("no quote")

const defaultSourceTimeout = 5 * time.Second

// Source values amount of token in the reference currency.
type Source interface {
	Name() model.PriceSource
	Quote(ctx context.Context, amount decimal.Decimal, token common.Address) (decimal.Decimal, error)
}

type Options struct {
	// SourceTimeout bounds each source lookup.
	SourceTimeout    time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
	Logger           *slog.Logger
}

type guardedSource struct {
	source  Source
	breaker *circuitbreaker.Breaker
}

// Resolver walks its sources in order and returns the first strictly
// positive value. It never returns an error: exhausting every source
// yields an unknown quote.
type Resolver struct {
	sources []guardedSource
	timeout time.Duration
	logger  *slog.Logger
}

func NewResolver(sources []Source, opts Options) *Resolver {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = defaultSourceTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "price_resolver")

	guarded := make([]guardedSource, 0, len(sources))
	for _, s := range sources {
		if s == nil {
			continue
		}
		guarded = append(guarded, guardedSource{
			source: s,
			breaker: circuitbreaker.New(circuitbreaker.Config{
				Name:             "price_" + string(s.Name()),
				FailureThreshold: opts.FailureThreshold,
				OpenTimeout:      opts.OpenTimeout,
				OnStateChange: func(name string, from, to circuitbreaker.State) {
					logger.Warn("price source breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	return &Resolver{sources: guarded, timeout: opts.SourceTimeout, logger: logger}
}

// Resolve values amount of token. token may be the native sentinel or an
// ERC-20 address.
func (r *Resolver) Resolve(ctx context.Context, amount decimal.Decimal, token string) model.PriceQuote {
	if model.IsNativeToken(token) {
		return model.KnownQuote(amount, amount, model.PriceSourceNative)
	}
	if amount.IsZero() {
		return model.KnownQuote(amount, decimal.Zero, model.PriceSourceZero)
	}
	if !model.IsHexAddress(token) {
		r.logger.Debug("unresolvable payment token", "token", token)
		return model.UnknownQuote(amount)
	}
	addr := common.HexToAddress(strings.TrimSpace(token))

	for _, gs := range r.sources {
		if ctx.Err() != nil {
			break
		}
		value, err := r.try(ctx, gs, amount, addr)
		if err != nil {
			r.logger.Debug("price source failed", "source", gs.source.Name(), "token", addr.Hex(), "error", err)
			continue
		}
		if !value.IsPositive() {
			metrics.PriceSourceResults.WithLabelValues(string(gs.source.Name()), "miss").Inc()
			continue
		}
		return model.KnownQuote(amount, value, gs.source.Name())
	}
	return model.UnknownQuote(amount)
}

func (r *Resolver) try(ctx context.Context, gs guardedSource, amount decimal.Decimal, token common.Address) (value decimal.Decimal, err error) {
	name := string(gs.source.Name())
	noQuote := false
	start := time.Now()
	defer func() {
		metrics.PriceSourceLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	err = gs.breaker.Execute(ctx, func(ctx context.Context) (callErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				metrics.PriceSourceResults.WithLabelValues(name, "panic").Inc()
				callErr = fmt.Errorf("price source %s panicked: %v", name, rec)
			}
		}()
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		value, callErr = gs.source.Quote(callCtx, amount, token)
		if errors.Is(callErr, ErrNoQuote) {
			// Missing listings do not count against the breaker.
			noQuote = true
			return nil
		}
		return callErr
	})
	if err == nil && noQuote {
		err = ErrNoQuote
	}

	switch {
	case err == nil:
		metrics.PriceSourceResults.WithLabelValues(name, "hit").Inc()
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.PriceSourceResults.WithLabelValues(name, "open").Inc()
	case errors.Is(err, ErrNoQuote):
		metrics.PriceSourceResults.WithLabelValues(name, "miss").Inc()
	default:
		metrics.PriceSourceResults.WithLabelValues(name, "error").Inc()
	}
	return value, err
}
