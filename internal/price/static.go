package price

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

// StaticSource is the last-resort table of per-unit reference prices.
type StaticSource struct {
	prices map[common.Address]decimal.Decimal
}

func NewStaticSource(prices map[common.Address]decimal.Decimal) *StaticSource {
	cp := make(map[common.Address]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticSource{prices: cp}
}

func (s *StaticSource) Name() model.PriceSource { return model.PriceSourceStatic }

func (s *StaticSource) Quote(_ context.Context, amount decimal.Decimal, token common.Address) (decimal.Decimal, error) {
	unit, ok := s.prices[token]
	if !ok {
		return decimal.Zero, ErrNoQuote
	}
	return unit.Mul(amount), nil
}

// ParseStaticPrices parses "0xaddr=0.0004,0xaddr2=1" into a price table.
func ParseStaticPrices(raw string) (map[common.Address]decimal.Decimal, error) {
	out := make(map[common.Address]decimal.Decimal)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("static price %q: expected address=price", part)
		}
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("static price %q: invalid address", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("static price %q: %w", part, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("static price %q: must be positive", part)
		}
		out[common.HexToAddress(addr)] = d
	}
	return out, nil
}
