package price

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

const DefaultDexScreenerURL = "https://api.dexscreener.com"

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

type dexScreenerPair struct {
	ChainID     string `json:"chainId"`
	PriceNative string `json:"priceNative"`
	BaseToken   struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	QuoteToken struct {
		Address string `json:"address"`
	} `json:"quoteToken"`
}

// DexScreenerSource uses the priceNative of the first pair on the
// configured chain that trades the payment token against wrapped native.
// priceNative is denominated in the pair's quote token, so pairs quoted in
// anything else are ignored.
type DexScreenerSource struct {
	http          *resty.Client
	chainID       string
	wrappedNative common.Address
}

func NewDexScreenerSource(baseURL, chainID string, wrappedNative common.Address, timeout time.Duration) *DexScreenerSource {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	return &DexScreenerSource{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		chainID:       strings.ToLower(chainID),
		wrappedNative: wrappedNative,
	}
}

func (d *DexScreenerSource) Name() model.PriceSource { return model.PriceSourceDexScreener }

func (d *DexScreenerSource) Quote(ctx context.Context, amount decimal.Decimal, token common.Address) (decimal.Decimal, error) {
	var result dexScreenerResponse
	resp, err := d.http.R().
		SetContext(ctx).
		SetPathParam("token", token.Hex()).
		SetResult(&result).
		Get("/latest/dex/tokens/{token}")
	if err != nil {
		return decimal.Zero, fmt.Errorf("dexscreener request: %w", err)
	}
	if !resp.IsSuccess() {
		return decimal.Zero, fmt.Errorf("dexscreener http status %d", resp.StatusCode())
	}

	for _, pair := range result.Pairs {
		if d.chainID != "" && strings.ToLower(pair.ChainID) != d.chainID {
			continue
		}
		if !strings.EqualFold(pair.BaseToken.Address, token.Hex()) {
			continue
		}
		if !strings.EqualFold(pair.QuoteToken.Address, d.wrappedNative.Hex()) {
			continue
		}
		unit, err := decimal.NewFromString(pair.PriceNative)
		if err != nil {
			return decimal.Zero, fmt.Errorf("dexscreener priceNative %q: %w", pair.PriceNative, err)
		}
		return unit.Mul(amount), nil
	}
	return decimal.Zero, ErrNoQuote
}
