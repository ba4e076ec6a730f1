package price

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoSource uses /simple/token_price with the reference symbol as
// vs_currency.
type CoinGeckoSource struct {
	http      *resty.Client
	platform  string
	reference string
}

func NewCoinGeckoSource(baseURL, platform, referenceSymbol, apiKey string, timeout time.Duration) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		header := "x-cg-demo-api-key"
		if strings.Contains(baseURL, "pro-api") {
			header = "x-cg-pro-api-key"
		}
		client.SetHeader(header, apiKey)
	}
	return &CoinGeckoSource{
		http:      client,
		platform:  platform,
		reference: strings.ToLower(referenceSymbol),
	}
}

func (c *CoinGeckoSource) Name() model.PriceSource { return model.PriceSourceCoinGecko }

func (c *CoinGeckoSource) Quote(ctx context.Context, amount decimal.Decimal, token common.Address) (decimal.Decimal, error) {
	contract := strings.ToLower(token.Hex())

	// Prices are decoded as json.Number so decimal never sees a float.
	var result map[string]map[string]json.Number
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("platform", c.platform).
		SetQueryParam("contract_addresses", contract).
		SetQueryParam("vs_currencies", c.reference).
		Get("/simple/token_price/{platform}")
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko request: %w", err)
	}
	if !resp.IsSuccess() {
		return decimal.Zero, fmt.Errorf("coingecko http status %d", resp.StatusCode())
	}

	dec := json.NewDecoder(strings.NewReader(resp.String()))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("decode coingecko response: %w", err)
	}

	for addr, prices := range result {
		if !strings.EqualFold(addr, contract) {
			continue
		}
		raw, ok := prices[c.reference]
		if !ok {
			return decimal.Zero, ErrNoQuote
		}
		unit, err := decimal.NewFromString(raw.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("coingecko price %q: %w", raw, err)
		}
		return unit.Mul(amount), nil
	}
	return decimal.Zero, ErrNoQuote
}
