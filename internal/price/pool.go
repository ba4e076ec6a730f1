package price

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

const nativeDecimals = 18

// PoolSource asks a Uniswap-V2 style router how much wrapped native is
// needed to buy amount of token: getAmountsIn(amount, [wrappedNative, token]).
type PoolSource struct {
	client        chain.Client
	router        common.Address
	wrappedNative common.Address
	tokens        *TokenInfo
}

func NewPoolSource(client chain.Client, router, wrappedNative common.Address, tokens *TokenInfo) *PoolSource {
	return &PoolSource{client: client, router: router, wrappedNative: wrappedNative, tokens: tokens}
}

func (p *PoolSource) Name() model.PriceSource { return model.PriceSourcePool }

func (p *PoolSource) Quote(ctx context.Context, amount decimal.Decimal, token common.Address) (decimal.Decimal, error) {
	if token == p.wrappedNative {
		return amount, nil
	}

	amountOut := ToBaseUnits(amount, p.tokens.Decimals(ctx, token))
	if amountOut.Sign() <= 0 {
		return decimal.Zero, ErrNoQuote
	}

	amounts, err := chain.AmountsIn(ctx, p.client, p.router, amountOut, []common.Address{p.wrappedNative, token})
	if err != nil {
		return decimal.Zero, fmt.Errorf("router quote: %w", err)
	}
	if len(amounts) == 0 || amounts[0] == nil {
		return decimal.Zero, ErrNoQuote
	}
	return ScaleAmount(amounts[0], nativeDecimals), nil
}
