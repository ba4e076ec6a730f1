package price

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/cache"
	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

const (
	DefaultDecimals = 18

	tokenCacheSize   = 1024
	tokenCacheTTL    = 24 * time.Hour
	tokenFallbackTTL = 5 * time.Minute
)

// TokenInfo reads and caches ERC-20 decimals and symbols. Failed lookups
// fall back to 18 decimals and a shortened address, cached briefly.
type TokenInfo struct {
	client   chain.Client
	decimals *cache.LRU[common.Address, uint8]
	symbols  *cache.LRU[common.Address, string]
	logger   *slog.Logger
}

func NewTokenInfo(client chain.Client, logger *slog.Logger) *TokenInfo {
	return &TokenInfo{
		client:   client,
		decimals: cache.NewLRU[common.Address, uint8](tokenCacheSize, tokenCacheTTL),
		symbols:  cache.NewLRU[common.Address, string](tokenCacheSize, tokenCacheTTL),
		logger:   logger.With("component", "token_info"),
	}
}

func (t *TokenInfo) Decimals(ctx context.Context, token common.Address) uint8 {
	if d, ok := t.decimals.Get(token); ok {
		return d
	}
	d, err := chain.Decimals(ctx, t.client, token)
	if err != nil {
		t.logger.Debug("decimals lookup failed, assuming 18", "token", token.Hex(), "error", err)
		t.decimals.PutWithTTL(token, DefaultDecimals, tokenFallbackTTL)
		return DefaultDecimals
	}
	t.decimals.Put(token, d)
	return d
}

func (t *TokenInfo) Symbol(ctx context.Context, token common.Address) string {
	if s, ok := t.symbols.Get(token); ok {
		return s
	}
	s, err := chain.Symbol(ctx, t.client, token)
	s = strings.TrimSpace(s)
	if err != nil || s == "" {
		fallback := model.ShortAddress(token.Hex())
		t.logger.Debug("symbol lookup failed, using address", "token", token.Hex(), "error", err)
		t.symbols.PutWithTTL(token, fallback, tokenFallbackTTL)
		return fallback
	}
	t.symbols.Put(token, s)
	return s
}

// ScaleAmount converts a raw on-chain integer amount into token units.
func ScaleAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// ToBaseUnits converts a token-unit amount into its raw integer form,
// truncating any precision beyond decimals.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}
