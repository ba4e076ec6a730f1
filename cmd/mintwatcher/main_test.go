package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emperorhan/mint-watcher/internal/config"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/pipeline"
	"github.com/emperorhan/mint-watcher/internal/price"
	"github.com/emperorhan/mint-watcher/internal/store/memory"
	storemocks "github.com/emperorhan/mint-watcher/internal/store/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel(" warn "))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
}

func TestBuildPriceSources(t *testing.T) {
	cfg := config.PriceConfig{
		RouterAddress:        "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		WrappedNativeAddress: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		DexScreenerURL:       "https://api.dexscreener.com",
		DexScreenerChain:     "ethereum",
		CoinGeckoURL:         "https://api.coingecko.com/api/v3",
		CoinGeckoPlatform:    "ethereum",
		StaticPrices:         "0x00000000000000000000000000000000000000cc=0.0004",
	}
	sources, err := buildPriceSources(cfg, "ETH", nil, price.NewTokenInfo(nil, discardLogger()))
	require.NoError(t, err)

	names := make([]model.PriceSource, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	assert.Equal(t, []model.PriceSource{
		model.PriceSourcePool,
		model.PriceSourceDexScreener,
		model.PriceSourceCoinGecko,
		model.PriceSourceStatic,
	}, names)
}

func TestBuildPriceSources_Optional(t *testing.T) {
	sources, err := buildPriceSources(config.PriceConfig{}, "ETH", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, sources)

	_, err = buildPriceSources(config.PriceConfig{StaticPrices: "garbage"}, "ETH", nil, nil)
	assert.ErrorContains(t, err, "STATIC_PRICES")
}

func TestBuildPriceSources_DexScreenerNeedsWrappedNative(t *testing.T) {
	sources, err := buildPriceSources(config.PriceConfig{
		RouterAddress:        "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		WrappedNativeAddress: "not-an-address",
		DexScreenerURL:       "https://api.dexscreener.com",
		CoinGeckoURL:         "https://api.coingecko.com/api/v3",
	}, "ETH", nil, nil)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, model.PriceSourceCoinGecko, sources[0].Name())
}

func seedEntry(name string) *model.WatchEntry {
	return &model.WatchEntry{
		Name:            name,
		ContractAddress: "0x00000000000000000000000000000000000000aa",
		MintPrice:       decimal.RequireFromString("0.01"),
		PaymentToken:    model.NativeToken,
	}
}

func TestSeedWatchlist(t *testing.T) {
	repo := memory.NewWatchlistRepo()
	ctx := context.Background()
	require.NoError(t, seedWatchlist(ctx, repo, []*model.WatchEntry{seedEntry("a"), seedEntry("b")}, discardLogger()))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSeedWatchlist_UpsertError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storemocks.NewMockWatchlistRepository(ctrl)
	repo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(errors.New("read-only transaction"))

	err := seedWatchlist(context.Background(), repo, []*model.WatchEntry{seedEntry("a"), seedEntry("b")}, discardLogger())
	assert.ErrorContains(t, err, "seed watch entry a")
}

func TestOpenBackend_Memory(t *testing.T) {
	cfg := &config.Config{Dedup: config.DedupConfig{Backend: config.DedupBackendMemory}}
	b, err := openBackend(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer b.close()

	assert.Nil(t, b.db)
	assert.IsType(t, &memory.DedupRepo{}, b.dedup)
	assert.IsType(t, &memory.WatchlistRepo{}, b.watchlist)
}

type staticHealth []pipeline.HealthSnapshot

func (s staticHealth) Health() []pipeline.HealthSnapshot { return s }

func TestHealthMux(t *testing.T) {
	tests := []struct {
		name       string
		pollers    staticHealth
		wantStatus int
		wantBody   string
	}{
		{name: "no pollers", pollers: nil, wantStatus: http.StatusOK, wantBody: "ok"},
		{
			name: "all serving",
			pollers: staticHealth{
				{Contract: "a", Status: string(pipeline.HealthStatusHealthy)},
				{Contract: "b", Status: string(pipeline.HealthStatusDegraded)},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "one unhealthy",
			pollers: staticHealth{
				{Contract: "a", Status: string(pipeline.HealthStatusHealthy)},
				{Contract: "b", Status: string(pipeline.HealthStatusUnhealthy), ConsecutiveFailures: 5},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(newHealthMux(tt.pollers, discardLogger()))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/readyz")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var body readyResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantBody, body.Status)
			assert.Len(t, body.Pollers, len(tt.pollers))
		})
	}
}

func TestHealthMux_LivenessAndMetrics(t *testing.T) {
	srv := httptest.NewServer(newHealthMux(staticHealth(nil), discardLogger()))
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
