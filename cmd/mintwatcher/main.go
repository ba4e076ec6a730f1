package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/chain/evm"
	"github.com/emperorhan/mint-watcher/internal/chain/ratelimit"
	"github.com/emperorhan/mint-watcher/internal/config"
	"github.com/emperorhan/mint-watcher/internal/dedup"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/metadata"
	"github.com/emperorhan/mint-watcher/internal/notify"
	"github.com/emperorhan/mint-watcher/internal/pipeline"
	"github.com/emperorhan/mint-watcher/internal/price"
	"github.com/emperorhan/mint-watcher/internal/store"
	"github.com/emperorhan/mint-watcher/internal/store/memory"
	"github.com/emperorhan/mint-watcher/internal/store/postgres"
	redispkg "github.com/emperorhan/mint-watcher/internal/store/redis"
	"github.com/emperorhan/mint-watcher/internal/tracing"
)

const serviceName = "mint-watcher"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("mint-watcher exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("mint-watcher shut down gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting mint-watcher",
		"rpc_endpoints", len(cfg.RPC.Endpoints),
		"dedup_backend", cfg.Dedup.Backend,
		"flush_every_n_blocks", cfg.Dedup.FlushEveryNBlocks,
		"poll_overlap_blocks", cfg.Pipeline.OverlapBlocks,
		"reference_symbol", cfg.Pipeline.ReferenceSymbol,
	)

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: serviceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	seed, err := config.LoadSeed(cfg.WatchlistFile)
	if err != nil {
		return err
	}
	entries, err := seed.Entries()
	if err != nil {
		return fmt.Errorf("watchlist seed: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()
	if backend.db != nil {
		db := backend.db
		g.Go(func() error {
			db.RunPoolStatsPump(gCtx, time.Duration(cfg.DB.PoolStatsIntervalMS)*time.Millisecond, logger)
			return nil
		})
	}

	if err := seedWatchlist(ctx, backend.watchlist, entries, logger); err != nil {
		return err
	}

	client, endpoint, err := chain.Select(ctx, cfg.RPC.Endpoints, cfg.RPC.ProbeTimeout, evm.Dialer(evm.Options{
		CallTimeout:  cfg.RPC.CallTimeout,
		PollInterval: cfg.RPC.PollInterval,
		Limiter:      ratelimit.NewLimiter(cfg.RPC.RateLimitRPS, cfg.RPC.RateBurst),
		Logger:       logger,
	}), logger)
	if err != nil {
		return fmt.Errorf("select rpc endpoint: %w", err)
	}
	if c, ok := client.(chain.Closer); ok {
		defer c.Close()
	}
	logger.Info("chain client ready", "endpoint", endpoint)

	tokens := price.NewTokenInfo(client, logger)
	sources, err := buildPriceSources(cfg.Price, cfg.Pipeline.ReferenceSymbol, client, tokens)
	if err != nil {
		return err
	}
	prices := price.NewResolver(sources, price.Options{
		SourceTimeout:    cfg.Price.SourceTimeout,
		FailureThreshold: cfg.Price.FailureThreshold,
		OpenTimeout:      cfg.Price.OpenTimeout,
		Logger:           logger,
	})
	images := metadata.NewResolver(client, metadata.Options{
		IPFSGateway:    cfg.Metadata.IPFSGateway,
		ArweaveGateway: cfg.Metadata.ArweaveGateway,
		Placeholder:    cfg.Metadata.Placeholder,
		Timeout:        cfg.Metadata.Timeout,
		CacheSize:      cfg.Metadata.CacheSize,
		Logger:         logger,
	})

	directory, err := notify.BuildDirectory(seed.Destinations, logger)
	if err != nil {
		return fmt.Errorf("build destinations: %w", err)
	}
	logger.Info("notification destinations configured", "count", directory.Len())

	deps := pipeline.Deps{
		Client:             client,
		Dedup:              dedup.New(backend.dedup, cfg.Dedup.FlushEveryNBlocks, logger),
		Prices:             prices,
		Tokens:             tokens,
		Images:             images,
		Sink:               notify.NewFanoutSink(directory, logger),
		Links:              pipeline.LinkTemplates{Collection: cfg.Links.Collection, Item: cfg.Links.Item},
		ReferenceSymbol:    cfg.Pipeline.ReferenceSymbol,
		OverlapBlocks:      cfg.Pipeline.OverlapBlocks,
		UnhealthyThreshold: cfg.Pipeline.UnhealthyThreshold,
		Logger:             logger,
	}
	broadcaster := pipeline.NewBroadcaster(logger)
	manager := pipeline.NewManager(deps, broadcaster)

	started, err := manager.LoadWatchlist(ctx, backend.watchlist)
	if err != nil {
		return err
	}
	logger.Info("watchlist loaded", "contracts", started)

	blocks, err := client.SubscribeNewBlocks(gCtx)
	if err != nil {
		return fmt.Errorf("subscribe new blocks: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, manager, logger)
	})
	g.Go(func() error {
		return broadcaster.Run(gCtx, blocks)
	})
	g.Go(func() error {
		return manager.Run(gCtx)
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// backend bundles the persistence selected by DEDUP_BACKEND. The watchlist
// lives in Postgres when a database is configured and in memory otherwise.
type backend struct {
	dedup     store.DedupStateRepository
	watchlist store.WatchlistRepository
	db        *postgres.DB
	closers   []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	switch cfg.Dedup.Backend {
	case config.DedupBackendPostgres:
		db, err := postgres.New(ctx, postgres.Config{
			URL:                cfg.DB.URL,
			MaxOpenConns:       cfg.DB.MaxOpenConns,
			MaxIdleConns:       cfg.DB.MaxIdleConns,
			ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
			StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		if err := db.RunMigrations(ctx, cfg.DB.MigrationsDir); err != nil {
			b.close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("connected to database")
		b.db = db
		b.dedup = postgres.NewDedupRepo(db)
		b.watchlist = postgres.NewWatchlistRepo(db)
	case config.DedupBackendRedis:
		client, err := redispkg.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		logger.Info("connected to redis", "namespace", cfg.Redis.Namespace)
		b.dedup = redispkg.NewDedupStore(client, cfg.Redis.Namespace)
		b.watchlist = memory.NewWatchlistRepo()
	default:
		logger.Warn("dedup state is kept in memory only and is lost on restart")
		b.dedup = memory.NewDedupRepo()
		b.watchlist = memory.NewWatchlistRepo()
	}
	return b, nil
}

// seedWatchlist upserts the entries declared in the seed file. Stored
// entries not in the file are left untouched.
func seedWatchlist(ctx context.Context, repo store.WatchlistRepository, entries []*model.WatchEntry, logger *slog.Logger) error {
	for _, entry := range entries {
		if err := repo.Upsert(ctx, entry); err != nil {
			return fmt.Errorf("seed watch entry %s: %w", entry.Name, err)
		}
	}
	if len(entries) > 0 {
		logger.Info("seeded watchlist from file", "count", len(entries))
	}
	return nil
}

// buildPriceSources returns the resolver chain in priority order: on-chain
// pool, DexScreener, CoinGecko, static table.
func buildPriceSources(cfg config.PriceConfig, referenceSymbol string, client chain.Client, tokens *price.TokenInfo) ([]price.Source, error) {
	var sources []price.Source
	hasWrapped := model.IsHexAddress(cfg.WrappedNativeAddress)
	wrapped := common.HexToAddress(cfg.WrappedNativeAddress)
	if model.IsHexAddress(cfg.RouterAddress) && hasWrapped {
		sources = append(sources, price.NewPoolSource(client,
			common.HexToAddress(cfg.RouterAddress),
			wrapped,
			tokens,
		))
	}
	// DexScreener prices are only usable against wrapped native pairs.
	if cfg.DexScreenerURL != "" && hasWrapped {
		sources = append(sources, price.NewDexScreenerSource(cfg.DexScreenerURL, cfg.DexScreenerChain, wrapped, cfg.SourceTimeout))
	}
	if cfg.CoinGeckoURL != "" {
		sources = append(sources, price.NewCoinGeckoSource(cfg.CoinGeckoURL, cfg.CoinGeckoPlatform, referenceSymbol, cfg.CoinGeckoAPIKey, cfg.SourceTimeout))
	}
	if cfg.StaticPrices != "" {
		table, err := price.ParseStaticPrices(cfg.StaticPrices)
		if err != nil {
			return nil, fmt.Errorf("STATIC_PRICES: %w", err)
		}
		sources = append(sources, price.NewStaticSource(table))
	}
	return sources, nil
}

type healthReporter interface {
	Health() []pipeline.HealthSnapshot
}

type readyResponse struct {
	Status  string                    `json:"status"`
	Pollers []pipeline.HealthSnapshot `json:"pollers"`
}

func newHealthMux(reporter healthReporter, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		resp := readyResponse{Status: "ok", Pollers: reporter.Health()}
		status := http.StatusOK
		for _, p := range resp.Pollers {
			if !p.Healthy() {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("failed to write readiness response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func runHealthServer(ctx context.Context, port int, reporter healthReporter, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newHealthMux(reporter, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
