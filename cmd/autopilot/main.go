// Autopilot coordinates a batch-auction competition round end to end:
// build the solvable-orders snapshot, fan it out to configured solver
// drivers, arbitrate their solutions locally, and settle the winner.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires collaborators, waits for SIGINT/SIGTERM
//	internal/runloop           — orchestrator: drives one competition round per tick
//	internal/cache             — builds the solvable-orders snapshot every driver solves against
//	internal/arbitrator        — picks winning solutions out of a tick's submissions
//	internal/driver            — HTTP client for one external solver-driver instance
//	internal/guard             — cools down solver drivers that keep timing out or erroring
//	internal/indexer           — streams settlement contract events from chain state
//	internal/chain             — thin Ethereum JSON-RPC gateway
//	internal/store/postgres    — relational persistence for orders, auctions, competition results
//	internal/store/objectstore — durable JSON archive of full auction payloads
//	internal/store/localcache  — durable dirty-balance tracking across restarts
//	internal/priceoracle       — native-token prices for scoring and order admission
//	internal/tokenquality      — rejects tokens that cannot be transferred cleanly
//	internal/balance           — transferable balance/allowance lookups
//	internal/metrics           — Prometheus counters and histograms
//	internal/liveness          — last-successful-tick health probe
//	internal/api               — competition-stream dashboard over HTTP/WebSocket
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shoalfin/auctioncore/internal/api"
	"github.com/shoalfin/auctioncore/internal/arbitrator"
	"github.com/shoalfin/auctioncore/internal/balance"
	"github.com/shoalfin/auctioncore/internal/cache"
	"github.com/shoalfin/auctioncore/internal/chain"
	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/internal/driver"
	"github.com/shoalfin/auctioncore/internal/guard"
	"github.com/shoalfin/auctioncore/internal/indexer"
	"github.com/shoalfin/auctioncore/internal/liveness"
	"github.com/shoalfin/auctioncore/internal/metrics"
	"github.com/shoalfin/auctioncore/internal/priceoracle"
	"github.com/shoalfin/auctioncore/internal/runloop"
	"github.com/shoalfin/auctioncore/internal/scoring"
	"github.com/shoalfin/auctioncore/internal/store/localcache"
	"github.com/shoalfin/auctioncore/internal/store/objectstore"
	"github.com/shoalfin/auctioncore/internal/store/postgres"
	"github.com/shoalfin/auctioncore/internal/tokenquality"
	"github.com/shoalfin/auctioncore/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("AUTOPILOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(*cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		logger.Error("failed to dial chain RPC", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	pg, err := postgres.Connect(ctx, cfg.Store.PostgresDSN, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	if err := pg.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	var archiver runloop.Archiver = noopArchiver{}
	if cfg.Store.ObjectStoreBucket != "" {
		store, err := objectstore.Open(ctx, cfg.Store.ObjectStoreBucket)
		if err != nil {
			logger.Error("failed to open object store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		archiver = store
	}

	var local *localcache.Store
	if cfg.Store.LocalCacheDir != "" {
		local, err = localcache.Open(cfg.Store.LocalCacheDir)
		if err != nil {
			logger.Error("failed to open local durable cache", "error", err)
			os.Exit(1)
		}
		defer local.Close()
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	prices := priceoracle.New(priceOracleBaseURL(), 30*time.Second, logger)
	quality := tokenquality.New(gateway, nil)
	balances := balance.New(gateway, common.HexToAddress(cfg.Chain.SettlementContract))

	var dirtyStore cache.DirtyStore
	if local != nil {
		dirtyStore = local
	}
	ordersCache := cache.New(
		pg, prices, quality, balances, nil, dirtyStore, m,
		cfg.Orders, cfg.BannedUsers,
		common.HexToAddress(cfg.Chain.WrappedNativeToken),
		common.HexToAddress(cfg.Chain.NativeTokenSentinel),
	)

	drivers := make([]runloop.Driver, 0, len(cfg.Drivers))
	for _, dc := range cfg.Drivers {
		drivers = append(drivers, driver.NewClient(dc, cfg.DryRun, logger))
	}

	arb := arbitrator.LocalArbitrator{
		MaxWinners:         cfg.Auction.MaxWinnersPerAuction,
		WrappedNativeToken: common.HexToAddress(cfg.Chain.WrappedNativeToken),
		NativeSentinel:     common.HexToAddress(cfg.Chain.NativeTokenSentinel),
		Score:              scoring.Default,
	}

	probe := liveness.NewProbe(cfg.Auction.MaxRunLoopDelay)

	var (
		hub       *api.Hub
		publisher *api.Publisher
		notifier  runloop.Notifier
	)
	if cfg.Dashboard.Enabled {
		hub = api.NewHub(logger)
		publisher = api.NewPublisher(nil, hub)
		notifier = publisher
	}

	ix := indexer.New(gateway, common.HexToAddress(cfg.Chain.SettlementContract), indexer.NewGPv2Decoder(), 0, logger)

	loop := runloop.New(
		runloop.Config{Tick: cfg.Tick, Auction: cfg.Auction, Drivers: cfg.Drivers},
		ordersCache, gateway, drivers,
		guard.New(3, time.Minute, logger),
		arb, pg, archiver, notifier, probe, ix.Settlements(), logger,
	)

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		publisher.Attach(loop)
		apiServer = api.NewServer(cfg.Dashboard, publisher, *cfg, hub, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	go func() {
		if err := ix.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("indexer stopped", "error", err)
		}
	}()
	go consumeCancellations(ctx, ix, pg, logger)
	go consumeTrades(ctx, ix, ordersCache, logger)

	startHealthServer(cfg, probe, registry, logger)

	go loop.Run(ctx)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no settlement transactions will be submitted")
	}
	logger.Info("autopilot started",
		"drivers", len(cfg.Drivers),
		"max_winners", cfg.Auction.MaxWinnersPerAuction,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	cancel()
	loop.Stop()
}

// consumeCancellations reconciles cancellation events observed on-chain
// with the orders table, so a cancelled order drops out of the next
// solvable-orders snapshot even if the cache's own poll hasn't seen it
// yet.
func consumeCancellations(ctx context.Context, ix *indexer.Indexer, pg *postgres.Store, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ix.Cancellations():
			if err := pg.CancelOrder(ctx, evt.OrderUID, time.Now()); err != nil {
				logger.Warn("failed to record observed cancellation", "order_uid", fmt.Sprintf("%x", evt.OrderUID), "error", err)
			}
		}
	}
}

// consumeTrades tells the orders cache which previously-fetched balances
// may now be stale whenever the indexer observes a trade, so the next
// Update re-fetches them from chain instead of trusting a cached value
// that predates the trade.
func consumeTrades(ctx context.Context, ix *indexer.Indexer, c *cache.Cache, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ix.Trades():
			if err := c.TrackBalanceChanges(ctx, evt.Block, evt.Block); err != nil {
				logger.Warn("failed to track balance changes from observed trade", "block", evt.Block, "error", err)
			}
		}
	}
}

func startHealthServer(cfg *config.Config, probe liveness.Checker, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if probe.IsAlive() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	server := &http.Server{Addr: ":9090", Handler: mux, ReadTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health/metrics server failed", "error", err)
		}
	}()
}

// priceOracleBaseURL is the native-token price feed endpoint: the value of
// AUTOPILOT_PRICE_ORACLE_URL when that environment variable is set,
// otherwise a fixed default. It is not a config-file key.
func priceOracleBaseURL() string {
	if url := os.Getenv("AUTOPILOT_PRICE_ORACLE_URL"); url != "" {
		return url
	}
	return "https://api.coingecko.com/api/v3/simple/token_price"
}

type noopArchiver struct{}

func (noopArchiver) SaveAuction(ctx context.Context, _ types.Auction) error { return nil }

func newLogger(cfg config.Config) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
