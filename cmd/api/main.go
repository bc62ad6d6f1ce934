// Command api runs the auction backend: REST API, websocket push channel,
// and the lifecycle scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/allabud/auction-backend/internal/api/rest"
	"github.com/allabud/auction-backend/internal/api/websocket"
	"github.com/allabud/auction-backend/internal/domain/auction"
	"github.com/allabud/auction-backend/internal/domain/bid"
	"github.com/allabud/auction-backend/internal/domain/user"
	"github.com/allabud/auction-backend/internal/infrastructure/cache"
	"github.com/allabud/auction-backend/internal/infrastructure/config"
	"github.com/allabud/auction-backend/internal/infrastructure/database"
	"github.com/allabud/auction-backend/internal/infrastructure/events"
	"github.com/allabud/auction-backend/internal/infrastructure/locks"
	"github.com/allabud/auction-backend/internal/infrastructure/memory"
	"github.com/allabud/auction-backend/internal/infrastructure/telemetry"
	"github.com/allabud/auction-backend/internal/service/bidding"
	"github.com/allabud/auction-backend/internal/service/lifecycle"
	"github.com/allabud/auction-backend/internal/service/retraction"
	"github.com/allabud/auction-backend/internal/service/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building zap logger: %w", err)
	}
	defer zapLogger.Sync()

	tracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName:    "auction-backend",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	ladder, err := auction.NewLadder(cfg.Auction.Ladder)
	if err != nil {
		return fmt.Errorf("building ladder: %w", err)
	}

	// Store selection: Postgres when configured, in-memory otherwise.
	var (
		auctions auction.Repository
		bids     bid.Repository
		users    user.Repository
	)
	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database, zapLogger)
		if err != nil {
			return fmt.Errorf("connecting database: %w", err)
		}
		defer pool.Close()
		store := database.NewStore(pool)
		auctions, bids, users = store.Auctions(), store.Bids(), store.Users()
		logger.Info("using postgres store")
	} else {
		store := memory.NewStore()
		auctions, bids, users = store.Auctions(), store.Bids(), store.Users()
		logger.Info("using in-memory store")
	}

	var limiter bidding.RateLimiter
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(cfg.Redis, zapLogger)
		if err != nil {
			return fmt.Errorf("connecting redis: %w", err)
		}
		defer client.Close()
		limiter = cache.NewSlidingWindowLimiter(client,
			cfg.RateLimit.MaxBidsPerMinute, time.Minute, zapLogger)
	}

	keyedLock := locks.New(locks.Config{
		Timeout:    cfg.Locks.Timeout,
		MaxRetries: cfg.Locks.MaxRetries,
		RetryDelay: cfg.Locks.RetryDelay,
	}, zapLogger)
	defer keyedLock.Close()

	bus := events.NewBus(zapLogger)
	defer bus.Close()

	engine := bidding.NewProxyEngine(ladder)
	biddingSvc := bidding.NewService(auctions, bids, users, engine, keyedLock, bus, limiter, logger)
	lifecycleSvc := lifecycle.NewService(auctions, bids, keyedLock, bus, logger)
	retractionSvc := retraction.NewService(auctions, bids, keyedLock, bus, logger)

	sched := scheduler.New(scheduler.Config{
		Interval:         cfg.Scheduler.Interval,
		EndingSoonWindow: cfg.Scheduler.EndingSoonWindow,
		EndingSoonEvery:  cfg.Scheduler.EndingSoonEvery,
		GracePeriod:      cfg.Scheduler.GracePeriod,
	}, auctions, lifecycleSvc, bus, logger)
	go sched.Run(ctx)
	defer sched.Stop()

	handler := rest.NewHandler(lifecycleSvc, biddingSvc, retractionSvc, sched,
		keyedLock, users, bids, ladder, rest.HandlerConfig{
			EndingSoonThreshold: cfg.Auction.EndingSoonThreshold,
			MinAuctionDuration:  cfg.Auction.MinDuration,
		}, logger)
	wsHandler := websocket.NewHandler(bus, zapLogger)
	router := rest.NewRouter(handler, wsHandler, cfg.RateLimit.MaxRequestsPerMinute, logger)
	server := rest.NewServer(cfg.Server, router, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return server.Shutdown(cfg.Server.ShutdownTimeout)
	}
}
