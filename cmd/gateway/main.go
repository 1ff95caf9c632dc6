// Command gateway is the metered API gateway for Pioneer Tools.
//
// Purpose:
//   This binary serves pay-per-call access to the utility tools. Every
//   request flows through the admission pipeline: rate limit check, balance
//   check, monthly cap check, deduction, auto-recharge evaluation. It wires
//   the runtime dependencies (Postgres accounts and ledger, Redis counters,
//   Kafka billing feed, payment processor) and serves HTTP with graceful
//   shutdown.
//
// Key Responsibilities:
//   - Load configuration and the static pricing tables
//   - Initialize storage backends, falling back to in-memory stores in
//     development when infrastructure is absent
//   - Register the authenticated tool routes and unauthenticated health
//     and metrics endpoints
//   - Handle graceful shutdown (SIGINT/SIGTERM)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api/public"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/billing"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/billingfeed"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/config"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/limiter"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/logging"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/metering"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/payments"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/recharge"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/storage/memory"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/storage/postgres"
	redisstore "github.com/kbmann3521/Pioneer-Tools-sub000/internal/storage/redis"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/tools"
)

func main() {
	ctx := context.Background()

	cfg := config.MustLoad()

	logger := logging.New(cfg.ServiceName, cfg.Environment, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting gateway",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.HTTPPort),
	)

	pricing, err := config.LoadPricing(cfg.PricingPath)
	if err != nil {
		logger.Fatal("failed to load pricing tables", zap.Error(err))
	}
	logger.Info("pricing tables loaded", zap.Int("tools", len(pricing.ToolCostsMillicents)))

	// Counter store: Redis in production. When Redis is unreachable we fall
	// back to in-process counters rather than disabling limits; limit checks
	// must fail closed, and no limiter at all is the opposite.
	var counters account.CounterStore
	pingables := map[string]public.Pinger{}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Warn("Redis unavailable, using in-process rate limit counters", zap.Error(err))
		_ = redisClient.Close()
		redisClient = nil
		counters = memory.NewCounterStore()
	} else {
		logger.Info("Redis connected", zap.String("addr", cfg.RedisAddr))
		counters = redisstore.NewCounterStore(redisClient, logger)
		pingables["redis"] = redisPinger{redisClient}
		defer redisClient.Close()
	}

	// Account store + transaction ledger.
	var (
		accounts account.AccountStore
		txlog    account.TransactionLedger
	)
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory account store")
		store := memory.NewStore()
		accounts, txlog = store, store
	} else {
		store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to Postgres", zap.Error(err))
		}
		defer store.Close()
		accounts, txlog = store, store
		pingables["postgres"] = store
		logger.Info("Postgres connected")
	}

	// Payment processor.
	var processor payments.Processor
	if cfg.PaymentEndpoint != "" {
		processor = payments.NewHTTPProcessor(cfg.PaymentEndpoint, cfg.PaymentTimeout, logger)
		logger.Info("payment processor configured", zap.String("endpoint", cfg.PaymentEndpoint))
	} else {
		processor = payments.StubProcessor{}
		logger.Info("payment processor using stub implementation")
	}

	// Billing event feed (optional).
	var feed *billingfeed.Feed
	if cfg.KafkaBrokers != "" {
		publisher := billingfeed.NewPublisher(billingfeed.PublisherConfig{
			Brokers:      splitBrokers(cfg.KafkaBrokers),
			Topic:        cfg.KafkaTopic,
			ClientID:     cfg.ServiceName,
			BatchSize:    100,
			BatchTimeout: time.Second,
			WriteTimeout: 5 * time.Second,
			RequiredAcks: 1,
		}, logger)

		spill, err := billingfeed.NewSpillBuffer(billingfeed.SpillBufferConfig{
			Dir:     cfg.FeedSpillDir,
			MaxSize: 10000,
			MaxAge:  24 * time.Hour,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("failed to initialize billing feed spill buffer", zap.Error(err))
			spill = nil
		}

		feed = billingfeed.NewFeed(billingfeed.FeedConfig{
			Publisher: publisher,
			Spill:     spill,
			Logger:    logger,
		})
		defer feed.Stop()
		logger.Info("billing feed initialized",
			zap.String("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	} else {
		logger.Info("billing feed not configured")
	}

	// Admission pipeline.
	rateLimiter := limiter.NewRateLimiter(counters, pricing, logger)
	ledger := billing.NewLedger(accounts, txlog, pricing, logger)
	recharger := recharge.NewController(accounts, txlog, processor, cfg.RechargeCooldown, logger)
	recharger.SetMinDeposit(cfg.MinDepositCents)
	tracer := otel.Tracer(cfg.ServiceName)
	pipeline := metering.NewPipeline(rateLimiter, ledger, recharger, feed, tracer, logger)

	// Router: health and metrics stay on the main router so they skip
	// authentication; everything else goes through the auth sub-router.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	statusHandlers := public.NewStatusHandlers(logger, pingables, 5*time.Second)
	router.Get("/v1/status/healthz", statusHandlers.Healthz)
	router.Get("/v1/status/readyz", statusHandlers.Readyz)
	router.Handle("/metrics", promhttp.Handler())

	appRouter := chi.NewRouter()
	appRouter.Use(public.AuthMiddleware(accounts, logger))

	handler := public.NewHandler(logger, pipeline, tools.NewRegistry())
	handler.RegisterRoutes(appRouter)

	router.Mount("/", appRouter)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

// redisPinger adapts the Redis client to the health check interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func splitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
