// Command docsearch serves full-text search over the published search
// indexes of one or more documentation sites.
//
// Usage:
//
//	go run ./cmd/docsearch [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting docsearch", "port", cfg.Server.Port, "sites", len(cfg.Sites))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	shutdownMetrics := metrics.StartServer(cfg.Metrics)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	var pg *postgres.Client
	if needsPostgres(cfg) {
		pg, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	cat := catalog.New(
		source.NewFactory(cfg.ObjectStore, pg),
		cfg.Search,
		catalog.WithRetry(resilience.FromConfig(cfg.Retry)),
		catalog.WithMetrics(m),
	)
	if err := cat.Load(ctx, cfg.Sites); err != nil {
		// Sites that failed stay registered and report unavailable until a
		// reload succeeds.
		slog.Error("initial index load incomplete", "error", err)
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis,
				cache.WithMetrics(m),
				cache.WithBreaker(resilience.NewBreaker("redis", resilience.BreakerConfig{})),
			)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator()
	var publisher analytics.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		publisher = producer

		listener := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished, analytics.HandleIndexPublished(cat))
		go func() {
			if err := listener.Start(ctx); err != nil {
				slog.Error("index-published listener error", "error", err)
			}
		}()
		slog.Info("kafka enabled",
			"analytics_topic", cfg.Kafka.Topics.AnalyticsEvents,
			"index_published_topic", cfg.Kafka.Topics.IndexPublished,
		)
	}
	collector := analytics.NewCollector(publisher, aggregator,
		cfg.Analytics.BufferSize, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	collector.Start(ctx)
	defer collector.Close()

	checker := health.NewChecker()
	checker.Register("catalog", func(ctx context.Context) health.ComponentHealth {
		loaded, total := cat.Ready()
		msg := fmt.Sprintf("%d/%d sites loaded", loaded, total)
		switch {
		case total == 0 || loaded == 0:
			return health.ComponentHealth{Status: health.StatusDown, Message: msg}
		case loaded < total:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: msg}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: msg}
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient, true))
	} else {
		checker.Register("redis", health.PingCheck(nil, true))
	}
	if pg != nil {
		checker.Register("postgres", health.PingCheck(pg, false))
	}

	h := handler.New(executor.New(cat), cat, cfg.Search.DefaultLimit, cfg.Search.MaxResults,
		handler.WithCache(queryCache),
		handler.WithCollector(collector),
		handler.WithMetrics(m),
		handler.WithSlowQueryLog(cfg.Search.SlowQueryThreshold),
	)
	analyticsH := analytics.NewHandler(aggregator)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics/stats", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if rl := cfg.Server.RateLimit; rl.RequestsPerSecond > 0 {
		limiter := middleware.NewLimiter(rl.RequestsPerSecond, rl.Burst, 10*time.Minute)
		go sweepLimiter(ctx, limiter)
		chain = middleware.RateLimit(limiter)(chain)
		slog.Info("rate limiting enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}
	chain = middleware.Metrics(m)(chain)
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("docsearch listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("docsearch stopped")
}

func sweepLimiter(ctx context.Context, l *middleware.Limiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("rate limiter swept idle clients", "removed", n)
			}
		}
	}
}

func needsPostgres(cfg *config.Config) bool {
	return slices.ContainsFunc(cfg.Sites, func(s config.SiteConfig) bool {
		return s.Source.Kind == "postgres"
	})
}
