package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/router"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/redis"
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
	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"data_dir", cfg.Indexer.DataDir,
		"persist", cfg.Indexer.Persist,
	)
	opts := []indexer.Option{indexer.WithMetrics(m)}
	if cfg.Indexer.Persist {
		// The indexer service owns the data directory; this process only
		// loads what it writes.
		opts = append(opts, indexer.AsFollower())
	}
	engine, err := indexer.NewEngine(cfg, opts...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port,
			metrics.JSONPage("/debug/engine", "engine and snapshot stats", func() any { return engine.Stats() }),
		)
		defer shutdown(context.Background())
	}

	checker := health.NewChecker()
	checker.Register("index_engine", engine.HealthCheck)

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(cache.NewRedisStore(redisClient), cfg.Redis.CacheTTL, m)
			checker.RegisterOptional("redis", health.PingCheck(redisClient.Ping))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	if queryCache != nil {
		engine.OnCommit(func(info indexer.CommitInfo) {
			if info.Generation < 2 {
				return
			}
			dropCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := queryCache.DropGeneration(dropCtx, info.Generation-1); err != nil {
				slog.Warn("dropping stale cache generation failed", "error", err)
			}
		})
	}

	engine.StartCommitLoop(ctx)
	if cfg.Indexer.Persist {
		engine.StartReloadLoop(ctx)
	}

	var limiter *middleware.RateLimiter
	if rl := cfg.Server.RateLimit; rl.PerSecond > 0 {
		limiter = middleware.NewRateLimiter(rl.PerSecond, rl.Burst, rl.IdleTTL)
	}

	h := handler.New(engine, queryCache)
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.New(h, checker, router.Options{
			Metrics:     m,
			RateLimiter: limiter,
			Timeout:     cfg.Server.WriteTimeout,
			AdminKeys:   middleware.NewKeySet(cfg.Server.AdminKeys...),
			CORS:        middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	if limiter != nil {
		g.Go(func() error {
			limiter.Run(gctx, time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
