package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer/journal"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	commitEvery := flag.Int("commit-every", 0, "commit after this many consumed documents (0 = commit loop only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg, *commitEvery); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config, commitEvery int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	slog.Info("starting indexer service",
		"data_dir", cfg.Indexer.DataDir,
		"persist", cfg.Indexer.Persist,
		"commit_interval", cfg.Indexer.CommitInterval,
	)
	engine, err := indexer.NewEngine(cfg, indexer.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	checker := health.NewChecker()
	checker.Register("index_engine", engine.HealthCheck)

	snapshotProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SnapshotPublished)
	defer snapshotProducer.Close()
	sinks := []journal.Sink{journal.NewKafkaSink(snapshotProducer)}

	var store *journal.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		store, err = journal.NewStore(ctx, db)
		if err != nil {
			return err
		}
		sinks = append(sinks, store)
		checker.RegisterOptional("postgres", health.PingCheck(db.Ping))
		if latest, err := store.Latest(ctx); err == nil && latest != nil {
			slog.Info("last journaled commit", "generation", latest.Generation, "last_id", latest.LastID)
		}
	}

	// The journal outlives the consumer so the shutdown commit is recorded.
	journalCtx, stopJournal := context.WithCancel(context.Background())
	collector := journal.NewCollector(16, cfg.Indexer.CommitInterval, sinks...)
	collector.Start(journalCtx)
	engine.OnCommit(collector.Track)
	engine.StartCommitLoop(ctx)

	handler := consumer.NewHandler(engine, consumer.Options{CommitEvery: commitEvery})
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, handler.Handle)
	indexConsumer := consumer.New(kafkaConsumer)

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port,
			metrics.JSONPage("/debug/indexer", "engine, consumer and journal state", func() any {
				pending := make(map[string]int, len(sinks))
				for _, sink := range sinks {
					pending[sink.Name()] = collector.Pending(sink.Name())
				}
				return map[string]any{
					"engine":          engine.Stats(),
					"commit_retries":  handler.CommitRetries(),
					"journal_pending": pending,
				}
			}),
		)
		defer shutdown(context.Background())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      adminRoutes(checker, store, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("indexer service ready, consuming from kafka",
			"topic", cfg.Kafka.Topics.DocumentIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
		defer kafkaConsumer.Close()
		return indexConsumer.Start(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	runErr := g.Wait()

	slog.Info("committing buffered documents before shutdown", "pending", engine.PendingCount())
	if err := engine.Close(); err != nil {
		slog.Error("final commit failed", "error", err)
	}
	stopJournal()
	collector.Close()
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// adminRoutes serves health probes and, with Postgres enabled, the commit
// journal.
func adminRoutes(checker *health.Checker, store *journal.Store, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics(m))
	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())
	r.Get("/api/v1/commits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if store == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "commit journal disabled"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 20
		}
		commits, err := store.List(r.Context(), limit)
		if err != nil {
			logger.FromContext(r.Context()).Error("listing commits failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "listing commits failed"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"commits": commits})
	})
	return r
}
