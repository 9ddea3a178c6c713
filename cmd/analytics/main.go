// Command analytics starts the standalone alignment analytics service.
//
// It consumes alignment events from Kafka, aggregates them in memory
// (status distribution, aligned rate, chunk counts, latency percentiles,
// top classes) and serves GET /api/analytics. With PostgreSQL configured,
// snapshots are saved periodically and GET /api/analytics/history lists
// them.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nasher721/Extract721/internal/analytics"
	"github.com/nasher721/Extract721/internal/analytics/aggregator"
	"github.com/nasher721/Extract721/pkg/config"
	"github.com/nasher721/Extract721/pkg/health"
	"github.com/nasher721/Extract721/pkg/kafka"
	"github.com/nasher721/Extract721/pkg/logger"
	"github.com/nasher721/Extract721/pkg/middleware"
	"github.com/nasher721/Extract721/pkg/postgres"
)

const defaultHistoryLimit = 24

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()

	// A separate group so the service sees every event the workers emit.
	kafkaCfg := cfg.Kafka
	kafkaCfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-analytics"
	consumer := kafka.NewConsumer(kafkaCfg, cfg.Kafka.Topics.AlignmentEvents, analytics.HandleEvent(agg))
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AlignmentEvents, "group", kafkaCfg.ConsumerGroup)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/analytics", analytics.NewHandler(agg).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var pgPing func(context.Context) error
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		} else {
			defer db.Close()
			snapshots := aggregator.NewStore(db)
			if err := snapshots.Migrate(ctx); err != nil {
				slog.Error("snapshot migration failed", "error", err)
				os.Exit(1)
			}
			snapshots.StartPeriodicSave(ctx, agg, cfg.Analytics.WindowSize)
			mux.HandleFunc("GET /api/analytics/history", historyHandler(snapshots))
			pgPing = db.Ping
			slog.Info("analytics snapshots enabled", "interval", cfg.Analytics.WindowSize)
		}
	}
	checker.Register("postgres", health.PingCheck(pgPing, "snapshots disabled"))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      middleware.RequestID(mux),
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

// historyHandler lists the latest snapshots, newest first. ?limit=N caps
// the count.
func historyHandler(s *aggregator.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, `{"success":false,"error":"limit must be a positive integer"}`, http.StatusBadRequest)
				return
			}
			limit = n
		}
		snapshots, err := s.ListSnapshots(r.Context(), limit)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			logger.FromContext(r.Context()).Error("listing snapshots failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "listing snapshots failed"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"snapshots": snapshots})
	}
}
