// Command worker runs queued annotation jobs.
//
// It consumes AnnotateJob messages from Kafka, runs each through the
// extraction pipeline with the configured provider keys, stores the
// annotated document and publishes an AnnotateResult. Alignment events go
// to the analytics topic.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nasher721/Extract721/internal/analytics"
	"github.com/nasher721/Extract721/internal/annotator"
	"github.com/nasher721/Extract721/internal/llm"
	"github.com/nasher721/Extract721/internal/store"
	"github.com/nasher721/Extract721/pkg/config"
	"github.com/nasher721/Extract721/pkg/kafka"
	"github.com/nasher721/Extract721/pkg/logger"
	"github.com/nasher721/Extract721/pkg/metrics"
	"github.com/nasher721/Extract721/pkg/postgres"
	pkgredis "github.com/nasher721/Extract721/pkg/redis"
	"github.com/nasher721/Extract721/pkg/tracing"
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
	slog.Info("starting annotation worker",
		"concurrency", cfg.Annotator.Concurrency,
		"default_provider", cfg.LLM.DefaultProvider,
	)
	if len(cfg.Kafka.Brokers) == 0 {
		slog.Error("worker needs kafka brokers")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	var stores store.Multi
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("document store migration failed", "error", err)
			os.Exit(1)
		}
		stores = append(stores, pg)
		slog.Info("connected to postgres")
	}
	if cfg.Store.JSONLDir != "" {
		jsonl, err := store.NewJSONLStore(cfg.Store.JSONLDir)
		if err != nil {
			slog.Error("failed to open jsonl store", "error", err)
			os.Exit(1)
		}
		stores = append(stores, jsonl)
	}

	var cache *annotator.Cache
	if redisClient, err := pkgredis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		cache = annotator.NewCache(redisClient, cfg.Redis.CacheTTL, m)
	}

	eventProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AlignmentEvents)
	defer eventProducer.Close()
	collector := analytics.NewCollector(eventProducer, cfg.Analytics.BufferSize, cfg.Analytics.FlushInterval, nil)
	collector.Start(ctx)
	defer collector.Close()

	deps := annotator.Deps{
		Providers:       llm.NewRegistry(cfg.LLM, llm.NewTokenCounter("cl100k_base"), m),
		Cache:           cache,
		Events:          collector,
		Metrics:         m,
		Tracer:          tracing.NewTracer(cfg.Tracing),
		DefaultProvider: cfg.LLM.DefaultProvider,
		DefaultModel:    cfg.LLM.DefaultModel,
	}
	if len(stores) > 0 {
		deps.Store = stores
	}
	pipeline := annotator.New(annotator.OptionsFromConfig(cfg), deps)

	resultProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnnotateResults)
	defer resultProducer.Close()

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnnotateJobs,
		annotator.HandleJob(pipeline, resultProducer, m),
		kafka.FromFirstOffset(),
	)
	defer consumer.Close()

	slog.Info("worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.AnnotateJobs,
		"group", cfg.Kafka.ConsumerGroup,
		"results_topic", cfg.Kafka.Topics.AnnotateResults,
	)
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("annotation worker stopped")
}
