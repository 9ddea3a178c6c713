// Command annotator starts the extraction HTTP service.
//
// It serves the /api/* extraction routes: chunked extraction with source
// alignment, schema and clinical extraction, batches, file parsing and
// CSV/XLSX export. Redis caches results, PostgreSQL and a JSONL file keep
// annotated documents, and Kafka carries queued jobs and alignment events.
// Every backing service is optional; the service starts without it and the
// matching feature is switched off.
//
// Usage:
//
//	go run ./cmd/annotator [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nasher721/Extract721/internal/analytics"
	"github.com/nasher721/Extract721/internal/annotator"
	"github.com/nasher721/Extract721/internal/annotator/handler"
	"github.com/nasher721/Extract721/internal/auth/ratelimit"
	"github.com/nasher721/Extract721/internal/fileparse"
	gwmw "github.com/nasher721/Extract721/internal/gateway/middleware"
	"github.com/nasher721/Extract721/internal/gateway/router"
	"github.com/nasher721/Extract721/internal/llm"
	"github.com/nasher721/Extract721/internal/store"
	"github.com/nasher721/Extract721/pkg/config"
	"github.com/nasher721/Extract721/pkg/health"
	"github.com/nasher721/Extract721/pkg/kafka"
	"github.com/nasher721/Extract721/pkg/logger"
	"github.com/nasher721/Extract721/pkg/metrics"
	"github.com/nasher721/Extract721/pkg/postgres"
	pkgredis "github.com/nasher721/Extract721/pkg/redis"
	"github.com/nasher721/Extract721/pkg/tracing"
)

const tokenEncoding = "cl100k_base"

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting annotator service",
		"port", cfg.Server.Port,
		"default_provider", cfg.LLM.DefaultProvider,
		"default_model", cfg.LLM.DefaultModel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	checker := health.NewChecker()

	// Redis result cache.
	var cache *annotator.Cache
	var redisPing func(context.Context) error
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		cache = annotator.NewCache(redisClient, cfg.Redis.CacheTTL, m)
		redisPing = redisClient.Ping
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}
	checker.Register("redis", health.PingCheck(redisPing, "result caching disabled"))

	// Document stores.
	var stores store.Multi
	var pgPing func(context.Context) error
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, document store disabled", "error", err)
		} else {
			defer db.Close()
			pg := store.NewPostgresStore(db)
			if err := pg.Migrate(ctx); err != nil {
				slog.Error("document store migration failed", "error", err)
				os.Exit(1)
			}
			stores = append(stores, pg)
			pgPing = db.Ping
			slog.Info("connected to postgres", "host", cfg.Postgres.Host)
		}
	}
	checker.Register("postgres", health.PingCheck(pgPing, "document store disabled"))
	if cfg.Store.JSONLDir != "" {
		jsonl, err := store.NewJSONLStore(cfg.Store.JSONLDir)
		if err != nil {
			slog.Error("failed to open jsonl store", "error", err)
			os.Exit(1)
		}
		stores = append(stores, jsonl)
		slog.Info("jsonl store enabled", "path", jsonl.Path())
	}

	// Kafka: queued jobs out, alignment events out.
	var jobs handler.JobQueue
	var events annotator.EventSink
	aggregator := analytics.NewAggregator()
	if len(cfg.Kafka.Brokers) > 0 {
		jobProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnnotateJobs)
		defer jobProducer.Close()
		jobs = annotator.NewJobPublisher(jobProducer)

		eventProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AlignmentEvents)
		defer eventProducer.Close()
		collector := analytics.NewCollector(eventProducer, cfg.Analytics.BufferSize, cfg.Analytics.FlushInterval, aggregator)
		collector.Start(ctx)
		defer collector.Close()
		events = collector
		slog.Info("kafka producers initialized",
			"jobs_topic", cfg.Kafka.Topics.AnnotateJobs,
			"events_topic", cfg.Kafka.Topics.AlignmentEvents,
		)
	} else {
		events = aggregator
		slog.Warn("no kafka brokers configured, job queue disabled")
	}

	registry := llm.NewRegistry(cfg.LLM, llm.NewTokenCounter(tokenEncoding), m)
	for _, name := range llm.Names() {
		slog.Info("llm provider", "provider", name, "configured", registry.Configured(name))
	}

	deps := annotator.Deps{
		Providers:       registry,
		Cache:           cache,
		Events:          events,
		Metrics:         m,
		Tracer:          tracing.NewTracer(cfg.Tracing),
		DefaultProvider: cfg.LLM.DefaultProvider,
		DefaultModel:    cfg.LLM.DefaultModel,
	}
	var documents handler.DocumentGetter
	if len(stores) > 0 {
		deps.Store = stores
		documents = stores
	}
	pipeline := annotator.New(annotator.OptionsFromConfig(cfg), deps)

	h := handler.New(pipeline, handler.Options{
		Jobs:            jobs,
		Documents:       documents,
		Files:           fileparse.New(cfg.Annotator.PdftotextPath, nil),
		DefaultProvider: cfg.LLM.DefaultProvider,
		MaxBodyBytes:    cfg.Server.MaxUploadBytes,
	})

	routerDeps := router.Deps{
		Health:    checker,
		Analytics: analytics.NewHandler(aggregator),
		Metrics:   m,
		CORS:      gwmw.NewCORSConfig(cfg.CORS),
		Timeout:   cfg.Server.RequestTimeout,
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(time.Minute, cfg.RateLimit.Burst)
		defer limiter.Close()
		routerDeps.Limiter = limiter
		routerDeps.RateLimit = cfg.RateLimit.RequestsPerMinute
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(h, routerDeps),
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

	slog.Info("annotator service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("annotator service stopped")
}
