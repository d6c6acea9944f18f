// Command benchmark drives a concurrency sweep against an LLM inference
// server, cross-validates the observed metrics against the server's own
// telemetry, and (optionally) emits an infrastructure sizing
// recommendation for a target workload.
//
// Quick-start:
//
//	SERVER_URL=http://localhost:8000 MODEL=llama-3-8b ADAPTER_KIND=openai ./benchmark
//
// See internal/config for all available configuration variables.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/llm-bench/internal/adapter" // openai/triton/anthropic self-register via init()
	"github.com/nulpointcorp/llm-bench/internal/config"
	"github.com/nulpointcorp/llm-bench/internal/generator"
	"github.com/nulpointcorp/llm-bench/internal/model"
	"github.com/nulpointcorp/llm-bench/internal/probe"
	"github.com/nulpointcorp/llm-bench/internal/progress"
	"github.com/nulpointcorp/llm-bench/internal/recommender"
	"github.com/nulpointcorp/llm-bench/internal/reqlog"
	"github.com/nulpointcorp/llm-bench/internal/selfmetrics"
	"github.com/nulpointcorp/llm-bench/internal/store"
	"github.com/redis/go-redis/v9"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

// runner owns every long-lived resource the command allocates. Startup
// order: config, logger, self-metrics, Redis (optional), request logger,
// run-history store; the adapter and progress sinks are built in run.
// Close releases them in reverse order and is safe to call more than once.
type runner struct {
	log *slog.Logger
	cfg *config.Config

	rdb       *redis.Client
	reqLogger *reqlog.Logger
	st        *store.Store
	metrics   *selfmetrics.Registry
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	r := &runner{log: logger, cfg: cfg}
	if err := r.init(ctx); err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer r.Close()

	if err := r.run(ctx); err != nil {
		logger.Error("benchmark run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// init brings up every optional subsystem in order. A failure at any step
// tears down whatever already started before returning.
func (r *runner) init(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"metrics", r.initMetrics},
		{"redis", r.initRedis},
		{"reqlog", r.initReqLog},
		{"store", r.initStore},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			r.Close()
			return err
		}
	}
	return nil
}

func (r *runner) initMetrics(context.Context) error {
	reg := selfmetrics.New()
	reg.SetBuildInfo(version)
	r.metrics = reg
	return nil
}

// initRedis connects only when REDIS_URL is configured; progress still
// works via the in-process channel sink when it isn't.
func (r *runner) initRedis(ctx context.Context) error {
	if r.cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(r.cfg.RedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return err
	}
	r.rdb = rdb
	return nil
}

func (r *runner) initReqLog(ctx context.Context) error {
	l, err := reqlog.New(ctx, r.log)
	if err != nil {
		return err
	}
	r.reqLogger = l
	return nil
}

// initStore connects to ClickHouse only when CLICKHOUSE_DSN is set; run
// history persistence is strictly optional.
func (r *runner) initStore(ctx context.Context) error {
	if r.cfg.ClickHouseDSN == "" {
		return nil
	}
	st, err := store.Open(ctx, r.cfg.ClickHouseDSN, "default", "default", "")
	if err != nil {
		r.log.Warn("clickhouse unavailable, run history will not be persisted", slog.String("error", err.Error()))
		return nil
	}
	r.st = st
	return nil
}

// Close releases all resources in reverse-init order. Safe to call more
// than once; it is not synchronised for concurrent callers.
func (r *runner) Close() {
	if r.st != nil {
		if err := r.st.Close(); err != nil {
			r.log.Error("store close error", slog.String("error", err.Error()))
		}
		r.st = nil
	}
	if r.reqLogger != nil {
		if err := r.reqLogger.Close(); err != nil {
			r.log.Error("reqlog close error", slog.String("error", err.Error()))
		}
		r.reqLogger = nil
	}
	if r.rdb != nil {
		if err := r.rdb.Close(); err != nil {
			r.log.Error("redis close error", slog.String("error", err.Error()))
		}
		r.rdb = nil
	}
}

// run constructs the adapter, wires up progress sinks, executes the sweep,
// and prints the resulting JSON summary to stdout.
func (r *runner) run(ctx context.Context) error {
	a, err := adapter.New(r.cfg.AdapterKind, adapter.Config{
		ServerURL:      r.cfg.ServerURL,
		APIKey:         r.cfg.APIKey,
		RequestTimeout: r.cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	sink := r.buildSink()
	defer drainSink(sink)

	gen := generator.New(a, sink)
	if r.cfg.ValidateMetrics {
		gen = gen.WithPrometheusProbe(probe.NewPrometheusProbe(r.cfg.PrometheusURL, probe.DefaultVLLMMetricNames))
	}

	bcfg := model.BenchmarkConfig{
		ServerURL:         r.cfg.ServerURL,
		Model:             r.cfg.Model,
		AdapterKind:       r.cfg.AdapterKind,
		APIKey:            r.cfg.APIKey,
		ConcurrencyLevels: r.cfg.ConcurrencyLevels,
		RequestsPerLevel:  r.cfg.RequestsPerLevel,
		DurationPerLevel:  r.cfg.DurationPerLevel,
		PromptTokens:      r.cfg.PromptTokens,
		MaxOutputTokens:   r.cfg.MaxOutputTokens,
		Stream:            r.cfg.Stream,
		RequestTimeout:    r.cfg.RequestTimeout,
		Goodput:           r.cfg.GoodputThresholds(),
		ValidateMetrics:   r.cfg.ValidateMetrics,
		PrometheusURL:     r.cfg.PrometheusURL,
	}

	r.log.Info("starting benchmark sweep",
		slog.String("version", version),
		slog.String("server_url", bcfg.ServerURL),
		slog.String("model", bcfg.Model),
		slog.String("adapter_kind", bcfg.AdapterKind),
		slog.Any("concurrency_levels", bcfg.ConcurrencyLevels),
	)

	if r.cfg.RecommendMode {
		return r.runRecommend(ctx, gen, bcfg)
	}

	result, err := gen.Run(ctx, bcfg)
	if err != nil {
		return err
	}

	r.logAndPersist(ctx, result)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runRecommend drives the recommender pipeline: it rebuilds base around the
// configured target workload's SLO, runs a full sweep, and prints the
// resulting InfraRecommendation instead of a bare BenchmarkResult. The
// sweep that backed the recommendation is still logged and persisted like
// any other run. No GPU-probe collaborator is wired in (out of scope per
// the core's Non-goals); the profile falls back to the "unknown GPU"
// sentinel.
func (r *runner) runRecommend(ctx context.Context, gen *generator.Generator, base model.BenchmarkConfig) error {
	workload := r.cfg.Workload()

	rec, result, err := recommender.Recommend(ctx, gen, base.Model, workload, base, r.cfg.RecommendHeadroom, nil)
	if err != nil {
		return err
	}

	r.logAndPersist(ctx, result)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// logAndPersist replays a sweep's per-request results through the request
// logger and, if a store is configured, persists the sweep itself.
func (r *runner) logAndPersist(ctx context.Context, result *model.BenchmarkResult) {
	for _, level := range result.Levels {
		for _, req := range level.Results {
			r.reqLogger.Log(reqlog.FromResult(req))
		}
	}

	if r.st != nil {
		if err := r.st.SaveResult(ctx, result); err != nil {
			r.log.Error("failed to persist run history", slog.String("error", err.Error()))
		}
	}
}

// buildSink fans progress events out to the in-process channel sink plus,
// when Redis is configured, a Pub/Sub sink for external observers.
func (r *runner) buildSink() progress.Sink {
	ch := progress.NewChannelSink(256)
	go drainToLog(r.log, ch)

	if r.rdb == nil {
		return ch
	}
	return progress.MultiSink{ch, progress.NewRedisSink(r.rdb, "cli", r.log)}
}

func drainToLog(log *slog.Logger, ch *progress.ChannelSink) {
	for evt := range ch.Events() {
		if evt.Kind == progress.EventLevelStart && evt.LevelStart != nil {
			log.Info("level starting",
				slog.Int("concurrency", evt.LevelStart.Concurrency),
				slog.Int("level_index", evt.LevelStart.LevelIndex),
				slog.Int("total_levels", evt.LevelStart.TotalLevels),
			)
		}
	}
}

func drainSink(sink progress.Sink) {
	if ch, ok := sink.(*progress.ChannelSink); ok {
		ch.Close()
		return
	}
	if multi, ok := sink.(progress.MultiSink); ok {
		for _, s := range multi {
			if ch, ok := s.(*progress.ChannelSink); ok {
				ch.Close()
			}
		}
	}
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}
