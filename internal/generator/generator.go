// Package generator implements the load generator: it fans a configured
// number of requests out to a ServerAdapter, bounded by a concurrency
// level, collecting per-request timing into RequestResult values and
// emitting progress events at a cadence.
//
// Run does not call the adapter's Health or Warmup; this package is
// narrowly scoped to issuing and timing requests.
package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nulpointcorp/llm-bench/internal/adapter"
	"github.com/nulpointcorp/llm-bench/internal/metrics"
	"github.com/nulpointcorp/llm-bench/internal/model"
	"github.com/nulpointcorp/llm-bench/internal/probe"
	"github.com/nulpointcorp/llm-bench/internal/progress"
	"github.com/nulpointcorp/llm-bench/internal/validator"
)

// Generator drives one benchmark sweep against a single ServerAdapter.
type Generator struct {
	adapter adapter.ServerAdapter
	sink    progress.Sink
	probe   *probe.PrometheusProbe // optional; brackets the sweep with before/after scrapes
}

func New(a adapter.ServerAdapter, sink progress.Sink) *Generator {
	if sink == nil {
		sink = progress.NopSink{}
	}
	return &Generator{adapter: a, sink: sink}
}

// WithPrometheusProbe attaches a server-metrics probe to the generator. When
// set, Run scrapes it once before the first level and once after the last,
// then cross-validates the summed client-observed totals against the
// before/after delta, attaching the result to BenchmarkResult.Validations.
// A nil probe (the default) disables validation bracketing entirely.
func (g *Generator) WithPrometheusProbe(p *probe.PrometheusProbe) *Generator {
	g.probe = p
	return g
}

// generatePrompt builds a prompt of approximately inputLen tokens, the
// same filler-repetition approach as the original tool so synthetic
// prompts are reproducible and cheap to generate.
func generatePrompt(inputLen int) string {
	const base = "Write a detailed explanation about the following topic: "
	if inputLen <= 0 {
		return base
	}
	filler := strings.Repeat("artificial intelligence and machine learning ", inputLen/5+1)
	end := inputLen * 4
	if end > len(filler) {
		end = len(filler)
	}
	return base + filler[:end]
}

// Run executes a full sweep across every concurrency level in cfg,
// aggregating each level's results and returning the assembled
// BenchmarkResult. Cancelling ctx stops in-flight levels cooperatively;
// results collected before cancellation are still aggregated and
// returned.
func (g *Generator) Run(ctx context.Context, cfg model.BenchmarkConfig) (*model.BenchmarkResult, error) {
	runID := uuid.New()
	startedAt := time.Now().UTC()

	var beforeSnap *probe.Snapshot
	if g.probe != nil {
		if snap, err := g.probe.Scrape(ctx); err == nil {
			beforeSnap = snap
		}
	}

	levels := make([]model.ConcurrencyResult, 0, len(cfg.ConcurrencyLevels))

	for i, concurrency := range cfg.ConcurrencyLevels {
		g.sink.Publish(progress.Event{
			Kind:      progress.EventLevelStart,
			Timestamp: time.Now().UTC(),
			LevelStart: &progress.LevelStart{
				Concurrency: concurrency,
				TotalLevels: len(cfg.ConcurrencyLevels),
				LevelIndex:  i,
			},
		})

		var (
			results  []model.RequestResult
			duration float64
			err      error
		)
		if cfg.RequestsPerLevel > 0 {
			results, duration, err = g.runRequestCount(ctx, cfg, concurrency)
		} else {
			results, duration, err = g.runDuration(ctx, cfg, concurrency)
		}
		if err != nil {
			return nil, fmt.Errorf("generator: level concurrency=%d: %w", concurrency, err)
		}

		levels = append(levels, metrics.Aggregate(concurrency, results, duration, cfg.Goodput))

		if ctx.Err() != nil {
			break
		}
	}

	result := &model.BenchmarkResult{
		RunID:      runID,
		Config:     cfg,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Levels:     levels,
	}

	if g.probe != nil && beforeSnap != nil {
		if afterSnap, err := g.probe.Scrape(ctx); err == nil {
			observed := sumClientObserved(levels)
			result.Validations = append(result.Validations, validator.ValidatePrometheus(0, observed, beforeSnap, afterSnap))
		}
	}

	return result, nil
}

// sumClientObserved folds every level's successful requests into the
// single client-side total the validator compares against the before/after
// server delta, per the "summed across all levels" bracketing rule.
func sumClientObserved(levels []model.ConcurrencyResult) validator.ClientObserved {
	var totalRequests, totalTokens int
	var ttftSumMs float64
	var ttftCount int

	for _, lvl := range levels {
		for _, r := range lvl.Results {
			if !r.Success {
				continue
			}
			totalRequests++
			totalTokens += r.OutputTokens
			ttftSumMs += msOf(r.TTFT)
			ttftCount++
		}
	}

	var avgTTFTMs float64
	if ttftCount > 0 {
		avgTTFTMs = ttftSumMs / float64(ttftCount)
	}

	return validator.ClientObserved{
		RequestCount: totalRequests,
		TotalTokens:  totalTokens,
		AvgTTFTMs:    avgTTFTMs,
	}
}

// runRequestCount fans num requests out bounded by a counting semaphore,
// the Go analogue of asyncio.Semaphore(concurrency). A single mutex
// guards the shared result buffer and completion counters; the only other
// work inside the critical section is copying the buffer when a rolling
// snapshot is due.
func (g *Generator) runRequestCount(ctx context.Context, cfg model.BenchmarkConfig, concurrency int) ([]model.RequestResult, float64, error) {
	sem := semaphore.NewWeighted(int64(concurrency))
	prompt := generatePrompt(cfg.PromptTokens)

	metricsInterval := cfg.ProgressIntervalN
	if metricsInterval <= 0 {
		metricsInterval = cfg.RequestsPerLevel / 20
		if metricsInterval < 10 {
			metricsInterval = 10
		}
	}

	var (
		mu            sync.Mutex
		results       = make([]model.RequestResult, 0, cfg.RequestsPerLevel)
		completed     int
		lastMetricsAt int
		wg            sync.WaitGroup
	)

	start := time.Now()

	for i := 0; i < cfg.RequestsPerLevel; i++ {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(requestID int) {
			defer wg.Done()
			defer sem.Release(1)

			result := g.sendOne(ctx, cfg, requestID, prompt)

			mu.Lock()
			results = append(results, result)
			completed++
			emitSnapshot := completed-lastMetricsAt >= metricsInterval
			var snapBase []model.RequestResult
			if emitSnapshot {
				lastMetricsAt = completed
				snapBase = append([]model.RequestResult(nil), results...)
			}
			current := completed
			mu.Unlock()

			g.sink.Publish(progress.Event{
				Kind:      progress.EventRequestLog,
				Current:   current,
				Total:     cfg.RequestsPerLevel,
				Timestamp: time.Now().UTC(),
				RequestLog: &progress.RequestLog{
					RequestID:  result.RequestID,
					Success:    result.Success,
					TTFT:       result.TTFT,
					E2ELatency: result.E2ELatency,
					ErrorKind:  string(result.ErrorKind),
				},
			})

			if emitSnapshot {
				elapsed := time.Since(start).Seconds()
				g.sink.Publish(progress.Event{
					Kind:      progress.EventSnapshot,
					Current:   current,
					Total:     cfg.RequestsPerLevel,
					Timestamp: time.Now().UTC(),
					Snapshot:  partialSnapshot(snapBase, elapsed, current),
				})
			}
		}(i)
	}

	wg.Wait()
	return results, time.Since(start).Seconds(), nil
}

// runDuration runs a fixed pool of workers until the level's deadline
// passes, the Go analogue of the original's while-loop workers. A single
// mutex guards the monotonic request-id counter and the shared result
// buffer.
func (g *Generator) runDuration(ctx context.Context, cfg model.BenchmarkConfig, concurrency int) ([]model.RequestResult, float64, error) {
	prompt := generatePrompt(cfg.PromptTokens)

	levelCtx, cancel := context.WithTimeout(ctx, cfg.DurationPerLevel)
	defer cancel()

	metricsInterval := cfg.ProgressIntervalN
	if metricsInterval <= 0 {
		metricsInterval = 10
	}

	var (
		mu            sync.Mutex
		results       []model.RequestResult
		nextID        int
		completed     int
		lastMetricsAt int
		wg            sync.WaitGroup
	)

	start := time.Now()

	worker := func() {
		defer wg.Done()
		for levelCtx.Err() == nil {
			mu.Lock()
			id := nextID
			nextID++
			mu.Unlock()

			result := g.sendOne(ctx, cfg, id, prompt)

			mu.Lock()
			results = append(results, result)
			completed++
			emitSnapshot := completed-lastMetricsAt >= metricsInterval
			var snapBase []model.RequestResult
			if emitSnapshot {
				lastMetricsAt = completed
				snapBase = append([]model.RequestResult(nil), results...)
			}
			current := completed
			mu.Unlock()

			g.sink.Publish(progress.Event{
				Kind:      progress.EventRequestLog,
				Current:   int(time.Since(start).Seconds()),
				Total:     int(cfg.DurationPerLevel.Seconds()),
				Timestamp: time.Now().UTC(),
				RequestLog: &progress.RequestLog{
					RequestID:  result.RequestID,
					Success:    result.Success,
					TTFT:       result.TTFT,
					E2ELatency: result.E2ELatency,
					ErrorKind:  string(result.ErrorKind),
				},
			})

			if emitSnapshot {
				elapsed := time.Since(start).Seconds()
				g.sink.Publish(progress.Event{
					Kind:      progress.EventSnapshot,
					Current:   current,
					Total:     int(cfg.DurationPerLevel.Seconds()),
					Timestamp: time.Now().UTC(),
					Snapshot:  partialSnapshot(snapBase, elapsed, current),
				})
			}
		}
	}

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker()
	}
	wg.Wait()

	return results, time.Since(start).Seconds(), nil
}

func (g *Generator) sendOne(ctx context.Context, cfg model.BenchmarkConfig, requestID int, prompt string) model.RequestResult {
	reqCtx := ctx
	var cancel context.CancelFunc
	if cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now().UTC()

	genResult, err := g.adapter.Send(reqCtx, adapter.GenerateRequest{
		Model:           cfg.Model,
		Prompt:          prompt,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Stream:          cfg.Stream,
	})
	if err != nil {
		end := time.Now().UTC()
		kind := model.ErrorKindConnection
		status := 0
		if e, ok := err.(*adapter.Error); ok {
			kind = e.Kind
			status = e.StatusCode
		}
		return model.RequestResult{
			RequestID:      requestID,
			Success:        false,
			StartTime:      start,
			EndTime:        end,
			E2ELatency:     end.Sub(start),
			ErrorKind:      kind,
			ErrorMessage:   err.Error(),
			HTTPStatusCode: status,
		}
	}

	end := genResult.CompletedAt
	ttft := genResult.FirstTokenAt.Sub(start)
	e2e := end.Sub(start)

	var tpot time.Duration
	var itl []time.Duration
	if genResult.OutputTokens > 1 && len(genResult.TokenTimes) > 0 {
		tpot = end.Sub(genResult.FirstTokenAt) / time.Duration(genResult.OutputTokens-1)
	}
	for i := 1; i < len(genResult.TokenTimes); i++ {
		itl = append(itl, genResult.TokenTimes[i].Sub(genResult.TokenTimes[i-1]))
	}

	return model.RequestResult{
		RequestID:    requestID,
		Success:      true,
		StartTime:    start,
		EndTime:      end,
		TTFT:         ttft,
		E2ELatency:   e2e,
		TPOT:         tpot,
		ITL:          itl,
		InputTokens:  genResult.InputTokens,
		OutputTokens: genResult.OutputTokens,
	}
}

// partialSnapshot computes a rolling view of in-progress results: average
// TTFT, average E2E, and current output-token throughput derived from
// elapsed wall-clock time. No median is computed. When no request has
// succeeded yet, the snapshot carries only the completed and failure counts.
func partialSnapshot(results []model.RequestResult, elapsed float64, completed int) *progress.Snapshot {
	var ttfts []float64
	var e2es []float64
	var successCount, failureCount, totalTokens int

	for _, r := range results {
		if !r.Success {
			failureCount++
			continue
		}
		successCount++
		ttfts = append(ttfts, msOf(r.TTFT))
		e2es = append(e2es, msOf(r.E2ELatency))
		totalTokens += r.OutputTokens
	}

	if successCount == 0 {
		return &progress.Snapshot{CompletedRequests: completed, FailureCount: failureCount}
	}

	var throughput float64
	if elapsed > 0 {
		throughput = float64(totalTokens) / elapsed
	}

	return &progress.Snapshot{
		CompletedRequests: completed,
		SuccessCount:      successCount,
		FailureCount:      failureCount,
		AvgTTFTMs:         avg(ttfts),
		AvgE2EMs:          avg(e2es),
		ThroughputTokensSec: throughput,
	}
}

func msOf(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func avg(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
