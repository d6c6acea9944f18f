package generator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-bench/internal/adapter"
	"github.com/nulpointcorp/llm-bench/internal/model"
	"github.com/nulpointcorp/llm-bench/internal/probe"
	"github.com/nulpointcorp/llm-bench/internal/progress"
)

// fakeAdapter is a test double that tracks concurrent in-flight calls and
// can simulate latency (which honours ctx cancellation) and periodic
// failures.
type fakeAdapter struct {
	delay       time.Duration
	failEvery   int // fail every Nth call, 0 = never fail
	calls       int64
	inFlight    int64
	maxInFlight int64
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(ctx context.Context, req adapter.GenerateRequest) (*adapter.GenerateResult, error) {
	n := atomic.AddInt64(&f.calls, 1)
	cur := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)

	for {
		old := atomic.LoadInt64(&f.maxInFlight)
		if cur <= old || atomic.CompareAndSwapInt64(&f.maxInFlight, old, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &adapter.Error{Kind: model.ErrorKindCancelled, Err: ctx.Err()}
		}
	}

	if f.failEvery > 0 && int(n)%f.failEvery == 0 {
		return nil, &adapter.Error{Kind: model.ErrorKindHTTPStatus, StatusCode: 500, Err: context.DeadlineExceeded}
	}

	now := time.Now().UTC()
	return &adapter.GenerateResult{
		FirstTokenAt: now,
		TokenTimes:   []time.Time{now, now.Add(time.Millisecond), now.Add(2 * time.Millisecond)},
		CompletedAt:  now.Add(3 * time.Millisecond),
		InputTokens:  5,
		OutputTokens: 3,
	}, nil
}

func (f *fakeAdapter) Health(ctx context.Context) bool { return true }
func (f *fakeAdapter) Warmup(ctx context.Context) error { return nil }

func TestRun_RequestCountMode_ExactlyConfiguredCount(t *testing.T) {
	a := &fakeAdapter{}
	g := New(a, nil)

	result, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{4},
		RequestsPerLevel:  20,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Levels) != 1 {
		t.Fatalf("expected 1 level, got %d", len(result.Levels))
	}
	if result.Levels[0].TotalRequests != 20 {
		t.Fatalf("total requests = %d, want 20", result.Levels[0].TotalRequests)
	}
	if atomic.LoadInt64(&a.calls) != 20 {
		t.Fatalf("adapter should have been called exactly 20 times, got %d", a.calls)
	}
}

func TestRun_RequestCountMode_RespectsConcurrencyBound(t *testing.T) {
	a := &fakeAdapter{delay: 20 * time.Millisecond}
	g := New(a, nil)

	_, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{3},
		RequestsPerLevel:  12,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := atomic.LoadInt64(&a.maxInFlight); got > 3 {
		t.Fatalf("max in-flight = %d, want <= 3 (the configured concurrency)", got)
	}
}

func TestRun_DurationMode_StopsAtDeadline(t *testing.T) {
	a := &fakeAdapter{}
	g := New(a, nil)

	start := time.Now()
	result, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{2},
		DurationPerLevel:  100 * time.Millisecond,
		Model:             "demo",
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("duration-mode level ran far longer than its deadline: %v", elapsed)
	}
	if result.Levels[0].TotalRequests == 0 {
		t.Fatalf("expected at least one request to complete within the deadline")
	}
}

func TestRun_DurationMode_PublishesSnapshotEvents(t *testing.T) {
	a := &fakeAdapter{}
	sink := progress.NewChannelSink(256)
	g := New(a, sink)

	_, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{2},
		DurationPerLevel:  150 * time.Millisecond,
		ProgressIntervalN: 1,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sink.Close()

	var snapshots int
	for evt := range sink.Events() {
		if evt.Kind == progress.EventSnapshot {
			snapshots++
		}
	}
	if snapshots == 0 {
		t.Fatal("expected duration-mode run to publish at least one rolling snapshot event")
	}
}

func TestRun_WithPrometheusProbe_AttachesValidationResult(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("# TYPE demo_requests counter\ndemo_requests 0\n"))
	}))
	defer srv.Close()

	a := &fakeAdapter{}
	g := New(a, nil).WithPrometheusProbe(probe.NewPrometheusProbe(srv.URL, probe.MetricNames{RequestCounter: "demo_requests"}))

	result, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{2},
		RequestsPerLevel:  4,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected the probe to be scraped exactly twice (before the first level, after the last), got %d", hits)
	}
	if len(result.Validations) != 1 {
		t.Fatalf("expected one validation result attached to the sweep, got %d", len(result.Validations))
	}
}

func TestRun_WithoutPrometheusProbe_NoValidations(t *testing.T) {
	a := &fakeAdapter{}
	g := New(a, nil)

	result, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{1},
		RequestsPerLevel:  2,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Validations) != 0 {
		t.Fatalf("expected no validations when no probe is attached, got %d", len(result.Validations))
	}
}

func TestRun_CancellationReturnsPartialResults(t *testing.T) {
	a := &fakeAdapter{delay: 50 * time.Millisecond}
	g := New(a, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	result, err := g.Run(ctx, model.BenchmarkConfig{
		ConcurrencyLevels: []int{2, 2, 2},
		RequestsPerLevel:  50,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run should return partial results, not an error, on cancellation: %v", err)
	}
	if len(result.Levels) == 0 {
		t.Fatalf("expected at least the in-progress level to be aggregated")
	}
}

func TestRun_FailedRequestsAreCountedNotDropped(t *testing.T) {
	a := &fakeAdapter{failEvery: 2}
	g := New(a, nil)

	result, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{2},
		RequestsPerLevel:  10,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	level := result.Levels[0]
	if level.FailedCount != 5 {
		t.Fatalf("failed count = %d, want 5 (every other request fails)", level.FailedCount)
	}
	if level.SuccessfulCount != 5 {
		t.Fatalf("successful count = %d, want 5", level.SuccessfulCount)
	}
}

func TestRun_PublishesLevelStartEvents(t *testing.T) {
	a := &fakeAdapter{}
	sink := progress.NewChannelSink(64)
	g := New(a, sink)

	_, err := g.Run(context.Background(), model.BenchmarkConfig{
		ConcurrencyLevels: []int{1, 2},
		RequestsPerLevel:  3,
		Model:             "demo",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sink.Close()

	var levelStarts int
	for evt := range sink.Events() {
		if evt.Kind == progress.EventLevelStart {
			levelStarts++
		}
	}
	if levelStarts != 2 {
		t.Fatalf("expected 2 level_start events (one per concurrency level), got %d", levelStarts)
	}
}

func TestGeneratePrompt_BaseOnlyForNonPositiveLength(t *testing.T) {
	if p := generatePrompt(0); p == "" {
		t.Fatal("generatePrompt(0) should still return the base prompt, not empty")
	}
}
