package metrics

import (
	"testing"
	"time"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

func TestAggregate_CountsAndRates(t *testing.T) {
	results := []model.RequestResult{
		{Success: true, TTFT: 100 * time.Millisecond, E2ELatency: 400 * time.Millisecond, OutputTokens: 20},
		{Success: true, TTFT: 120 * time.Millisecond, E2ELatency: 450 * time.Millisecond, OutputTokens: 30},
		{Success: false, ErrorKind: model.ErrorKindTimeout},
	}

	got := Aggregate(10, results, 5.0, nil)

	if got.Concurrency != 10 {
		t.Errorf("concurrency = %d, want 10", got.Concurrency)
	}
	if got.TotalRequests != 3 {
		t.Errorf("total requests = %d, want 3", got.TotalRequests)
	}
	if got.SuccessfulCount != 2 || got.FailedCount != 1 {
		t.Errorf("successful/failed = %d/%d, want 2/1", got.SuccessfulCount, got.FailedCount)
	}
	wantErrorRate := 1.0 / 3.0
	if got.ErrorRate != wantErrorRate {
		t.Errorf("error rate = %v, want %v", got.ErrorRate, wantErrorRate)
	}
	if got.OutputTokensSec != 10 { // (20+30)/5
		t.Errorf("output tokens/sec = %v, want 10", got.OutputTokensSec)
	}
	if got.Goodput != nil {
		t.Errorf("goodput should be nil when no thresholds are configured")
	}
}

func TestAggregate_TPOTExcludesSingleTokenResponses(t *testing.T) {
	results := []model.RequestResult{
		{Success: true, OutputTokens: 1, TPOT: 0},
		{Success: true, OutputTokens: 5, TPOT: 50 * time.Millisecond},
	}

	got := Aggregate(1, results, 1.0, nil)

	if got.TPOT.Mean != 50 {
		t.Fatalf("TPOT mean should only include multi-token responses, got %v", got.TPOT.Mean)
	}
}

func TestAggregate_WithGoodputThresholds(t *testing.T) {
	results := []model.RequestResult{
		{Success: true, TTFT: 50 * time.Millisecond, E2ELatency: 100 * time.Millisecond, OutputTokens: 10},
	}
	thresholds := &model.GoodputThresholds{TTFTMs: 100}

	got := Aggregate(1, results, 1.0, thresholds)

	if got.Goodput == nil {
		t.Fatalf("goodput should be computed when thresholds are non-nil")
	}
	if got.Goodput.OverallSatisfied != 1 {
		t.Errorf("expected the single request to satisfy goodput, got %+v", got.Goodput)
	}
}

func TestAggregate_ZeroDurationAvoidsDivisionByZero(t *testing.T) {
	results := []model.RequestResult{{Success: true, OutputTokens: 5}}

	got := Aggregate(1, results, 0, nil)

	if got.ThroughputRPS != 0 || got.RequestRate != 0 || got.OutputTokensSec != 0 {
		t.Fatalf("zero duration should leave rate fields at zero, got %+v", got)
	}
}
