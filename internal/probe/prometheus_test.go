package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const fixtureExposition = `# HELP vllm_request_success_total Total successful requests
# TYPE vllm_request_success_total counter
vllm_request_success_total{model="demo"} 42
# HELP vllm_generation_tokens_total Total generated tokens
# TYPE vllm_generation_tokens_total counter
vllm_generation_tokens_total{model="demo"} 1000
# HELP vllm_time_to_first_token_seconds TTFT histogram
# TYPE vllm_time_to_first_token_seconds histogram
vllm_time_to_first_token_seconds_bucket{le="0.1"} 10
vllm_time_to_first_token_seconds_bucket{le="+Inf"} 42
vllm_time_to_first_token_seconds_sum 8.4
vllm_time_to_first_token_seconds_count 42
`

func TestPrometheusProbe_ScrapeParsesConfiguredMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixtureExposition))
	}))
	defer srv.Close()

	probe := NewPrometheusProbe(srv.URL, MetricNames{
		RequestCounter: "vllm_request_success_total",
		TokenCounter:   "vllm_generation_tokens_total",
		TTFTHistogram:  "vllm_time_to_first_token_seconds",
	})

	snap, err := probe.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if snap.RequestCount != 42 {
		t.Errorf("request count = %v, want 42", snap.RequestCount)
	}
	if snap.TotalTokens != 1000 {
		t.Errorf("total tokens = %v, want 1000", snap.TotalTokens)
	}
	wantAvgMs := (8.4 / 42) * 1000
	if snap.AvgTTFTMs() != wantAvgMs {
		t.Errorf("avg TTFT ms = %v, want %v", snap.AvgTTFTMs(), wantAvgMs)
	}
}

func TestPrometheusProbe_ScrapeNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	probe := NewPrometheusProbe(srv.URL, MetricNames{})
	if _, err := probe.Scrape(context.Background()); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestSnapshot_AvgTTFTMsZeroCount(t *testing.T) {
	s := &Snapshot{}
	if s.AvgTTFTMs() != 0 {
		t.Fatalf("expected 0 avg TTFT with no observations, got %v", s.AvgTTFTMs())
	}
}

func TestDelta_SubtractsBeforeFromAfter(t *testing.T) {
	before := &Snapshot{RequestCount: 10, TotalTokens: 200, RawCounters: map[string]float64{"x": 1}}
	after := &Snapshot{RequestCount: 25, TotalTokens: 500, RawCounters: map[string]float64{"x": 4}}

	d := Delta(before, after)

	if d.RequestCount != 15 || d.TotalTokens != 300 {
		t.Fatalf("unexpected delta: %+v", d)
	}
	if d.RawCounters["x"] != 3 {
		t.Fatalf("raw counter delta = %v, want 3", d.RawCounters["x"])
	}
}
