// Package probe scrapes server-side observability sources so the
// validator can cross-check client-observed measurements against what the
// server itself reports.
//
// Two sources are supported: a Prometheus exposition endpoint (parsed with
// the standard expfmt decoder rather than regular expressions) and, as a
// pluggable port, a server's container logs (ParseEngineLogLines implements
// the parsing grammar; fetching the log lines themselves is left to the
// caller).
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/common/expfmt"
)

// Snapshot is a point-in-time read of the metrics this tool cross-checks:
// request counters, token counters, and the TTFT histogram's sum/count
// (from which an average can be derived). Values are summed across all
// label combinations a metric family exposes, per metric name.
type Snapshot struct {
	TakenAt           time.Time
	RequestCount      float64
	TotalTokens       float64
	TTFTSum           float64 // sum of observed TTFT seconds, from the histogram
	TTFTCount         uint64  // number of TTFT observations
	RawCounters       map[string]float64
}

// MetricNames configures which Prometheus metric names this probe reads.
// Server-specific exporters (vLLM, TGI, Triton) name these differently;
// callers supply the mapping for the server under test.
type MetricNames struct {
	RequestCounter string // e.g. "vllm:request_success_total"
	TokenCounter   string // e.g. "vllm:generation_tokens_total"
	TTFTHistogram  string // e.g. "vllm:time_to_first_token_seconds"
}

// DefaultVLLMMetricNames is the metric-name mapping for a stock vLLM
// OpenAI-compatible server's /metrics endpoint, used by the CLI entry point
// when no server-specific mapping is configured.
var DefaultVLLMMetricNames = MetricNames{
	RequestCounter: "vllm:request_success_total",
	TokenCounter:   "vllm:generation_tokens_total",
	TTFTHistogram:  "vllm:time_to_first_token_seconds",
}

// PrometheusProbe scrapes a target's /metrics endpoint.
type PrometheusProbe struct {
	url    string
	names  MetricNames
	client *http.Client
}

func NewPrometheusProbe(url string, names MetricNames) *PrometheusProbe {
	return &PrometheusProbe{
		url:    url,
		names:  names,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Scrape fetches and parses the exposition, summing each configured
// metric's value across every label set it's exposed under.
func (p *PrometheusProbe) Scrape(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: scrape %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe: scrape %s: http %d", p.url, resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("probe: parse exposition: %w", err)
	}

	snap := &Snapshot{TakenAt: time.Now().UTC(), RawCounters: make(map[string]float64)}

	for name, fam := range families {
		var total float64
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil && name == p.names.TTFTHistogram:
				snap.TTFTSum += m.GetHistogram().GetSampleSum()
				snap.TTFTCount += m.GetHistogram().GetSampleCount()
			}
		}
		snap.RawCounters[name] = total

		switch name {
		case p.names.RequestCounter:
			snap.RequestCount = total
		case p.names.TokenCounter:
			snap.TotalTokens = total
		}
	}

	return snap, nil
}

// AvgTTFTMs derives the average observed TTFT in milliseconds from the
// histogram sum/count, or zero if no observations were recorded.
func (s *Snapshot) AvgTTFTMs() float64 {
	if s.TTFTCount == 0 {
		return 0
	}
	return (s.TTFTSum / float64(s.TTFTCount)) * 1000
}

// Delta returns the per-metric change between a before/after snapshot
// pair, used by the validator to compare "what happened during this run"
// rather than cumulative totals.
func Delta(before, after *Snapshot) Snapshot {
	d := Snapshot{
		TakenAt:      after.TakenAt,
		RequestCount: after.RequestCount - before.RequestCount,
		TotalTokens:  after.TotalTokens - before.TotalTokens,
		TTFTSum:      after.TTFTSum - before.TTFTSum,
		RawCounters:  make(map[string]float64),
	}
	if after.TTFTCount >= before.TTFTCount {
		d.TTFTCount = after.TTFTCount - before.TTFTCount
	}
	for k, v := range after.RawCounters {
		d.RawCounters[k] = v - before.RawCounters[k]
	}
	return d
}
