// Package validator cross-checks client-observed benchmark metrics
// against what the server itself reports, via before/after probe
// snapshots taken around a run.
package validator

import (
	"github.com/nulpointcorp/llm-bench/internal/model"
	"github.com/nulpointcorp/llm-bench/internal/probe"
)

const (
	defaultTolerance   = 0.05
	ttftTolerance      = 0.10
)

// ClientObserved is what the load generator measured over the window a
// before/after snapshot pair brackets (the generator sums every level of a
// sweep into one), the values this package compares against the server's
// own counters.
type ClientObserved struct {
	RequestCount int
	TotalTokens  int
	AvgTTFTMs    float64
}

// ValidatePrometheus compares client-observed metrics against a
// before/after Prometheus snapshot pair; concurrency only labels the result.
// Request count and total tokens use a 5% tolerance; average TTFT uses
// 10%, matching the original tool's looser bound on timing noise.
func ValidatePrometheus(concurrency int, observed ClientObserved, before, after *probe.Snapshot) model.ValidationResult {
	delta := probe.Delta(before, after)

	comparisons := []model.MetricComparison{
		compare("Request Count", float64(observed.RequestCount), delta.RequestCount, defaultTolerance),
		compare("Avg TTFT (ms)", observed.AvgTTFTMs, delta.AvgTTFTMs(), ttftTolerance),
		compare("Total Tokens", float64(observed.TotalTokens), delta.TotalTokens, defaultTolerance),
	}

	var warnings []string
	passed := true
	for _, c := range comparisons {
		if !c.ToleranceOK {
			passed = false
			warnings = append(warnings, c.MetricName+" outside tolerance")
		}
	}

	pv := &model.PrometheusValidation{Passed: passed, Comparisons: comparisons, Warnings: warnings}

	return model.ValidationResult{
		Concurrency:   concurrency,
		Prometheus:    pv,
		OverallPassed: passed,
	}
}

// ValidateDockerLog compares client-observed metrics against parsed
// container-log metrics for one concurrency level.
func ValidateDockerLog(concurrency int, observed ClientObserved, logs model.DockerLogMetrics) model.ValidationResult {
	comparisons := []model.MetricComparison{
		compare("Request Count", float64(observed.RequestCount), float64(logs.HTTP2xxCount+logs.HTTPErrorCount), defaultTolerance),
	}

	var warnings []string
	passed := true
	for _, c := range comparisons {
		if !c.ToleranceOK {
			passed = false
			warnings = append(warnings, c.MetricName+" outside tolerance")
		}
	}
	if len(logs.ErrorLines) > 0 {
		warnings = append(warnings, "container log contains ERROR lines")
	}

	dv := &model.DockerLogValidation{Passed: passed, Comparisons: comparisons, Warnings: warnings}

	return model.ValidationResult{
		Concurrency:   concurrency,
		DockerLog:     dv,
		OverallPassed: passed,
	}
}

// Combine merges a Prometheus-only and a DockerLog-only result for the
// same concurrency level into one ValidationResult whose OverallPassed is
// the AND of whichever sub-results are present.
func Combine(concurrency int, prom *model.PrometheusValidation, docker *model.DockerLogValidation) model.ValidationResult {
	overall := true
	if prom != nil {
		overall = overall && prom.Passed
	}
	if docker != nil {
		overall = overall && docker.Passed
	}
	return model.ValidationResult{
		Concurrency:   concurrency,
		Prometheus:    prom,
		DockerLog:     docker,
		OverallPassed: overall,
	}
}

func compare(name string, client, server, tolerance float64) model.MetricComparison {
	return model.MetricComparison{
		MetricName:  name,
		ClientValue: client,
		ServerValue: server,
		DiffPercent: diffPercent(client, server),
		ToleranceOK: withinTolerance(client, server, tolerance),
	}
}

// withinTolerance implements the original tool's special case: when the
// server reports zero, the check only passes if the client also observed
// zero, since a percentage difference against zero is undefined.
func withinTolerance(client, server, tolerance float64) bool {
	if server == 0 {
		return client == 0
	}
	diff := client - server
	if diff < 0 {
		diff = -diff
	}
	return diff/server <= tolerance
}

func diffPercent(client, server float64) float64 {
	if server == 0 {
		if client == 0 {
			return 0
		}
		return 100
	}
	diff := client - server
	if diff < 0 {
		diff = -diff
	}
	return (diff / server) * 100
}
