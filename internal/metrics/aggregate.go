package metrics

import (
	"time"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

// Aggregate builds a ConcurrencyResult from the raw per-request results
// collected at one concurrency level. duration is the wall-clock time the
// level ran for, used to derive throughput and request rate.
func Aggregate(concurrency int, results []model.RequestResult, duration float64, thresholds *model.GoodputThresholds) model.ConcurrencyResult {
	cr := model.ConcurrencyResult{
		Concurrency:     concurrency,
		TotalRequests:   len(results),
		DurationSeconds: duration,
		Results:         results,
	}

	var ttft, e2e, tpot, itl []time.Duration
	var outputTokens int

	for _, r := range results {
		if r.Success {
			cr.SuccessfulCount++
			outputTokens += r.OutputTokens
			ttft = append(ttft, r.TTFT)
			e2e = append(e2e, r.E2ELatency)
			if r.OutputTokens > 1 {
				tpot = append(tpot, r.TPOT)
			}
			itl = append(itl, r.ITL...)
		} else {
			cr.FailedCount++
		}
	}

	if cr.TotalRequests > 0 {
		cr.ErrorRate = float64(cr.FailedCount) / float64(cr.TotalRequests)
	}
	if duration > 0 {
		cr.ThroughputRPS = float64(cr.SuccessfulCount) / duration
		cr.RequestRate = float64(cr.SuccessfulCount) / duration
		cr.OutputTokensSec = float64(outputTokens) / duration
	}

	cr.TTFT = ComputeLatencyStats(ttft)
	cr.E2E = ComputeLatencyStats(e2e)
	cr.TPOT = ComputeLatencyStats(tpot)
	cr.ITL = ComputeLatencyStats(itl)

	if thresholds != nil {
		gr := ComputeGoodput(results, *thresholds, duration)
		cr.Goodput = &gr
	}

	return cr
}
