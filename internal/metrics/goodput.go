package metrics

import (
	"time"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

// ComputeGoodput classifies each successful result against the given
// thresholds, independently per axis, and counts the conjunctive
// "goodput" requests — those satisfying every configured axis at once. A
// zero threshold on an axis means that axis imposes no constraint. A
// result missing a required measurement (e.g. TPOT undefined because it
// had fewer than two output tokens) fails that axis's check, matching the
// original tool's "absence fails the check" rule.
func ComputeGoodput(results []model.RequestResult, thresholds model.GoodputThresholds, windowSeconds float64) model.GoodputResult {
	gr := model.GoodputResult{Thresholds: thresholds}

	for _, r := range results {
		if !r.Success {
			continue
		}
		gr.TotalRequests++

		ttftOK := thresholds.TTFTMs == 0 || msOf(r.TTFT) <= thresholds.TTFTMs
		e2eOK := thresholds.E2EMs == 0 || msOf(r.E2ELatency) <= thresholds.E2EMs

		tpotOK := thresholds.TPOTMs == 0
		if thresholds.TPOTMs > 0 {
			if r.OutputTokens > 1 {
				tpotOK = msOf(r.TPOT) <= thresholds.TPOTMs
			} else {
				tpotOK = false
			}
		}

		if ttftOK {
			gr.TTFTSatisfied++
		}
		if tpotOK {
			gr.TPOTSatisfied++
		}
		if e2eOK {
			gr.E2ESatisfied++
		}
		if ttftOK && tpotOK && e2eOK {
			gr.OverallSatisfied++
		}
	}

	if gr.TotalRequests > 0 {
		gr.GoodputRatio = float64(gr.OverallSatisfied) / float64(gr.TotalRequests)
	}
	if windowSeconds > 0 {
		gr.GoodputRequestsSec = float64(gr.OverallSatisfied) / windowSeconds
	}

	return gr
}

func msOf(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
