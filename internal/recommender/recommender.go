// Package recommender turns a multi-level benchmark sweep into an
// infrastructure sizing recommendation: how many accelerators (and what
// tensor parallelism) are needed to serve a target workload within its
// SLO, given the sweep's observed performance ceiling.
package recommender

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nulpointcorp/llm-bench/internal/generator"
	"github.com/nulpointcorp/llm-bench/internal/model"
)

// GPUInfo is what a GPU-probe collaborator reports about the accelerator
// environment a benchmark ran against.
type GPUInfo struct {
	Name      string
	Count     int
	MemoryGB  float64
}

// GPUProbe is a best-effort collaborator; its absence (nil, or a false
// second return) just means the profile falls back to sentinel values.
type GPUProbe func() (GPUInfo, bool)

const (
	unknownGPUName = "unknown GPU"
	maxGoodputPct  = 99.9
)

// Recommend runs the full recommender pipeline: it rebuilds base around the
// target workload (goodput thresholds from the SLO, prompt/output lengths
// from the workload's average token counts), drives a full
// concurrency-staircase sweep with gen, then scores the resulting sweep
// into an InfraRecommendation. The sweep's BenchmarkResult is returned
// alongside so callers can log or persist it like any other run.
func Recommend(ctx context.Context, gen *generator.Generator, modelName string, workload model.WorkloadSpec, base model.BenchmarkConfig, headroom float64, probe GPUProbe) (*model.InfraRecommendation, *model.BenchmarkResult, error) {
	cfg := base
	cfg.Goodput = &model.GoodputThresholds{
		TTFTMs: workload.TTFTTargetMs,
		TPOTMs: workload.TPOTTargetMs,
	}
	cfg.PromptTokens = workload.AvgInputTokens
	cfg.MaxOutputTokens = workload.AvgOutputTokens

	result, err := gen.Run(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("recommender: sweep failed: %w", err)
	}

	profile := BuildProfile(result.Levels, workload, probe)
	rec := Calculate(modelName, workload, profile, headroom)
	return &rec, result, nil
}

// BuildProfile assembles an InfraProfile from one benchmark sweep and the
// target workload's SLO, filling GPU fields from probe if it reports
// availability, or the sentinel values otherwise.
func BuildProfile(levels []model.ConcurrencyResult, workload model.WorkloadSpec, probe GPUProbe) model.InfraProfile {
	name, count, memGB := unknownGPUName, 1, 0.0
	if probe != nil {
		if info, ok := probe(); ok {
			name, count, memGB = info.Name, info.Count, info.MemoryGB
		}
	}

	maxAtSLO := findMaxConcurrencyAtSLO(levels, workload)
	saturation, saturationGoodput := findSaturationPoint(levels)

	throughput, goodputAtMax := throughputAt(levels, maxAtSLO)

	return model.InfraProfile{
		GPUName:                 name,
		GPUCount:                count,
		GPUMemoryGB:             memGB,
		MaxConcurrencyAtSLO:     maxAtSLO,
		ThroughputTokensPerSec:  throughput,
		GoodputAtMaxConcurrency: goodputAtMax,
		SaturationConcurrency:   saturation,
		SaturationGoodputPct:    saturationGoodput,
	}
}

// findMaxConcurrencyAtSLO returns the highest tested concurrency level
// whose p95 TTFT/TPOT and goodput all satisfy the workload's SLO, or the
// lowest tested level if none qualify.
func findMaxConcurrencyAtSLO(levels []model.ConcurrencyResult, workload model.WorkloadSpec) int {
	if len(levels) == 0 {
		return 1
	}

	sorted := append([]model.ConcurrencyResult(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Concurrency > sorted[j].Concurrency })

	for _, r := range sorted {
		meetsSLO := true
		if r.TTFT.P95 > workload.TTFTTargetMs {
			meetsSLO = false
		}
		if workload.TPOTTargetMs > 0 && r.TPOT.P95 > 0 && r.TPOT.P95 > workload.TPOTTargetMs {
			meetsSLO = false
		}
		if r.Goodput != nil && r.Goodput.GoodputRatio*100 < workload.GoodputTargetPct {
			meetsSLO = false
		}
		if meetsSLO {
			return r.Concurrency
		}
	}

	min := sorted[0].Concurrency
	for _, r := range sorted {
		if r.Concurrency < min {
			min = r.Concurrency
		}
	}
	return min
}

// findSaturationPoint walks levels in ascending concurrency order and
// returns the level just before the first sign of degradation: a goodput
// drop of more than 10 percentage points from the previous level, an
// error rate above 5%, or goodput below 90%.
func findSaturationPoint(levels []model.ConcurrencyResult) (int, float64) {
	if len(levels) == 0 {
		return 1, 100.0
	}
	if len(levels) == 1 {
		return levels[0].Concurrency, goodputPct(levels[0])
	}

	sorted := append([]model.ConcurrencyResult(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Concurrency < sorted[j].Concurrency })

	prevGoodput := 100.0
	saturationConcurrency := sorted[len(sorted)-1].Concurrency
	saturationGoodput := 100.0

	for i, r := range sorted {
		current := goodputPct(r)

		saturated := false
		switch {
		case prevGoodput-current > 10:
			saturated = true
		case r.ErrorRate*100 > 5:
			saturated = true
		case current < 90:
			saturated = true
		}

		if saturated {
			if i > 0 {
				prev := sorted[i-1]
				saturationConcurrency = prev.Concurrency
				saturationGoodput = goodputPct(prev)
			} else {
				saturationConcurrency = r.Concurrency
				saturationGoodput = current
			}
			break
		}

		prevGoodput = current
		saturationConcurrency = r.Concurrency
		saturationGoodput = current
	}

	return saturationConcurrency, saturationGoodput
}

func goodputPct(r model.ConcurrencyResult) float64 {
	if r.Goodput == nil {
		return 100.0
	}
	return r.Goodput.GoodputRatio * 100
}

func throughputAt(levels []model.ConcurrencyResult, concurrency int) (throughput, goodput float64) {
	for _, r := range levels {
		if r.Concurrency == concurrency {
			return r.OutputTokensSec, goodputPct(r)
		}
	}
	if len(levels) == 0 {
		return 0, 0
	}
	best := levels[0]
	for _, r := range levels[1:] {
		if r.OutputTokensSec > best.OutputTokensSec {
			best = r
		}
	}
	return best.OutputTokensSec, goodputPct(best)
}

// Calculate applies the scaling formula to a profile and workload:
//
//	raw = (peak_concurrency / max_concurrency_at_slo) * (1 + headroom)
//	recommended_count = max(ceil(raw), current_gpu_count)
//	tensor_parallelism = 1 below 4 GPUs, 2 below 8, else 4
func Calculate(modelName string, workload model.WorkloadSpec, profile model.InfraProfile, headroom float64) model.InfraRecommendation {
	maxAtSLO := profile.MaxConcurrencyAtSLO
	if maxAtSLO <= 0 {
		maxAtSLO = 1
	}

	scalingFactor := float64(workload.PeakConcurrency) / float64(maxAtSLO)
	rawCount := scalingFactor * (1 + headroom)
	recommendedCount := int(math.Ceil(rawCount))
	if profile.GPUCount > recommendedCount {
		recommendedCount = profile.GPUCount
	}

	tensorParallelism := 1
	if recommendedCount >= 4 {
		tensorParallelism = 2
	}
	if recommendedCount >= 8 {
		tensorParallelism = 4
	}

	gpuCount := profile.GPUCount
	if gpuCount <= 0 {
		gpuCount = 1
	}
	estimatedMaxConcurrency := maxAtSLO * recommendedCount / gpuCount
	estimatedThroughput := profile.ThroughputTokensPerSec * float64(recommendedCount) / float64(gpuCount)
	estimatedGoodput := math.Min(profile.GoodputAtMaxConcurrency+headroom*10, maxGoodputPct)

	formula := fmt.Sprintf(
		"max(ceil((%d / %d) × %.1f), %d) = max(ceil(%.2f × %.1f), %d) = max(ceil(%.2f), %d) = %d",
		workload.PeakConcurrency, maxAtSLO, 1+headroom, profile.GPUCount,
		scalingFactor, 1+headroom, profile.GPUCount,
		rawCount, profile.GPUCount, recommendedCount,
	)

	reasoning := buildReasoning(profile, workload, recommendedCount, headroom)

	return model.InfraRecommendation{
		ModelName:               modelName,
		Workload:                workload,
		Profile:                 profile,
		RecommendedGPU:          profile.GPUName,
		RecommendedCount:        recommendedCount,
		TensorParallelism:       tensorParallelism,
		EstimatedMaxConcurrency: estimatedMaxConcurrency,
		EstimatedThroughput:     estimatedThroughput,
		EstimatedGoodputPct:     estimatedGoodput,
		HeadroomPercent:         headroom * 100,
		CalculationFormula:      formula,
		Reasoning:               reasoning,
	}
}

func buildReasoning(profile model.InfraProfile, workload model.WorkloadSpec, recommendedCount int, headroom float64) string {
	var lines []string

	lines = append(lines, fmt.Sprintf(
		"Current %s x%d handles %d concurrent requests at SLO (goodput %.1f%%).",
		profile.GPUName, profile.GPUCount, profile.MaxConcurrencyAtSLO, profile.GoodputAtMaxConcurrency,
	))

	lines = append(lines, fmt.Sprintf(
		"Target: %d concurrent requests (TTFT < %.0fms, goodput > %.0f%%).",
		workload.PeakConcurrency, workload.TTFTTargetMs, workload.GoodputTargetPct,
	))

	maxAtSLO := profile.MaxConcurrencyAtSLO
	if maxAtSLO <= 0 {
		maxAtSLO = 1
	}
	scaleFactor := float64(workload.PeakConcurrency) / float64(maxAtSLO)
	lines = append(lines, fmt.Sprintf("Scaling factor required: %.2fx.", scaleFactor))

	lines = append(lines, fmt.Sprintf("Applying %.0f%% headroom.", headroom*100))

	lines = append(lines, fmt.Sprintf("Recommendation: %d x %s.", recommendedCount, profile.GPUName))

	if profile.SaturationConcurrency < workload.PeakConcurrency {
		lines = append(lines, fmt.Sprintf(
			"Note: saturation begins at concurrency %d, where goodput falls to %.1f%%.",
			profile.SaturationConcurrency, profile.SaturationGoodputPct,
		))
	}

	return strings.Join(lines, " ")
}
