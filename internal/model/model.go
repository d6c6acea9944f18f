// Package model defines the data types shared across the benchmark engine:
// per-request results, aggregated statistics, run configuration, and the
// infrastructure-sizing recommendation produced from a benchmark sweep.
//
// All timestamps are UTC. time.Time zero values never leak into a
// BenchmarkResult; every producer normalizes with .UTC() before attaching a
// timestamp to a result.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ErrorKind classifies why a request failed, independent of the adapter
// that produced it.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindConnection  ErrorKind = "connection"
	ErrorKindHTTPStatus  ErrorKind = "http_status"
	ErrorKindMalformed   ErrorKind = "malformed_response"
	ErrorKindCancelled   ErrorKind = "cancelled"
	ErrorKindUnsupported ErrorKind = "unsupported"
)

// RequestResult captures the full timing and outcome of a single inference
// request issued by the load generator.
type RequestResult struct {
	RequestID      int           `json:"request_id"`
	Success        bool          `json:"success"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	TTFT           time.Duration `json:"ttft"`              // time to first token; equals E2ELatency for non-streaming
	E2ELatency     time.Duration `json:"e2e_latency"`        // full request duration
	TPOT           time.Duration `json:"tpot"`               // time per output token, derived
	ITL            []time.Duration `json:"itl"`              // inter-token latency sequence
	InputTokens    int           `json:"input_tokens"`
	OutputTokens   int           `json:"output_tokens"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	HTTPStatusCode int           `json:"http_status_code,omitempty"`
}

// LatencyStats holds percentile/summary statistics for one latency
// dimension (TTFT, E2E, TPOT, or a flattened ITL sample).
type LatencyStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	Stddev float64 `json:"stddev"`
}

// GoodputThresholds defines the SLO boundaries a request must satisfy to
// count toward goodput. A zero field means "no constraint on this axis".
type GoodputThresholds struct {
	TTFTMs float64 `json:"ttft_ms,omitempty"`
	TPOTMs float64 `json:"tpot_ms,omitempty"`
	E2EMs  float64 `json:"e2e_ms,omitempty"`
}

// GoodputResult reports, for a set of thresholds, how many requests
// satisfied each axis independently and how many satisfied all axes at
// once (the conjunctive "goodput" requests).
type GoodputResult struct {
	Thresholds        GoodputThresholds `json:"thresholds"`
	TTFTSatisfied      int               `json:"ttft_satisfied"`
	TPOTSatisfied      int               `json:"tpot_satisfied"`
	E2ESatisfied       int               `json:"e2e_satisfied"`
	OverallSatisfied   int               `json:"overall_satisfied"`
	TotalRequests      int               `json:"total_requests"`
	GoodputRatio       float64           `json:"goodput_ratio"`
	GoodputRequestsSec float64           `json:"goodput_requests_per_sec"`
}

// ConcurrencyResult aggregates the outcome of running one concurrency
// level of a sweep: its latency statistics, throughput, error rate, and
// (optionally) goodput against the sweep's thresholds.
type ConcurrencyResult struct {
	Concurrency     int            `json:"concurrency"`
	TotalRequests   int            `json:"total_requests"`
	SuccessfulCount int            `json:"successful_count"`
	FailedCount     int            `json:"failed_count"`
	ErrorRate       float64        `json:"error_rate"`
	ThroughputRPS   float64        `json:"throughput_rps"`
	RequestRate     float64        `json:"request_rate"`
	OutputTokensSec float64        `json:"output_tokens_per_sec"`
	TTFT            LatencyStats   `json:"ttft"`
	E2E             LatencyStats   `json:"e2e"`
	TPOT            LatencyStats   `json:"tpot"`
	ITL             LatencyStats   `json:"itl"`
	Goodput         *GoodputResult `json:"goodput,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	Results         []RequestResult `json:"-"` // raw per-request results, not serialized in summaries
}

// BenchmarkConfig parameterizes a single benchmark run, potentially
// sweeping across multiple concurrency levels.
type BenchmarkConfig struct {
	ServerURL          string            `json:"server_url"`
	Model              string            `json:"model"`
	AdapterKind        string            `json:"adapter_kind"` // "openai" | "triton" | "anthropic"
	APIKey             string            `json:"-"`
	ConcurrencyLevels  []int             `json:"concurrency_levels"`
	RequestsPerLevel   int               `json:"requests_per_level"` // 0 means duration mode
	DurationPerLevel   time.Duration     `json:"duration_per_level"`
	PromptTokens       int               `json:"prompt_tokens"`
	MaxOutputTokens    int               `json:"max_output_tokens"`
	Stream             bool              `json:"stream"`
	RequestTimeout     time.Duration     `json:"request_timeout"`
	Goodput            *GoodputThresholds `json:"goodput,omitempty"`
	ValidateMetrics    bool              `json:"validate_metrics"`
	PrometheusURL      string            `json:"prometheus_url,omitempty"`
	ProgressIntervalN  int               `json:"-"` // 0 = derive from request count, per level
}

// BenchmarkResult is the top-level output of a full sweep: one
// ConcurrencyResult per level plus run metadata and optional
// cross-validation outcomes. The generator attaches at most one, covering
// the whole sweep (its Concurrency is 0).
type BenchmarkResult struct {
	RunID       uuid.UUID            `json:"run_id"`
	Config      BenchmarkConfig      `json:"config"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Levels      []ConcurrencyResult  `json:"levels"`
	Validations []ValidationResult   `json:"validations,omitempty"`
	ServerInfra *ServerInfraInfo     `json:"server_infra,omitempty"`
}

// WorkloadSpec describes the target workload the recommender sizes
// infrastructure for: a peak concurrency level and the SLO it must meet.
type WorkloadSpec struct {
	Name                string  `json:"name"`
	PeakConcurrency     int     `json:"peak_concurrency"`
	TTFTTargetMs        float64 `json:"ttft_target_ms"`
	TPOTTargetMs        float64 `json:"tpot_target_ms"`
	GoodputTargetPct    float64 `json:"goodput_target_percent"`
	AvgInputTokens      int     `json:"avg_input_tokens"`
	AvgOutputTokens     int     `json:"avg_output_tokens"`
}

// InfraProfile snapshots the accelerator environment and measured
// performance ceiling a benchmark sweep found. GPUName "unknown GPU" /
// GPUCount 1 / GPUMemoryGB 0 are the sentinel values used when hardware
// could not be probed.
type InfraProfile struct {
	GPUName                 string  `json:"gpu_name"`
	GPUCount                int     `json:"gpu_count"`
	GPUMemoryGB             float64 `json:"gpu_memory_gb"`
	MaxConcurrencyAtSLO     int     `json:"max_concurrency_at_slo"`
	ThroughputTokensPerSec  float64 `json:"throughput_tokens_per_sec"`
	GoodputAtMaxConcurrency float64 `json:"goodput_at_max_concurrency"`
	SaturationConcurrency   int     `json:"saturation_concurrency"`
	SaturationGoodputPct    float64 `json:"saturation_goodput_percent"`
}

// InfraRecommendation is the output of the recommender: given an observed
// sweep and a target workload, how many accelerators (and what tensor
// parallelism) are needed to serve it within SLO.
type InfraRecommendation struct {
	ModelName              string       `json:"model_name"`
	Workload               WorkloadSpec `json:"workload"`
	Profile                InfraProfile `json:"profile"`
	RecommendedGPU         string       `json:"recommended_gpu"`
	RecommendedCount       int          `json:"recommended_count"`
	TensorParallelism      int          `json:"tensor_parallelism"`
	EstimatedMaxConcurrency int         `json:"estimated_max_concurrency"`
	EstimatedThroughput    float64      `json:"estimated_throughput_tokens_per_sec"`
	EstimatedGoodputPct    float64      `json:"estimated_goodput_percent"`
	HeadroomPercent        float64      `json:"headroom_percent"`
	CalculationFormula     string       `json:"calculation_formula"`
	Reasoning              string       `json:"reasoning"`
}

// ServerInfraInfo is a best-effort snapshot of the serving engine identity.
// Nothing in this module populates it yet: the generator leaves
// BenchmarkResult.ServerInfra nil. Absence never fails a run.
type ServerInfraInfo struct {
	EngineName       string `json:"engine_name,omitempty"`
	Model            string `json:"model,omitempty"`
	Dtype            string `json:"dtype,omitempty"`
	MaxModelLen      int    `json:"max_model_len,omitempty"`
	TensorParallel   int    `json:"tensor_parallel_size,omitempty"`
}

// MetricComparison is one client-vs-server metric comparison performed by
// the validator.
type MetricComparison struct {
	MetricName   string  `json:"metric_name"`
	ClientValue  float64 `json:"client_value"`
	ServerValue  float64 `json:"server_value"`
	DiffPercent  float64 `json:"diff_percent"`
	ToleranceOK  bool    `json:"tolerance_ok"`
}

// PrometheusValidation is the outcome of comparing client-observed metrics
// against a server's Prometheus exposition, before and after a run.
type PrometheusValidation struct {
	Passed      bool               `json:"passed"`
	Comparisons []MetricComparison `json:"comparisons"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// DockerLogMetrics is the parsed summary of a server's container logs over
// a run window, produced by an external LogProbe collaborator.
type DockerLogMetrics struct {
	ContainerName          string    `json:"container_name"`
	LogStartTime           time.Time `json:"log_start_time"`
	LogEndTime             time.Time `json:"log_end_time"`
	HTTP2xxCount           int       `json:"http_2xx_count"`
	HTTPErrorCount         int       `json:"http_error_count"`
	AvgPromptThroughput    float64   `json:"avg_prompt_throughput"`
	AvgGenThroughput       float64   `json:"avg_generation_throughput"`
	AvgRunningRequests     float64   `json:"avg_running_requests"`
	AvgWaitingRequests     float64   `json:"avg_waiting_requests"`
	PeakKVCacheUtilization float64   `json:"peak_kv_cache_utilization"`
	PrefixCacheHitRate     float64   `json:"prefix_cache_hit_rate"`
	ErrorLines             []string  `json:"error_lines,omitempty"`
	WarningLines           []string  `json:"warning_lines,omitempty"`
}

// DockerLogValidation is the outcome of comparing client-observed metrics
// against a server's parsed container logs.
type DockerLogValidation struct {
	Passed      bool               `json:"passed"`
	Comparisons []MetricComparison `json:"comparisons"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// ValidationResult is the full cross-validation outcome for the window a
// before/after snapshot pair brackets; Concurrency labels that window (0
// when it spans a whole sweep). Each sub-result is independently optional depending
// on which probes were configured; OverallPassed is the AND of whichever
// sub-results are present.
type ValidationResult struct {
	Concurrency   int                   `json:"concurrency"`
	Prometheus    *PrometheusValidation `json:"prometheus,omitempty"`
	DockerLog     *DockerLogValidation  `json:"docker_log,omitempty"`
	OverallPassed bool                  `json:"overall_passed"`
}
