// Package config loads and validates all runtime configuration for the
// benchmark engine.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example SERVER_URL becomes
// server_url in YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/llm-bench/internal/model"
)

// Config is the top-level configuration container.
type Config struct {
	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// ServerURL is the base URL of the inference server under test.
	ServerURL string

	// Model is the model name sent in each request.
	Model string

	// AdapterKind selects which ServerAdapter to construct: "openai",
	// "triton", or "anthropic".
	AdapterKind string

	// APIKey authenticates against the server under test. May be empty for
	// adapters/servers that don't require one.
	APIKey string

	// ConcurrencyLevels is the staircase of concurrency levels to sweep.
	ConcurrencyLevels []int

	// RequestsPerLevel: when > 0, each level runs this many requests.
	// When 0, DurationPerLevel governs how long each level runs instead.
	RequestsPerLevel int
	DurationPerLevel time.Duration

	PromptTokens    int
	MaxOutputTokens int
	Stream          bool
	RequestTimeout  time.Duration

	// Goodput thresholds; all-zero means goodput is not computed.
	GoodputTTFTMs float64
	GoodputTPOTMs float64
	GoodputE2EMs  float64

	// ValidateMetrics enables cross-validation against the server's
	// Prometheus exposition.
	ValidateMetrics bool
	PrometheusURL   string

	// RedisURL, when set, enables publishing progress events to Redis in
	// addition to the in-process channel sink.
	RedisURL string

	// ClickHouseDSN, when set, enables persisting completed runs.
	ClickHouseDSN string

	// RecommendMode switches the CLI from a plain benchmark sweep to the
	// recommender pipeline: the sweep is rebuilt around the workload below
	// and scored into an InfraRecommendation instead of a bare
	// BenchmarkResult.
	RecommendMode bool

	WorkloadName             string
	WorkloadPeakConcurrency  int
	WorkloadTTFTTargetMs     float64
	WorkloadTPOTTargetMs     float64
	WorkloadGoodputTargetPct float64
	WorkloadAvgInputTokens   int
	WorkloadAvgOutputTokens  int

	// RecommendHeadroom is the fractional safety margin (0..1) applied to
	// the recommender's scaling calculation before rounding up.
	RecommendHeadroom float64
}

// Load reads configuration from environment variables and (optionally)
// from config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ADAPTER_KIND", "openai")
	v.SetDefault("CONCURRENCY_LEVELS", []int{1, 10, 50})
	v.SetDefault("REQUESTS_PER_LEVEL", 50)
	v.SetDefault("DURATION_PER_LEVEL", "0s")
	v.SetDefault("PROMPT_TOKENS", 256)
	v.SetDefault("MAX_OUTPUT_TOKENS", 256)
	v.SetDefault("STREAM", true)
	v.SetDefault("REQUEST_TIMEOUT", "120s")
	v.SetDefault("VALIDATE_METRICS", false)
	v.SetDefault("RECOMMEND_MODE", false)
	v.SetDefault("RECOMMEND_HEADROOM", 0.2)

	cfg := &Config{
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
		ServerURL:         v.GetString("SERVER_URL"),
		Model:             v.GetString("MODEL"),
		AdapterKind:       strings.ToLower(v.GetString("ADAPTER_KIND")),
		APIKey:            v.GetString("API_KEY"),
		ConcurrencyLevels: v.GetIntSlice("CONCURRENCY_LEVELS"),
		RequestsPerLevel:  v.GetInt("REQUESTS_PER_LEVEL"),
		DurationPerLevel:  v.GetDuration("DURATION_PER_LEVEL"),
		PromptTokens:      v.GetInt("PROMPT_TOKENS"),
		MaxOutputTokens:   v.GetInt("MAX_OUTPUT_TOKENS"),
		Stream:            v.GetBool("STREAM"),
		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		GoodputTTFTMs:     v.GetFloat64("GOODPUT_TTFT_MS"),
		GoodputTPOTMs:     v.GetFloat64("GOODPUT_TPOT_MS"),
		GoodputE2EMs:      v.GetFloat64("GOODPUT_E2E_MS"),
		ValidateMetrics:   v.GetBool("VALIDATE_METRICS"),
		PrometheusURL:     v.GetString("PROMETHEUS_URL"),
		RedisURL:          v.GetString("REDIS_URL"),
		ClickHouseDSN:     v.GetString("CLICKHOUSE_DSN"),

		RecommendMode:            v.GetBool("RECOMMEND_MODE"),
		WorkloadName:             v.GetString("WORKLOAD_NAME"),
		WorkloadPeakConcurrency:  v.GetInt("WORKLOAD_PEAK_CONCURRENCY"),
		WorkloadTTFTTargetMs:     v.GetFloat64("WORKLOAD_TTFT_TARGET_MS"),
		WorkloadTPOTTargetMs:     v.GetFloat64("WORKLOAD_TPOT_TARGET_MS"),
		WorkloadGoodputTargetPct: v.GetFloat64("WORKLOAD_GOODPUT_TARGET_PCT"),
		WorkloadAvgInputTokens:   v.GetInt("WORKLOAD_AVG_INPUT_TOKENS"),
		WorkloadAvgOutputTokens:  v.GetInt("WORKLOAD_AVG_OUTPUT_TOKENS"),
		RecommendHeadroom:        v.GetFloat64("RECOMMEND_HEADROOM"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as
// defaults, and must raise before any network traffic is attempted.
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: SERVER_URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("config: MODEL is required")
	}

	switch c.AdapterKind {
	case "openai", "triton", "anthropic":
	default:
		return fmt.Errorf("config: invalid ADAPTER_KIND %q; must be one of: openai, triton, anthropic", c.AdapterKind)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if len(c.ConcurrencyLevels) == 0 {
		return fmt.Errorf("config: CONCURRENCY_LEVELS must contain at least one level")
	}
	for _, lvl := range c.ConcurrencyLevels {
		if lvl < 1 {
			return fmt.Errorf("config: CONCURRENCY_LEVELS entries must be >= 1, got %d", lvl)
		}
	}

	if c.RequestsPerLevel <= 0 && c.DurationPerLevel <= 0 {
		return fmt.Errorf("config: either REQUESTS_PER_LEVEL or DURATION_PER_LEVEL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT must be a positive duration")
	}

	if c.ValidateMetrics && c.PrometheusURL == "" {
		return fmt.Errorf("config: PROMETHEUS_URL is required when VALIDATE_METRICS=true")
	}

	if c.RecommendMode && c.WorkloadPeakConcurrency <= 0 {
		return fmt.Errorf("config: WORKLOAD_PEAK_CONCURRENCY must be positive when RECOMMEND_MODE=true")
	}

	return nil
}

// Workload builds the model.WorkloadSpec the recommender pipeline sizes
// infrastructure for, from this config's WORKLOAD_* fields.
func (c *Config) Workload() model.WorkloadSpec {
	return model.WorkloadSpec{
		Name:             c.WorkloadName,
		PeakConcurrency:  c.WorkloadPeakConcurrency,
		TTFTTargetMs:     c.WorkloadTTFTTargetMs,
		TPOTTargetMs:     c.WorkloadTPOTTargetMs,
		GoodputTargetPct: c.WorkloadGoodputTargetPct,
		AvgInputTokens:   c.WorkloadAvgInputTokens,
		AvgOutputTokens:  c.WorkloadAvgOutputTokens,
	}
}

// GoodputThresholds builds the model.GoodputThresholds this config
// describes, or nil if none of the three axes were configured.
func (c *Config) GoodputThresholds() *model.GoodputThresholds {
	if c.GoodputTTFTMs == 0 && c.GoodputTPOTMs == 0 && c.GoodputE2EMs == 0 {
		return nil
	}
	return &model.GoodputThresholds{
		TTFTMs: c.GoodputTTFTMs,
		TPOTMs: c.GoodputTPOTMs,
		E2EMs:  c.GoodputE2EMs,
	}
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
