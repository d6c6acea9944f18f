// Package selfmetrics provides a Prometheus metrics registry for the
// benchmark engine's own operational health.
//
// It is distinct from internal/probe, which scrapes the *target* server's
// Prometheus endpoint. This registry describes the benchmark tool itself —
// in-flight requests, adapter errors, run counts — so the tool can be
// observed the same way the services it benchmarks are. All metrics are
// scoped to a private registry so they don't interfere with host-level
// metrics when embedded elsewhere. The /metrics HTTP handler is exposed via
// Handler().
package selfmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// benchmark_inflight_requests
	inFlight prometheus.Gauge

	// benchmark_requests_total{adapter,outcome}
	requestsTotal *prometheus.CounterVec

	// benchmark_request_duration_seconds{adapter,phase} phase=ttft|e2e
	requestDuration *prometheus.HistogramVec

	// benchmark_adapter_errors_total{adapter,error_kind}
	adapterErrors *prometheus.CounterVec

	// benchmark_runs_total{outcome}
	runsTotal *prometheus.CounterVec

	// benchmark_run_duration_seconds
	runDuration prometheus.Histogram

	// benchmark_validation_total{result}
	validationTotal *prometheus.CounterVec

	// benchmark_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "benchmark_inflight_requests",
			Help: "Current number of in-flight benchmark requests against the target server",
		}),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchmark_requests_total",
				Help: "Total number of benchmark requests issued, by adapter and outcome",
			},
			[]string{"adapter", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "benchmark_request_duration_seconds",
				Help:    "Per-request timing observed by the load generator",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"adapter", "phase"},
		),

		adapterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchmark_adapter_errors_total",
				Help: "Total adapter errors by adapter and error kind",
			},
			[]string{"adapter", "error_kind"},
		),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchmark_runs_total",
				Help: "Total number of benchmark runs, by outcome",
			},
			[]string{"outcome"},
		),

		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "benchmark_run_duration_seconds",
			Help:    "Wall-clock duration of a full benchmark run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. 8192s (~2.3h)
		}),

		validationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchmark_validation_total",
				Help: "Cross-validation outcomes against server-reported metrics",
			},
			[]string{"result"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "benchmark_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.requestsTotal,
		r.requestDuration,
		r.adapterErrors,
		r.runsTotal,
		r.runDuration,
		r.validationTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// RecordRequest records one completed request against the benchmarked server.
func (r *Registry) RecordRequest(adapter, outcome string) {
	r.requestsTotal.WithLabelValues(adapter, outcome).Inc()
}

// ObserveTTFT records the time-to-first-token for one request.
func (r *Registry) ObserveTTFT(adapter string, d time.Duration) {
	r.requestDuration.WithLabelValues(adapter, "ttft").Observe(d.Seconds())
}

// ObserveE2E records the end-to-end latency for one request.
func (r *Registry) ObserveE2E(adapter string, d time.Duration) {
	r.requestDuration.WithLabelValues(adapter, "e2e").Observe(d.Seconds())
}

func (r *Registry) RecordAdapterError(adapter, errorKind string) {
	r.adapterErrors.WithLabelValues(adapter, errorKind).Inc()
}

func (r *Registry) RecordRun(outcome string, dur time.Duration) {
	r.runsTotal.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(dur.Seconds())
}

func (r *Registry) RecordValidation(passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	r.validationTotal.WithLabelValues(result).Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
