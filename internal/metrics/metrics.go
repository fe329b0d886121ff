package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // OptimizeRuns counts optimize calls by strategy and outcome (ok, cached, failed)
    OptimizeRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "optimize_runs_total", Help: "Optimize calls by strategy and outcome."},
        []string{"strategy", "outcome"},
    )
    // OptimizeDuration tracks end-to-end optimize latency in seconds
    OptimizeDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Optimize wall-clock duration in seconds.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}},
        []string{"strategy"},
    )
    // CandidateOutcomes counts solver/provider candidates by name and status (ok, error, timeout, skipped)
    CandidateOutcomes = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "optimize_candidates_total", Help: "Candidate outcomes by solver and status."},
        []string{"solver", "status"},
    )
    // CandidateLatency tracks candidate compute time in milliseconds
    CandidateLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "optimize_candidate_latency_ms", Help: "Candidate compute time in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000}},
        []string{"solver", "status"},
    )
    // CacheLookups counts result cache lookups by outcome (hit, miss, shared)
    CacheLookups = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "result_cache_lookups_total", Help: "Result cache lookups by outcome."},
        []string{"outcome"},
    )
    // MatrixBuilds counts distance matrices by source (ors, haversine, memo)
    MatrixBuilds = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "distance_matrix_builds_total", Help: "Distance matrices by source."},
        []string{"source"},
    )
    // ProviderCalls counts outbound provider HTTP calls by provider and status
    ProviderCalls = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "provider_calls_total", Help: "Outbound provider calls by provider and status."},
        []string{"provider", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(OptimizeRuns)
        Registry.MustRegister(OptimizeDuration)
        Registry.MustRegister(CandidateOutcomes)
        Registry.MustRegister(CandidateLatency)
        Registry.MustRegister(CacheLookups)
        Registry.MustRegister(MatrixBuilds)
        Registry.MustRegister(ProviderCalls)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
