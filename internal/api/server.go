package api

import (
    "context"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "routeopt/internal/config"
    "routeopt/internal/engine"
    "routeopt/internal/logging"
    "routeopt/internal/metrics"
    "routeopt/internal/model"
    "routeopt/internal/store"
)

// Optimizer is the engine surface the handlers need.
type Optimizer interface {
    Optimize(ctx context.Context, req *model.OptimizationRequest, opts ...engine.Option) (*model.OptimizationResult, error)
    Solvers() []engine.SolverInfo
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
    Ping(ctx context.Context) error
}

type Deps struct {
    Engine Optimizer
    Runs   store.Store
    Broker EventBroker
    // Checks are probed by /readyz, keyed by a name reported on failure.
    Checks map[string]Pinger
    Logger *logging.Logger
}

type Server struct {
    Engine Optimizer
    Runs   store.Store
    Broker EventBroker
    Config *config.OptimizationConfig
    Checks map[string]Pinger

    log     *logging.Logger
    started time.Time
    // base outlives requests so async runs survive the client disconnecting.
    base   context.Context
    cancel context.CancelFunc
    wg     sync.WaitGroup
}

// NewServer wires the handlers. A nil run store or broker gets the in-memory implementation.
func NewServer(cfg *config.OptimizationConfig, deps Deps) *Server {
    log := deps.Logger
    if log == nil { log = logging.Nop() }
    runs := deps.Runs
    if runs == nil { runs = store.NewMemory() }
    broker := deps.Broker
    if broker == nil { broker = NewBroker() }
    checks := map[string]Pinger{"store": runs}
    for name, p := range deps.Checks { checks[name] = p }
    base, cancel := context.WithCancel(context.Background())
    return &Server{
        Engine:  deps.Engine,
        Runs:    runs,
        Broker:  broker,
        Config:  cfg,
        Checks:  checks,
        log:     log.WithComponent("api"),
        started: time.Now(),
        base:    base,
        cancel:  cancel,
    }
}

// Routes returns the HTTP handler with all endpoints and middleware.
func (s *Server) Routes() http.Handler {
    mux := http.NewServeMux()

    // Optimization
    mux.HandleFunc("POST /v1/optimize", s.OptimizeHandler)
    mux.HandleFunc("GET /v1/optimize/ws", s.OptimizeWSHandler)
    mux.HandleFunc("GET /v1/optimizer/config", s.OptimizerConfigHandler)

    // Run history and progress
    mux.HandleFunc("GET /v1/runs", s.RunsHandler)
    mux.HandleFunc("GET /v1/runs/{id}", s.RunByIDHandler)
    mux.HandleFunc("GET /v1/runs/{id}/events", s.RunEventsHandler)

    // Docs
    mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
    mux.HandleFunc("GET /openapi.json", s.OpenAPIJSONHandler)
    mux.HandleFunc("GET /docs", s.DocsHandler)

    // Health, metrics, debug
    mux.HandleFunc("GET /healthz", s.HealthHandler)
    mux.HandleFunc("GET /readyz", s.ReadyHandler)
    mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    mux.HandleFunc("GET /v1/debug", s.DebugHandler)

    return s.middleware(mux)
}

// Shutdown waits for background runs to finish, cancelling them once ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
    done := make(chan struct{})
    go func() { s.wg.Wait(); close(done) }()
    select {
    case <-done:
        s.cancel()
        return nil
    case <-ctx.Done():
        s.cancel()
        <-done
        return ctx.Err()
    }
}
