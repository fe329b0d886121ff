package main

import (
    "context"
    "errors"
    "flag"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "routeopt/internal/api"
    "routeopt/internal/buildinfo"
    "routeopt/internal/cache"
    "routeopt/internal/config"
    "routeopt/internal/distance"
    "routeopt/internal/engine"
    "routeopt/internal/insight"
    "routeopt/internal/logging"
    "routeopt/internal/metrics"
    "routeopt/internal/providers/cloudfleet"
    "routeopt/internal/providers/fleetsaas"
    "routeopt/internal/store"
)

func main() {
    configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML configuration file")
    flag.Parse()

    cfg, err := config.Load(*configPath)
    if err != nil {
        logging.New(logging.DefaultConfig("routeopt")).Error("Failed to load configuration", "error", err.Error())
        os.Exit(1)
    }
    logCfg := logging.DefaultConfig("routeopt")
    logCfg.Level = cfg.LogLevel
    logCfg.Environment = cfg.Environment
    logCfg.Version = buildinfo.Version
    log := logging.New(logCfg)
    log.SetDefault()

    if err := run(cfg, log); err != nil {
        log.WithError(err).Error("Server stopped with error")
        os.Exit(1)
    }
}

func run(cfg *config.OptimizationConfig, log *logging.Logger) error {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    metrics.RegisterDefault()
    checks := map[string]api.Pinger{}

    // Distances: ORS when a key is configured, haversine otherwise or when ORS fails.
    local := distance.Haversine{SpeedKph: cfg.AverageSpeedKph}
    var primary distance.Provider
    var geocoder distance.Geocoder
    if cfg.ORSAPIKey != "" {
        ors, err := distance.NewORS(distance.ORSConfig{
            APIKey:            cfg.ORSAPIKey,
            BaseURL:           cfg.ORSBaseURL,
            Profile:           cfg.ORSProfile,
            RequestsPerSecond: cfg.RequestsPerSecond,
            Timeout:           cfg.ProviderTimeout,
            Logger:            log,
        })
        if err != nil { return err }
        primary, geocoder = ors, ors
        // only routed matrices are memoized; a haversine fallback is rebuilt each time
        if cfg.MatrixMemoSize > 0 {
            primary = distance.NewMemo(ors, cfg.MatrixMemoSize)
        }
    }
    matrix := distance.NewFallback(primary, local, log)

    solvers := engine.LocalSolvers(cfg)
    solvers = append(solvers,
        fleetsaas.New(fleetsaas.Config{
            BaseURL:           cfg.FleetSaaSURL,
            Token:             cfg.FleetSaaSToken,
            Timeout:           cfg.ProviderTimeout,
            RequestsPerSecond: cfg.RequestsPerSecond,
            Logger:            log,
        }),
        cloudfleet.New(cloudfleet.Config{
            BaseURL:           cfg.CloudFleetURL,
            Project:           cfg.CloudFleetProject,
            Token:             cfg.CloudFleetToken,
            Timeout:           cfg.ProviderTimeout,
            RequestsPerSecond: cfg.RequestsPerSecond,
            Logger:            log,
        }),
    )

    // Result cache and progress broker share Redis when it is configured.
    var results cache.Store = cache.NewMemory()
    var broker api.EventBroker = api.NewBroker()
    if cfg.RedisURL != "" {
        rc, err := cache.NewRedis(cfg.RedisURL)
        if err != nil { return err }
        defer rc.Close()
        rb, err := api.NewRedisBroker(cfg.RedisURL, log)
        if err != nil { return err }
        defer rb.Close()
        results, broker = rc, rb
        checks["cache"] = rc
        checks["broker"] = rb
    }
    var resultCache *cache.ResultCache
    if cfg.CacheTTL > 0 {
        resultCache = cache.New(results, cfg.CacheTTL, log)
    }

    var runs store.Store = store.NewMemory()
    if cfg.DatabaseURL != "" {
        pg, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil { return err }
        defer pg.Close()
        sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
        err = pg.EnsureSchema(sctx)
        cancel()
        if err != nil { return err }
        runs = pg
    }

    var advisor insight.Advisor
    if cfg.AdvisorURL != "" {
        advisor = insight.NewHTTPAdvisor(insight.HTTPAdvisorConfig{URL: cfg.AdvisorURL, Token: cfg.AdvisorToken, Logger: log})
    }

    eng := engine.New(cfg, engine.Deps{
        Matrix:   matrix,
        Geocoder: geocoder,
        Solvers:  solvers,
        Cache:    resultCache,
        Runs:     runs,
        Advisor:  advisor,
        Logger:   log,
    })
    server := api.NewServer(cfg, api.Deps{Engine: eng, Runs: runs, Broker: broker, Checks: checks, Logger: log})

    srv := &http.Server{
        Addr:              cfg.HTTPAddr,
        Handler:           server.Routes(),
        ReadHeaderTimeout: 5 * time.Second,
    }
    errCh := make(chan error, 1)
    go func() {
        log.Info("API listening", "addr", cfg.HTTPAddr, "strategy", cfg.Strategy, "solvers", len(solvers), "version", buildinfo.Version)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            errCh <- err
        }
        close(errCh)
    }()

    select {
    case err := <-errCh:
        return err
    case <-ctx.Done():
    }
    log.Info("Shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.MaxCompute+cfg.GracePeriod+5*time.Second)
    defer cancel()
    if err := srv.Shutdown(shutdownCtx); err != nil {
        log.WithError(err).Warn("HTTP shutdown incomplete")
    }
    if err := server.Shutdown(shutdownCtx); err != nil {
        log.WithError(err).Warn("Background runs cancelled at shutdown")
    }
    return nil
}
