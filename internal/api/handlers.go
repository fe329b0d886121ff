package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "time"

    "routeopt/internal/config"
    "routeopt/internal/engine"
    "routeopt/internal/logging"
    "routeopt/internal/store"
)

const heartbeatInterval = 15 * time.Second

// OptimizeHandler handles POST /v1/optimize. With ?async=true it answers 202 with the run id
// and the result is fetched from /v1/runs/{id}, with progress on /v1/runs/{id}/events.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    params, err := parseRunParams(r)
    if err != nil { s.writeError(w, r, err); return }
    req, err := decodeRequest(r, w)
    if err != nil { s.writeError(w, r, err); return }

    runID := engine.NewRunID()
    opts := append(params.options(), engine.WithRunID(runID), engine.WithProgress(func(evt engine.Event) {
        s.Broker.Publish(runID, evt)
    }))

    if !params.Async {
        res, err := s.Engine.Optimize(r.Context(), req, opts...)
        if err != nil { s.writeError(w, r, err); return }
        writeJSON(w, http.StatusOK, res)
        return
    }

    strategy := params.Strategy
    if strategy == "" { strategy = s.Config.Strategy }
    // record the run up front so it is visible before the worker goroutine starts
    if err := s.Runs.SaveRun(r.Context(), store.Run{ID: runID, Strategy: strategy, Status: store.StatusRunning, CreatedAt: time.Now().UTC()}); err != nil {
        s.log.WithContext(r.Context()).WithError(err).Warn("Failed to pre-record async run", "runId", runID)
    }
    ctx := logging.ContextWithRequestID(s.base, requestID(r.Context()))
    s.wg.Add(1)
    go func() {
        defer s.wg.Done()
        if _, err := s.Engine.Optimize(ctx, req, opts...); err != nil {
            s.log.WithContext(ctx).WithError(err).Info("Async run failed", "runId", runID)
        }
    }()
    w.Header().Set("Location", "/v1/runs/"+runID)
    writeJSON(w, http.StatusAccepted, map[string]any{
        "runId":  runID,
        "status": store.StatusRunning,
        "links": map[string]string{
            "self":   "/v1/runs/" + runID,
            "events": "/v1/runs/" + runID + "/events",
        },
    })
}

// OptimizerConfigHandler returns the effective configuration with secrets redacted.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{
        "config":     s.Config.Redacted(),
        "solvers":    s.Engine.Solvers(),
        "strategies": []string{config.StrategySingleLocal, config.StrategySingleProvider, config.StrategyHybridAll},
    })
}

// RunsHandler handles GET /v1/runs?cursor=&limit=
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
    limit, err := parseLimit(r.URL.Query().Get("limit"))
    if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path); return }
    items, next, err := s.Runs.ListRuns(r.Context(), r.URL.Query().Get("cursor"), limit)
    if err != nil { s.writeError(w, r, fmt.Errorf("list runs: %w", err)); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles GET /v1/runs/{id}
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := r.PathValue("id")
    run, err := s.Runs.GetRun(r.Context(), id)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, http.StatusNotFound, "Run not found", id, r.URL.Path); return }
    if err != nil { s.writeError(w, r, fmt.Errorf("get run: %w", err)); return }
    cands, err := s.Runs.ListCandidateMetrics(r.Context(), id)
    if err != nil { s.writeError(w, r, fmt.Errorf("list candidates: %w", err)); return }
    writeJSON(w, http.StatusOK, map[string]any{"run": run, "candidates": cands})
}

// RunEventsHandler streams a run's progress as server-sent events until it completes or fails.
// A run that already finished gets its terminal event straight away.
func (s *Server) RunEventsHandler(w http.ResponseWriter, r *http.Request) {
    id := r.PathValue("id")
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path); return }

    // subscribe before reading the run so a completion in between is not missed
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    run, err := s.Runs.GetRun(r.Context(), id)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, http.StatusNotFound, "Run not found", id, r.URL.Path); return }
    if err != nil { s.writeError(w, r, fmt.Errorf("get run: %w", err)); return }

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    w.WriteHeader(http.StatusOK)

    seq := 0
    send := func(evt engine.Event) {
        seq++
        b, _ := json.Marshal(evt)
        fmt.Fprintf(w, "id: %d\n", seq)
        fmt.Fprintf(w, "event: %s\n", evt.Type)
        fmt.Fprintf(w, "data: %s\n\n", b)
        flusher.Flush()
    }
    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"runId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    if evt, done := finalEvent(run); done {
        send(evt)
        return
    }
    heartbeat()

    ticker := time.NewTicker(heartbeatInterval)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            send(evt)
            if terminal(evt) { return }
        case <-ticker.C:
            heartbeat()
        }
    }
}

// finalEvent rebuilds the terminal event of a finished run from the run history.
func finalEvent(run store.Run) (engine.Event, bool) {
    evt := engine.Event{RunID: run.ID, Strategy: run.Strategy, Candidate: run.Algorithm, Cached: run.Cached, Error: run.Error}
    if run.FinishedAt != nil {
        evt.Time = *run.FinishedAt
        evt.ElapsedMs = run.FinishedAt.Sub(run.CreatedAt).Milliseconds()
    }
    switch run.Status {
    case store.StatusSucceeded:
        evt.Type = engine.EventRunCompleted
        if run.Result != nil {
            evt.Score = run.Result.Metadata.Score
            evt.TotalCost = run.Result.Summary.TotalCost
        }
        return evt, true
    case store.StatusFailed:
        evt.Type = engine.EventRunFailed
        return evt, true
    }
    return evt, false
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the run store, cache and broker backends.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    for name, p := range s.Checks {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        err := p.Ping(ctx)
        cancel()
        if err != nil {
            writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
            return
        }
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
