package store

import (
    "context"
    "errors"
    "time"

    "routeopt/internal/model"
)

// Run statuses.
const (
    StatusRunning   = "running"
    StatusSucceeded = "succeeded"
    StatusFailed    = "failed"
)

// Run is one optimization call as recorded in the run history.
type Run struct {
    ID          string                     `json:"id"`
    Fingerprint string                     `json:"fingerprint"`
    Strategy    string                     `json:"strategy"`
    Status      string                     `json:"status"`
    Algorithm   string                     `json:"algorithm,omitempty"`
    Cached      bool                       `json:"cached"`
    Error       string                     `json:"error,omitempty"`
    Result      *model.OptimizationResult  `json:"result,omitempty"`
    CreatedAt   time.Time                  `json:"createdAt"`
    FinishedAt  *time.Time                 `json:"finishedAt,omitempty"`
}

// CandidateMetrics records how one solver or provider did within a run.
type CandidateMetrics struct {
    RunID         string   `json:"runId"`
    Algorithm     string   `json:"algorithm"`
    Status        string   `json:"status"` // ok, error, timeout
    Score         float64  `json:"score"`
    ComputeTimeMs int64    `json:"computeTimeMs"`
    Iterations    int      `json:"iterations"`
    TotalCost     float64  `json:"totalCost"`
    DistanceKm    float64  `json:"distanceKm"`
    Unassigned    int      `json:"unassigned"`
    Error         string   `json:"error,omitempty"`
}

// Store is the run history used by the engine and the API server.
type Store interface {
    // SaveRun inserts or replaces a run by id.
    SaveRun(ctx context.Context, run Run) error
    GetRun(ctx context.Context, id string) (Run, error)
    // ListRuns returns runs with id greater than cursor, oldest first.
    ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error)

    SaveCandidateMetrics(ctx context.Context, runID string, items []CandidateMetrics) error
    ListCandidateMetrics(ctx context.Context, runID string) ([]CandidateMetrics, error)

    Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const (
    defaultLimit = 50
    maxLimit     = 500
)

func clampLimit(limit int) int {
    if limit <= 0 { return defaultLimit }
    if limit > maxLimit { return maxLimit }
    return limit
}
