package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    _ "github.com/jackc/pgx/v5/stdlib"

    "routeopt/internal/model"
)

// Postgres keeps the run history in PostgreSQL through the pgx database/sql driver.
type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(10)
    db.SetConnMaxIdleTime(5 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// NewPostgresDB wraps an open handle, mainly for tests.
func NewPostgresDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

const schema = `
CREATE TABLE IF NOT EXISTS optimization_runs (
    id text PRIMARY KEY,
    fingerprint text NOT NULL,
    strategy text NOT NULL,
    status text NOT NULL,
    algorithm text,
    cached boolean NOT NULL DEFAULT false,
    error text,
    result jsonb,
    created_at timestamptz NOT NULL DEFAULT now(),
    finished_at timestamptz
);
CREATE INDEX IF NOT EXISTS optimization_runs_fingerprint_idx ON optimization_runs (fingerprint);
CREATE TABLE IF NOT EXISTS run_candidates (
    run_id text NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
    algorithm text NOT NULL,
    status text NOT NULL,
    score double precision,
    compute_time_ms bigint,
    iterations integer,
    total_cost double precision,
    distance_km double precision,
    unassigned integer,
    error text,
    PRIMARY KEY (run_id, algorithm)
);`

// EnsureSchema creates the tables when they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
    _, err := p.db.ExecContext(ctx, schema)
    return err
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) SaveRun(ctx context.Context, run Run) error {
    var result any
    if run.Result != nil {
        b, err := json.Marshal(run.Result)
        if err != nil { return fmt.Errorf("encode result: %w", err) }
        result = b
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO optimization_runs (id, fingerprint, strategy, status, algorithm, cached, error, result, created_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET fingerprint=EXCLUDED.fingerprint, status=EXCLUDED.status, algorithm=EXCLUDED.algorithm, cached=EXCLUDED.cached,
            error=EXCLUDED.error, result=EXCLUDED.result, finished_at=EXCLUDED.finished_at`,
        run.ID, run.Fingerprint, run.Strategy, run.Status, nullIfEmpty(run.Algorithm), run.Cached, nullIfEmpty(run.Error), result, run.CreatedAt, run.FinishedAt)
    return err
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
    row := p.db.QueryRowContext(ctx, `SELECT id, fingerprint, strategy, status, algorithm, cached, error, result, created_at, finished_at FROM optimization_runs WHERE id=$1`, id)
    r, err := scanRun(row, true)
    if errors.Is(err, sql.ErrNoRows) { return Run{}, ErrNotFound }
    return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT id, fingerprint, strategy, status, algorithm, cached, error, NULL::jsonb, created_at, finished_at
        FROM optimization_runs WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit+1)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []Run{}
    for rows.Next() {
        r, err := scanRun(rows, false)
        if err != nil { return nil, "", err }
        out = append(out, r)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) > limit {
        out = out[:limit]
        next = out[limit-1].ID
    }
    return out, next, nil
}

type scanner interface{ Scan(dest ...any) error }

func scanRun(s scanner, withResult bool) (Run, error) {
    var r Run
    var algo, errText sql.NullString
    var result []byte
    var finished sql.NullTime
    if err := s.Scan(&r.ID, &r.Fingerprint, &r.Strategy, &r.Status, &algo, &r.Cached, &errText, &result, &r.CreatedAt, &finished); err != nil {
        return Run{}, err
    }
    r.Algorithm = algo.String
    r.Error = errText.String
    if finished.Valid {
        t := finished.Time
        r.FinishedAt = &t
    }
    if withResult && len(result) > 0 {
        var res model.OptimizationResult
        if err := json.Unmarshal(result, &res); err != nil { return Run{}, fmt.Errorf("decode result: %w", err) }
        r.Result = &res
    }
    return r, nil
}

func (p *Postgres) SaveCandidateMetrics(ctx context.Context, runID string, items []CandidateMetrics) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    for _, it := range items {
        _, err := tx.ExecContext(ctx, `INSERT INTO run_candidates (run_id, algorithm, status, score, compute_time_ms, iterations, total_cost, distance_km, unassigned, error)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
            ON CONFLICT (run_id, algorithm) DO UPDATE SET status=EXCLUDED.status, score=EXCLUDED.score, compute_time_ms=EXCLUDED.compute_time_ms,
                iterations=EXCLUDED.iterations, total_cost=EXCLUDED.total_cost, distance_km=EXCLUDED.distance_km, unassigned=EXCLUDED.unassigned, error=EXCLUDED.error`,
            runID, it.Algorithm, it.Status, it.Score, it.ComputeTimeMs, it.Iterations, it.TotalCost, it.DistanceKm, it.Unassigned, nullIfEmpty(it.Error))
        if err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) ListCandidateMetrics(ctx context.Context, runID string) ([]CandidateMetrics, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT algorithm, status, COALESCE(score,0), COALESCE(compute_time_ms,0), COALESCE(iterations,0),
        COALESCE(total_cost,0), COALESCE(distance_km,0), COALESCE(unassigned,0), error FROM run_candidates WHERE run_id=$1 ORDER BY algorithm`, runID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []CandidateMetrics{}
    for rows.Next() {
        it := CandidateMetrics{RunID: runID}
        var errText sql.NullString
        if err := rows.Scan(&it.Algorithm, &it.Status, &it.Score, &it.ComputeTimeMs, &it.Iterations, &it.TotalCost, &it.DistanceKm, &it.Unassigned, &errText); err != nil {
            return nil, err
        }
        it.Error = errText.String
        out = append(out, it)
    }
    return out, rows.Err()
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
