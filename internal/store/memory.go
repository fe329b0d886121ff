package store

import (
    "context"
    "sort"
    "sync"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu     sync.Mutex
    runs   map[string]Run                  // id -> run
    ids    []string                        // sorted run ids
    cands  map[string][]CandidateMetrics   // runId -> candidates
}

func NewMemory() *Memory {
    return &Memory{
        runs: map[string]Run{},
        cands: map[string][]CandidateMetrics{},
    }
}

func (m *Memory) SaveRun(ctx context.Context, run Run) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if prev, ok := m.runs[run.ID]; ok {
        run.CreatedAt = prev.CreatedAt
    } else {
        i := sort.SearchStrings(m.ids, run.ID)
        m.ids = append(m.ids, "")
        copy(m.ids[i+1:], m.ids[i:])
        m.ids[i] = run.ID
    }
    run.Result = run.Result.Clone()
    m.runs[run.ID] = run
    return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[id]
    if !ok { return Run{}, ErrNotFound }
    r.Result = r.Result.Clone()
    return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, cursor string, limit int) ([]Run, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    limit = clampLimit(limit)
    start := 0
    if cursor != "" {
        start = sort.Search(len(m.ids), func(i int) bool { return m.ids[i] > cursor })
    }
    out := []Run{}
    for _, id := range m.ids[start:] {
        if len(out) == limit { break }
        r := m.runs[id]
        r.Result = nil // listings carry no result bodies
        out = append(out, r)
    }
    next := ""
    if len(out) == limit && start+limit < len(m.ids) { next = out[len(out)-1].ID }
    return out, next, nil
}

func (m *Memory) SaveCandidateMetrics(ctx context.Context, runID string, items []CandidateMetrics) error {
    m.mu.Lock(); defer m.mu.Unlock()
    for _, it := range items {
        it.RunID = runID
        m.cands[runID] = append(m.cands[runID], it)
    }
    return nil
}

func (m *Memory) ListCandidateMetrics(ctx context.Context, runID string) ([]CandidateMetrics, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]CandidateMetrics{}, m.cands[runID]...), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
