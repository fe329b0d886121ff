package store

import (
    "context"
    "fmt"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "routeopt/internal/model"
)

func TestMemorySaveAndGetRun(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    res := &model.OptimizationResult{Routes: []model.Route{{VehicleID: "v1", Stops: []string{"a"}}}}
    require.NoError(t, m.SaveRun(ctx, Run{ID: "r1", Status: StatusRunning, CreatedAt: time.Now()}))

    done := time.Now()
    require.NoError(t, m.SaveRun(ctx, Run{ID: "r1", Status: StatusSucceeded, Algorithm: "ga", Result: res, FinishedAt: &done}))
    got, err := m.GetRun(ctx, "r1")
    require.NoError(t, err)
    assert.Equal(t, StatusSucceeded, got.Status)
    assert.Equal(t, "ga", got.Algorithm)

    res.Routes[0].Stops[0] = "mutated"
    got, _ = m.GetRun(ctx, "r1")
    assert.Equal(t, "a", got.Result.Routes[0].Stops[0])

    _, err = m.GetRun(ctx, "missing")
    assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListRunsPaginates(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    for _, i := range []int{3, 1, 4, 0, 2} {
        require.NoError(t, m.SaveRun(ctx, Run{ID: fmt.Sprintf("r%d", i), Result: &model.OptimizationResult{}}))
    }
    page, next, err := m.ListRuns(ctx, "", 2)
    require.NoError(t, err)
    assert.Equal(t, []string{"r0", "r1"}, ids(page))
    assert.Equal(t, "r1", next)
    assert.Nil(t, page[0].Result)

    page, next, _ = m.ListRuns(ctx, next, 2)
    assert.Equal(t, []string{"r2", "r3"}, ids(page))
    page, next, _ = m.ListRuns(ctx, next, 2)
    assert.Equal(t, []string{"r4"}, ids(page))
    assert.Empty(t, next)
}

func TestMemoryCandidateMetrics(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    require.NoError(t, m.SaveCandidateMetrics(ctx, "r1", []CandidateMetrics{{Algorithm: "ga", Status: "ok"}, {Algorithm: "sa", Status: "timeout"}}))
    got, err := m.ListCandidateMetrics(ctx, "r1")
    require.NoError(t, err)
    require.Len(t, got, 2)
    assert.Equal(t, "r1", got[1].RunID)
    empty, _ := m.ListCandidateMetrics(ctx, "r2")
    assert.Empty(t, empty)
}

func TestClampLimit(t *testing.T) {
    assert.Equal(t, defaultLimit, clampLimit(0))
    assert.Equal(t, maxLimit, clampLimit(10_000))
    assert.Equal(t, 7, clampLimit(7))
}

func ids(runs []Run) []string {
    out := make([]string, len(runs))
    for i, r := range runs { out[i] = r.ID }
    return out
}
