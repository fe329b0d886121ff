package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeopt/internal/model"
)

func sampleRequest() *model.OptimizationRequest {
	return &model.OptimizationRequest{
		Locations: []model.Location{
			{ID: "a", Point: &model.GeoPoint{Lat: 40.71, Lng: -74.0}, Demand: 10},
			{ID: "b", Point: &model.GeoPoint{Lat: 40.73, Lng: -73.99}, Demand: 20},
		},
		Vehicles:   []model.Vehicle{{ID: "v1", Capacity: 100, Start: model.GeoPoint{Lat: 40.7, Lng: -74.01}}},
		Objectives: model.Objectives{Distance: 1, Time: 1, Cost: 1},
	}
}

func sampleResult() *model.OptimizationResult {
	return &model.OptimizationResult{
		Routes:     []model.Route{{VehicleID: "v1", Stops: []string{"a", "b"}, DistanceKm: 7.5}},
		Summary:    model.Summary{TotalDistanceKm: 7.5, VehiclesUsed: 1},
		Unassigned: []string{},
		Metadata:   model.Metadata{Algorithm: "ga"},
	}
}

func TestFingerprintNormalizesObjectives(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	b.Objectives = model.Objectives{Distance: 2, Time: 2, Cost: 2}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 64)

	b.PlanDate = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := sampleRequest()
	c.Locations[1].Demand = 21
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))

	d := sampleRequest()
	d.Constraints.Capacity = true
	assert.NotEqual(t, Fingerprint(a), Fingerprint(d))
}

func TestMemoryExpiresEntries(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", sampleResult(), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "ga", got.Metadata.Algorithm)

	got.Routes[0].Stops[0] = "mutated"
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, "a", again.Routes[0].Stops[0])

	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Zero(t, m.Len())
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, r.Set(ctx, "k", sampleResult(), time.Hour))
	assert.True(t, mr.Exists(redisPrefix+"k"))
	got, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, sampleResult(), got)

	mr.FastForward(2 * time.Hour)
	_, err = r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStoreReportsConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	mr.Close()

	_, err = r.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestGetOrComputeHitReturnsIdenticalResult(t *testing.T) {
	c := New(NewMemory(), time.Hour, nil)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (*model.OptimizationResult, error) {
		calls++
		return sampleResult(), nil
	}

	first, outcome, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMiss, outcome)

	second, outcome, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, outcome)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Routes, second.Routes)
}

func TestGetOrComputeCoalescesConcurrentMisses(t *testing.T) {
	c := New(NewMemory(), time.Hour, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*model.OptimizationResult, error) {
		calls.Add(1)
		<-release
		return sampleResult(), nil
	}

	var wg sync.WaitGroup
	results := make([]*model.OptimizationResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _, err := c.GetOrCompute(context.Background(), "k", compute)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	// every caller owns its copy
	results[0].Routes[0].Stops[0] = "x"
	assert.Equal(t, "a", results[1].Routes[0].Stops[0])
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	store := NewMemory()
	c := New(store, time.Hour, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (*model.OptimizationResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.Len())
}

func TestGetOrComputeCallerCancellationDoesNotAbortComputation(t *testing.T) {
	store := NewMemory()
	c := New(store, time.Hour, nil)
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _, err := c.GetOrCompute(ctx, "k", func(cctx context.Context) (*model.OptimizationResult, error) {
		defer close(done)
		time.Sleep(60 * time.Millisecond)
		assert.NoError(t, cctx.Err())
		return sampleResult(), nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	<-done
	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 10*time.Millisecond)
}
