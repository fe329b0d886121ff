package opt

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeopt/internal/distance"
	"routeopt/internal/model"
)

func pt(lat, lng float64) *model.GeoPoint { return &model.GeoPoint{Lat: lat, Lng: lng} }

func newTestProblem(t *testing.T, req *model.OptimizationRequest) *Problem {
	t.Helper()
	pts, err := Points(req)
	require.NoError(t, err)
	m, err := distance.Haversine{SpeedKph: 40}.Matrix(context.Background(), pts)
	require.NoError(t, err)
	p, err := NewProblem(req, m, DefaultParams())
	require.NoError(t, err)
	return p
}

// twoClusters has one vehicle starting at each of two clusters ~50 km apart.
func twoClusters() *model.OptimizationRequest {
	return &model.OptimizationRequest{
		Locations: []model.Location{
			{ID: "a1", Point: pt(33.45, -112.07), Demand: 10},
			{ID: "b1", Point: pt(33.42, -111.55), Demand: 10},
			{ID: "a2", Point: pt(33.46, -112.05), Demand: 10},
			{ID: "b2", Point: pt(33.43, -111.53), Demand: 10},
			{ID: "a3", Point: pt(33.44, -112.09), Demand: 10},
			{ID: "b3", Point: pt(33.41, -111.56), Demand: 10},
		},
		Vehicles: []model.Vehicle{
			{ID: "west", Capacity: 100, Start: model.GeoPoint{Lat: 33.45, Lng: -112.08}},
			{ID: "east", Capacity: 100, Start: model.GeoPoint{Lat: 33.42, Lng: -111.54}},
		},
		Constraints: model.Constraints{Capacity: true},
	}
}

func randomRequest(seed int64, nLoc, nVeh int, capacity float64) *model.OptimizationRequest {
	rng := rand.New(rand.NewSource(seed))
	req := &model.OptimizationRequest{Constraints: model.Constraints{Capacity: true}}
	for i := 0; i < nLoc; i++ {
		req.Locations = append(req.Locations, model.Location{
			ID:       fmt.Sprintf("loc-%d", i),
			Point:    pt(33.3+rng.Float64()*0.4, -112.2+rng.Float64()*0.5),
			Demand:   float64(5 + rng.Intn(20)),
			Priority: rng.Intn(3),
		})
	}
	for v := 0; v < nVeh; v++ {
		req.Vehicles = append(req.Vehicles, model.Vehicle{
			ID:          fmt.Sprintf("veh-%d", v),
			Capacity:    capacity,
			CostPerKm:   0.8,
			CostPerHour: 25,
			Start:       model.GeoPoint{Lat: 33.45, Lng: -111.95},
		})
	}
	return req
}

func assertValid(t *testing.T, p *Problem, sol *Solution) {
	t.Helper()
	res := BuildResult(p, sol, Stats{})
	require.NoError(t, CheckPartition(p.Request, res))
	if p.Request.Constraints.Capacity {
		for vi, r := range res.Routes {
			assert.LessOrEqual(t, r.Load, p.Request.Vehicles[vi].Capacity, "route %s over capacity", r.VehicleID)
		}
	}
}

func TestPointsOrderAndEndDepots(t *testing.T) {
	req := twoClusters()
	req.Vehicles[1].End = pt(33.5, -111.9)
	pts, err := Points(req)
	require.NoError(t, err)
	require.Len(t, pts, 6+2+1)
	assert.Equal(t, req.Vehicles[0].Start, pts[6])
	assert.Equal(t, *req.Vehicles[1].End, pts[8])

	p := newTestProblem(t, req)
	assert.Equal(t, 6, p.end[0])
	assert.Equal(t, 8, p.end[1])
}

func TestNewProblemRejectsWrongMatrixSize(t *testing.T) {
	req := twoClusters()
	m, err := distance.Haversine{}.Matrix(context.Background(), []model.GeoPoint{{Lat: 1, Lng: 1}})
	require.NoError(t, err)
	_, err = NewProblem(req, m, DefaultParams())
	assert.Error(t, err)
}

func TestScenarioSingleVehicleTakesAllStops(t *testing.T) {
	req := &model.OptimizationRequest{
		Locations: []model.Location{
			{ID: "l1", Point: pt(40.71, -74.00), Demand: 100},
			{ID: "l2", Point: pt(40.73, -73.99), Demand: 200},
			{ID: "l3", Point: pt(40.75, -73.98), Demand: 150},
		},
		Vehicles:    []model.Vehicle{{ID: "v1", Capacity: 1000, Start: model.GeoPoint{Lat: 40.70, Lng: -74.01}}},
		Constraints: model.Constraints{Capacity: true},
	}
	p := newTestProblem(t, req)
	for name, sol := range map[string]*Solution{
		"nn":   NearestNeighbor(p),
		"ga":   first(SolveGA(context.Background(), p, GAParams{Population: 10, Generations: 5, Seed: 3})),
		"sa":   first(SolveSA(context.Background(), p, SAParams{MaxIterations: 300, Seed: 3})),
		"aco":  first(SolveACO(context.Background(), p, ACOParams{Ants: 4, Iterations: 5, Seed: 3})),
		"alns": first(SolveALNS(context.Background(), p, ALNSParams{Iterations: 30, Seed: 3})),
	} {
		t.Run(name, func(t *testing.T) {
			res := BuildResult(p, sol, Stats{})
			require.Len(t, res.Routes, 1)
			assert.ElementsMatch(t, []string{"l1", "l2", "l3"}, res.Routes[0].Stops)
			assert.Empty(t, res.Unassigned)
			assert.Equal(t, 450.0, res.Routes[0].Load)
			assert.Equal(t, 1, res.Summary.VehiclesUsed)
		})
	}
}

func first(s *Solution, _ Stats) *Solution { return s }

func TestScenarioOversizedStopIsUnassigned(t *testing.T) {
	req := &model.OptimizationRequest{
		Locations:   []model.Location{{ID: "big", Point: pt(40.71, -74.00), Demand: 500}},
		Vehicles:    []model.Vehicle{{ID: "v1", Capacity: 100, Start: model.GeoPoint{Lat: 40.70, Lng: -74.01}}},
		Constraints: model.Constraints{Capacity: true},
	}
	p := newTestProblem(t, req)

	nn := NearestNeighbor(p)
	res := BuildResult(p, nn, Stats{})
	assert.Equal(t, []string{"big"}, res.Unassigned)
	assert.Empty(t, res.Routes[0].Stops)

	rnd := RandomAssignment(p, rand.New(rand.NewSource(1)))
	p.Repair(rnd)
	assert.Equal(t, []int{0}, rnd.Unassigned)

	ga, _ := SolveGA(context.Background(), p, GAParams{Population: 6, Generations: 3, Seed: 1})
	assertValid(t, p, ga)
	assert.Equal(t, []int{0}, ga.Unassigned)

	sa, _ := SolveSA(context.Background(), p, SAParams{MaxIterations: 200, Seed: 1})
	assert.Equal(t, []int{0}, sa.Unassigned)
}

func TestOversizedStopIsRoutedWhenCapacityNotEnforced(t *testing.T) {
	req := &model.OptimizationRequest{
		Locations: []model.Location{{ID: "big", Point: pt(40.71, -74.00), Demand: 500}},
		Vehicles:  []model.Vehicle{{ID: "v1", Capacity: 100, Start: model.GeoPoint{Lat: 40.70, Lng: -74.01}}},
	}
	p := newTestProblem(t, req)
	res := BuildResult(p, NearestNeighbor(p), Stats{})
	assert.Equal(t, []string{"big"}, res.Routes[0].Stops)
	assert.Empty(t, res.Routes[0].Violations)
}

func TestScenarioClustersGoToNearestVehicle(t *testing.T) {
	p := newTestProblem(t, twoClusters())
	sol := NearestNeighbor(p)
	TwoOpt(context.Background(), p, sol)
	res := BuildResult(p, sol, Stats{})

	cross := 0
	for _, r := range res.Routes {
		for _, id := range r.Stops {
			if (r.VehicleID == "west") != (id[0] == 'a') {
				cross++
			}
		}
	}
	assert.Zero(t, cross)
}

func TestLocalSearchNeverIncreasesCost(t *testing.T) {
	ops := map[string]func(context.Context, *Problem, *Solution) bool{
		"2opt":  TwoOpt,
		"3opt":  ThreeOpt,
		"oropt": OrOpt,
		"vnd": func(ctx context.Context, p *Problem, s *Solution) bool {
			LocalSearch(ctx, p, s, 50)
			return true
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			for seed := int64(1); seed <= 5; seed++ {
				p := newTestProblem(t, randomRequest(seed, 18, 3, 150))
				sol := RandomAssignment(p, rand.New(rand.NewSource(seed)))
				p.Repair(sol)
				before := sol.Cost
				op(context.Background(), p, sol)
				assert.LessOrEqual(t, sol.Cost, before+1e-6)
				assert.InDelta(t, p.Evaluate(sol.Clone()), sol.Cost, 1e-6)
				assertValid(t, p, sol)
			}
		})
	}
}

func TestTwoOptUntanglesCrossedRoute(t *testing.T) {
	req := &model.OptimizationRequest{
		Locations: []model.Location{
			{ID: "n", Point: pt(1, 0)},
			{ID: "s", Point: pt(-1, 0)},
			{ID: "e", Point: pt(0, 1)},
			{ID: "w", Point: pt(0, -1)},
		},
		Vehicles: []model.Vehicle{{ID: "v", Capacity: 10, Start: model.GeoPoint{Lat: 0.9, Lng: -0.9}}},
	}
	p := newTestProblem(t, req)
	sol := p.EmptySolution()
	sol.Plans[0].Order = []int{0, 1, 2, 3}
	p.Evaluate(sol)
	before := sol.Cost
	assert.True(t, TwoOpt(context.Background(), p, sol))
	assert.Less(t, sol.Cost, before)
}

func TestReconnectProducesPermutations(t *testing.T) {
	order := []int{0, 1, 2, 3, 4, 5}
	seen := map[string]bool{}
	for v := 0; v < 7; v++ {
		out := reconnect(nil, order, 1, 5, order[1:3], order[3:5], v)
		assert.ElementsMatch(t, order, out)
		assert.Equal(t, 0, out[0])
		assert.Equal(t, 5, out[5])
		seen[fmt.Sprint(out)] = true
	}
	assert.Len(t, seen, 7)
	assert.False(t, seen[fmt.Sprint(order)])
}

func TestRepairRestoresInvariants(t *testing.T) {
	p := newTestProblem(t, randomRequest(7, 12, 2, 60))
	sol := p.EmptySolution()
	// everything on one vehicle, a duplicate and a bogus index
	for s := 0; s < 12; s++ {
		sol.Plans[0].Order = append(sol.Plans[0].Order, s)
	}
	sol.Plans[1].Order = []int{3, 99}
	p.Repair(sol)
	assertValid(t, p, sol)
	for _, s := range sol.Unassigned {
		// an unassigned stop must not fit anywhere
		at, _ := p.insertionOptions(sol, s)
		assert.False(t, at.ok)
	}
}

func TestTimeWindowsDelayAndFlagLateness(t *testing.T) {
	req := &model.OptimizationRequest{
		Locations: []model.Location{
			{ID: "early", Point: pt(0, 0.1), TimeWindow: &model.TimeWindow{StartSec: 3600, EndSec: 7200}, ServiceSec: 600},
			{ID: "late", Point: pt(0, 0.2), TimeWindow: &model.TimeWindow{StartSec: 0, EndSec: 2700}},
		},
		Vehicles:    []model.Vehicle{{ID: "v", Capacity: 10, Start: model.GeoPoint{Lat: 0, Lng: 0}}},
		Constraints: model.Constraints{TimeWindows: true},
	}
	p := newTestProblem(t, req)
	e := p.EvalRoute(0, []int{0, 1})
	assert.Equal(t, 1, e.LateStops)
	// waits until 1h, serves 10 min, drives back
	assert.Greater(t, e.Hours, 1.0+10.0/60)
	assert.Contains(t, p.violations(e), ViolationTimeWindow)

	_, ok := p.advance(p.newCursor(0), 1)
	assert.True(t, ok)
	c, _ := p.advance(p.newCursor(0), 0)
	_, ok = p.advance(c, 1)
	assert.False(t, ok)
}

func TestMaxDistanceIsFlaggedNotDropped(t *testing.T) {
	req := twoClusters()
	req.Constraints.MaxDistanceKm = 1
	p := newTestProblem(t, req)
	sol := p.EmptySolution()
	sol.Plans[0].Order = []int{0, 2, 4}
	sol.Plans[1].Order = []int{1, 3, 5}
	p.Evaluate(sol)
	res := BuildResult(p, sol, Stats{Algorithm: "manual"})
	assert.Contains(t, res.Routes[0].Violations, ViolationMaxDistance)
	assert.Equal(t, "manual", res.Metadata.Algorithm)
	assert.Equal(t, distance.SourceHaversine, res.Metadata.MatrixSource)
}

func TestSimulatedAnnealingBestTraceIsMonotone(t *testing.T) {
	p := newTestProblem(t, randomRequest(11, 25, 3, 200))
	sol, st := SolveSA(context.Background(), p, SAParams{MaxIterations: 3000, ReheatAfter: 200, Seed: 9})
	require.NotEmpty(t, st.BestTrace)
	for i := 1; i < len(st.BestTrace); i++ {
		assert.LessOrEqual(t, st.BestTrace[i], st.BestTrace[i-1])
	}
	assert.Equal(t, st.BestCost, sol.Cost)
	assert.LessOrEqual(t, sol.Cost, NearestNeighbor(p).Cost+1e-6)
	assertValid(t, p, sol)
}

func TestMetaheuristicsProduceValidSolutions(t *testing.T) {
	p := newTestProblem(t, randomRequest(21, 30, 4, 120))
	ctx := context.Background()
	runs := map[string]func() (*Solution, Stats){
		"ga": func() (*Solution, Stats) {
			return SolveGA(ctx, p, GAParams{Population: 20, Generations: 15, Seed: 2, LocalSearch: true})
		},
		"sa":   func() (*Solution, Stats) { return SolveSA(ctx, p, SAParams{MaxIterations: 2000, Seed: 2}) },
		"aco":  func() (*Solution, Stats) { return SolveACO(ctx, p, ACOParams{Ants: 6, Iterations: 10, Seed: 2}) },
		"alns": func() (*Solution, Stats) { return SolveALNS(ctx, p, ALNSParams{Iterations: 60, Seed: 2}) },
	}
	nn := NearestNeighbor(p)
	for name, run := range runs {
		t.Run(name, func(t *testing.T) {
			sol, st := run()
			assertValid(t, p, sol)
			assert.Equal(t, name, st.Algorithm)
			assert.Positive(t, st.Iterations)
			assert.InDelta(t, p.Evaluate(sol.Clone()), sol.Cost, 1e-6)
			if name != "ga" && name != "aco" {
				assert.LessOrEqual(t, sol.Cost, nn.Cost+1e-6)
			}
		})
	}
}

func TestSolversAreDeterministicForSeed(t *testing.T) {
	p := newTestProblem(t, randomRequest(5, 15, 2, 150))
	a, _ := SolveACO(context.Background(), p, ACOParams{Ants: 5, Iterations: 6, Seed: 42})
	b, _ := SolveACO(context.Background(), p, ACOParams{Ants: 5, Iterations: 6, Seed: 42})
	assert.Equal(t, a.Plans, b.Plans)

	x, _ := SolveGA(context.Background(), p, GAParams{Population: 8, Generations: 4, Seed: 42})
	y, _ := SolveGA(context.Background(), p, GAParams{Population: 8, Generations: 4, Seed: 42})
	assert.Equal(t, x.Cost, y.Cost)
}

func TestSolversReturnBestSoFarWhenCancelled(t *testing.T) {
	p := newTestProblem(t, randomRequest(3, 20, 3, 150))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, sol := range map[string]*Solution{
		"ga":   first(SolveGA(ctx, p, DefaultGAParams())),
		"sa":   first(SolveSA(ctx, p, DefaultSAParams())),
		"aco":  first(SolveACO(ctx, p, DefaultACOParams())),
		"alns": first(SolveALNS(ctx, p, DefaultALNSParams())),
	} {
		t.Run(name, func(t *testing.T) {
			require.NotNil(t, sol)
			assertValid(t, p, sol)
		})
	}
}

func TestBetterTieBreaks(t *testing.T) {
	p := newTestProblem(t, twoClusters())
	one := p.EmptySolution()
	one.Plans[0].Order = []int{0}
	two := p.EmptySolution()
	two.Plans[0].Order = []int{0}
	two.Plans[1].Order = []int{1}
	one.Cost, two.Cost = 10, 10
	assert.True(t, p.Better(one, two))
	assert.False(t, p.Better(two, one))
	two.Cost = 9
	assert.True(t, p.Better(two, one))
}

func TestSummaryTotals(t *testing.T) {
	p := newTestProblem(t, twoClusters())
	sol := NearestNeighbor(p)
	res := BuildResult(p, sol, Stats{})
	var km float64
	for _, r := range res.Routes {
		km += r.DistanceKm
	}
	assert.InDelta(t, km, res.Summary.TotalDistanceKm, 1e-3)
	assert.InDelta(t, res.Summary.TotalDistanceKm*0.3, res.Summary.FuelLiters, 0.01)
	assert.InDelta(t, res.Summary.FuelLiters*2.68, res.Summary.CarbonKg, 0.05)
	assert.Equal(t, 30.0, res.Summary.Efficiency)
}
