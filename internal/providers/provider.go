// Package providers holds what the external optimization back ends share: the adapter
// contract, coordinate resolution and translation of provider timelines into results.
package providers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"routeopt/internal/apperr"
	"routeopt/internal/distance"
	"routeopt/internal/model"
	"routeopt/internal/opt"
)

// Adapter is an external optimization service usable in place of a local solver.
type Adapter interface {
	Name() string
	// Configured is false when credentials or endpoint are missing; such adapters are never called.
	Configured() bool
	Solve(ctx context.Context, p *opt.Problem) (*model.OptimizationResult, error)
}

// ResolvePoints returns a copy of req in which every location has coordinates, geocoding
// addresses where the point is missing. The original request is not modified.
func ResolvePoints(ctx context.Context, req *model.OptimizationRequest, geo distance.Geocoder) (*model.OptimizationRequest, error) {
	out := *req
	out.Locations = append([]model.Location(nil), req.Locations...)
	for i := range out.Locations {
		loc := &out.Locations[i]
		if loc.Point != nil {
			continue
		}
		addr := strings.TrimSpace(loc.Address)
		if addr == "" {
			return nil, apperr.InvalidInput("location %s has neither coordinates nor an address", loc.ID)
		}
		if geo == nil {
			return nil, apperr.ProviderUnavailable("geocoder", fmt.Errorf("no geocoder configured for location %s", loc.ID))
		}
		pt, err := geo.Geocode(ctx, addr)
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return nil, err
			}
			return nil, apperr.ProviderUnavailable("geocoder", fmt.Errorf("geocode %s: %w", loc.ID, err))
		}
		if !pt.Valid() {
			return nil, apperr.InvalidLocation(i, pt.Lat, pt.Lng)
		}
		loc.Point = &pt
	}
	return &out, nil
}

// Timeline is one vehicle's stop sequence as reported by a provider.
type Timeline struct {
	VehicleID string
	StopIDs   []string
	// Provider-reported totals; zero means "not reported" and the matrix values are kept.
	DistanceKm    float64
	DurationHours float64
}

// ToResult converts provider timelines into a result over p. Stops the provider neither
// routed nor reported as unserved are treated as unassigned. Unknown or duplicated ids mean
// the response is malformed. With the capacity constraint on, an overloaded route sheds its
// trailing stops to unassigned and is then measured on the matrix instead of the provider's totals.
func ToResult(p *opt.Problem, algorithm string, timelines []Timeline, elapsed time.Duration) (*model.OptimizationResult, error) {
	sol := p.EmptySolution()
	seen := make([]bool, p.NumLocations())
	reported := map[int]Timeline{}
	for _, tl := range timelines {
		vi, ok := p.VehicleIndex(tl.VehicleID)
		if !ok {
			return nil, fmt.Errorf("unknown vehicle %q in response", tl.VehicleID)
		}
		for _, id := range tl.StopIDs {
			s, ok := p.LocationIndex(id)
			if !ok {
				return nil, fmt.Errorf("unknown location %q in response", id)
			}
			if seen[s] {
				return nil, fmt.Errorf("location %q routed twice", id)
			}
			seen[s] = true
			sol.Plans[vi].Order = append(sol.Plans[vi].Order, s)
		}
		reported[vi] = tl
	}
	for s, ok := range seen {
		if !ok {
			sol.Unassigned = append(sol.Unassigned, s)
		}
	}
	if p.Request.Constraints.Capacity {
		for vi := range sol.Plans {
			if shed := shedOverload(p, vi, &sol.Plans[vi].Order); len(shed) > 0 {
				sol.Unassigned = append(sol.Unassigned, shed...)
				delete(reported, vi)
			}
		}
	}
	p.Evaluate(sol)

	res := opt.BuildResult(p, sol, opt.Stats{Algorithm: algorithm, Iterations: 1, Elapsed: elapsed})
	for vi, tl := range reported {
		r := &res.Routes[vi]
		if tl.DistanceKm > 0 {
			r.DistanceKm = tl.DistanceKm
		}
		if tl.DurationHours > 0 {
			r.DurationHours = tl.DurationHours
		}
		veh := p.Request.Vehicles[vi]
		r.Cost = math.Round((r.DistanceKm*veh.CostPerKm+r.DurationHours*veh.CostPerHour)*100) / 100
	}
	res.Summary = p.Summarize(res.Routes)
	return res, nil
}

// shedOverload pops stops off the end of vehicle vi's route until its load fits the
// vehicle's capacity and returns the removed stops.
func shedOverload(p *opt.Problem, vi int, order *[]int) []int {
	capacity := p.Request.Vehicles[vi].Capacity
	load := 0.0
	for _, s := range *order {
		load += p.Request.Locations[s].Demand
	}
	var shed []int
	for len(*order) > 0 && load > capacity+1e-9 {
		last := (*order)[len(*order)-1]
		*order = (*order)[:len(*order)-1]
		load -= p.Request.Locations[last].Demand
		shed = append(shed, last)
	}
	return shed
}

// ClockString renders seconds from midnight as HH:MM.
func ClockString(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/3600, (sec%3600)/60)
}
