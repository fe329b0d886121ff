package opt

import (
	"fmt"
	"math"

	"routeopt/internal/model"
)

// Violation codes attached to routes.
const (
	ViolationCapacity     = "capacity"
	ViolationMaxDistance  = "max_distance"
	ViolationMaxTime      = "max_time"
	ViolationTimeWindow   = "time_window"
	ViolationWorkingHours = "working_hours"
)

// BuildResult converts a solution into the public result shape.
func BuildResult(p *Problem, sol *Solution, stats Stats) *model.OptimizationResult {
	res := &model.OptimizationResult{
		Routes:     make([]model.Route, len(sol.Plans)),
		Unassigned: make([]string, 0, len(sol.Unassigned)),
	}
	for vi, pl := range sol.Plans {
		e := p.EvalRoute(vi, pl.Order)
		veh := p.Request.Vehicles[vi]
		r := model.Route{
			VehicleID:     veh.ID,
			Stops:         make([]string, 0, len(pl.Order)),
			DistanceKm:    round(e.Km, 3),
			DurationHours: round(e.Hours, 4),
			Cost:          round(e.Money, 2),
			Load:          e.Load,
			Utilization:   round(100*e.Load/veh.Capacity, 2),
			LateStops:     e.LateStops,
			Violations:    p.violations(e),
		}
		for _, s := range pl.Order {
			r.Stops = append(r.Stops, p.Request.Locations[s].ID)
		}
		res.Routes[vi] = r
	}
	for _, s := range sol.Unassigned {
		res.Unassigned = append(res.Unassigned, p.Request.Locations[s].ID)
	}
	res.Summary = p.Summarize(res.Routes)
	res.Metadata = model.Metadata{
		Algorithm:     stats.Algorithm,
		Iterations:    stats.Iterations,
		ComputeTimeMs: stats.Elapsed.Milliseconds(),
		MatrixSource:  p.Matrix.Source,
	}
	return res
}

func (p *Problem) violations(e RouteEval) []string {
	var out []string
	c := p.Request.Constraints
	if c.Capacity && e.OverLoad > 0 {
		out = append(out, ViolationCapacity)
	}
	if e.OverKm > 0 {
		out = append(out, ViolationMaxDistance)
	}
	if e.OverHours > 0 {
		out = append(out, ViolationMaxTime)
	}
	if c.TimeWindows && e.LateStops > 0 {
		out = append(out, ViolationTimeWindow)
	}
	if c.WorkingHours && e.OverShiftSec > 0 {
		out = append(out, ViolationWorkingHours)
	}
	return out
}

// Summarize aggregates route totals. Efficiency is the percentage of capacity used on active vehicles.
func (p *Problem) Summarize(routes []model.Route) model.Summary {
	var s model.Summary
	var load, capacity float64
	for _, r := range routes {
		s.TotalDistanceKm += r.DistanceKm
		s.TotalDurationHours += r.DurationHours
		s.TotalCost += r.Cost
		if len(r.Stops) == 0 {
			continue
		}
		s.VehiclesUsed++
		load += r.Load
		if vi, ok := p.vehIndex[r.VehicleID]; ok {
			capacity += p.Request.Vehicles[vi].Capacity
		}
	}
	if capacity > 0 {
		s.Efficiency = round(100*math.Min(load/capacity, 1), 2)
	}
	s.FuelLiters = round(s.TotalDistanceKm*p.Params.FuelLitersPerKm, 2)
	s.CarbonKg = round(s.FuelLiters*p.Params.CO2KgPerLiter, 2)
	s.TotalDistanceKm = round(s.TotalDistanceKm, 3)
	s.TotalDurationHours = round(s.TotalDurationHours, 4)
	s.TotalCost = round(s.TotalCost, 2)
	return s
}

// CheckPartition verifies every location appears exactly once across routes and unassigned.
func CheckPartition(req *model.OptimizationRequest, res *model.OptimizationResult) error {
	count := make(map[string]int, len(req.Locations))
	for _, r := range res.Routes {
		for _, id := range r.Stops {
			count[id]++
		}
	}
	for _, id := range res.Unassigned {
		count[id]++
	}
	for _, loc := range req.Locations {
		if count[loc.ID] != 1 {
			return fmt.Errorf("location %s appears %d times", loc.ID, count[loc.ID])
		}
		delete(count, loc.ID)
	}
	for id := range count {
		return fmt.Errorf("unknown location %s in result", id)
	}
	return nil
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
