package opt

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"routeopt/internal/distance"
	"routeopt/internal/model"
)

const eps = 1e-9

// Params are the cost-model constants shared by every solver.
type Params struct {
	PenaltyWeight     float64 // per unit of constraint excess (capacity units, km, hours)
	UnassignedPenalty float64 // per unassigned stop, scaled by priority+1
	FuelLitersPerKm   float64
	CO2KgPerLiter     float64
}

func DefaultParams() Params {
	return Params{PenaltyWeight: 1000, UnassignedPenalty: 10000, FuelLitersPerKm: 0.3, CO2KgPerLiter: 2.68}
}

// Problem is the read-only input every solver works from. Matrix points are ordered as
// locations, then vehicle starts, then the distinct end points of vehicles that have one.
type Problem struct {
	Request *model.OptimizationRequest
	Matrix  *distance.Matrix
	Weights model.Objectives
	Params  Params

	n, nv      int
	start, end []int
	demand     []float64
	maxKm      []float64
	maxHours   []float64
	shiftStart []float64
	shiftEnd   []float64
	locIndex   map[string]int
	vehIndex   map[string]int
}

// Points lists the coordinates the problem's matrix must cover, in matrix order.
func Points(req *model.OptimizationRequest) ([]model.GeoPoint, error) {
	pts := make([]model.GeoPoint, 0, len(req.Locations)+2*len(req.Vehicles))
	for _, loc := range req.Locations {
		if loc.Point == nil {
			return nil, fmt.Errorf("location %s has no coordinates", loc.ID)
		}
		pts = append(pts, *loc.Point)
	}
	for _, v := range req.Vehicles {
		pts = append(pts, v.Start)
	}
	for _, v := range req.Vehicles {
		if v.End != nil {
			pts = append(pts, *v.End)
		}
	}
	return pts, nil
}

func NewProblem(req *model.OptimizationRequest, m *distance.Matrix, params Params) (*Problem, error) {
	n, nv := len(req.Locations), len(req.Vehicles)
	p := &Problem{
		Request:    req,
		Matrix:     m,
		Weights:    req.Objectives.Normalized(),
		Params:     params,
		n:          n,
		nv:         nv,
		start:      make([]int, nv),
		end:        make([]int, nv),
		demand:     make([]float64, n),
		maxKm:      make([]float64, nv),
		maxHours:   make([]float64, nv),
		shiftStart: make([]float64, nv),
		shiftEnd:   make([]float64, nv),
		locIndex:   make(map[string]int, n),
		vehIndex:   make(map[string]int, nv),
	}
	next := n + nv
	for vi, v := range req.Vehicles {
		p.start[vi] = n + vi
		p.end[vi] = n + vi
		if v.End != nil {
			p.end[vi] = next
			next++
		}
		p.maxKm[vi] = tighter(v.MaxDistanceKm, req.Constraints.MaxDistanceKm)
		p.maxHours[vi] = tighter(v.MaxTimeHours, req.Constraints.MaxTimeHours)
		if v.Availability != nil {
			p.shiftStart[vi] = float64(v.Availability.StartSec)
			p.shiftEnd[vi] = float64(v.Availability.EndSec)
		}
		p.vehIndex[v.ID] = vi
	}
	if m == nil || m.Size() != next {
		size := 0
		if m != nil {
			size = m.Size()
		}
		return nil, fmt.Errorf("matrix covers %d points, problem needs %d", size, next)
	}
	for i, loc := range req.Locations {
		p.demand[i] = loc.Demand
		p.locIndex[loc.ID] = i
	}
	return p, nil
}

func tighter(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return math.Min(a, b)
	}
}

// NumLocations is the number of stops to route.
func (p *Problem) NumLocations() int { return p.n }

// NumVehicles is the fleet size.
func (p *Problem) NumVehicles() int { return p.nv }

// LocationIndex maps a location id to its index.
func (p *Problem) LocationIndex(id string) (int, bool) {
	i, ok := p.locIndex[id]
	return i, ok
}

// VehicleIndex maps a vehicle id to its index.
func (p *Problem) VehicleIndex(id string) (int, bool) {
	i, ok := p.vehIndex[id]
	return i, ok
}

// RouteEval holds the derived totals of one route.
type RouteEval struct {
	Km, Hours, Money, Load float64
	LateSec                float64
	LateStops              int
	OverLoad               float64
	OverKm                 float64
	OverHours              float64
	OverShiftSec           float64
}

// EvalRoute propagates the schedule of vehicle v over order: travel, waiting for window
// opening, service time and the trip to the end point. An empty route costs nothing.
func (p *Problem) EvalRoute(v int, order []int) RouteEval {
	var e RouteEval
	if len(order) == 0 {
		return e
	}
	veh := &p.Request.Vehicles[v]
	clock := p.shiftStart[v]
	prev := p.start[v]
	for _, s := range order {
		e.Km += p.Matrix.Km(prev, s)
		clock += p.Matrix.Durations[prev][s]
		loc := &p.Request.Locations[s]
		if tw := loc.TimeWindow; tw != nil {
			if clock < float64(tw.StartSec) {
				clock = float64(tw.StartSec)
			}
			if clock > float64(tw.EndSec)+eps {
				e.LateSec += clock - float64(tw.EndSec)
				e.LateStops++
			}
		}
		clock += float64(loc.ServiceSec)
		e.Load += p.demand[s]
		prev = s
	}
	e.Km += p.Matrix.Km(prev, p.end[v])
	clock += p.Matrix.Durations[prev][p.end[v]]
	e.Hours = (clock - p.shiftStart[v]) / 3600
	e.Money = e.Km*veh.CostPerKm + e.Hours*veh.CostPerHour
	if over := e.Load - veh.Capacity; over > eps {
		e.OverLoad = over
	}
	if p.maxKm[v] > 0 && e.Km > p.maxKm[v]+eps {
		e.OverKm = e.Km - p.maxKm[v]
	}
	if p.maxHours[v] > 0 && e.Hours > p.maxHours[v]+eps {
		e.OverHours = e.Hours - p.maxHours[v]
	}
	if p.shiftEnd[v] > 0 && clock > p.shiftEnd[v]+eps {
		e.OverShiftSec = clock - p.shiftEnd[v]
	}
	return e
}

// penalty sums the constraint excess that is enforced for this request.
func (p *Problem) penalty(e RouteEval) float64 {
	c := p.Request.Constraints
	pen := e.OverKm + e.OverHours
	if c.Capacity {
		pen += e.OverLoad
	}
	if c.TimeWindows {
		pen += e.LateSec / 3600
	}
	if c.WorkingHours {
		pen += e.OverShiftSec / 3600
	}
	return pen
}

func (p *Problem) objective(v int, e RouteEval) float64 {
	w := p.Weights
	c := w.Distance*e.Km + w.Time*e.Hours + w.Cost*e.Money
	if w.Efficiency > 0 && e.Load > 0 {
		util := math.Min(1, e.Load/p.Request.Vehicles[v].Capacity)
		c += w.Efficiency * 100 * (1 - util)
	}
	return c + p.Params.PenaltyWeight*p.penalty(e)
}

// RouteCost is the weighted objective of one route including penalties.
func (p *Problem) RouteCost(v int, order []int) float64 {
	return p.objective(v, p.EvalRoute(v, order))
}

// Feasible reports whether a route has no enforced constraint excess.
func (p *Problem) Feasible(v int, order []int) bool {
	return p.penalty(p.EvalRoute(v, order)) <= eps
}

// admissible accepts a changed route if capacity holds (when enforced) and no other
// penalty grew. Routes that were already late stay usable.
func (p *Problem) admissible(before, after RouteEval) bool {
	if p.Request.Constraints.Capacity && after.OverLoad > eps {
		return false
	}
	return p.penalty(after) <= p.penalty(before)+eps
}

func (p *Problem) unassignedCost(s int) float64 {
	return p.Params.UnassignedPenalty * float64(p.Request.Locations[s].Priority+1)
}

// Evaluate recomputes and stores the total cost of sol.
func (p *Problem) Evaluate(sol *Solution) float64 {
	total := 0.0
	for vi, pl := range sol.Plans {
		total += p.RouteCost(vi, pl.Order)
	}
	for _, s := range sol.Unassigned {
		total += p.unassignedCost(s)
	}
	sol.Cost = total
	return total
}

func (p *Problem) load(order []int) float64 {
	l := 0.0
	for _, s := range order {
		l += p.demand[s]
	}
	return l
}

func (p *Problem) capacityOK(v int, order []int) bool {
	if !p.Request.Constraints.Capacity {
		return true
	}
	return p.load(order) <= p.Request.Vehicles[v].Capacity+eps
}

// cursor tracks a partially built route for incremental feasibility checks.
type cursor struct {
	v, last         int
	load, km, clock float64
}

func (p *Problem) newCursor(v int) cursor {
	return cursor{v: v, last: p.start[v], clock: p.shiftStart[v]}
}

// advance appends stop s and reports whether the route is still feasible once closed.
func (p *Problem) advance(c cursor, s int) (cursor, bool) {
	cons := p.Request.Constraints
	loc := &p.Request.Locations[s]
	next := c
	next.km += p.Matrix.Km(c.last, s)
	next.clock += p.Matrix.Durations[c.last][s]
	if tw := loc.TimeWindow; tw != nil {
		if next.clock < float64(tw.StartSec) {
			next.clock = float64(tw.StartSec)
		}
		if cons.TimeWindows && next.clock > float64(tw.EndSec)+eps {
			return c, false
		}
	}
	next.clock += float64(loc.ServiceSec)
	next.load += p.demand[s]
	next.last = s
	if cons.Capacity && next.load > p.Request.Vehicles[c.v].Capacity+eps {
		return c, false
	}
	end := p.end[c.v]
	closedKm := next.km + p.Matrix.Km(s, end)
	closedClock := next.clock + p.Matrix.Durations[s][end]
	if p.maxKm[c.v] > 0 && closedKm > p.maxKm[c.v]+eps {
		return c, false
	}
	if p.maxHours[c.v] > 0 && (closedClock-p.shiftStart[c.v])/3600 > p.maxHours[c.v]+eps {
		return c, false
	}
	if cons.WorkingHours && p.shiftEnd[c.v] > 0 && closedClock > p.shiftEnd[c.v]+eps {
		return c, false
	}
	return next, true
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
