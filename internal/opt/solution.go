package opt

import (
	"math"
	"sort"
	"time"
)

type RoutePlan struct {
	VehicleID string
	Order     []int // indices into Request.Locations
}

// Solution assigns stops to vehicles. Plans has one entry per vehicle, in fleet order.
type Solution struct {
	Plans      []RoutePlan
	Unassigned []int
	Cost       float64
}

// Stats describes how a solver run went.
type Stats struct {
	Algorithm     string
	Iterations    int
	Improvements  int
	AcceptedWorse int
	Reheats       int
	BestCost      float64
	// BestTrace samples the best-so-far cost over the run.
	BestTrace       []float64
	OperatorWeights map[string]float64
	Elapsed         time.Duration
}

// Clone deep-copies the solution.
func (s *Solution) Clone() *Solution {
	out := &Solution{Plans: make([]RoutePlan, len(s.Plans)), Cost: s.Cost}
	for i, pl := range s.Plans {
		out.Plans[i] = RoutePlan{VehicleID: pl.VehicleID, Order: append([]int(nil), pl.Order...)}
	}
	out.Unassigned = append([]int(nil), s.Unassigned...)
	return out
}

// RoutesUsed counts vehicles with at least one stop.
func (s *Solution) RoutesUsed() int {
	used := 0
	for _, pl := range s.Plans {
		if len(pl.Order) > 0 {
			used++
		}
	}
	return used
}

// EmptySolution has one empty plan per vehicle and nothing unassigned.
func (p *Problem) EmptySolution() *Solution {
	sol := &Solution{Plans: make([]RoutePlan, p.nv)}
	for vi, v := range p.Request.Vehicles {
		sol.Plans[vi] = RoutePlan{VehicleID: v.ID, Order: []int{}}
	}
	return sol
}

func (p *Problem) maxRouteHours(s *Solution) float64 {
	m := 0.0
	for vi, pl := range s.Plans {
		if h := p.EvalRoute(vi, pl.Order).Hours; h > m {
			m = h
		}
	}
	return m
}

// Better orders solutions by cost, then fewer vehicles used, then the shorter longest route.
func (p *Problem) Better(a, b *Solution) bool {
	if math.Abs(a.Cost-b.Cost) > eps*math.Max(1, math.Abs(b.Cost)) {
		return a.Cost < b.Cost
	}
	if ra, rb := a.RoutesUsed(), b.RoutesUsed(); ra != rb {
		return ra < rb
	}
	return p.maxRouteHours(a) < p.maxRouteHours(b)-eps
}

func insertAt(order []int, pos, s int) []int {
	order = append(order, 0)
	copy(order[pos+1:], order[pos:])
	order[pos] = s
	return order
}

func removeAt(order []int, pos int) []int {
	return append(order[:pos], order[pos+1:]...)
}

type insertion struct {
	v, pos int
	delta  float64
	ok     bool
}

// insertionOptions returns the cheapest and second-cheapest admissible positions for s.
func (p *Problem) insertionOptions(sol *Solution, s int) (best, second insertion) {
	best.delta, second.delta = math.Inf(1), math.Inf(1)
	var buf []int
	for vi, pl := range sol.Plans {
		before := p.EvalRoute(vi, pl.Order)
		base := p.objective(vi, before)
		if p.Request.Constraints.Capacity && before.Load+p.demand[s] > p.Request.Vehicles[vi].Capacity+eps {
			continue
		}
		for pos := 0; pos <= len(pl.Order); pos++ {
			buf = append(buf[:0], pl.Order[:pos]...)
			buf = append(buf, s)
			buf = append(buf, pl.Order[pos:]...)
			after := p.EvalRoute(vi, buf)
			if !p.admissible(before, after) {
				continue
			}
			d := p.objective(vi, after) - base
			cand := insertion{v: vi, pos: pos, delta: d, ok: true}
			switch {
			case d < best.delta:
				second, best = best, cand
			case d < second.delta:
				second = cand
			}
		}
	}
	return best, second
}

func (p *Problem) place(sol *Solution, s int, at insertion) {
	sol.Plans[at.v].Order = insertAt(sol.Plans[at.v].Order, at.pos, s)
}

// Repair restores the solution invariants: every stop appears exactly once, routes respect
// capacity when it is enforced, and unassigned stops are placed wherever an admissible
// position exists. Stops that fit nowhere stay unassigned.
func (p *Problem) Repair(sol *Solution) {
	seen := make([]bool, p.n)
	for vi := range sol.Plans {
		kept := sol.Plans[vi].Order[:0]
		for _, s := range sol.Plans[vi].Order {
			if s < 0 || s >= p.n || seen[s] {
				continue
			}
			seen[s] = true
			kept = append(kept, s)
		}
		sol.Plans[vi].Order = kept
	}
	var pending []int
	for _, s := range sol.Unassigned {
		if s >= 0 && s < p.n && !seen[s] {
			seen[s] = true
			pending = append(pending, s)
		}
	}
	for s := 0; s < p.n; s++ {
		if !seen[s] {
			pending = append(pending, s)
		}
	}

	if p.Request.Constraints.Capacity {
		for vi := range sol.Plans {
			capacity := p.Request.Vehicles[vi].Capacity
			for len(sol.Plans[vi].Order) > 0 && p.load(sol.Plans[vi].Order) > capacity+eps {
				order := sol.Plans[vi].Order
				evict, evictCost := -1, math.Inf(1)
				buf := make([]int, 0, len(order))
				for i, s := range order {
					buf = append(append(buf[:0], order[:i]...), order[i+1:]...)
					c := p.RouteCost(vi, buf) + p.unassignedCost(s)
					if c < evictCost {
						evict, evictCost = i, c
					}
				}
				pending = append(pending, order[evict])
				sol.Plans[vi].Order = removeAt(order, evict)
			}
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		a, b := p.Request.Locations[pending[i]], p.Request.Locations[pending[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Demand > b.Demand
	})
	sol.Unassigned = sol.Unassigned[:0]
	for _, s := range pending {
		if at, _ := p.insertionOptions(sol, s); at.ok {
			p.place(sol, s, at)
			continue
		}
		sol.Unassigned = append(sol.Unassigned, s)
	}
	sort.Ints(sol.Unassigned)
	p.Evaluate(sol)
}
