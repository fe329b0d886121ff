package opt

import (
	"math"
	"math/rand"
	"sort"
)

// RandomAssignment puts every stop on a uniformly chosen vehicle in random order,
// ignoring capacity. Callers repair or let the cost model penalize the result.
func RandomAssignment(p *Problem, rng *rand.Rand) *Solution {
	sol := p.EmptySolution()
	if p.nv == 0 {
		return sol
	}
	for _, s := range rng.Perm(p.n) {
		v := rng.Intn(p.nv)
		sol.Plans[v].Order = append(sol.Plans[v].Order, s)
	}
	p.Evaluate(sol)
	return sol
}

// NearestNeighbor grows all routes round-robin: each vehicle in turn appends the nearest
// unvisited stop it can still serve. Stops no tour could reach are offered to the cheapest
// admissible insertion and otherwise left unassigned.
func NearestNeighbor(p *Problem) *Solution {
	sol := p.EmptySolution()
	used := make([]bool, p.n)
	cursors := make([]cursor, p.nv)
	open := make([]bool, p.nv)
	for vi := range cursors {
		cursors[vi] = p.newCursor(vi)
		open[vi] = true
	}
	for assigned := 0; assigned < p.n; {
		progress := false
		for vi := 0; vi < p.nv && assigned < p.n; vi++ {
			if !open[vi] {
				continue
			}
			best, bestDist := -1, math.Inf(1)
			var bestCur cursor
			for s := 0; s < p.n; s++ {
				if used[s] {
					continue
				}
				next, ok := p.advance(cursors[vi], s)
				if !ok {
					continue
				}
				d := p.Matrix.Distances[cursors[vi].last][s]
				if d < bestDist || (d == bestDist && p.Request.Locations[s].Priority > p.Request.Locations[best].Priority) {
					best, bestDist, bestCur = s, d, next
				}
			}
			if best < 0 {
				open[vi] = false
				continue
			}
			sol.Plans[vi].Order = append(sol.Plans[vi].Order, best)
			cursors[vi] = bestCur
			used[best] = true
			assigned++
			progress = true
		}
		if !progress {
			break
		}
	}
	var left []int
	for s := 0; s < p.n; s++ {
		if !used[s] {
			left = append(left, s)
		}
	}
	sort.SliceStable(left, func(i, j int) bool {
		return p.Request.Locations[left[i]].Priority > p.Request.Locations[left[j]].Priority
	})
	for _, s := range left {
		if at, _ := p.insertionOptions(sol, s); at.ok {
			p.place(sol, s, at)
			continue
		}
		sol.Unassigned = append(sol.Unassigned, s)
	}
	sort.Ints(sol.Unassigned)
	p.Evaluate(sol)
	return sol
}
