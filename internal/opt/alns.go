package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"
)

const AlgorithmALNS = "alns"

type ALNSParams struct {
	Iterations int
	// RemoveFraction caps how many stops one destroy step may remove.
	RemoveFraction          float64
	InitialTemp             float64
	Cooling                 float64
	InitialRemovalWeights   []float64 // [random, shaw]
	InitialInsertionWeights []float64 // [greedy, regret2]
	LocalSearchIters        int
	Seed                    int64
}

func DefaultALNSParams() ALNSParams {
	return ALNSParams{Iterations: 600, RemoveFraction: 0.2, Cooling: 0.995, LocalSearchIters: 1000}
}

// SolveALNS runs adaptive large neighborhood search: destroy with random or Shaw removal,
// repair with greedy or regret-2 insertion, polish with 2-opt, and accept by an annealing
// criterion. Operator weights adapt to how often each operator leads to improvement.
func SolveALNS(ctx context.Context, p *Problem, params ALNSParams) (*Solution, Stats) {
	started := time.Now()
	def := DefaultALNSParams()
	if params.Iterations <= 0 {
		params.Iterations = def.Iterations
	}
	if params.RemoveFraction <= 0 || params.RemoveFraction > 1 {
		params.RemoveFraction = def.RemoveFraction
	}
	cool := def.Cooling
	if params.Cooling > 0 && params.Cooling < 1 {
		cool = params.Cooling
	}
	rng := newRand(params.Seed)

	curr := NearestNeighbor(p)
	best := curr.Clone()
	remW := []float64{1, 1} // random, shaw
	insW := []float64{1, 1} // greedy, regret2
	if len(params.InitialRemovalWeights) == 2 {
		remW = []float64{params.InitialRemovalWeights[0], params.InitialRemovalWeights[1]}
	}
	if len(params.InitialInsertionWeights) == 2 {
		insW = []float64{params.InitialInsertionWeights[0], params.InitialInsertionWeights[1]}
	}
	temp := params.InitialTemp
	if temp <= 0 {
		temp = math.Max(1, 0.05*curr.Cost)
	}
	maxRemove := int(math.Max(1, math.Round(params.RemoveFraction*float64(p.n))))
	st := Stats{Algorithm: AlgorithmALNS, BestTrace: []float64{best.Cost}}

	for it := 0; it < params.Iterations && ctx.Err() == nil; it++ {
		st.Iterations++
		k := 1 + rng.Intn(maxRemove)
		op := selectOp(remW, rng)
		ip := selectOp(insW, rng)

		cand := curr.Clone()
		var removed []int
		switch op {
		case 0:
			removed = pickRandomStops(cand, k, rng)
		case 1:
			removed = p.shawRemoval(cand, k, rng)
		}
		removeStops(cand, removed)
		pending := append(removed, cand.Unassigned...)
		cand.Unassigned = cand.Unassigned[:0]
		switch ip {
		case 0:
			p.greedyInsert(cand, pending)
		case 1:
			p.regretInsert(cand, pending)
		}
		TwoOpt(ctx, p, cand)
		p.Evaluate(cand)

		delta := cand.Cost - curr.Cost
		if delta < 0 || rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr = cand
			if curr.Cost < best.Cost-eps {
				best = curr.Clone()
				remW[op] += 0.1
				insW[ip] += 0.1
				st.Improvements++
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
				if delta >= 0 {
					st.AcceptedWorse++
				}
			}
		} else {
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool
		if it%50 == 0 {
			st.BestTrace = append(st.BestTrace, best.Cost)
		}
	}
	if ctx.Err() == nil {
		LocalSearch(ctx, p, best, params.LocalSearchIters)
	}
	st.BestTrace = append(st.BestTrace, best.Cost)
	st.BestCost = best.Cost
	st.OperatorWeights = map[string]float64{
		"random": remW[0], "shaw": remW[1], "greedy": insW[0], "regret2": insW[1],
	}
	st.Elapsed = time.Since(started)
	return best, st
}

func pickRandomStops(sol *Solution, k int, rng *rand.Rand) []int {
	var all []int
	for _, pl := range sol.Plans {
		all = append(all, pl.Order...)
	}
	rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

func removeStops(sol *Solution, removed []int) {
	if len(removed) == 0 {
		return
	}
	rm := make(map[int]bool, len(removed))
	for _, s := range removed {
		rm[s] = true
	}
	for vi := range sol.Plans {
		kept := sol.Plans[vi].Order[:0]
		for _, s := range sol.Plans[vi].Order {
			if !rm[s] {
				kept = append(kept, s)
			}
		}
		sol.Plans[vi].Order = kept
	}
}

// shawRemoval picks a random seed stop and the k-1 stops most related to it: close by and
// with overlapping time windows.
func (p *Problem) shawRemoval(sol *Solution, k int, rng *rand.Rand) []int {
	var assigned []int
	for _, pl := range sol.Plans {
		assigned = append(assigned, pl.Order...)
	}
	if len(assigned) == 0 {
		return nil
	}
	seed := assigned[rng.Intn(len(assigned))]
	type related struct {
		s     int
		score float64
	}
	rel := make([]related, 0, len(assigned))
	for _, s := range assigned {
		if s == seed {
			continue
		}
		score := p.Matrix.Km(seed, s)
		a, b := p.Request.Locations[seed].TimeWindow, p.Request.Locations[s].TimeWindow
		if a != nil && b != nil {
			overlap := math.Min(float64(a.EndSec), float64(b.EndSec)) - math.Max(float64(a.StartSec), float64(b.StartSec))
			if overlap > 0 {
				score -= overlap / 3600
			}
		}
		rel = append(rel, related{s, score})
	}
	sort.Slice(rel, func(i, j int) bool { return rel[i].score < rel[j].score })
	removed := []int{seed}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].s)
	}
	return removed
}

// greedyInsert repeatedly places the stop with the cheapest admissible insertion.
func (p *Problem) greedyInsert(sol *Solution, pending []int) {
	for len(pending) > 0 {
		bestIdx := -1
		var bestAt insertion
		for i, s := range pending {
			at, _ := p.insertionOptions(sol, s)
			if at.ok && (bestIdx < 0 || at.delta < bestAt.delta) {
				bestIdx, bestAt = i, at
			}
		}
		if bestIdx < 0 {
			break
		}
		p.place(sol, pending[bestIdx], bestAt)
		pending = removeAt(pending, bestIdx)
	}
	sol.Unassigned = append(sol.Unassigned, pending...)
	sort.Ints(sol.Unassigned)
}

// regretInsert places first the stop that would lose most by not getting its best position.
func (p *Problem) regretInsert(sol *Solution, pending []int) {
	for len(pending) > 0 {
		bestIdx := -1
		var bestAt insertion
		bestRegret := -1.0
		for i, s := range pending {
			at, second := p.insertionOptions(sol, s)
			if !at.ok {
				continue
			}
			regret := math.MaxFloat64
			if second.ok {
				regret = second.delta - at.delta
			}
			if regret > bestRegret || (regret == bestRegret && at.delta < bestAt.delta) {
				bestIdx, bestAt, bestRegret = i, at, regret
			}
		}
		if bestIdx < 0 {
			break
		}
		p.place(sol, pending[bestIdx], bestAt)
		pending = removeAt(pending, bestIdx)
	}
	sol.Unassigned = append(sol.Unassigned, pending...)
	sort.Ints(sol.Unassigned)
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
