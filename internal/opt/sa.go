package opt

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const AlgorithmSA = "sa"

type SAParams struct {
	// InitialTemp of zero derives T0 from the starting cost.
	InitialTemp   float64
	CoolingRate   float64
	MinTemp       float64
	MaxIterations int
	// ReheatAfter is the number of steps without a new best before the temperature is raised.
	ReheatAfter  int
	ReheatFactor float64
	Seed         int64
}

func DefaultSAParams() SAParams {
	return SAParams{CoolingRate: 0.995, MinTemp: 1e-3, MaxIterations: 20000, ReheatAfter: 800, ReheatFactor: 3}
}

const saTraceEvery = 50

// SolveSA anneals a single solution seeded by nearest neighbor. Improving neighbors are always
// accepted, worse ones with probability exp(-delta/T). The best solution is tracked apart from
// the current one, so Stats.BestTrace never increases.
func SolveSA(ctx context.Context, p *Problem, params SAParams) (*Solution, Stats) {
	started := time.Now()
	def := DefaultSAParams()
	if params.CoolingRate <= 0 || params.CoolingRate >= 1 {
		params.CoolingRate = def.CoolingRate
	}
	if params.MinTemp <= 0 {
		params.MinTemp = def.MinTemp
	}
	if params.MaxIterations <= 0 {
		params.MaxIterations = def.MaxIterations
	}
	if params.ReheatAfter <= 0 {
		params.ReheatAfter = def.ReheatAfter
	}
	if params.ReheatFactor <= 1 {
		params.ReheatFactor = def.ReheatFactor
	}
	rng := newRand(params.Seed)

	cur := NearestNeighbor(p)
	best := cur.Clone()
	temp := params.InitialTemp
	if temp <= 0 {
		temp = math.Max(1, 0.05*cur.Cost)
	}
	t0 := temp
	st := Stats{Algorithm: AlgorithmSA, BestTrace: []float64{best.Cost}}

	stagnant := 0
	for it := 0; it < params.MaxIterations; it++ {
		if it%64 == 0 && ctx.Err() != nil {
			break
		}
		st.Iterations++
		cand := cur.Clone()
		if p.perturb(cand, rng) {
			p.Evaluate(cand)
			delta := cand.Cost - cur.Cost
			if delta < 0 || rng.Float64() < math.Exp(-delta/temp) {
				if delta >= 0 {
					st.AcceptedWorse++
				}
				cur = cand
			}
		}
		if cur.Cost < best.Cost-eps {
			best = cur.Clone()
			st.Improvements++
			stagnant = 0
		} else {
			stagnant++
		}
		if stagnant >= params.ReheatAfter {
			temp = math.Min(t0, temp*params.ReheatFactor)
			stagnant = 0
			st.Reheats++
		}
		temp = math.Max(temp*params.CoolingRate, params.MinTemp)
		if it%saTraceEvery == 0 {
			st.BestTrace = append(st.BestTrace, best.Cost)
		}
	}
	st.BestTrace = append(st.BestTrace, best.Cost)
	st.BestCost = best.Cost
	st.Elapsed = time.Since(started)
	return best, st
}

// perturb applies one random move: swap, relocate, segment reverse, or pulling in an
// unassigned stop. It returns false when the move is a no-op or breaks enforced capacity;
// the caller then discards sol.
func (p *Problem) perturb(sol *Solution, rng *rand.Rand) bool {
	if len(sol.Unassigned) > 0 && rng.Intn(4) == 0 {
		k := rng.Intn(len(sol.Unassigned))
		s := sol.Unassigned[k]
		v := rng.Intn(p.nv)
		order := insertAt(sol.Plans[v].Order, rng.Intn(len(sol.Plans[v].Order)+1), s)
		sol.Plans[v].Order = order
		sol.Unassigned = removeAt(sol.Unassigned, k)
		return p.capacityOK(v, order)
	}
	pos := positions(sol)
	if len(pos) < 2 {
		return false
	}
	x := pos[rng.Intn(len(pos))]
	switch rng.Intn(3) {
	case 0:
		y := pos[rng.Intn(len(pos))]
		if x == y {
			return false
		}
		ox, oy := sol.Plans[x.v].Order, sol.Plans[y.v].Order
		ox[x.i], oy[y.i] = oy[y.i], ox[x.i]
		return p.capacityOK(x.v, ox) && p.capacityOK(y.v, oy)
	case 1:
		s := sol.Plans[x.v].Order[x.i]
		sol.Plans[x.v].Order = removeAt(sol.Plans[x.v].Order, x.i)
		v := rng.Intn(p.nv)
		sol.Plans[v].Order = insertAt(sol.Plans[v].Order, rng.Intn(len(sol.Plans[v].Order)+1), s)
		return p.capacityOK(v, sol.Plans[v].Order)
	default:
		order := sol.Plans[x.v].Order
		if len(order) < 2 {
			return false
		}
		i, k := rng.Intn(len(order)), rng.Intn(len(order))
		if i > k {
			i, k = k, i
		}
		if i == k {
			return false
		}
		reverse(order[i : k+1])
		return true
	}
}
