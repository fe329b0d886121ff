package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"
)

const AlgorithmGA = "ga"

type GAParams struct {
	Population     int
	Generations    int
	EliteFraction  float64
	TournamentSize int
	MutationRate   float64
	// MutationDecay multiplies the mutation rate after every generation.
	MutationDecay float64
	// ConvergenceVariance is the relative fitness variance (variance / mean²) below which a
	// generation counts as stalled.
	ConvergenceVariance float64
	StallGenerations    int
	LocalSearch         bool
	LocalSearchIters    int
	Seed                int64
}

func DefaultGAParams() GAParams {
	return GAParams{
		Population:          120,
		Generations:         300,
		EliteFraction:       0.1,
		TournamentSize:      3,
		MutationRate:        0.3,
		MutationDecay:       0.995,
		ConvergenceVariance: 1e-6,
		StallGenerations:    30,
		LocalSearch:         true,
		LocalSearchIters:    1000,
	}
}

// Fitness maps cost to (0, 1]; lower cost is fitter.
func Fitness(cost float64) float64 { return 1 / (1 + cost) }

// SolveGA evolves a population seeded with one nearest-neighbor tour and random assignments.
// Each generation keeps the elite unchanged and breeds the rest from tournament winners drawn
// from the non-elite remainder. It stops on the generation budget, a sustained convergence of
// fitness, or ctx, and returns the best solution seen.
func SolveGA(ctx context.Context, p *Problem, params GAParams) (*Solution, Stats) {
	started := time.Now()
	def := DefaultGAParams()
	if params.Population < 4 {
		params.Population = def.Population
	}
	if params.Generations <= 0 {
		params.Generations = def.Generations
	}
	if params.EliteFraction <= 0 || params.EliteFraction >= 1 {
		params.EliteFraction = def.EliteFraction
	}
	if params.TournamentSize < 2 {
		params.TournamentSize = def.TournamentSize
	}
	if params.MutationDecay <= 0 {
		params.MutationDecay = 1
	}
	if params.StallGenerations <= 0 {
		params.StallGenerations = def.StallGenerations
	}
	rng := newRand(params.Seed)
	st := Stats{Algorithm: AlgorithmGA}

	pop := make([]*Solution, 0, params.Population)
	pop = append(pop, NearestNeighbor(p))
	for len(pop) < params.Population && ctx.Err() == nil {
		s := RandomAssignment(p, rng)
		p.Repair(s)
		pop = append(pop, s)
	}
	p.sortPopulation(pop)
	best := pop[0].Clone()
	st.BestTrace = append(st.BestTrace, best.Cost)

	rate := params.MutationRate
	stall := 0
	for gen := 0; gen < params.Generations && ctx.Err() == nil; gen++ {
		st.Iterations++
		elite := int(math.Ceil(params.EliteFraction * float64(len(pop))))
		if elite >= len(pop) {
			elite = len(pop) - 1
		}
		next := make([]*Solution, 0, len(pop))
		next = append(next, pop[:elite]...)
		pool := pop[elite:]
		if len(pool) < 2 {
			pool = pop
		}
		for len(next) < len(pop) && ctx.Err() == nil {
			a := p.tournament(pool, params.TournamentSize, rng)
			b := p.tournament(pool, params.TournamentSize, rng)
			child := p.crossover(a, b, rng)
			p.mutate(child, rate, rng)
			p.Repair(child)
			if params.LocalSearch {
				TwoOpt(ctx, p, child)
			}
			next = append(next, child)
		}
		pop = next
		p.sortPopulation(pop)
		if p.Better(pop[0], best) {
			best = pop[0].Clone()
			st.Improvements++
		}
		st.BestTrace = append(st.BestTrace, best.Cost)
		rate *= params.MutationDecay

		if relativeFitnessVariance(pop) < params.ConvergenceVariance {
			stall++
			if stall >= params.StallGenerations {
				break
			}
		} else {
			stall = 0
		}
	}
	if params.LocalSearch && ctx.Err() == nil {
		LocalSearch(ctx, p, best, params.LocalSearchIters)
	}
	st.BestCost = best.Cost
	st.Elapsed = time.Since(started)
	return best, st
}

func (p *Problem) sortPopulation(pop []*Solution) {
	sort.SliceStable(pop, func(i, j int) bool { return p.Better(pop[i], pop[j]) })
}

func (p *Problem) tournament(pool []*Solution, size int, rng *rand.Rand) *Solution {
	var winner *Solution
	for i := 0; i < size; i++ {
		c := pool[rng.Intn(len(pool))]
		if winner == nil || p.Better(c, winner) {
			winner = c
		}
	}
	return winner
}

// crossover keeps a random subset of a's routes intact, fills the remaining vehicles with
// b's stop order minus stops already placed, and leaves the rest for Repair to insert.
func (p *Problem) crossover(a, b *Solution, rng *rand.Rand) *Solution {
	child := p.EmptySolution()
	placed := make([]bool, p.n)
	fromA := make([]bool, p.nv)
	for vi, pl := range a.Plans {
		if len(pl.Order) == 0 || rng.Intn(2) == 0 {
			continue
		}
		fromA[vi] = true
		child.Plans[vi].Order = append(child.Plans[vi].Order, pl.Order...)
		for _, s := range pl.Order {
			placed[s] = true
		}
	}
	for vi, pl := range b.Plans {
		if fromA[vi] {
			continue
		}
		for _, s := range pl.Order {
			if !placed[s] {
				placed[s] = true
				child.Plans[vi].Order = append(child.Plans[vi].Order, s)
			}
		}
	}
	for s := 0; s < p.n; s++ {
		if !placed[s] {
			child.Unassigned = append(child.Unassigned, s)
		}
	}
	return child
}

type position struct{ v, i int }

func positions(sol *Solution) []position {
	var out []position
	for vi, pl := range sol.Plans {
		for i := range pl.Order {
			out = append(out, position{vi, i})
		}
	}
	return out
}

// mutate swaps two stops or relocates one, with probability rate.
func (p *Problem) mutate(sol *Solution, rate float64, rng *rand.Rand) {
	if rng.Float64() >= rate {
		return
	}
	pos := positions(sol)
	if len(pos) < 2 {
		return
	}
	x := pos[rng.Intn(len(pos))]
	if rng.Intn(2) == 0 {
		y := pos[rng.Intn(len(pos))]
		ox, oy := sol.Plans[x.v].Order, sol.Plans[y.v].Order
		ox[x.i], oy[y.i] = oy[y.i], ox[x.i]
		return
	}
	s := sol.Plans[x.v].Order[x.i]
	sol.Plans[x.v].Order = removeAt(sol.Plans[x.v].Order, x.i)
	v := rng.Intn(p.nv)
	at := rng.Intn(len(sol.Plans[v].Order) + 1)
	sol.Plans[v].Order = insertAt(sol.Plans[v].Order, at, s)
}

func relativeFitnessVariance(pop []*Solution) float64 {
	if len(pop) < 2 {
		return 0
	}
	mean := 0.0
	for _, s := range pop {
		mean += Fitness(s.Cost)
	}
	mean /= float64(len(pop))
	if mean == 0 {
		return 0
	}
	v := 0.0
	for _, s := range pop {
		d := Fitness(s.Cost) - mean
		v += d * d
	}
	v /= float64(len(pop))
	return v / (mean * mean)
}
