package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const AlgorithmACO = "aco"

type ACOParams struct {
	Ants        int
	Iterations  int
	Alpha       float64 // pheromone influence
	Beta        float64 // distance influence
	Evaporation float64
	// Deposit scales the pheromone laid by a solution relative to the seed cost.
	Deposit       float64
	ElitistWeight float64
	Seed          int64
}

func DefaultACOParams() ACOParams {
	return ACOParams{Ants: 16, Iterations: 80, Alpha: 1, Beta: 2, Evaporation: 0.1, Deposit: 1, ElitistWeight: 2}
}

const minPheromone = 1e-6

// colony holds the pheromone matrix: one row per location plus a depot row for the first
// leg out of any vehicle start, one column per location.
type colony struct {
	p        *Problem
	params   ACOParams
	tau      [][]float64
	etaLoc   [][]float64
	etaStart [][]float64
}

func newColony(p *Problem, params ACOParams) *colony {
	c := &colony{p: p, params: params}
	c.tau = make([][]float64, p.n+1)
	for i := range c.tau {
		c.tau[i] = make([]float64, p.n)
		for j := range c.tau[i] {
			c.tau[i][j] = 1
		}
	}
	heuristic := func(from, to int) float64 {
		return math.Pow(1/(p.Matrix.Km(from, to)+1e-3), params.Beta)
	}
	c.etaLoc = make([][]float64, p.n)
	for i := range c.etaLoc {
		c.etaLoc[i] = make([]float64, p.n)
		for j := range c.etaLoc[i] {
			c.etaLoc[i][j] = heuristic(i, j)
		}
	}
	c.etaStart = make([][]float64, p.nv)
	for v := range c.etaStart {
		c.etaStart[v] = make([]float64, p.n)
		for j := range c.etaStart[v] {
			c.etaStart[v][j] = heuristic(p.start[v], j)
		}
	}
	return c
}

// SolveACO runs ant colony optimization. Ants of one iteration build tours concurrently
// against a frozen pheromone matrix, each with its own deterministic random source; the
// matrix is then evaporated and reinforced by the iteration best and the global best.
func SolveACO(ctx context.Context, p *Problem, params ACOParams) (*Solution, Stats) {
	started := time.Now()
	def := DefaultACOParams()
	if params.Ants <= 0 {
		params.Ants = def.Ants
	}
	if params.Iterations <= 0 {
		params.Iterations = def.Iterations
	}
	if params.Evaporation <= 0 || params.Evaporation >= 1 {
		params.Evaporation = def.Evaporation
	}
	if params.Deposit <= 0 {
		params.Deposit = def.Deposit
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	st := Stats{Algorithm: AlgorithmACO}
	ref := NearestNeighbor(p)
	refCost := math.Max(ref.Cost, eps)
	c := newColony(p, params)

	var best *Solution
	for it := 0; it < params.Iterations && ctx.Err() == nil; it++ {
		st.Iterations++
		ants := make([]*Solution, params.Ants)
		var wg sync.WaitGroup
		for a := range ants {
			wg.Add(1)
			go func(a int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed + int64(it*params.Ants+a)))
				ants[a] = c.construct(rng)
			}(a)
		}
		wg.Wait()

		iterBest := ants[0]
		for _, s := range ants[1:] {
			if p.Better(s, iterBest) {
				iterBest = s
			}
		}
		if best == nil || p.Better(iterBest, best) {
			best = iterBest.Clone()
			st.Improvements++
		}
		c.evaporate()
		c.deposit(iterBest, params.Deposit*refCost/math.Max(iterBest.Cost, eps))
		c.deposit(best, params.ElitistWeight*params.Deposit*refCost/math.Max(best.Cost, eps))
		st.BestTrace = append(st.BestTrace, best.Cost)
	}
	if best == nil || p.Better(ref, best) {
		best = ref
	}
	st.BestCost = best.Cost
	st.Elapsed = time.Since(started)
	return best, st
}

// construct builds one ant's solution: vehicles in random order, each extending its tour
// by roulette over the stops it can still serve until none remain.
func (c *colony) construct(rng *rand.Rand) *Solution {
	p := c.p
	sol := p.EmptySolution()
	visited := make([]bool, p.n)
	cands := make([]int, 0, p.n)
	weights := make([]float64, 0, p.n)
	nexts := make([]cursor, 0, p.n)
	for _, v := range rng.Perm(p.nv) {
		cur := p.newCursor(v)
		row := p.n
		for {
			cands, weights, nexts = cands[:0], weights[:0], nexts[:0]
			total := 0.0
			for s := 0; s < p.n; s++ {
				if visited[s] {
					continue
				}
				next, ok := p.advance(cur, s)
				if !ok {
					continue
				}
				eta := c.etaStart[v][s]
				if row < p.n {
					eta = c.etaLoc[row][s]
				}
				tau := c.tau[row][s]
				if c.params.Alpha != 1 {
					tau = math.Pow(tau, c.params.Alpha)
				}
				w := tau * eta
				cands = append(cands, s)
				weights = append(weights, w)
				nexts = append(nexts, next)
				total += w
			}
			if len(cands) == 0 {
				break
			}
			pick := len(cands) - 1
			if total > 0 {
				r := rng.Float64() * total
				acc := 0.0
				for i, w := range weights {
					acc += w
					if r <= acc {
						pick = i
						break
					}
				}
			} else {
				pick = rng.Intn(len(cands))
			}
			s := cands[pick]
			sol.Plans[v].Order = append(sol.Plans[v].Order, s)
			visited[s] = true
			cur = nexts[pick]
			row = s
		}
	}
	for s := 0; s < p.n; s++ {
		if !visited[s] {
			sol.Unassigned = append(sol.Unassigned, s)
		}
	}
	sort.Ints(sol.Unassigned)
	p.Evaluate(sol)
	return sol
}

func (c *colony) evaporate() {
	keep := 1 - c.params.Evaporation
	for i := range c.tau {
		for j := range c.tau[i] {
			c.tau[i][j] = math.Max(c.tau[i][j]*keep, minPheromone)
		}
	}
}

func (c *colony) deposit(sol *Solution, amount float64) {
	for _, pl := range sol.Plans {
		row := c.p.n
		for _, s := range pl.Order {
			c.tau[row][s] += amount
			row = s
		}
	}
}
