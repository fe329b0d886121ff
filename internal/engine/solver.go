package engine

import (
	"context"
	"fmt"

	"routeopt/internal/config"
	"routeopt/internal/model"
	"routeopt/internal/opt"
)

// Solver is one candidate producer: a local metaheuristic or an external provider.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p *opt.Problem) (*model.OptimizationResult, error)
}

// configurable is implemented by solvers that may lack credentials.
type configurable interface {
	Configured() bool
}

func runnable(s Solver) bool {
	if c, ok := s.(configurable); ok {
		return c.Configured()
	}
	return true
}

// LocalSolver adapts one of the in-process metaheuristics.
type LocalSolver struct {
	name string
	run  func(ctx context.Context, p *opt.Problem) (*opt.Solution, opt.Stats)
}

func (l *LocalSolver) Name() string { return l.name }

// Solve runs the metaheuristic, restores the solution invariants and builds the result.
func (l *LocalSolver) Solve(ctx context.Context, p *opt.Problem) (*model.OptimizationResult, error) {
	sol, st := l.run(ctx, p)
	if sol == nil {
		return nil, fmt.Errorf("%s produced no solution", l.name)
	}
	p.Repair(sol)
	if st.Algorithm == "" {
		st.Algorithm = l.name
	}
	return opt.BuildResult(p, sol, st), nil
}

func GA(params opt.GAParams) *LocalSolver {
	return &LocalSolver{name: opt.AlgorithmGA, run: func(ctx context.Context, p *opt.Problem) (*opt.Solution, opt.Stats) {
		return opt.SolveGA(ctx, p, params)
	}}
}

func SA(params opt.SAParams) *LocalSolver {
	return &LocalSolver{name: opt.AlgorithmSA, run: func(ctx context.Context, p *opt.Problem) (*opt.Solution, opt.Stats) {
		return opt.SolveSA(ctx, p, params)
	}}
}

func ACO(params opt.ACOParams) *LocalSolver {
	return &LocalSolver{name: opt.AlgorithmACO, run: func(ctx context.Context, p *opt.Problem) (*opt.Solution, opt.Stats) {
		return opt.SolveACO(ctx, p, params)
	}}
}

func ALNS(params opt.ALNSParams) *LocalSolver {
	return &LocalSolver{name: opt.AlgorithmALNS, run: func(ctx context.Context, p *opt.Problem) (*opt.Solution, opt.Stats) {
		return opt.SolveALNS(ctx, p, params)
	}}
}

// LocalSolvers builds the four metaheuristics from configuration.
func LocalSolvers(cfg *config.OptimizationConfig) []Solver {
	return []Solver{
		GA(opt.GAParams{
			Population:          cfg.GAPopulation,
			Generations:         cfg.GAGenerations,
			EliteFraction:       cfg.GAEliteFraction,
			TournamentSize:      cfg.GATournamentSize,
			MutationRate:        cfg.GAMutationRate,
			MutationDecay:       cfg.GAMutationDecay,
			ConvergenceVariance: cfg.GAConvergenceVariance,
			StallGenerations:    cfg.GAStallGenerations,
			LocalSearch:         cfg.GALocalSearch,
			LocalSearchIters:    cfg.LocalSearchMaxIters,
			Seed:                cfg.Seed,
		}),
		SA(opt.SAParams{
			InitialTemp:   cfg.SAInitialTemp,
			CoolingRate:   cfg.SACoolingRate,
			MinTemp:       cfg.SAMinTemp,
			MaxIterations: cfg.SAMaxIterations,
			ReheatAfter:   cfg.SAReheatAfter,
			ReheatFactor:  cfg.SAReheatFactor,
			Seed:          cfg.Seed,
		}),
		ACO(opt.ACOParams{
			Ants:          cfg.ACOAnts,
			Iterations:    cfg.ACOIterations,
			Alpha:         cfg.ACOAlpha,
			Beta:          cfg.ACOBeta,
			Evaporation:   cfg.ACOEvaporation,
			Deposit:       cfg.ACODeposit,
			ElitistWeight: cfg.ACOElitistWeight,
			Seed:          cfg.Seed,
		}),
		ALNS(opt.ALNSParams{
			Iterations:       cfg.ALNSIterations,
			RemoveFraction:   cfg.ALNSRemoveFraction,
			LocalSearchIters: cfg.LocalSearchMaxIters,
			Seed:             cfg.Seed,
		}),
	}
}

// Params maps the cost model settings onto the evaluator parameters.
func Params(cfg *config.OptimizationConfig) opt.Params {
	return opt.Params{
		PenaltyWeight:     cfg.PenaltyWeight,
		UnassignedPenalty: cfg.UnassignedPenalty,
		FuelLitersPerKm:   cfg.FuelLitersPerKm,
		CO2KgPerLiter:     cfg.CO2KgPerLiter,
	}
}
