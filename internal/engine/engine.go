// Package engine orchestrates candidate solvers: it validates and resolves a request, builds
// the distance matrix, runs the configured strategy chain under a compute budget, scores the
// candidates and returns the best one.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"routeopt/internal/apperr"
	"routeopt/internal/cache"
	"routeopt/internal/config"
	"routeopt/internal/distance"
	"routeopt/internal/insight"
	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/opt"
	"routeopt/internal/providers"
	"routeopt/internal/store"
)

const tracerName = "routeopt/engine"

// Deps are the collaborators of an Engine. Only the configuration is mandatory: a missing
// matrix provider means local haversine distances, missing solvers mean the four local
// metaheuristics, and nil cache, run store or advisor disable those features.
type Deps struct {
	Matrix   distance.Provider
	Geocoder distance.Geocoder
	Solvers  []Solver
	Cache    *cache.ResultCache
	Runs     store.Store
	Advisor  insight.Advisor
	Logger   *logging.Logger
}

type Engine struct {
	cfg      *config.OptimizationConfig
	params   opt.Params
	matrix   distance.Provider
	geocoder distance.Geocoder
	solvers  map[string]Solver
	order    []string
	cache    *cache.ResultCache
	runs     store.Store
	advisor  insight.Advisor
	ratios   insight.Ratios
	log      *logging.Logger
	tracer   trace.Tracer
}

func New(cfg *config.OptimizationConfig, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	e := &Engine{
		cfg:      cfg,
		params:   Params(cfg),
		matrix:   deps.Matrix,
		geocoder: deps.Geocoder,
		solvers:  map[string]Solver{},
		cache:    deps.Cache,
		runs:     deps.Runs,
		advisor:  deps.Advisor,
		ratios: insight.Ratios{
			Fuel:     cfg.FuelRatio,
			Labor:    cfg.LaborRatio,
			Vehicle:  cfg.VehicleRatio,
			Overhead: cfg.OverheadRatio,
		},
		log:    log.WithComponent("engine"),
		tracer: otel.Tracer(tracerName),
	}
	if e.matrix == nil {
		e.matrix = distance.Haversine{SpeedKph: cfg.AverageSpeedKph}
	}
	solvers := deps.Solvers
	if solvers == nil {
		solvers = LocalSolvers(cfg)
	}
	for _, s := range solvers {
		if _, dup := e.solvers[s.Name()]; dup {
			continue
		}
		e.solvers[s.Name()] = s
		e.order = append(e.order, s.Name())
	}
	return e
}

// SolverInfo describes a registered candidate.
type SolverInfo struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

func (e *Engine) Solvers() []SolverInfo {
	out := make([]SolverInfo, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, SolverInfo{Name: name, Configured: runnable(e.solvers[name])})
	}
	return out
}

// Optimize runs one optimization. Errors are *apperr.AppError values.
func (e *Engine) Optimize(ctx context.Context, req *model.OptimizationRequest, opts ...Option) (*model.OptimizationResult, error) {
	started := time.Now()
	ro := &runOptions{strategy: e.cfg.Strategy}
	for _, o := range opts {
		o(ro)
	}
	if ro.runID == "" {
		ro.runID = NewRunID()
	}
	ctx = logging.ContextWithRunID(ctx, ro.runID)
	ctx, span := e.tracer.Start(ctx, "engine.Optimize", trace.WithAttributes(
		attribute.String("run.id", ro.runID),
		attribute.String("optimize.strategy", ro.strategy),
	))
	defer span.End()
	log := e.log.WithContext(ctx).WithOperation("optimize")

	run := store.Run{ID: ro.runID, Strategy: ro.strategy, Status: store.StatusRunning, CreatedAt: started.UTC()}
	e.record(ctx, run, nil)

	res, outcome, err := e.optimize(ctx, req, ro, &run)
	elapsed := time.Since(started)
	metrics.OptimizeDuration.WithLabelValues(ro.strategy).Observe(elapsed.Seconds())
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	if err != nil {
		err = apperr.From(err)
		metrics.OptimizeRuns.WithLabelValues(ro.strategy, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Warn("Optimization failed", "durationMs", elapsed.Milliseconds())
		run.Status = store.StatusFailed
		run.Error = err.Error()
		e.record(ctx, run, nil)
		ro.emit(Event{Type: EventRunFailed, Strategy: ro.strategy, ElapsedMs: elapsed.Milliseconds(), Error: err.Error()})
		return nil, err
	}

	cached := outcome == cache.OutcomeHit
	label := "ok"
	if cached {
		label = "cached"
	}
	metrics.OptimizeRuns.WithLabelValues(ro.strategy, label).Inc()
	res.Metadata.RunID = ro.runID
	span.SetAttributes(
		attribute.String("optimize.algorithm", res.Metadata.Algorithm),
		attribute.Float64("optimize.score", res.Metadata.Score),
		attribute.Bool("optimize.cached", cached),
	)
	run.Status = store.StatusSucceeded
	run.Algorithm = res.Metadata.Algorithm
	run.Cached = cached
	run.Result = res
	var cands []model.CandidateReport
	if !cached {
		cands = res.Metadata.Candidates
	}
	e.record(ctx, run, cands)

	ro.emit(Event{
		Type:      EventRunCompleted,
		Strategy:  ro.strategy,
		Candidate: res.Metadata.Algorithm,
		Score:     res.Metadata.Score,
		TotalCost: res.Summary.TotalCost,
		ElapsedMs: elapsed.Milliseconds(),
		Cached:    cached,
	})
	log.Performance(ctx, "optimize", elapsed, true, map[string]any{
		"algorithm":  res.Metadata.Algorithm,
		"cache":      outcome,
		"routes":     res.Summary.VehiclesUsed,
		"unassigned": len(res.Unassigned),
	})
	return res, nil
}

func (e *Engine) optimize(ctx context.Context, req *model.OptimizationRequest, ro *runOptions, run *store.Run) (*model.OptimizationResult, string, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, "", err
	}
	resolved, err := providers.ResolvePoints(ctx, req, e.geocoder)
	if err != nil {
		return nil, "", err
	}
	fp := cache.Fingerprint(resolved)
	run.Fingerprint = fp
	compute := func(cctx context.Context) (*model.OptimizationResult, error) {
		res, err := e.compute(cctx, resolved, ro)
		if err != nil {
			return nil, err
		}
		res.Metadata.Fingerprint = fp
		return res, nil
	}
	if e.cache == nil || ro.noCache {
		res, err := compute(ctx)
		return res, cache.OutcomeMiss, err
	}
	return e.cache.GetOrCompute(ctx, fp+":"+ro.strategy, compute)
}

// compute builds the problem and walks the strategy chain until one strategy yields a result.
func (e *Engine) compute(ctx context.Context, req *model.OptimizationRequest, ro *runOptions) (*model.OptimizationResult, error) {
	started := time.Now()
	log := e.log.WithContext(ctx)
	pts, err := opt.Points(req)
	if err != nil {
		return nil, apperr.InvalidInput("%v", err)
	}
	m, err := e.matrix.Matrix(ctx, pts)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.ProviderUnavailable("distance", err)
	}
	p, err := opt.NewProblem(req, m, e.params)
	if err != nil {
		return nil, apperr.InvalidInput("%v", err)
	}

	var causes []apperr.Cause
	var reports []model.CandidateReport
	for _, strategy := range e.chain(ro.strategy) {
		if err := ctx.Err(); err != nil {
			causes = append(causes, apperr.Cause{Source: "engine", Reason: err.Error()})
			break
		}
		solvers, skipped := e.resolve(strategy)
		for _, name := range skipped {
			metrics.CandidateOutcomes.WithLabelValues(name, "skipped").Inc()
		}
		if len(solvers) == 0 {
			log.Warn("Strategy has no runnable candidates", "strategy", strategy, "skipped", skipped)
			causes = append(causes, apperr.Cause{Source: strategy, Reason: "no runnable candidates"})
			continue
		}

		outs := e.runCandidates(ctx, p, strategy, solvers, ro)
		var ok []*model.OptimizationResult
		var okIdx []int
		for i, o := range outs {
			if o.err == nil {
				ok = append(ok, o.res)
				okIdx = append(okIdx, i)
			}
		}
		scores := Score(ok, req.Objectives, len(req.Locations))
		byIdx := make(map[int]float64, len(okIdx))
		for j, i := range okIdx {
			byIdx[i] = scores[j]
		}
		for i, o := range outs {
			reports = append(reports, o.report(byIdx[i]))
			if o.err != nil {
				causes = append(causes, apperr.Cause{Source: o.name, Reason: o.err.Error()})
			}
		}
		if len(ok) == 0 {
			log.Warn("All candidates failed, trying next strategy", "strategy", strategy)
			continue
		}

		best := pick(ok, scores)
		res := ok[best].Clone()
		res.Metadata.Algorithm = outs[okIdx[best]].name
		res.Metadata.Score = scores[best]
		res.Metadata.ComputeTimeMs = time.Since(started).Milliseconds()
		res.Metadata.MatrixSource = m.Source
		res.Metadata.Candidates = reports
		res.Insights = insight.Analyze(req, res, e.ratios)
		actx, cancel := context.WithTimeout(ctx, 5*time.Second)
		insight.Enrich(actx, e.advisor, res.Summary, res.Insights, log)
		cancel()
		return res, nil
	}
	return nil, apperr.AllCandidatesFailed(causes)
}

// chain is the primary strategy followed by the configured fallbacks, without repeats.
func (e *Engine) chain(primary string) []string {
	out := []string{primary}
	for _, s := range e.cfg.Fallbacks {
		dup := false
		for _, o := range out {
			if o == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

// resolve lists the runnable solvers of a strategy and the names it had to skip.
func (e *Engine) resolve(strategy string) ([]Solver, []string) {
	var names []string
	switch strategy {
	case config.StrategySingleLocal:
		names = []string{e.cfg.Algorithm}
	case config.StrategySingleProvider:
		if e.cfg.Provider != "" {
			names = []string{e.cfg.Provider}
		}
	case config.StrategyHybridAll:
		names = e.cfg.HybridSolvers
		if len(names) == 0 {
			names = e.order
		}
	}
	var solvers []Solver
	var skipped []string
	for _, name := range names {
		s, ok := e.solvers[name]
		if !ok || !runnable(s) {
			skipped = append(skipped, name)
			continue
		}
		solvers = append(solvers, s)
	}
	return solvers, skipped
}

// record persists the run; store failures are logged and never fail the call.
func (e *Engine) record(ctx context.Context, run store.Run, cands []model.CandidateReport) {
	if e.runs == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := e.runs.SaveRun(sctx, run); err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("Failed to save run")
		return
	}
	if len(cands) == 0 {
		return
	}
	items := make([]store.CandidateMetrics, 0, len(cands))
	for _, c := range cands {
		items = append(items, store.CandidateMetrics{
			Algorithm:     c.Algorithm,
			Status:        c.Status,
			Score:         c.Score,
			ComputeTimeMs: c.ComputeTimeMs,
			Iterations:    c.Iterations,
			TotalCost:     c.TotalCost,
			DistanceKm:    c.DistanceKm,
			Unassigned:    c.Unassigned,
			Error:         c.Error,
		})
	}
	if err := e.runs.SaveCandidateMetrics(sctx, run.ID, items); err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("Failed to save candidate metrics")
	}
}

// NewRunID returns a time-ordered id so run listings sort chronologically.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
