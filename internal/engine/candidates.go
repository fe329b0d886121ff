package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"routeopt/internal/apperr"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/opt"
)

type outcome struct {
	name    string
	res     *model.OptimizationResult
	err     error
	elapsed time.Duration
}

func (o outcome) status() string {
	switch {
	case o.err == nil:
		return model.CandidateOK
	case apperr.Is(o.err, apperr.KindComputeTimeout):
		return model.CandidateTimeout
	default:
		return model.CandidateError
	}
}

func (o outcome) report(score float64) model.CandidateReport {
	r := model.CandidateReport{
		Algorithm:     o.name,
		Status:        o.status(),
		ComputeTimeMs: o.elapsed.Milliseconds(),
	}
	if o.err != nil {
		r.Error = o.err.Error()
		return r
	}
	r.Score = score
	r.Iterations = o.res.Metadata.Iterations
	r.TotalCost = o.res.Summary.TotalCost
	r.DistanceKm = o.res.Summary.TotalDistanceKm
	r.Unassigned = len(o.res.Unassigned)
	return r
}

type indexed struct {
	i int
	outcome
}

// runCandidates runs every solver concurrently against the shared read-only problem.
// Solvers see a soft deadline slightly before the budget so they can hand back their best
// solution; whatever is still running when the budget elapses is cancelled, reported as
// timed out, and its eventual result discarded.
func (e *Engine) runCandidates(ctx context.Context, p *opt.Problem, strategy string, solvers []Solver, ro *runOptions) []outcome {
	budget := e.cfg.MaxCompute
	soft := budget * 9 / 10
	if soft <= 0 {
		soft = budget
	}
	sctx, cancel := context.WithTimeout(ctx, soft)
	defer cancel()

	started := time.Now()
	ch := make(chan indexed, len(solvers))
	for i, s := range solvers {
		ro.emit(Event{Type: EventCandidateStarted, Strategy: strategy, Candidate: s.Name()})
		go e.runOne(sctx, p, i, s, ch)
	}

	outs := make([]outcome, len(solvers))
	done := make([]bool, len(solvers))
	pending := len(solvers)
	hard := time.NewTimer(budget)
	defer hard.Stop()
collect:
	for pending > 0 {
		select {
		case r := <-ch:
			outs[r.i] = r.outcome
			done[r.i] = true
			pending--
			e.finished(ctx, strategy, r.outcome, ro)
		case <-hard.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	if pending == 0 {
		return outs
	}

	cancel()
	for i, s := range solvers {
		if done[i] {
			continue
		}
		var err error = apperr.ComputeTimeout(s.Name(), budget)
		if ctx.Err() != nil {
			err = apperr.From(ctx.Err())
		}
		outs[i] = outcome{name: s.Name(), err: err, elapsed: time.Since(started)}
		e.finished(ctx, strategy, outs[i], ro)
	}
	go e.abandon(ch, pending)
	return outs
}

func (e *Engine) runOne(ctx context.Context, p *opt.Problem, i int, s Solver, ch chan<- indexed) {
	name := s.Name()
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "candidate."+name, trace.WithAttributes(attribute.String("candidate.name", name)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			e.log.Panic(ctx, r)
			err := fmt.Errorf("%s panicked: %v", name, r)
			span.SetStatus(codes.Error, err.Error())
			ch <- indexed{i, outcome{name: name, err: err, elapsed: time.Since(started)}}
		}
	}()

	res, err := s.Solve(ctx, p)
	if errors.Is(err, context.DeadlineExceeded) {
		err = apperr.ComputeTimeout(name, e.cfg.MaxCompute).Wrap(err)
	}
	if err == nil && res == nil {
		err = fmt.Errorf("%s returned no result", name)
	}
	if err == nil {
		if perr := opt.CheckPartition(p.Request, res); perr != nil {
			err = fmt.Errorf("%s returned an invalid result: %w", name, perr)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res = nil
	}
	ch <- indexed{i, outcome{name: name, res: res, err: err, elapsed: time.Since(started)}}
}

func (e *Engine) finished(ctx context.Context, strategy string, o outcome, ro *runOptions) {
	status := o.status()
	metrics.CandidateOutcomes.WithLabelValues(o.name, status).Inc()
	metrics.CandidateLatency.WithLabelValues(o.name, status).Observe(float64(o.elapsed.Milliseconds()))
	ev := Event{Strategy: strategy, Candidate: o.name, ElapsedMs: o.elapsed.Milliseconds()}
	if o.err != nil {
		e.log.WithContext(ctx).WithError(o.err).Warn("Candidate failed", "candidate", o.name, "status", status)
		ev.Type = EventCandidateFailed
		ev.Error = o.err.Error()
	} else {
		ev.Type = EventCandidateFinished
		ev.TotalCost = o.res.Summary.TotalCost
	}
	ro.emit(ev)
}

// abandon drains late results for the grace period so they can be logged, then gives up on
// candidates that ignored cancellation. The channel is buffered, so their sends never block.
func (e *Engine) abandon(ch <-chan indexed, pending int) {
	grace := time.NewTimer(e.cfg.GracePeriod)
	defer grace.Stop()
	for pending > 0 {
		select {
		case r := <-ch:
			pending--
			e.log.Info("Discarded late candidate result", "candidate", r.name, "elapsedMs", r.elapsed.Milliseconds())
		case <-grace.C:
			e.log.Warn("Abandoned candidates that ignored cancellation", "count", pending)
			return
		}
	}
}
