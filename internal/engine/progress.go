package engine

import "time"

// Progress event types.
const (
	EventCandidateStarted  = "candidate.started"
	EventCandidateFinished = "candidate.finished"
	EventCandidateFailed   = "candidate.failed"
	EventRunCompleted      = "run.completed"
	EventRunFailed         = "run.failed"
)

// Event reports orchestration progress. Events of one run are delivered sequentially.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"runId"`
	Strategy  string    `json:"strategy,omitempty"`
	Candidate string    `json:"candidate,omitempty"`
	Score     float64   `json:"score,omitempty"`
	TotalCost float64   `json:"totalCost,omitempty"`
	ElapsedMs int64     `json:"elapsedMs"`
	Error     string    `json:"error,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
	Time      time.Time `json:"time"`
}

type runOptions struct {
	runID    string
	strategy string
	progress func(Event)
	noCache  bool
}

type Option func(*runOptions)

// WithProgress receives candidate and run events. On a shared cache computation only the
// caller that started it sees candidate events.
func WithProgress(fn func(Event)) Option {
	return func(o *runOptions) { o.progress = fn }
}

// WithRunID fixes the run id, e.g. when it was handed to a client before the run started.
func WithRunID(id string) Option {
	return func(o *runOptions) { o.runID = id }
}

// WithStrategy overrides the configured primary strategy for one call.
func WithStrategy(name string) Option {
	return func(o *runOptions) { o.strategy = name }
}

// WithoutCache bypasses the result cache for one call.
func WithoutCache() Option {
	return func(o *runOptions) { o.noCache = true }
}

func (o *runOptions) emit(e Event) {
	if o.progress == nil {
		return
	}
	e.RunID = o.runID
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	o.progress(e)
}
