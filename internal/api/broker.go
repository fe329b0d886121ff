package api

import (
    "sync"

    "routeopt/internal/engine"
)

// EventBroker fans optimization progress out to stream subscribers, keyed by run id.
type EventBroker interface {
    Subscribe(runID string) chan engine.Event
    Unsubscribe(runID string, ch chan engine.Event)
    Publish(runID string, evt engine.Event)
}

// Broker is the in-process EventBroker. Slow subscribers miss events rather than stall a run.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan engine.Event]struct{} // runId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan engine.Event]struct{}{}}
}

func (b *Broker) Subscribe(runID string) chan engine.Event {
    ch := make(chan engine.Event, 64)
    b.mu.Lock()
    if b.subs[runID] == nil { b.subs[runID] = map[chan engine.Event]struct{}{} }
    b.subs[runID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(runID string, ch chan engine.Event) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[runID]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, runID) }
    close(ch)
}

func (b *Broker) Publish(runID string, evt engine.Event) {
    b.mu.Lock()
    m := b.subs[runID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}

// Subscribers counts open subscriptions for a run.
func (b *Broker) Subscribers(runID string) int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return len(b.subs[runID])
}

// terminal reports whether evt ends a run's stream.
func terminal(evt engine.Event) bool {
    return evt.Type == engine.EventRunCompleted || evt.Type == engine.EventRunFailed
}
