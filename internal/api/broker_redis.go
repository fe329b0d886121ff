package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"

    "routeopt/internal/engine"
    "routeopt/internal/logging"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so any replica can stream a run
// started on another one.
type RedisBroker struct {
    rdb  *redis.Client
    log  *logging.Logger
    mu   sync.Mutex
    subs map[chan engine.Event]*redis.PubSub
}

func NewRedisBroker(url string, log *logging.Logger) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return NewRedisBrokerClient(redis.NewClient(opt), log), nil
}

func NewRedisBrokerClient(rdb *redis.Client, log *logging.Logger) *RedisBroker {
    if log == nil { log = logging.Nop() }
    return &RedisBroker{rdb: rdb, log: log.WithComponent("broker.redis"), subs: map[chan engine.Event]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(runID string) chan engine.Event {
    ch := make(chan engine.Event, 64)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    ps := b.rdb.Subscribe(ctx, b.chanName(runID))
    // wait for the confirmation so no event published after Subscribe returns is lost
    if _, err := ps.Receive(ctx); err != nil {
        b.log.WithError(err).Warn("Redis subscribe failed", "runId", runID)
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt engine.Event
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
                b.log.WithError(err).Warn("Dropping malformed event", "runId", runID)
                continue
            }
            select { case ch <- evt: default: }
        }
    }()
    return ch
}

// Unsubscribe closes the subscription; ch is closed once the forwarding goroutine drains.
func (b *RedisBroker) Unsubscribe(runID string, ch chan engine.Event) {
    b.mu.Lock()
    ps := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(runID string, evt engine.Event) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(evt)
    if err != nil { return }
    if err := b.rdb.Publish(ctx, b.chanName(runID), data).Err(); err != nil {
        b.log.WithError(err).Warn("Redis publish failed", "runId", runID, "type", evt.Type)
    }
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(runID string) string { return "routeopt:run:" + runID }
