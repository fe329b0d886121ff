package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"routeopt/internal/model"
)

// ErrMiss is returned by Store.Get when no live entry exists.
var ErrMiss = errors.New("cache miss")

// Store keeps finished results by fingerprint. Writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) (*model.OptimizationResult, error)
	Set(ctx context.Context, key string, res *model.OptimizationResult, ttl time.Duration) error
}

type memEntry struct {
	res     *model.OptimizationResult
	expires time.Time
}

// Memory is a process-local Store with per-entry TTL.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]memEntry{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (*model.OptimizationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return e.res.Clone(), nil
}

func (m *Memory) Set(_ context.Context, key string, res *model.OptimizationResult, ttl time.Duration) error {
	e := memEntry{res: res.Clone()}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
