package distance

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"

	"golang.org/x/sync/singleflight"

	"routeopt/internal/metrics"
	"routeopt/internal/model"
)

// Memo caches matrices per coordinate set, evicting the least recently used, and coalesces
// concurrent builds of the same set. Degraded matrices are returned but never stored, so the
// next call retries the preferred provider. Returned matrices are shared and must be treated
// as read-only.
type Memo struct {
	next  Provider
	limit int

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front is most recently used
	group singleflight.Group
}

type memoEntry struct {
	key string
	mx  *Matrix
}

// NewMemo keeps at most limit matrices; limit <= 0 disables storage but still coalesces.
func NewMemo(next Provider, limit int) *Memo {
	return &Memo{next: next, limit: limit, items: make(map[string]*list.Element), lru: list.New()}
}

func (m *Memo) Matrix(ctx context.Context, points []model.GeoPoint) (*Matrix, error) {
	key := pointsKey(points)
	if hit, ok := m.lookup(key); ok {
		metrics.MatrixBuilds.WithLabelValues("memo").Inc()
		return hit, nil
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if hit, ok := m.lookup(key); ok {
			return hit, nil
		}
		built, err := m.next.Matrix(ctx, points)
		if err != nil {
			return nil, err
		}
		if !built.Degraded {
			m.store(key, built)
		}
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Matrix), nil
}

func (m *Memo) lookup(key string) (*Matrix, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	m.lru.MoveToFront(el)
	return el.Value.(*memoEntry).mx, true
}

func (m *Memo) store(key string, mx *Matrix) {
	if m.limit <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.lru.MoveToFront(el)
		return
	}
	for m.lru.Len() >= m.limit {
		oldest := m.lru.Back()
		delete(m.items, oldest.Value.(*memoEntry).key)
		m.lru.Remove(oldest)
	}
	m.items[key] = m.lru.PushFront(&memoEntry{key: key, mx: mx})
}

// Len reports how many matrices are stored.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func pointsKey(points []model.GeoPoint) string {
	h := sha256.New()
	var buf [16]byte
	for _, p := range points {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(p.Lat))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.Lng))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
