package tradelocker

import (
	"context"
	"sync"
	"time"

	"tradelocker/pkg/telemetry"
)

// memo is a single-value TTL cache for broker data that rarely changes
// (configuration, instrument lists, account lists).
type memo[T any] struct {
	mu      sync.Mutex
	value   T
	ok      bool
	fetched time.Time
	ttl     time.Duration
	kind    string
}

func newMemo[T any](kind string, ttl time.Duration) *memo[T] {
	return &memo[T]{ttl: ttl, kind: kind}
}

// get returns the cached value, fetching it through fn when absent or stale.
func (m *memo[T]) get(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ok && time.Since(m.fetched) < m.ttl {
		telemetry.GetGlobalMetrics().RecordCacheHit(m.kind)
		return m.value, nil
	}

	value, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	m.value = value
	m.ok = true
	m.fetched = time.Now()
	return value, nil
}

// invalidate drops the cached value.
func (m *memo[T]) invalidate() {
	m.mu.Lock()
	m.ok = false
	m.mu.Unlock()
}
