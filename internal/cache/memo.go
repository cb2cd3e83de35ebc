package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/mirador-regress/internal/metrics"
)

// Key is a normalized, comparable cache key. String must be injective over
// equal keys since it names the single-flight slot.
type Key interface {
	comparable
	String() string
}

// Loader computes a value on a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)

// Memo is a size and TTL bounded memo with at most one in-flight load per key.
type Memo[K Key, V any] struct {
	tier  string
	lru   *expirable.LRU[K, V]
	group singleflight.Group
	empty func(V) bool
}

// NewMemo builds a memo tier. Values for which empty reports true are handed
// to the waiting callers but never retained.
func NewMemo[K Key, V any](tier string, size int, ttl time.Duration, empty func(V) bool) *Memo[K, V] {
	if size <= 0 {
		size = 1024
	}
	return &Memo[K, V]{
		tier:  tier,
		lru:   expirable.NewLRU[K, V](size, nil, ttl),
		empty: empty,
	}
}

// Tier returns the name used in metrics and errors.
func (m *Memo[K, V]) Tier() string { return m.tier }

// Get returns the cached value for key or runs load exactly once across
// concurrent callers. The load runs detached from the caller's cancellation
// so one abandoned request does not fail the others waiting on it.
func (m *Memo[K, V]) Get(ctx context.Context, key K, load Loader[V]) (V, error) {
	if v, ok := m.lru.Get(key); ok {
		metrics.CacheLookup(m.tier, metrics.CacheHit)
		return v, nil
	}
	metrics.CacheLookup(m.tier, metrics.CacheMiss)

	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key.String(), func() (any, error) {
		if v, ok := m.lru.Peek(key); ok {
			return v, nil
		}
		v, err := load(detached)
		if err != nil {
			return nil, err
		}
		if m.empty == nil || !m.empty(v) {
			m.lru.Add(key, v)
		}
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			m.lru.Remove(key)
			return zero, fmt.Errorf("cache load %s: %w", m.tier, res.Err)
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

// Peek returns a retained value without refreshing recency or loading.
func (m *Memo[K, V]) Peek(key K) (V, bool) {
	return m.lru.Peek(key)
}

// Add stores a value directly, honouring the empty predicate.
func (m *Memo[K, V]) Add(key K, value V) {
	if m.empty != nil && m.empty(value) {
		return
	}
	m.lru.Add(key, value)
}

// Invalidate drops key and detaches any in-flight load from future callers.
func (m *Memo[K, V]) Invalidate(key K) {
	m.lru.Remove(key)
	m.group.Forget(key.String())
}

// Len returns the number of retained entries, expired ones included until
// the janitor sweeps them.
func (m *Memo[K, V]) Len() int {
	return m.lru.Len()
}

// Purge drops every entry.
func (m *Memo[K, V]) Purge() {
	m.lru.Purge()
}
