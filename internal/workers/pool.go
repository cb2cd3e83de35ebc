package workers

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/miradorstack/mirador-regress/internal/metrics"
)

// Kind separates short backend queries from whole per-key computations so a
// report fan-out cannot starve the graph slices it depends on.
type Kind string

const (
	KindQuery    Kind = "query"
	KindFunction Kind = "function"
)

// Pool bounds the number of concurrently running tasks.
type Pool struct {
	name string
	size int64
	sem  *semaphore.Weighted
}

// NewPool creates a pool that runs at most size tasks at once.
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{name: name, size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Name identifies the pool in metrics.
func (p *Pool) Name() string { return p.name }

// Size returns the concurrency bound.
func (p *Pool) Size() int { return int(p.size) }

// Do runs fn once a slot is free. It returns ctx.Err() if the caller gives up
// while waiting.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.PoolStarted(p.name)
	defer func() {
		metrics.PoolFinished(p.name)
		p.sem.Release(1)
	}()
	return fn(ctx)
}

// Task is one unit of work submitted through Collect.
type Task[T any] func(ctx context.Context) (T, error)

// Result carries a task's outcome along with its submission index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Collect runs tasks on pool and returns their results in completion order.
// A single task runs inline on the calling goroutine.
func Collect[T any](ctx context.Context, pool *Pool, tasks []Task[T]) []Result[T] {
	switch len(tasks) {
	case 0:
		return nil
	case 1:
		v, err := tasks[0](ctx)
		return []Result[T]{{Index: 0, Value: v, Err: err}}
	}

	out := make(chan Result[T], len(tasks))
	for i, task := range tasks {
		go func(i int, task Task[T]) {
			var v T
			err := pool.Do(ctx, func(ctx context.Context) error {
				var err error
				v, err = task(ctx)
				return err
			})
			out <- Result[T]{Index: i, Value: v, Err: err}
		}(i, task)
	}

	results := make([]Result[T], 0, len(tasks))
	for range tasks {
		results = append(results, <-out)
	}
	return results
}

// Sizes configures per-kind pool bounds.
type Sizes struct {
	Query    int
	Function int
}

type poolKey struct {
	target string
	kind   Kind
}

// Registry hands out one pool per backend target and kind.
type Registry struct {
	mu    sync.Mutex
	sizes Sizes
	pools map[poolKey]*Pool
}

// NewRegistry creates an empty registry.
func NewRegistry(sizes Sizes) *Registry {
	if sizes.Query <= 0 {
		sizes.Query = 8
	}
	if sizes.Function <= 0 {
		sizes.Function = 4
	}
	return &Registry{sizes: sizes, pools: make(map[poolKey]*Pool)}
}

// Pool returns the pool for target and kind, creating it on first use.
func (r *Registry) Pool(target string, kind Kind) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := poolKey{target: target, kind: kind}
	if pool, ok := r.pools[key]; ok {
		return pool
	}
	size := r.sizes.Query
	if kind == KindFunction {
		size = r.sizes.Function
	}
	pool := NewPool(fmt.Sprintf("%s/%s", target, kind), size)
	r.pools[key] = pool
	return pool
}
