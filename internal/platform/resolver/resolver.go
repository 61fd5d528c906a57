// Package resolver memoizes service construction per adapter instance.
//
// Handlers receive an adapter per call (tests swap adapters freely); building
// a fresh service each time would discard warm state, while a plain global
// would couple every caller to one fixed adapter. The cache here keeps at most
// one service per adapter identity and swaps atomically when a different
// adapter shows up.
package resolver

import (
	"context"
	"sync"
	"sync/atomic"
)

// Initializer is the optional capability an adapter may expose for one-time
// connection or schema setup. It must be idempotent; the resolver still calls
// it at most once per cached adapter instance.
type Initializer interface {
	Initialize(ctx context.Context) error
}

type entry[A comparable, S any] struct {
	adapter A
	service S
	init    sync.Once
	initErr error
}

// Cache resolves at most one service instance per adapter identity.
// Comparison is by identity (interface/pointer equality), not value equality:
// two equal-by-value adapters are still two adapters.
//
// One Cache per service kind; the (kind, adapter) key from the design is the
// pair of which Cache you hold and which adapter you pass.
type Cache[A comparable, S any] struct {
	build func(A) S
	cur   atomic.Pointer[entry[A, S]]
}

// New creates a resolver cache with the given service constructor.
func New[A comparable, S any](build func(A) S) *Cache[A, S] {
	return &Cache[A, S]{build: build}
}

// Resolve returns the cached service for the adapter, building and swapping in
// a new one when the adapter reference differs from the cached one. Safe for
// concurrent use; the entry is replaced with a single atomic swap.
func (c *Cache[A, S]) Resolve(ctx context.Context, adapter A) (S, error) {
	for {
		cur := c.cur.Load()
		if cur != nil && cur.adapter == adapter {
			return c.ensureInitialized(ctx, cur)
		}
		next := &entry[A, S]{adapter: adapter, service: c.build(adapter)}
		if c.cur.CompareAndSwap(cur, next) {
			return c.ensureInitialized(ctx, next)
		}
		// Lost the swap race; re-check what won.
	}
}

func (c *Cache[A, S]) ensureInitialized(ctx context.Context, e *entry[A, S]) (S, error) {
	e.init.Do(func() {
		if init, ok := any(e.adapter).(Initializer); ok {
			e.initErr = init.Initialize(ctx)
		}
	})
	if e.initErr != nil {
		// Drop the failed entry so a later Resolve can retry initialization.
		c.cur.CompareAndSwap(e, nil)
		var zero S
		return zero, e.initErr
	}
	return e.service, nil
}
