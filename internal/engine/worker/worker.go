// Package worker provides the bounded pools that run tile fetches and decodes off the frame goroutine.
package worker

import (
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs a task in the background if capacity allows.
// TryGo returns false without running fn when the pool is full; callers retry on a later frame.
type Dispatcher interface {
	TryGo(fn func() error) bool
}

// Pool is a bounded pool of goroutines.
type Pool struct {
	group errgroup.Group
}

// NewPool creates a pool running at most limit tasks at once. A limit <= 0 means unbounded.
func NewPool(limit int) *Pool {
	p := &Pool{}
	if limit > 0 {
		p.group.SetLimit(limit)
	}
	return p
}

// TryGo implements Dispatcher.
func (p *Pool) TryGo(fn func() error) bool {
	return p.group.TryGo(fn)
}

// Wait blocks until every dispatched task has returned.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// Inline runs tasks synchronously on the caller's goroutine.
type Inline struct{}

// TryGo implements Dispatcher.
func (Inline) TryGo(fn func() error) bool {
	_ = fn()
	return true
}

// Saturated refuses every task.
type Saturated struct{}

// TryGo implements Dispatcher.
func (Saturated) TryGo(func() error) bool {
	return false
}

// Workers groups the fetch and decode pools.
type Workers struct {
	Fetch  Dispatcher
	Decode Dispatcher
}

// NewWorkers creates fetch and decode pools with the given limits.
func NewWorkers(fetchLimit, decodeLimit int) *Workers {
	return &Workers{
		Fetch:  NewPool(fetchLimit),
		Decode: NewPool(decodeLimit),
	}
}

// InlineWorkers returns Workers that run every task synchronously.
func InlineWorkers() *Workers {
	return &Workers{Fetch: Inline{}, Decode: Inline{}}
}

// Wait blocks until both pools are drained. Dispatchers that are not pools are skipped.
func (w *Workers) Wait() {
	for _, d := range []Dispatcher{w.Fetch, w.Decode} {
		if p, ok := d.(*Pool); ok {
			_ = p.Wait()
		}
	}
}
