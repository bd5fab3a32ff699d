package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Checkout once the pool has been closed. The error
// passed to Close is wrapped alongside it.
var ErrClosed = errors.New("pool closed")

// Stats is a point-in-time view of the pool.
type Stats struct {
	Size    int // resources ever added and not discarded
	Idle    int
	Waiting int
}

// Busy is the number of resources currently checked out.
func (s Stats) Busy() int { return s.Size - s.Idle }

// Option configures a Pool.
type Option func(*options)

type options struct {
	observe func(Stats)
}

// WithObserver registers fn to receive Stats after every change. fn runs
// with the pool lock held and must not call back into the pool.
func WithObserver(fn func(Stats)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

type delivery[T any] struct {
	item T
	err  error
}

type waiter[T any] struct {
	ch chan delivery[T]
}

// Pool arbitrates exclusive access to resources of type T.
type Pool[T any] struct {
	mu      sync.Mutex
	idle    []T
	waiters queue[*waiter[T]]
	size    int
	closed  bool
	err     error
	opts    options
}

// New creates an empty pool.
func New[T any](opts ...Option) *Pool[T] {
	p := &Pool[T]{}
	for _, o := range opts {
		o(&p.opts)
	}

	return p
}

// Add registers a new, immediately available resource. Adding to a closed
// pool returns the close error and leaves ownership with the caller.
func (p *Pool[T]) Add(item T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return p.closedErr()
	}

	p.size++
	p.release(item)

	return nil
}

// Checkout blocks until a resource is available for the caller, ctx is
// done, or the pool is closed. The resource must be returned with Checkin.
func (p *Pool[T]) Checkout(ctx context.Context, priority int) (T, error) {
	var zero T

	p.mu.Lock()

	if p.closed {
		err := p.closedErr()
		p.mu.Unlock()

		return zero, err
	}

	if n := len(p.idle); n > 0 && p.waiters.len() == 0 {
		item := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.notify()
		p.mu.Unlock()

		return item, nil
	}

	w := &waiter[T]{ch: make(chan delivery[T], 1)}
	handle := p.waiters.push(priority, w)
	p.notify()
	p.mu.Unlock()

	select {
	case d := <-w.ch:
		return d.item, d.err
	case <-ctx.Done():
	}

	p.mu.Lock()
	removed := p.waiters.remove(handle)
	if removed {
		p.notify()
	}
	p.mu.Unlock()

	if !removed {
		// A resource was handed over concurrently; give it back.
		if d := <-w.ch; d.err == nil {
			p.Checkin(d.item)
		}
	}

	return zero, ctx.Err()
}

// Checkin returns a resource. The best-ranked waiter, if any, receives it
// directly. Resources returned after Close are dropped.
func (p *Pool[T]) Checkin(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.release(item)
}

// Discard forgets a checked-out resource that will not be returned.
func (p *Pool[T]) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size > 0 {
		p.size--
	}

	p.notify()
}

// Close fails every queued and future Checkout with ErrClosed wrapping err,
// and returns the resources that were idle. Close is idempotent; only the
// first error is kept.
func (p *Pool[T]) Close(err error) []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	p.err = err

	idle := p.idle
	p.idle = nil

	cerr := p.closedErr()
	for _, w := range p.waiters.drain() {
		w.ch <- delivery[T]{err: cerr}
	}

	p.notify()

	return idle
}

// Err returns the error the pool was closed with, or nil while open.
func (p *Pool[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		return nil
	}

	return p.closedErr()
}

// Stats returns the current occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats()
}

func (p *Pool[T]) release(item T) {
	if w, ok := p.waiters.pop(); ok {
		w.ch <- delivery[T]{item: item}
	} else {
		p.idle = append(p.idle, item)
	}

	p.notify()
}

func (p *Pool[T]) closedErr() error {
	if p.err == nil {
		return ErrClosed
	}

	return fmt.Errorf("%w: %w", ErrClosed, p.err)
}

func (p *Pool[T]) stats() Stats {
	return Stats{Size: p.size, Idle: len(p.idle), Waiting: p.waiters.len()}
}

func (p *Pool[T]) notify() {
	if p.opts.observe != nil {
		p.opts.observe(p.stats())
	}
}
