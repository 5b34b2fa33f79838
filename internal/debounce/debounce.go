// Package debounce runs the latest of a burst of inputs after a quiet period.
// Superseded inputs resolve with ErrSuperseded; their in-flight work is
// cancelled and any late result is discarded by generation, not by timing.
package debounce

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is delivered to callers whose input was replaced by a newer one.
var ErrSuperseded = errors.New("debounce: superseded by newer input")

// Func does the debounced work for one input.
type Func[K, V any] func(ctx context.Context, input K) (V, error)

// Result is the outcome of one submission.
type Result[V any] struct {
	Value V
	Err   error
}

type call[V any] struct {
	ch     chan Result[V]
	once   sync.Once
	cancel context.CancelFunc
}

func (c *call[V]) resolve(r Result[V]) {
	c.once.Do(func() {
		c.ch <- r
		close(c.ch)
	})
}

// Debouncer is safe for concurrent use. One Debouncer serves one input
// stream, e.g. one storefront session's VAT field.
type Debouncer[K, V any] struct {
	delay time.Duration
	fn    Func[K, V]

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	pending *call[V]
}

// New returns a Debouncer that waits delay after the last Submit before calling fn.
func New[K, V any](delay time.Duration, fn Func[K, V]) *Debouncer[K, V] {
	return &Debouncer[K, V]{delay: delay, fn: fn}
}

// Submit schedules input, superseding anything pending or in flight. The
// returned channel yields exactly one Result and is then closed.
func (d *Debouncer[K, V]) Submit(ctx context.Context, input K) <-chan Result[V] {
	runCtx, cancel := context.WithCancel(ctx)
	c := &call[V]{ch: make(chan Result[V], 1), cancel: cancel}

	d.mu.Lock()
	d.supersedeLocked()
	d.gen++
	gen := d.gen
	d.pending = c
	d.timer = time.AfterFunc(d.delay, func() { d.run(runCtx, gen, c, input) })
	d.mu.Unlock()
	return c.ch
}

// Do is Submit followed by a wait for the result.
func (d *Debouncer[K, V]) Do(ctx context.Context, input K) (V, error) {
	select {
	case r := <-d.Submit(ctx, input):
		return r.Value, r.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Cancel supersedes any pending or in-flight input.
func (d *Debouncer[K, V]) Cancel() {
	d.mu.Lock()
	d.supersedeLocked()
	d.gen++
	d.mu.Unlock()
}

// Generation is incremented on every Submit and Cancel.
func (d *Debouncer[K, V]) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

func (d *Debouncer[K, V]) supersedeLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.pending != nil {
		d.pending.cancel()
		d.pending.resolve(Result[V]{Err: ErrSuperseded})
		d.pending = nil
	}
}

func (d *Debouncer[K, V]) run(ctx context.Context, gen uint64, c *call[V], input K) {
	v, err := d.fn(ctx, input)

	d.mu.Lock()
	current := d.gen == gen
	if current {
		d.pending = nil
		d.timer = nil
	}
	d.mu.Unlock()

	c.cancel()
	if !current {
		c.resolve(Result[V]{Err: ErrSuperseded})
		return
	}
	c.resolve(Result[V]{Value: v, Err: err})
}
