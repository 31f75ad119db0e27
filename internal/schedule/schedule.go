// Package schedule runs a "do one cycle, then wait for the next frame" loop as an
// explicit task with a single owner and a cancellation handle.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Clock paces a Task. Next blocks until the next frame slot is available.
type Clock interface {
	Next(ctx context.Context) error
}

// Interval is a Clock that ticks at a fixed rate. Ticks that arrive while a cycle
// is still running collapse into one, so a slow cycle skips frames instead of
// queueing them.
type Interval struct {
	once   sync.Once
	every  time.Duration
	ticker *time.Ticker
}

// NewInterval returns a Clock ticking every d.
func NewInterval(d time.Duration) *Interval {
	if d <= 0 {
		d = time.Second / 60
	}
	return &Interval{every: d}
}

// Next implements Clock.
func (c *Interval) Next(ctx context.Context) error {
	c.once.Do(func() { c.ticker = time.NewTicker(c.every) })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ticker.C:
		return nil
	}
}

// Stop releases the underlying ticker.
func (c *Interval) Stop() {
	c.once.Do(func() { c.ticker = time.NewTicker(c.every) })
	c.ticker.Stop()
}

// Manual is a Clock driven by Tick, for tests and step-through debugging.
type Manual struct {
	ch chan struct{}
}

// NewManual returns a Manual clock.
func NewManual() *Manual {
	return &Manual{ch: make(chan struct{})}
}

// Tick releases one waiting Next call. It blocks until the task is ready for it,
// so after Tick returns the next cycle has started.
func (m *Manual) Tick(ctx context.Context) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next implements Clock.
func (m *Manual) Next(ctx context.Context) error {
	select {
	case <-m.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Task is a running loop. The zero value is not usable; see Start.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	cycles uint64
	mu     sync.Mutex
}

// Start runs cycle immediately and then once per clock tick until the task is
// cancelled. A cycle always finishes before the next wait begins, so at most one
// cycle is in flight.
func Start(parent context.Context, clock Clock, cycle func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		for {
			if ctx.Err() != nil {
				return
			}
			cycle(ctx)
			t.mu.Lock()
			t.cycles++
			t.mu.Unlock()

			if err := clock.Next(ctx); err != nil {
				return
			}
		}
	}()
	return t
}

// Cancel requests the task to stop without waiting.
func (t *Task) Cancel() {
	t.cancel()
}

// Stop cancels the task and waits until the loop has exited.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cycles returns how many cycles have completed.
func (t *Task) Cycles() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles
}
