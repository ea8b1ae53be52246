package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle runs a worker's loop goroutine and implements Stop and Join.
// The zero value is not usable; call NewLifecycle.
type Lifecycle struct {
	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

// NewLifecycle returns an unstarted Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Go starts run on a new goroutine. The loop must return once Done is
// closed. Cancelling ctx has the same effect as Stop.
func (l *Lifecycle) Go(ctx context.Context, run func()) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
		}
	}()
	go func() {
		defer close(l.finished)
		run()
	}()
	return nil
}

// Stop signals the loop to exit. Safe to call more than once.
func (l *Lifecycle) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once Stop has been called.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Stopping reports whether Stop has been called.
func (l *Lifecycle) Stopping() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Join waits up to timeout for the loop to return. A worker that was never
// started joins immediately.
func (l *Lifecycle) Join(timeout time.Duration) bool {
	if !l.started.Load() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.finished:
		return true
	case <-timer.C:
		return false
	}
}

// Sleep waits for d or until Stop, reporting false if stopped.
func (l *Lifecycle) Sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.done:
		return false
	case <-timer.C:
		return true
	}
}
