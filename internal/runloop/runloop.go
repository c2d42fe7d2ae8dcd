// Package runloop provides a single-threaded task loop. Tasks may be posted
// from any goroutine but only run on the goroutine that drives the loop.
package runloop

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Loop queues tasks for execution on the driving goroutine.
type Loop struct {
	clock clockwork.Clock

	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}
}

// New creates a loop. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock:  clock,
		notify: make(chan struct{}, 1),
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Post enqueues f. Safe for concurrent use.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, f)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// RunOnce runs the tasks queued at the time of the call and returns how many ran.
// Tasks posted while running wait for the next call.
func (l *Loop) RunOnce() int {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// Wait blocks until at least one task is queued, then runs the queue once.
func (l *Loop) Wait(ctx context.Context) error {
	for {
		if l.RunOnce() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}

// AfterFunc schedules f to be posted to the loop after d elapses on the loop's clock.
func (l *Loop) AfterFunc(d time.Duration, f func()) clockwork.Timer {
	return l.clock.AfterFunc(d, func() { l.Post(f) })
}
