// Package timer runs functions after a delay, periodically, or on a cron
// schedule.
package timer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
)

// Func is a function run by a timer. Returning an error stops the timer.
type Func func(ctx context.Context, t *Timer) error

// Timer is a running timer.
type Timer struct {
	id   string
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// Schedule gives the next time at which a timer fires after a given time.
// The zero time means the timer should stop.
type Schedule func(last time.Time) time.Time

// Start starts a timer running f at the times given by next.
// If f returns an error or panics, report is called with the error and the
// timer stops. The timer also stops when ctx is done.
func Start(ctx context.Context, next Schedule, f Func, report func(error)) *Timer {
	t := &Timer{
		id:   uuid.NewString(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(ctx, next, f, report)
	return t
}

// After runs f once after d.
func After(ctx context.Context, d time.Duration, f Func, report func(error)) *Timer {
	first := true
	next := func(last time.Time) time.Time {
		if !first {
			return time.Time{}
		}
		first = false
		return last.Add(d)
	}
	return Start(ctx, next, f, report)
}

// Every runs f every d until stopped.
func Every(ctx context.Context, d time.Duration, f Func, report func(error)) *Timer {
	next := func(last time.Time) time.Time {
		return last.Add(d)
	}
	return Start(ctx, next, f, report)
}

// Cron runs f at the times given by a cron expression until stopped.
func Cron(ctx context.Context, expr string, f Func, report func(error)) (*Timer, error) {
	c, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse cron expression %q: %w", expr, err)
	}
	return Start(ctx, c.Next, f, report), nil
}

func (t *Timer) run(ctx context.Context, next Schedule, f Func, report func(error)) {
	defer close(t.done)
	at := time.Now()
	for {
		at = next(at)
		if at.IsZero() {
			return
		}
		w := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-t.stop:
			w.Stop()
			return
		case <-w.C:
		}
		if err := t.call(ctx, f); err != nil {
			if report != nil {
				report(err)
			}
			return
		}
		select {
		case <-t.stop:
			return
		default:
		}
	}
}

func (t *Timer) call(ctx context.Context, f Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer %s panicked: %v\n%s", t.id, r, debug.Stack())
		}
	}()
	return f(ctx, t)
}

// ID returns a unique identifier for the timer.
func (t *Timer) ID() string {
	return t.id
}

// Stop stops the timer. It may be called from within the timer's function.
// A running call is not interrupted.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Done returns a channel closed once the timer has stopped.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}
