// Package timer implements the Clock & Timer Wheel (C1): a monotonic time
// source with cookie-based one-shot and periodic callback registration.
package timer

import (
	"sync"
	"time"
)

// Cookie is a stable opaque handle for cancellation and refresh.
type Cookie uint64

type entry struct {
	cookie   Cookie
	fireAt   time.Time
	interval time.Duration // the originally requested "after"/"period"
	periodic bool
	callback func()
}

// Wheel is a single dedicated scheduling facility. One scheduler goroutine
// sleeps until the earliest fire_at and invokes expired entries in
// non-decreasing fire_at order. Callbacks run on the scheduler goroutine and
// may re-enter the wheel (register/refresh/unregister); the wheel takes its
// own lock only around bookkeeping, never while a callback runs.
type Wheel struct {
	mu      sync.Mutex
	entries map[Cookie]*entry
	next    Cookie
	wake    chan struct{}
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewWheel creates a Wheel and starts its scheduler goroutine.
func NewWheel() *Wheel {
	w := &Wheel{
		entries: make(map[Cookie]*entry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// RegisterTimeout arms a one-shot callback that fires once after `after`.
func (w *Wheel) RegisterTimeout(callback func(), after time.Duration) Cookie {
	return w.register(callback, after, false)
}

// RegisterPeriodic arms a callback that fires every `period` until unregistered.
func (w *Wheel) RegisterPeriodic(callback func(), period time.Duration) Cookie {
	return w.register(callback, period, true)
}

func (w *Wheel) register(callback func(), interval time.Duration, periodic bool) Cookie {
	w.mu.Lock()
	w.next++
	c := w.next
	w.entries[c] = &entry{
		cookie:   c,
		fireAt:   time.Now().Add(interval),
		interval: interval,
		periodic: periodic,
		callback: callback,
	}
	w.mu.Unlock()
	w.poke()
	return c
}

// Refresh resets fire_at to now + the originally registered interval (the
// "after" for one-shots, the "period" for periodics). No-op if the cookie
// has already fired or been removed.
func (w *Wheel) Refresh(cookie Cookie) {
	w.mu.Lock()
	e, ok := w.entries[cookie]
	if !ok {
		w.mu.Unlock()
		return
	}
	e.fireAt = time.Now().Add(e.interval)
	w.mu.Unlock()
	w.poke()
}

// Unregister idempotently removes a cookie. A cancelled cookie will not fire
// even if it had already expired but not yet been dispatched.
func (w *Wheel) Unregister(cookie Cookie) {
	w.mu.Lock()
	delete(w.entries, cookie)
	w.mu.Unlock()
}

// Stop halts the scheduler goroutine. Idempotent.
func (w *Wheel) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	close(w.stop)
	w.wg.Wait()
}

func (w *Wheel) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Wheel) run() {
	defer w.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := w.earliest()
		var wait time.Duration
		if ok {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-w.stop:
			return
		case <-timer.C:
			w.fireDue()
		case <-w.wake:
			// re-evaluate the sleep target on the next loop iteration.
		}
	}
}

func (w *Wheel) earliest() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var found bool
	var best time.Time
	for _, e := range w.entries {
		if !found || e.fireAt.Before(best) {
			best = e.fireAt
			found = true
		}
	}
	return best, found
}

// fireDue collects every entry whose fire_at has passed, in non-decreasing
// fire_at order, and reschedules periodics without catch-up compensation.
// Before each callback it rechecks under the lock that the entry is still
// registered (and, for a one-shot, not refreshed since), removes one-shots,
// then invokes the callback with no lock held.
func (w *Wheel) fireDue() {
	now := time.Now()

	w.mu.Lock()
	due := make([]*entry, 0, 4)
	for _, e := range w.entries {
		if !e.fireAt.After(now) {
			due = append(due, e)
		}
	}
	sortByFireAt(due)
	for _, e := range due {
		if e.periodic {
			e.fireAt = now.Add(e.interval)
		}
	}
	w.mu.Unlock()

	for _, e := range due {
		w.mu.Lock()
		live := w.entries[e.cookie] == e
		if live && !e.periodic {
			if e.fireAt.After(now) {
				live = false
			} else {
				delete(w.entries, e.cookie)
			}
		}
		w.mu.Unlock()
		if live {
			e.callback()
		}
	}
}

func sortByFireAt(es []*entry) {
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && es[j].fireAt.Before(es[j-1].fireAt); j-- {
			es[j], es[j-1] = es[j-1], es[j]
		}
	}
}
