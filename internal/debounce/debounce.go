// Package debounce coalesces bursts of work per key.
//
// Each key has at most one pending call. Scheduling again within the window
// replaces the pending call and restarts the timer, so only the most recent
// call runs once the key has been quiet for the full window. Keys are
// independent: scheduling "2025-09" never delays or cancels "2025-10".
package debounce

import (
	"sync"
	"time"
)

type pending struct {
	timer *time.Timer
	fn    func()
	gen   uint64
}

// Debouncer holds the pending calls for one owner. The zero value is not
// usable; call New.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pending
	gen     uint64
	stopped bool

	inflight int
	idle     *sync.Cond
}

// New returns a Debouncer with the given quiet window.
func New(window time.Duration) *Debouncer {
	d := &Debouncer{
		window:  window,
		pending: make(map[string]*pending),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Window returns the quiet window.
func (d *Debouncer) Window() time.Duration { return d.window }

// Schedule arranges for fn to run after the window unless key is scheduled
// again first. It reports false if the Debouncer has been stopped.
func (d *Debouncer) Schedule(key string, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	d.gen++
	gen := d.gen

	if p, ok := d.pending[key]; ok {
		// A timer that already fired sees a newer generation and does nothing.
		p.timer.Stop()
	}
	p := &pending{fn: fn, gen: gen}
	p.timer = time.AfterFunc(d.window, func() { d.fire(key, gen) })
	d.pending[key] = p
	return true
}

// fire runs the pending call for key if it is still the one scheduled as gen.
func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.inflight++
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inflight--
		if d.inflight == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()
	}()
	p.fn()
}

// Pending reports whether key has a call waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Len returns the number of keys with a call waiting.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Cancel drops the pending call for key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
}

// Flush runs every pending call now, on the calling goroutine, and waits for
// calls already started by their timers to return.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		fns = append(fns, p.fn)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	d.mu.Lock()
	for d.inflight > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Stop flushes pending calls and rejects further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.Flush()
}
