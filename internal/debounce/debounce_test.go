package debounce

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) func() {
	return func() {
		r.mu.Lock()
		r.calls = append(r.calls, s)
		r.mu.Unlock()
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSchedule_CoalescesToLatest(t *testing.T) {
	d := New(30 * time.Millisecond)
	r := &recorder{}

	d.Schedule("2025-09", r.add("p1"))
	d.Schedule("2025-09", r.add("p2"))

	waitFor(t, func() bool { return !d.Pending("2025-09") })
	time.Sleep(60 * time.Millisecond)

	got := r.snapshot()
	if len(got) != 1 || got[0] != "p2" {
		t.Errorf("calls = %v, want [p2]", got)
	}
}

func TestSchedule_TrailingWindowRestarts(t *testing.T) {
	d := New(200 * time.Millisecond)
	r := &recorder{}

	d.Schedule("k", r.add("a"))
	time.Sleep(100 * time.Millisecond)
	d.Schedule("k", r.add("b"))
	time.Sleep(120 * time.Millisecond)

	// Past the first call's window but not the second's: nothing yet.
	if got := r.snapshot(); len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}

	waitFor(t, func() bool { return len(r.snapshot()) == 1 })
	if got := r.snapshot(); got[0] != "b" {
		t.Errorf("calls = %v, want [b]", got)
	}
}

func TestSchedule_KeysAreIndependent(t *testing.T) {
	d := New(30 * time.Millisecond)
	r := &recorder{}

	d.Schedule("2025-09", r.add("sep"))
	d.Schedule("2025-10", r.add("oct"))
	d.Schedule("2025-10", r.add("oct2"))

	waitFor(t, func() bool { return d.Len() == 0 && len(r.snapshot()) == 2 })

	got := map[string]bool{}
	for _, c := range r.snapshot() {
		got[c] = true
	}
	if !got["sep"] || !got["oct2"] || got["oct"] {
		t.Errorf("calls = %v, want sep and oct2", r.snapshot())
	}
}

func TestFlush_RunsPendingNow(t *testing.T) {
	d := New(time.Hour)
	r := &recorder{}

	d.Schedule("a", r.add("a1"))
	d.Schedule("a", r.add("a2"))
	d.Schedule("b", r.add("b1"))

	d.Flush()

	got := map[string]bool{}
	for _, c := range r.snapshot() {
		got[c] = true
	}
	if len(got) != 2 || !got["a2"] || !got["b1"] {
		t.Errorf("calls = %v, want a2 and b1", r.snapshot())
	}
	if d.Len() != 0 {
		t.Errorf("pending after flush = %d", d.Len())
	}
}

func TestFlush_WaitsForRunningCall(t *testing.T) {
	d := New(time.Millisecond)
	started := make(chan struct{})
	release := make(chan struct{})
	var done bool
	var mu sync.Mutex

	d.Schedule("k", func() {
		close(started)
		<-release
		mu.Lock()
		done = true
		mu.Unlock()
	})
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	if !done {
		t.Error("Flush returned before the running call finished")
	}
}

func TestCancel(t *testing.T) {
	d := New(20 * time.Millisecond)
	r := &recorder{}

	d.Schedule("k", r.add("x"))
	d.Cancel("k")
	time.Sleep(60 * time.Millisecond)

	if got := r.snapshot(); len(got) != 0 {
		t.Errorf("cancelled call ran: %v", got)
	}
}

func TestStop(t *testing.T) {
	d := New(time.Hour)
	r := &recorder{}

	d.Schedule("k", r.add("x"))
	d.Stop()

	if got := r.snapshot(); len(got) != 1 {
		t.Errorf("Stop did not flush: %v", got)
	}
	if d.Schedule("k", r.add("y")) {
		t.Error("Schedule accepted after Stop")
	}
}

func TestSeparateDebouncersDoNotInterfere(t *testing.T) {
	a := New(time.Hour)
	b := New(time.Hour)
	r := &recorder{}

	a.Schedule("2025-09", r.add("a"))
	b.Schedule("2025-09", r.add("b"))
	a.Flush()

	if got := r.snapshot(); len(got) != 1 || got[0] != "a" {
		t.Errorf("calls = %v, want [a]", got)
	}
	if !b.Pending("2025-09") {
		t.Error("flushing one debouncer cleared another")
	}
}
