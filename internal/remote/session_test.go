package remote

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.klb.dev/ledgersync/internal/localstore"
)

type statusLog struct {
	mu  sync.Mutex
	seq []Status
}

func (l *statusLog) record(s Status) {
	l.mu.Lock()
	l.seq = append(l.seq, s)
	l.mu.Unlock()
}

func (l *statusLog) last() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seq) == 0 {
		return StatusOff
	}
	return l.seq[len(l.seq)-1]
}

func newTestSession(t *testing.T, base string) (*Session, *localstore.Store, *statusLog) {
	t.Helper()
	local := localstore.New(localstore.NewMemoryStorage(), localstore.Options{Debounce: 20 * time.Millisecond})
	t.Cleanup(local.Close)
	log := &statusLog{}
	return NewSession(local, newTestClient(t, base), log.record), local, log
}

func TestSession_OfflineUsesLocal(t *testing.T) {
	store, srv := newKV(t)
	s, local, _ := newTestSession(t, srv.URL)
	if err := local.SaveLocal("2025-09", map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}

	data, fresh := s.Open(context.Background(), "2025-09")
	if !fresh || string(data) != `{"x":1}` {
		t.Errorf("Open = (%s, %v)", data, fresh)
	}
	if s.Status() != StatusOff {
		t.Errorf("status = %s, want off", s.Status())
	}
	if gets, _ := store.counts(); gets != 0 {
		t.Errorf("gets = %d with no sync id", gets)
	}
}

func TestSession_RemoteReplacesLocal(t *testing.T) {
	_, srv := newKV(t)
	s, local, log := newTestSession(t, srv.URL)
	ctx := context.Background()

	if err := s.client.SaveRemote(ctx, "abc", "2025-09", map[string]int{"x": 2}); err != nil {
		t.Fatal(err)
	}
	local.SaveLocal("2025-09", map[string]int{"x": 1})

	s.Connect("abc")
	if local.GetSyncID() != "abc" {
		t.Error("sync id not persisted")
	}

	data, _ := s.Open(ctx, "2025-09")
	if string(data) != `{"x":2}` {
		t.Errorf("Open = %s, want remote copy", data)
	}
	if string(local.LoadLocal("2025-09")) != `{"x":2}` {
		t.Error("remote copy not mirrored locally")
	}
	if log.last() != StatusOK {
		t.Errorf("status = %s, want ok", log.last())
	}
}

func TestSession_RemoteEmptyKeepsLocal(t *testing.T) {
	_, srv := newKV(t)
	s, local, _ := newTestSession(t, srv.URL)
	local.SaveLocal("2025-09", map[string]int{"x": 1})
	s.Connect("abc")

	data, _ := s.Open(context.Background(), "2025-09")
	if string(data) != `{"x":1}` {
		t.Errorf("Open = %s, want local copy", data)
	}
	if s.Status() != StatusOK {
		t.Errorf("status = %s", s.Status())
	}
}

func TestSession_RemoteFailureFallsBack(t *testing.T) {
	store, srv := newKV(t)
	store.respond = func(w http.ResponseWriter) { w.WriteHeader(http.StatusInternalServerError) }
	s, local, _ := newTestSession(t, srv.URL)
	local.SaveLocal("2025-09", map[string]int{"x": 1})
	s.Connect("abc")

	data, _ := s.Open(context.Background(), "2025-09")
	if string(data) != `{"x":1}` {
		t.Errorf("Open = %s, want local copy", data)
	}
	if s.Status() != StatusError {
		t.Errorf("status = %s, want error", s.Status())
	}
}

func TestSession_SaveWritesBoth(t *testing.T) {
	_, srv := newKV(t)
	s, local, log := newTestSession(t, srv.URL)
	s.Connect("abc")

	s.Save("2025-09", map[string]int{"x": 5})
	s.Flush()

	if string(local.LoadLocal("2025-09")) != `{"x":5}` {
		t.Error("local copy not written")
	}
	res := s.client.LoadRemote(context.Background(), "abc", "2025-09")
	if string(res.Data) != `{"x":5}` {
		t.Errorf("remote = %s", res.Data)
	}
	if log.last() != StatusOK {
		t.Errorf("status = %s, want ok", log.last())
	}
}

func TestSession_Disconnect(t *testing.T) {
	store, srv := newKV(t)
	s, local, log := newTestSession(t, srv.URL)
	s.Connect("abc")
	s.Connect("")

	s.Save("2025-09", map[string]int{"x": 1})
	s.Flush()

	if _, puts := store.counts(); puts != 0 {
		t.Errorf("puts = %d after disconnect", puts)
	}
	if local.GetSyncID() != "" {
		t.Error("sync id still stored")
	}
	if log.last() != StatusOff {
		t.Errorf("status = %s, want off", log.last())
	}
}

func TestSession_StaleLoadDiscarded(t *testing.T) {
	release := make(chan struct{})
	store, srv := newKV(t)
	store.respond = func(w http.ResponseWriter) {
		<-release
		w.Write([]byte("null"))
	}
	s, _, _ := newTestSession(t, srv.URL)
	s.Connect("abc")

	// The handler holds the store lock while blocked, so only one load can be
	// in flight; supersede it with Connect instead of a second Open.
	done := make(chan bool)
	go func() {
		_, fresh := s.Open(context.Background(), "2025-09")
		done <- fresh
	}()
	time.Sleep(50 * time.Millisecond)
	s.Connect("abd")
	close(release)

	if fresh := <-done; fresh {
		t.Error("superseded load reported fresh")
	}
}
