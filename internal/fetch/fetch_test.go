package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig(retries int) Config {
	return Config{
		Timeout: time.Second,
		Retries: retries,
		Backoff: time.Millisecond,
		Jitter:  time.Millisecond,
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"x":1}`)
	}))
	defer srv.Close()

	got, err := JSON(context.Background(), srv.URL, Options{}, fastConfig(0))
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if string(got) != `{"x":1}` {
		t.Errorf("got %s", got)
	}
}

func TestJSON_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `[1]`)
	}))
	defer srv.Close()

	got, err := JSON(context.Background(), srv.URL, Options{}, fastConfig(2))
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if string(got) != `[1]` {
		t.Errorf("got %s", got)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestJSON_AttemptCount(t *testing.T) {
	for _, retries := range []int{0, 1, 2, 4} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := JSON(context.Background(), srv.URL, Options{}, fastConfig(retries))
		srv.Close()

		if !IsStatus(err, http.StatusInternalServerError) {
			t.Errorf("retries=%d: err = %v, want HTTP 500", retries, err)
		}
		if n := int(calls.Load()); n != retries+1 {
			t.Errorf("retries=%d: attempts = %d, want %d", retries, n, retries+1)
		}
	}
}

func TestJSON_TransportErrorRetried(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("connection refused")
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, boom
	})}

	_, err := JSON(context.Background(), "http://ledger.invalid/x", Options{Client: client}, fastConfig(2))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := fastConfig(0)
	cfg.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := JSON(context.Background(), srv.URL, Options{}, cfg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %v", elapsed)
	}
}

func TestJSON_EmptyBody(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNoContent} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		got, err := JSON(context.Background(), srv.URL, Options{}, fastConfig(0))
		srv.Close()

		if err != nil || got != nil {
			t.Errorf("status %d: got (%s, %v), want (nil, nil)", status, got, err)
		}
	}
}

func TestJSON_InvalidBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, "<html>oops</html>")
	}))
	defer srv.Close()

	_, err := JSON(context.Background(), srv.URL, Options{}, fastConfig(1))
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("err = %v, want ErrInvalidJSON", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestJSON_SendsBodyAndHeaders(t *testing.T) {
	var (
		gotMethod string
		gotBody   map[string]any
		gotCT     string
		gotID     string
		gotCustom string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCT = r.Header.Get("Content-Type")
		gotID = r.Header.Get(RequestIDHeader)
		gotCustom = r.Header.Get("X-Test")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	opts := Options{
		Method: http.MethodPut,
		Header: http.Header{"X-Test": []string{"yes"}},
		Body:   map[string]int{"x": 1},
	}
	if _, err := JSON(context.Background(), srv.URL, opts, fastConfig(0)); err != nil {
		t.Fatalf("JSON: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %s", gotMethod)
	}
	if gotCT != "application/json" {
		t.Errorf("content-type = %q", gotCT)
	}
	if gotID == "" {
		t.Error("missing request id")
	}
	if gotCustom != "yes" {
		t.Errorf("X-Test = %q", gotCustom)
	}
	if gotBody["x"] != float64(1) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestJSON_RequestIDStableAcrossRetries(t *testing.T) {
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get(RequestIDHeader))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	JSON(context.Background(), srv.URL, Options{}, fastConfig(2))

	if len(ids) != 3 {
		t.Fatalf("attempts = %d", len(ids))
	}
	if ids[0] == "" || ids[0] != ids[1] || ids[1] != ids[2] {
		t.Errorf("ids = %v", ids)
	}
}

func TestJSON_NonRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := fastConfig(3)
	cfg.Retryable = func(err error) bool { return !IsStatus(err, http.StatusNotFound) }

	_, err := JSON(context.Background(), srv.URL, Options{}, cfg)
	if !IsStatus(err, http.StatusNotFound) {
		t.Errorf("err = %v, want HTTP 404", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestJSON_ContextCancelStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(5)
	cfg.Backoff = time.Hour
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := JSON(ctx, srv.URL, Options{}, cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestJSON_UnencodableBody(t *testing.T) {
	_, err := JSON(context.Background(), "http://ledger.invalid", Options{Body: make(chan int)}, fastConfig(0))
	if err == nil {
		t.Fatal("expected encode error")
	}
}

func TestBackOff(t *testing.T) {
	b := NewBackOff(100*time.Millisecond, 10*time.Millisecond)
	for i, base := range []time.Duration{100, 200, 400, 800} {
		base *= time.Millisecond
		got := b.NextBackOff()
		if got < base || got >= base+10*time.Millisecond {
			t.Errorf("attempt %d: %v not in [%v, %v)", i, got, base, base+10*time.Millisecond)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got >= 110*time.Millisecond {
		t.Errorf("after reset: %v", got)
	}
}

func TestBackOff_NoJitter(t *testing.T) {
	b := NewBackOff(time.Second, 0)
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("got %v", got)
	}
	if got := b.NextBackOff(); got != 2*time.Second {
		t.Errorf("got %v", got)
	}
}
