// Package fetch is a small JSON-over-HTTP request helper with a per-attempt
// timeout and bounded retries.
//
// Every failure (transport error, timeout, non-2xx status, unparsable body)
// is retried up to Config.Retries more times, sleeping
//
//	Backoff * 2^attempt + rand[0, Jitter)
//
// between attempts. The last error is returned once retries are exhausted.
// The package knows nothing about ledgers or encryption.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	DefaultTimeout = 8 * time.Second
	DefaultRetries = 2
	DefaultBackoff = 250 * time.Millisecond
	DefaultJitter  = 100 * time.Millisecond

	// MaxResponseSize is the largest body read from a response (8 MiB).
	MaxResponseSize = 8 * 1024 * 1024

	// RequestIDHeader carries a per-call id, shared by all its attempts.
	RequestIDHeader = "X-Request-Id"
)

// ErrInvalidJSON is returned when a 2xx response body is not JSON.
var ErrInvalidJSON = errors.New("fetch: response is not valid JSON")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Options describe the request.
type Options struct {
	// Method defaults to GET.
	Method string
	Header http.Header
	// Body is sent as-is when it is a string, []byte or json.RawMessage and
	// JSON-encoded otherwise. nil sends no body.
	Body any
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Config bounds the request.
type Config struct {
	// Timeout applies to each attempt separately.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first.
	Retries int
	// Backoff is the base delay, doubled after every failed attempt.
	Backoff time.Duration
	// Jitter is the upper bound of the random delay added to each sleep.
	Jitter time.Duration
	// Retryable, if set, decides which errors are worth another attempt.
	Retryable func(error) bool
}

// DefaultConfig returns the default bounds: 8s per attempt, 2 retries,
// 250ms base backoff and up to 100ms jitter.
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Retries: DefaultRetries,
		Backoff: DefaultBackoff,
		Jitter:  DefaultJitter,
	}
}

// JSON performs the request and decodes the response as JSON. An empty
// response body yields (nil, nil).
func JSON(ctx context.Context, url string, opts Options, cfg Config) (json.RawMessage, error) {
	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	reqID := uuid.NewString()

	attempt := 0
	op := func() (json.RawMessage, error) {
		attempt++
		out, err := do(ctx, client, method, url, opts.Header, body, reqID, cfg.Timeout)
		if err != nil && cfg.Retryable != nil && !cfg.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(NewBackOff(cfg.Backoff, cfg.Jitter)),
		backoff.WithMaxTries(uint(cfg.Retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("request failed, retrying",
				"method", method, "url", url, "request_id", reqID,
				"attempt", attempt, "err", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return out, nil
}

func do(
	ctx context.Context,
	client *http.Client,
	method, url string,
	header http.Header,
	body []byte,
	reqID string,
	timeout time.Duration,
) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, reqID)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(data), nil
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return out, nil
	}
}

// BackOff is an exponential backoff with additive jitter. It implements
// backoff.BackOff.
type BackOff struct {
	base    time.Duration
	jitter  time.Duration
	attempt int
}

// NewBackOff returns a BackOff starting at base.
func NewBackOff(base, jitter time.Duration) *BackOff {
	return &BackOff{base: base, jitter: jitter}
}

// NextBackOff returns base*2^n plus a random jitter and advances n.
func (b *BackOff) NextBackOff() time.Duration {
	shift := min(b.attempt, 30)
	d := b.base << shift
	if b.jitter > 0 {
		d += time.Duration(rand.Int64N(int64(b.jitter)))
	}
	b.attempt++
	return d
}

// Reset restarts the sequence.
func (b *BackOff) Reset() { b.attempt = 0 }
