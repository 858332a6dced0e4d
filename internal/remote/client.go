// Package remote synchronises encrypted month payloads with the storage
// endpoint.
//
// Every payload is sealed with the Sync ID before it leaves the process and
// stored under the route derived from the same Sync ID:
//
//	GET|PUT {base}/api/storage/{routeId}/{month}
//
// The server never sees the Sync ID or the plaintext.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.klb.dev/ledgersync/internal/crypto"
	"go.klb.dev/ledgersync/internal/debounce"
	"go.klb.dev/ledgersync/internal/fetch"
	"go.klb.dev/ledgersync/internal/routeid"
	"go.klb.dev/ledgersync/internal/tracing"
)

// DefaultDebounce is the trailing window for SaveRemoteDebounced.
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrEmptySecret is returned by every operation when no Sync ID is set.
	ErrEmptySecret = errors.New("remote: sync id is empty")

	// ErrTransport covers network failures, timeouts and unexpected statuses.
	ErrTransport = errors.New("remote: transport failure")

	// Re-exported so callers need only this package for errors.Is.
	ErrEnvelopeFormat   = crypto.ErrEnvelopeFormat
	ErrDecryption       = crypto.ErrDecryption
	ErrMalformedPayload = crypto.ErrMalformedPayload
)

// Result is the outcome of LoadRemote. OK with nil Data means the month has
// never been written. When OK is false, Err says why.
type Result struct {
	OK   bool
	Data json.RawMessage
	Err  error
}

func failed(err error) Result { return Result{Err: err} }

// Options configures a Client. Zero fields take defaults.
type Options struct {
	HTTPClient *http.Client
	Fetch      fetch.Config
	Debounce   time.Duration
	Codec      crypto.Codec
	Tracer     *tracing.Tracer
}

// Client talks to one storage endpoint. It is safe for concurrent use.
type Client struct {
	base   string
	http   *http.Client
	fetch  fetch.Config
	codec  crypto.Codec
	tracer *tracing.Tracer
	saves  *debounce.Debouncer

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Client for the endpoint at baseURL (scheme and host, with an
// optional path prefix).
func New(baseURL string, opts Options) *Client {
	if f := opts.Fetch; f.Timeout == 0 && f.Retries == 0 && f.Backoff == 0 && f.Jitter == 0 {
		opts.Fetch = fetch.DefaultConfig()
		opts.Fetch.Retryable = f.Retryable
	}
	if opts.Fetch.Retryable == nil {
		opts.Fetch.Retryable = retryable
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   opts.HTTPClient,
		fetch:  opts.Fetch,
		codec:  opts.Codec,
		tracer: opts.Tracer,
		saves:  debounce.New(opts.Debounce),
		ctx:    ctx,
		cancel: cancel,
	}
}

// retryable keeps client errors other than timeouts and throttling from being
// retried; they will not change on a second attempt.
func retryable(err error) bool {
	var se *fetch.StatusError
	if !errors.As(err, &se) {
		return true
	}
	switch {
	case se.StatusCode == http.StatusRequestTimeout, se.StatusCode == http.StatusTooManyRequests:
		return true
	case se.StatusCode >= 400 && se.StatusCode < 500:
		return false
	}
	return true
}

// URL returns the storage URL for route and month.
func (c *Client) URL(route, month string) string {
	return c.base + "/api/storage/" + url.PathEscape(route) + "/" + url.PathEscape(month)
}

// LoadRemote fetches and decrypts the payload for month. It fails closed:
// anything that is not a decryptable envelope, null, or a 404 yields OK=false.
func (c *Client) LoadRemote(ctx context.Context, secret, month string) Result {
	if secret == "" {
		return failed(ErrEmptySecret)
	}
	route, err := routeid.Derive(secret)
	if err != nil {
		return failed(err)
	}
	short := routeid.Short(route)

	ctx, span := c.tracer.StartSync(ctx, "load", month, short)
	res := c.load(ctx, secret, route, month)
	span.SetFound(res.OK && res.Data != nil)
	span.SetBytes(len(res.Data))
	span.Finish(res.Err)

	switch {
	case errors.Is(res.Err, ErrMalformedPayload):
		slog.Error("remote payload decrypted to non-JSON", "month", month, "route", short)
	case res.Err != nil:
		slog.Warn("remote load failed", "month", month, "route", short, "err", res.Err)
	default:
		slog.Debug("remote load", "month", month, "route", short, "found", res.Data != nil)
	}
	return res
}

func (c *Client) load(ctx context.Context, secret, route, month string) Result {
	raw, err := fetch.JSON(ctx, c.URL(route, month), fetch.Options{Client: c.http}, c.fetch)
	if fetch.IsStatus(err, http.StatusNotFound) {
		return Result{OK: true}
	}
	if err != nil {
		return failed(fmt.Errorf("%w: %w", ErrTransport, err))
	}
	if raw == nil {
		return Result{OK: true}
	}

	switch v := crypto.Parse(raw).(type) {
	case *crypto.Envelope:
		data, err := c.codec.Decrypt(v, secret)
		if err != nil {
			return failed(fmt.Errorf("load %s: %w", month, err))
		}
		return Result{OK: true, Data: data}
	case crypto.LegacyPlain:
		if v.IsNull() {
			return Result{OK: true}
		}
		return failed(fmt.Errorf("load %s: %w", month, ErrEnvelopeFormat))
	case crypto.Malformed:
		return failed(fmt.Errorf("load %s: %w: %w", month, ErrEnvelopeFormat, v.Err))
	}
	return failed(ErrEnvelopeFormat)
}

// SaveRemote seals payload and stores it for month. An encryption failure
// returns before any request is made.
func (c *Client) SaveRemote(ctx context.Context, secret, month string, payload any) error {
	if secret == "" {
		return ErrEmptySecret
	}
	env, err := c.codec.Encrypt(payload, secret)
	if err != nil {
		return fmt.Errorf("save %s: %w", month, err)
	}
	route, err := routeid.Derive(secret)
	if err != nil {
		return err
	}
	short := routeid.Short(route)

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("save %s: %w", month, err)
	}

	ctx, span := c.tracer.StartSync(ctx, "save", month, short)
	span.SetBytes(len(body))
	_, err = fetch.JSON(ctx, c.URL(route, month), fetch.Options{
		Method: http.MethodPut,
		Body:   json.RawMessage(body),
		Client: c.http,
	}, c.fetch)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	span.Finish(err)
	if err != nil {
		slog.Warn("remote save failed", "month", month, "route", short, "err", err)
		return err
	}
	slog.Debug("remote save", "month", month, "route", short, "bytes", len(body))
	return nil
}

// SaveRemoteDebounced schedules a SaveRemote for month. Calls for the same
// month inside the debounce window replace each other; only the last call's
// onDone runs, with whether the save succeeded. onDone may be nil.
func (c *Client) SaveRemoteDebounced(secret, month string, payload any, onDone func(ok bool)) {
	scheduled := c.saves.Schedule(month, func() {
		err := c.SaveRemote(c.ctx, secret, month, payload)
		if onDone != nil {
			onDone(err == nil)
		}
	})
	if !scheduled && onDone != nil {
		onDone(false)
	}
}

// Pending reports whether month has a debounced save waiting.
func (c *Client) Pending(month string) bool {
	return c.saves.Pending(month)
}

// Flush performs pending saves now.
func (c *Client) Flush() {
	c.saves.Flush()
}

// Close flushes pending saves, then cancels anything still in flight.
func (c *Client) Close() {
	c.saves.Stop()
	c.cancel()
}
