// Package apistatus reports whether the storage endpoint is reachable.
package apistatus

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/ledgersync/internal/fetch"
)

// State is the probe outcome.
type State string

const (
	Checking State = "checking"
	Online   State = "online"
	Offline  State = "offline"
)

// HealthPath is the HTTP probe target relative to the server base URL.
const HealthPath = "/api/health"

// DefaultTimeout bounds a probe. Probes are never retried.
const DefaultTimeout = 1500 * time.Millisecond

// Report is the result of one probe.
type Report struct {
	State   State
	Target  string
	Latency time.Duration
	Body    []byte
	Err     error
}

// Prober checks a storage endpoint.
type Prober struct {
	Timeout time.Duration
	Fetch   fetch.Options
}

// New returns a Prober with the default timeout.
func New() *Prober {
	return &Prober{Timeout: DefaultTimeout}
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

// HTTP issues a single GET against target. Any 2xx answer, with an empty or
// JSON body, means Online.
func (p *Prober) HTTP(ctx context.Context, target string) Report {
	start := time.Now()
	opts := p.Fetch
	opts.Method = "GET"
	body, err := fetch.JSON(ctx, target, opts, fetch.Config{Timeout: p.timeout(), Retries: 0})
	r := Report{Target: target, Latency: time.Since(start), Body: body, Err: err}
	if err != nil {
		r.State = Offline
	} else {
		r.State = Online
	}
	return r
}

// GRPC asks the grpc.health.v1 service at addr for the overall serving
// status. creds nil means plaintext.
func (p *Prober) GRPC(ctx context.Context, addr string, creds credentials.TransportCredentials) (Report, *healthpb.HealthCheckResponse) {
	start := time.Now()
	r := Report{Target: addr, State: Offline}
	if creds == nil {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		r.Err = fmt.Errorf("dial: %w", err)
		return r, nil
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	r.Latency = time.Since(start)
	if err != nil {
		r.Err = fmt.Errorf("health check: %w", err)
		return r, nil
	}
	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		r.State = Online
	} else {
		r.Err = fmt.Errorf("health check: %s", resp.GetStatus())
	}
	return r, resp
}
