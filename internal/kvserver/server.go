// Package kvserver is the storage endpoint that sync clients talk to.
//
// It stores opaque JSON text per route and month and never interprets it:
//
//	GET  /api/storage/{routeId}/{month}  → 200 stored text, or null
//	PUT  /api/storage/{routeId}/{month}  → 204 (body must be a JSON object)
//	GET  /api/health                     → 200 {"status":"ok","version":...}
//
// gRPC health checks are served on the same listener.
package kvserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/ledgersync/internal/month"
	"go.klb.dev/ledgersync/internal/routeid"
	"go.klb.dev/ledgersync/internal/tracing"
)

const (
	// DefaultMaxBody caps PUT bodies (1 MiB).
	DefaultMaxBody = 1 << 20

	// ServiceName is the gRPC health service name reported alongside "".
	ServiceName = "ledgersync.Storage"

	spacePrefix = "space:"
)

// ErrInvalidRoute is returned by Provision for a malformed route id.
var ErrInvalidRoute = errors.New("kvserver: invalid route id")

// Config controls a Server.
type Config struct {
	Version string
	// RequireSpace rejects routes that have not been provisioned.
	RequireSpace bool
	MaxBody      int64
	// TLS, if set, wraps the listener.
	TLS    *tls.Config
	Tracer *tracing.Tracer
}

// Server serves the storage endpoint over one Store.
type Server struct {
	store  Store
	cfg    Config
	tracer *tracing.Tracer
	health *health.Server
	mux    *gwruntime.ServeMux
}

// New returns a Server over store.
func New(store Store, cfg Config) (*Server, error) {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Default()
	}
	s := &Server{
		store:  store,
		cfg:    cfg,
		tracer: cfg.Tracer,
		health: health.NewServer(),
		mux:    gwruntime.NewServeMux(),
	}

	for _, method := range []string{
		http.MethodGet, http.MethodPut, http.MethodPost,
		http.MethodDelete, http.MethodPatch, http.MethodHead,
	} {
		if err := s.mux.HandlePath(method, "/api/storage/{route}/{month}", s.handleStorage); err != nil {
			return nil, fmt.Errorf("register %s storage route: %w", method, err)
		}
	}
	if err := s.mux.HandlePath(http.MethodGet, "/api/health", s.handleHealth); err != nil {
		return nil, fmt.Errorf("register health route: %w", err)
	}
	return s, nil
}

// Handler returns the HTTP handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return withRequestID(withLogging(s.mux))
}

func storageKey(route, m string) string { return route + "/" + m }

// Provision creates the space marker for route.
func (s *Server) Provision(ctx context.Context, route string) error {
	if !routeid.Valid(route) {
		return ErrInvalidRoute
	}
	if err := s.store.Put(ctx, spacePrefix+route, "1"); err != nil {
		return fmt.Errorf("provision %s: %w", routeid.Short(route), err)
	}
	slog.Info("space provisioned", "route", routeid.Short(route))
	return nil
}

// Provisioned reports whether route has a space marker.
func (s *Server) Provisioned(ctx context.Context, route string) (bool, error) {
	_, ok, err := s.store.Get(ctx, spacePrefix+route)
	return ok, err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.cfg.Version})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request, params map[string]string) {
	route, m := params["route"], params["month"]
	ctx, span := s.tracer.StartStorage(r.Context(), r.Method, m, routeid.Short(route))
	status, err := s.serveStorage(ctx, w, r, route, m)
	span.SetStatusCode(status)
	span.Finish(err)
}

func (s *Server) serveStorage(ctx context.Context, w http.ResponseWriter, r *http.Request, route, m string) (int, error) {
	if !routeid.Valid(route) || !month.Valid(m) {
		return writeText(w, http.StatusNotFound, "Not Found"), nil
	}

	if s.cfg.RequireSpace {
		ok, err := s.Provisioned(ctx, route)
		if err != nil {
			slog.Error("space lookup failed", "route", routeid.Short(route), "err", err)
			return writeText(w, http.StatusInternalServerError, "Internal Server Error"), err
		}
		if !ok {
			return writeText(w, http.StatusNotFound, "Not Found"), nil
		}
	}

	switch r.Method {
	case http.MethodGet:
		return s.get(ctx, w, route, m)
	case http.MethodPut:
		return s.put(ctx, w, r, route, m)
	default:
		w.Header().Set("Allow", "GET, PUT")
		return writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed"), nil
	}
}

func (s *Server) get(ctx context.Context, w http.ResponseWriter, route, m string) (int, error) {
	v, ok, err := s.store.Get(ctx, storageKey(route, m))
	if err != nil {
		slog.Error("get failed", "route", routeid.Short(route), "month", m, "err", err)
		return writeText(w, http.StatusInternalServerError, "Internal Server Error"), err
	}
	if !ok || v == "" {
		v = "null"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, v)
	return http.StatusOK, nil
}

func (s *Server) put(ctx context.Context, w http.ResponseWriter, r *http.Request, route, m string) (int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return writeText(w, http.StatusRequestEntityTooLarge, "Payload Too Large"), nil
		}
		return writeText(w, http.StatusBadRequest, "Bad Request"), nil
	}
	if !isJSONObject(body) {
		return writeText(w, http.StatusBadRequest, "Invalid JSON"), nil
	}
	if err := s.store.Put(ctx, storageKey(route, m), string(body)); err != nil {
		slog.Error("put failed", "route", routeid.Short(route), "month", m, "err", err)
		return writeText(w, http.StatusInternalServerError, "Internal Server Error"), err
	}
	slog.Debug("stored", "route", routeid.Short(route), "month", m, "bytes", len(body))
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent, nil
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}

func writeText(w http.ResponseWriter, status int, msg string) int {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve splits ln between gRPC (health) and HTTP until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}

	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	gs := grpc.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, s.health)

	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 3)
	go func() { errc <- gs.Serve(grpcL) }()
	go func() { errc <- hs.Serve(httpL) }()
	go func() { errc <- m.Serve() }()

	slog.Info("storage endpoint listening",
		"addr", ln.Addr(),
		"tls", s.cfg.TLS != nil,
		"require_space", s.cfg.RequireSpace,
	)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shutdownCtx)
	gs.Stop()
	_ = ln.Close()

	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
