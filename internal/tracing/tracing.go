// Package tracing sets up OpenTelemetry for ledgersync binaries and provides
// span helpers for sync operations and storage requests.
package tracing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName identifies spans emitted by this module.
const TracerName = "go.klb.dev/ledgersync"

// ExporterType selects where spans go.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

// ParseExporter converts a flag value to an ExporterType. Unknown values
// disable tracing.
func ParseExporter(s string) ExporterType {
	switch strings.ToLower(s) {
	case "stdout":
		return ExporterStdout
	case "otlp", "otlphttp":
		return ExporterOTLP
	default:
		return ExporterNone
	}
}

// Config holds tracing configuration.
type Config struct {
	ExporterType ExporterType
	OTLPEndpoint string // host:port of an OTLP/HTTP collector
	ServiceName  string
	Version      string
	SampleRate   float64   // 0.0 to 1.0
	Output       io.Writer // stdout exporter target, defaults to os.Stdout
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() Config {
	return Config{
		ExporterType: ExporterNone,
		ServiceName:  "ledgersync",
		Version:      "dev",
		SampleRate:   1.0,
	}
}

// Tracer wraps an OpenTelemetry tracer and its provider.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

var (
	global   *Tracer
	globalMu sync.RWMutex
)

// Init builds a Tracer from cfg and installs it as the process default.
func Init(ctx context.Context, cfg Config) (*Tracer, error) {
	t, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	globalMu.Lock()
	global = t
	globalMu.Unlock()
	return t, nil
}

// Default returns the installed Tracer, or one backed by the global otel
// provider if Init was never called.
func Default() *Tracer {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		return &Tracer{tracer: otel.Tracer(TracerName)}
	}
	return global
}

// New creates a Tracer. With ExporterNone it returns a no-op tracer and
// leaves the global otel state alone.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if cfg.ExporterType == ExporterNone || cfg.ExporterType == "" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(TracerName, trace.WithInstrumentationVersion(cfg.Version)),
		provider: provider,
	}, nil
}

func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)

	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// Shutdown flushes and stops the provider, if any.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// Start starts a span with the given name.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Span wraps a started span with ledgersync attribute setters.
type Span struct {
	span trace.Span
}

// StartSync starts a client span for a remote sync operation ("load" or
// "save"). route should already be shortened.
func (t *Tracer) StartSync(ctx context.Context, op, month, route string) (context.Context, *Span) {
	ctx, span := t.tracer.Start(ctx, "sync."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ledger.month", month),
			attribute.String("ledger.route", route),
		),
	)
	return ctx, &Span{span: span}
}

// StartStorage starts a server span for a storage request.
func (t *Tracer) StartStorage(ctx context.Context, method, month, route string) (context.Context, *Span) {
	ctx, span := t.tracer.Start(ctx, "storage."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			attribute.String("ledger.month", month),
			attribute.String("ledger.route", route),
		),
	)
	return ctx, &Span{span: span}
}

// SetBytes records the payload size.
func (s *Span) SetBytes(n int) {
	s.span.SetAttributes(attribute.Int("ledger.bytes", n))
}

// SetStatusCode records the HTTP status of the exchange.
func (s *Span) SetStatusCode(code int) {
	s.span.SetAttributes(semconv.HTTPResponseStatusCode(code))
}

// SetFound records whether the month had data.
func (s *Span) SetFound(found bool) {
	s.span.SetAttributes(attribute.Bool("ledger.found", found))
}

// End ends the span with an ok status.
func (s *Span) End() {
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
}

// EndWithError ends the span with err recorded.
func (s *Span) EndWithError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.span.End()
}

// Finish ends the span with an error status when err is non-nil.
func (s *Span) Finish(err error) {
	if err != nil {
		s.EndWithError(err)
		return
	}
	s.End()
}

// AddEvent adds an event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
