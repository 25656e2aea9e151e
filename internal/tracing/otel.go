package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for all fanex spans.
const TracerName = "github.com/fanex-id/integrations"

// Span attribute keys derived from the request context.
const (
	AttrDomain    = attribute.Key("fanex.domain")
	AttrService   = attribute.Key("fanex.service")
	AttrRequestID = attribute.Key("fanex.request_id")
)

var (
	initOnce sync.Once
	initErr  error

	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// InitOpenTelemetry installs the global tracer provider for serviceName. Only
// the first call has an effect; later calls return its error.
func InitOpenTelemetry(serviceName string) error {
	initOnce.Do(func() {
		res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
			semconv.ServiceName(serviceName),
		))
		if err != nil {
			initErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithResource(res),
		)
		mu.Lock()
		provider = tp
		mu.Unlock()
		otel.SetTracerProvider(tp)
	})
	return initErr
}

// ShutdownOpenTelemetry flushes and releases the provider installed by
// InitOpenTelemetry. Calling it again is a no-op.
func ShutdownOpenTelemetry(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span named name on the fanex tracer. The integration
// domain, service and request ID found in ctx are attached as attributes,
// and the span's trace ID is stored in ctx when none is set yet.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(TracerName).Start(ctx, name,
		trace.WithAttributes(contextAttributes(ctx)...),
		trace.WithAttributes(attrs...),
	)

	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}

// StartServiceSpan starts the span for one invocation of domain.service,
// generating a request ID if ctx has none.
func StartServiceSpan(ctx context.Context, domain, service string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = WithService(ctx, domain, service)
	if GetRequestID(ctx) == "" {
		ctx = WithRequestID(ctx, NewRequestID())
	}
	return StartSpan(ctx, domain+"."+service)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func contextAttributes(ctx context.Context) []attribute.KeyValue {
	tc := FromContext(ctx)
	var attrs []attribute.KeyValue
	if tc.Domain != "" {
		attrs = append(attrs, AttrDomain.String(tc.Domain))
	}
	if tc.Service != "" {
		attrs = append(attrs, AttrService.String(tc.Service))
	}
	if tc.RequestID != "" {
		attrs = append(attrs, AttrRequestID.String(tc.RequestID))
	}
	return attrs
}
