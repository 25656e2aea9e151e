package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the service request ID
	RequestIDKey ContextKey = "request_id"
	// DomainKey is the context key for the integration domain handling the request
	DomainKey ContextKey = "domain"
	// ServiceKey is the context key for the invoked service name
	ServiceKey ContextKey = "service"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	Domain    string
	Service   string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a short, URL-safe request ID.
func NewRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithService records the (domain, service) pair being invoked.
func WithService(ctx context.Context, domain, service string) context.Context {
	ctx = context.WithValue(ctx, DomainKey, domain)
	return context.WithValue(ctx, ServiceKey, service)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetDomain retrieves the integration domain from the context
func GetDomain(ctx context.Context) string {
	if domain, ok := ctx.Value(DomainKey).(string); ok {
		return domain
	}
	return ""
}

// GetService retrieves the service name from the context
func GetService(ctx context.Context) string {
	if service, ok := ctx.Value(ServiceKey).(string); ok {
		return service
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		Domain:    GetDomain(ctx),
		Service:   GetService(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.Domain != "" || tc.Service != "" {
		ctx = WithService(ctx, tc.Domain, tc.Service)
	}
	return ctx
}

// NewRequestContext returns ctx with a request ID, generating one if absent,
// and a trace ID if none is set.
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	if GetRequestID(ctx) == "" {
		ctx = WithRequestID(ctx, NewRequestID())
	}
	return ctx
}
