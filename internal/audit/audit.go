// Package audit writes an append-only JSON record of service calls,
// rejected requests and daemon lifecycle changes.
package audit

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fanex-id/integrations/internal/tracing"
)

// Event types.
const (
	TypeService   = "service"
	TypeSecurity  = "security"
	TypeLifecycle = "lifecycle"
)

// Event is one audit record.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"` // client IP or "daemon"
	Action    string         `json:"action"`          // e.g. "call:slack.send_message"
	Status    string         `json:"status"`          // "success" or "failure"
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Logger records audit events. A nil *Logger discards everything.
type Logger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// New writes events to w as JSON lines.
func New(w io.Writer) *Logger {
	return &Logger{logger: zerolog.New(w)}
}

// Open appends events to the file at path.
func Open(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	l := New(file)
	l.closer = file
	return l, nil
}

// Record writes event and, when ctx carries a span, adds it as a span event.
func (a *Logger) Record(ctx context.Context, event Event) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	} else if id := tracing.GetTraceID(ctx); id != "" {
		event.TraceID = id
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the underlying file, if any.
func (a *Logger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}

// ServiceCall records one service invocation.
func (a *Logger) ServiceCall(ctx context.Context, actor, domain, service string, success bool, duration time.Duration) {
	a.Record(ctx, Event{
		Type:     TypeService,
		Actor:    actor,
		Action:   "call:" + domain + "." + service,
		Status:   status(success),
		Metadata: map[string]any{"duration_ms": duration.Milliseconds()},
	})
}

// Rejected records a request refused before reaching a service.
func (a *Logger) Rejected(ctx context.Context, actor, action, reason string) {
	a.Record(ctx, Event{
		Type:     TypeSecurity,
		Actor:    actor,
		Action:   action,
		Status:   "failure",
		Metadata: map[string]any{"reason": reason},
	})
}

// Lifecycle records a daemon state change such as "start" or "stop".
func (a *Logger) Lifecycle(ctx context.Context, action string, metadata map[string]any) {
	a.Record(ctx, Event{
		Type:     TypeLifecycle,
		Actor:    "daemon",
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
