package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	if tc.Domain != "" {
		lc = lc.Str("domain", tc.Domain)
	}
	if tc.Service != "" {
		lc = lc.Str("service", tc.Service)
	}

	return lc.Logger()
}

// MergeContext copies tracing information from source into target where target has none.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.RequestID != "" && GetRequestID(target) == "" {
		target = WithRequestID(target, tc.RequestID)
	}
	if tc.Domain != "" && GetDomain(target) == "" {
		target = WithService(target, tc.Domain, tc.Service)
	}

	return target
}

// Detach returns a background context carrying ctx's tracing information but
// not its cancellation. Used for work that outlives the originating request,
// such as asynchronous event delivery.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
