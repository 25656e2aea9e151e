package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/internal/metrics"
	"github.com/fanex-id/integrations/internal/tracing"
)

// Entry is one registered service.
type Entry struct {
	Domain       string    `json:"domain"`
	Service      string    `json:"service"`
	Description  string    `json:"description,omitempty"`
	Schema       Schema    `json:"schema,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`

	handler Handler
}

// Handler returns the entry's handler.
func (e Entry) Handler() Handler {
	return e.handler
}

// Key returns "domain.service".
func (e Entry) Key() string {
	return e.Domain + "." + e.Service
}

// Snapshot is an immutable, sorted view of the registry at one point in time.
type Snapshot []Entry

// Domains returns the distinct domains in the snapshot, sorted.
func (s Snapshot) Domains() []string {
	var domains []string
	for i, e := range s {
		if i == 0 || s[i-1].Domain != e.Domain {
			domains = append(domains, e.Domain)
		}
	}
	return domains
}

// ByDomain returns the entries of one domain.
func (s Snapshot) ByDomain(domain string) []Entry {
	var out []Entry
	for _, e := range s {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}

type serviceKey struct {
	domain  string
	service string
}

// Registry maps (domain, service) pairs to handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[serviceKey]Entry

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMetrics records invocation metrics on m.
func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[serviceKey]Entry),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a handler. Registering an existing pair replaces it (last write
// wins) and logs a warning.
func (r *Registry) Register(domain, service string, h Handler, schema Schema, description string) error {
	if domain == "" {
		return errors.New("domain is required")
	}
	if service == "" {
		return errors.New("service is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %s.%s is nil", domain, service)
	}

	entry := Entry{
		Domain:       domain,
		Service:      service,
		Description:  description,
		Schema:       schema,
		RegisteredAt: time.Now(),
		handler:      h,
	}

	r.mu.Lock()
	_, replaced := r.entries[serviceKey{domain, service}]
	r.entries[serviceKey{domain, service}] = entry
	r.mu.Unlock()

	if replaced {
		r.logger.Warn().
			Str("domain", domain).
			Str("service", service).
			Msg("Service re-registered, replacing previous handler")
	} else {
		r.logger.Debug().
			Str("domain", domain).
			Str("service", service).
			Msg("Service registered")
	}
	return nil
}

// Get returns the handler for (domain, service). A missing pair is a normal
// lookup result, not an error.
func (r *Registry) Get(domain, service string) (Handler, bool) {
	entry, ok := r.Entry(domain, service)
	if !ok {
		return nil, false
	}
	return entry.handler, true
}

// Entry returns the full registration for (domain, service).
func (r *Registry) Entry(domain, service string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[serviceKey{domain, service}]
	return entry, ok
}

// Has reports whether (domain, service) is registered.
func (r *Registry) Has(domain, service string) bool {
	_, ok := r.Entry(domain, service)
	return ok
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of all registrations sorted by domain then service.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	snap := make(Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		snap = append(snap, e)
	}
	r.mu.RUnlock()

	sort.Slice(snap, func(i, j int) bool {
		if snap[i].Domain != snap[j].Domain {
			return snap[i].Domain < snap[j].Domain
		}
		return snap[i].Service < snap[j].Service
	})
	return snap
}

// UnregisterDomain removes every service of domain and returns how many were removed.
func (r *Registry) UnregisterDomain(domain string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.entries {
		if key.domain == domain {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Call runs the handler for (domain, service) and returns its raw result.
func (r *Registry) Call(ctx context.Context, domain, service string, req Request) (Response, error) {
	h, ok := r.Get(domain, service)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", domain, service, ErrServiceNotFound)
	}
	if req == nil {
		req = Request{}
	}
	return h(ctx, req)
}

// Invoke runs the handler for (domain, service) and always returns an envelope:
// errors become {"success": false, "error": ...} and successful responses get
// "success": true unless the handler set it.
func (r *Registry) Invoke(ctx context.Context, domain, service string, req Request) Response {
	ctx, span := tracing.StartServiceSpan(ctx, domain, service)
	logger := tracing.PropagateToLogger(ctx, r.logger)
	start := time.Now()

	resp, err := r.call(ctx, domain, service, req)

	duration := time.Since(start)
	tracing.EndSpan(span, err)

	if err != nil {
		if !errors.Is(err, ErrServiceNotFound) {
			r.metrics.ObserveInvocation(domain, service, false, duration)
		}
		logger.Error().Err(err).Dur("duration", duration).Msg("Service invocation failed")
		return Failure(err)
	}

	if resp == nil {
		resp = Response{}
	}
	if _, ok := resp["success"]; !ok {
		resp["success"] = true
	}

	r.metrics.ObserveInvocation(domain, service, resp.Success(), duration)
	logger.Debug().Dur("duration", duration).Bool("success", resp.Success()).Msg("Service invoked")
	return resp
}

// call wraps Call with panic recovery so a faulty handler cannot take down the host.
func (r *Registry) call(ctx context.Context, domain, service string, req Request) (resp Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s.%s panicked: %v", domain, service, rec)
		}
	}()
	return r.Call(ctx, domain, service, req)
}
