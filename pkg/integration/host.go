package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/internal/metrics"
	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/services"
	"github.com/fanex-id/integrations/pkg/supervisor"
)

// Options configures a Host.
type Options struct {
	Registry   *services.Registry
	Bus        *events.Bus
	Supervisor *supervisor.Supervisor
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	// Configs holds per-domain configuration.
	Configs map[string]services.Values
}

type entry struct {
	factory  Factory
	manifest *Manifest
	instance Integration
	desc     Descriptor
}

// Host owns the integrations of one process.
type Host struct {
	registry   *services.Registry
	bus        *events.Bus
	supervisor *supervisor.Supervisor
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	resolver   *DependencyResolver

	mu      sync.RWMutex
	entries map[string]*entry

	// setupMu serializes setup, reload and teardown.
	setupMu sync.Mutex

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewHost creates a host. A registry is created when none is given.
func NewHost(opts Options) *Host {
	logger := opts.Logger.With().Str("component", "host").Logger()

	registry := opts.Registry
	if registry == nil {
		registry = services.NewRegistry(opts.Logger, services.WithMetrics(opts.Metrics))
	}

	h := &Host{
		registry:   registry,
		bus:        opts.Bus,
		supervisor: opts.Supervisor,
		metrics:    opts.Metrics,
		logger:     logger,
		resolver:   NewDependencyResolver(opts.Logger),
		entries:    make(map[string]*entry),
	}

	for domain, cfg := range opts.Configs {
		h.entries[domain] = &entry{desc: Descriptor{Domain: domain, State: StateUninitialized, Config: cfg}}
	}
	return h
}

// Registry returns the service registry the host registers into.
func (h *Host) Registry() *services.Registry {
	return h.registry
}

// Add registers a plugin factory after validating its manifest.
func (h *Host) Add(f Factory) error {
	if f.New == nil {
		return fmt.Errorf("integration %s: factory has no constructor", f.Domain)
	}

	manifest, err := ParseManifest(f.Manifest)
	if err != nil {
		return fmt.Errorf("integration %s: %w", f.Domain, err)
	}
	if f.Domain == "" {
		f.Domain = manifest.Domain
	}
	if manifest.Domain != f.Domain {
		return fmt.Errorf("integration %s: manifest declares domain %s", f.Domain, manifest.Domain)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[f.Domain]
	if ok && e.manifest != nil {
		return fmt.Errorf("integration %s already added", f.Domain)
	}
	if !ok {
		e = &entry{desc: Descriptor{Domain: f.Domain, State: StateUninitialized}}
		h.entries[f.Domain] = e
	}

	e.factory = f
	e.manifest = manifest
	e.desc.Name = manifest.Name
	e.desc.Version = manifest.Version
	e.desc.Manifest = manifest

	h.logger.Debug().
		Str("integration", f.Domain).
		Str("version", manifest.Version).
		Msg("Integration added")
	return nil
}

// SetConfig replaces the stored configuration of domain without re-running setup.
func (h *Host) SetConfig(domain string, cfg services.Values) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[domain]
	if !ok {
		e = &entry{desc: Descriptor{Domain: domain, State: StateUninitialized}}
		h.entries[domain] = e
	}
	e.desc.Config = cfg
}

// SetupAll sets up every added integration in dependency order. A failure
// never stops the others; the returned error joins every failure.
func (h *Host) SetupAll(ctx context.Context) error {
	manifests := h.manifests()
	graph := h.resolver.BuildDependencyGraph(manifests)

	failed := make(map[string]error)
	for domain, err := range h.resolver.ValidateDependencies(graph) {
		failed[domain] = err
	}
	for _, cycle := range h.resolver.DetectCycles(graph) {
		for _, domain := range cycle {
			failed[domain] = fmt.Errorf("dependency cycle: %v", cycle)
		}
	}

	// Drop invalid nodes so the remaining graph sorts cleanly.
	for domain := range failed {
		delete(graph.Nodes, domain)
	}
	order, err := h.resolver.TopologicalSort(graph)
	if err != nil {
		return err
	}

	var errs []error
	for _, domain := range sortedKeys(failed) {
		h.markFailed(domain, failed[domain])
		errs = append(errs, fmt.Errorf("%s: %w", domain, failed[domain]))
	}

	for _, domain := range order {
		if err := h.Setup(ctx, domain); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", domain, err))
		}
	}

	ready := h.countReady()
	h.metrics.SetReady(ready)
	h.logger.Info().
		Int("ready", ready).
		Int("failed", len(errs)).
		Msg("Integrations set up")

	return errors.Join(errs...)
}

// Setup runs setup for one integration. Disabled integrations are skipped
// and integrations whose dependencies are not ready fail without running setup.
func (h *Host) Setup(ctx context.Context, domain string) error {
	h.setupMu.Lock()
	defer h.setupMu.Unlock()

	if d, ok := h.Get(domain); ok && d.State == StateReady {
		h.teardown(ctx, domain)
	}
	err := h.setupLocked(ctx, domain)
	h.metrics.SetReady(h.countReady())
	return err
}

func (h *Host) setupLocked(ctx context.Context, domain string) error {
	h.mu.Lock()
	e, ok := h.entries[domain]
	if !ok || e.manifest == nil {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", domain, ErrUnknownIntegration)
	}
	cfg := e.desc.Config
	if !services.Values(cfg).BoolOr("enabled", true) {
		e.desc.Disabled = true
		e.desc.State = StateUninitialized
		h.mu.Unlock()
		h.logger.Info().Str("integration", domain).Msg("Integration disabled, skipping setup")
		return nil
	}
	e.desc.Disabled = false
	manifest := e.manifest
	factory := e.factory
	h.mu.Unlock()

	for _, dep := range manifest.Dependencies {
		if _, err := h.instance(dep.Domain); err != nil {
			err = fmt.Errorf("requires %s: %w", dep.Domain, err)
			h.markFailed(domain, err)
			h.metrics.ObserveSetup(domain, false)
			return err
		}
	}

	if err := manifest.ValidateConfig(cfg); err != nil {
		h.logger.Warn().Err(err).Str("integration", domain).Msg("Configuration does not match manifest schema")
	}

	h.setState(domain, StateSettingUp, nil)

	instance := factory.New()
	sc := newSetupContext(h, domain, cfg)
	start := time.Now()

	if err := runSetup(ctx, instance, sc); err != nil {
		h.markFailed(domain, err)
		h.metrics.ObserveSetup(domain, false)
		h.logger.Error().
			Err(err).
			Str("integration", domain).
			Dur("duration", time.Since(start)).
			Msg("Integration setup failed")
		return err
	}

	if err := h.commit(sc); err != nil {
		h.registry.UnregisterDomain(domain)
		h.markFailed(domain, err)
		h.metrics.ObserveSetup(domain, false)
		return err
	}

	h.mu.Lock()
	e.instance = instance
	e.desc.State = StateReady
	e.desc.Err = nil
	e.desc.Error = ""
	e.desc.SetupAt = time.Now()
	h.mu.Unlock()

	h.metrics.ObserveSetup(domain, true)
	h.logger.Info().
		Str("integration", domain).
		Int("services", len(sc.services)).
		Dur("duration", time.Since(start)).
		Msg("Integration ready")
	return nil
}

func runSetup(ctx context.Context, instance Integration, sc *SetupContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("setup panicked: %v", rec)
		}
	}()
	return instance.Setup(ctx, sc)
}

// commit makes staged registrations visible and starts staged tasks.
func (h *Host) commit(sc *SetupContext) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for _, s := range sc.services {
		if err := h.registry.Register(sc.domain, s.service, s.handler, s.schema, s.description); err != nil {
			return err
		}
	}

	for _, t := range sc.tasks {
		if h.supervisor == nil {
			return fmt.Errorf("%s: background task %s requires a supervisor", sc.domain, t.name)
		}
		if err := h.supervisor.Go(t.name, t.fn); err != nil {
			h.supervisor.CancelPrefix(sc.domain + ".")
			return fmt.Errorf("failed to start %s: %w", t.name, err)
		}
	}
	return nil
}

// Reload tears an integration down and sets it up again with cfg. This is
// the explicit hook for credential rotation: all cached clients of the old
// instance are dropped. Ready dependents are reloaded too so they pick up
// the new instance.
func (h *Host) Reload(ctx context.Context, domain string, cfg services.Values) error {
	h.setupMu.Lock()
	defer h.setupMu.Unlock()

	if _, ok := h.Get(domain); !ok {
		return fmt.Errorf("%s: %w", domain, ErrUnknownIntegration)
	}

	h.teardown(ctx, domain)
	h.SetConfig(domain, cfg)
	err := h.setupLocked(ctx, domain)

	graph := h.resolver.BuildDependencyGraph(h.manifests())
	for _, dependent := range h.resolver.GetDependents(graph, domain) {
		d, _ := h.Get(dependent)
		if d.State != StateReady && d.State != StateFailed {
			continue
		}
		h.logger.Info().Str("integration", dependent).Str("dependency", domain).Msg("Reloading dependent integration")
		h.teardown(ctx, dependent)
		if derr := h.setupLocked(ctx, dependent); derr != nil {
			err = errors.Join(err, fmt.Errorf("%s: %w", dependent, derr))
		}
	}

	h.metrics.SetReady(h.countReady())
	return err
}

// teardown stops background tasks, releases resources and unregisters services.
func (h *Host) teardown(ctx context.Context, domain string) {
	h.mu.Lock()
	e, ok := h.entries[domain]
	var instance Integration
	if ok {
		instance = e.instance
		e.instance = nil
		e.desc.State = StateUninitialized
	}
	h.mu.Unlock()

	if h.supervisor != nil {
		h.supervisor.CancelPrefix(domain + ".")
	}
	if s, ok := instance.(Shutdowner); ok {
		if err := s.Shutdown(ctx); err != nil {
			h.logger.Warn().Err(err).Str("integration", domain).Msg("Integration shutdown failed")
		}
	}
	if n := h.registry.UnregisterDomain(domain); n > 0 {
		h.logger.Debug().Str("integration", domain).Int("services", n).Msg("Services unregistered")
	}
}

// Get returns the descriptor of domain.
func (h *Host) Get(domain string) (Descriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[domain]
	if !ok || e.manifest == nil {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Descriptors returns all descriptors sorted by domain.
func (h *Host) Descriptors() []Descriptor {
	h.mu.RLock()
	out := make([]Descriptor, 0, len(h.entries))
	for _, e := range h.entries {
		if e.manifest != nil {
			out = append(out, e.desc)
		}
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Instance returns the live instance of a ready integration.
func (h *Host) Instance(domain string) (Integration, error) {
	return h.instance(domain)
}

func (h *Host) instance(domain string) (Integration, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.entries[domain]
	if !ok || e.manifest == nil {
		return nil, fmt.Errorf("%s: %w", domain, ErrDependencyNotReady)
	}
	if e.desc.State != StateReady || e.instance == nil {
		return nil, fmt.Errorf("%s is %s: %w", domain, e.desc.State, ErrDependencyNotReady)
	}
	return e.instance, nil
}

// Shutdown tears integrations down in reverse dependency order.
func (h *Host) Shutdown(ctx context.Context) error {
	h.StopHealthChecks()

	h.setupMu.Lock()
	defer h.setupMu.Unlock()

	graph := h.resolver.BuildDependencyGraph(h.manifests())
	order, err := h.resolver.TopologicalSort(graph)
	if err != nil {
		order = sortedKeys(graph.Nodes)
	}

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		domain := order[i]

		h.mu.Lock()
		e := h.entries[domain]
		instance := e.instance
		e.instance = nil
		e.desc.State = StateUninitialized
		h.mu.Unlock()

		if instance == nil {
			continue
		}
		if h.supervisor != nil {
			h.supervisor.CancelPrefix(domain + ".")
		}
		if s, ok := instance.(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", domain, err))
			}
		}
		h.registry.UnregisterDomain(domain)
	}

	h.metrics.SetReady(0)
	return errors.Join(errs...)
}

func (h *Host) emitter() events.Emitter {
	if h.bus == nil {
		return nopEmitter{}
	}
	return h.bus
}

func (h *Host) manifests() map[string]*Manifest {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*Manifest, len(h.entries))
	for domain, e := range h.entries {
		if e.manifest != nil {
			out[domain] = e.manifest
		}
	}
	return out
}

func (h *Host) setState(domain string, state State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[domain]
	if !ok {
		return
	}
	e.desc.State = state
	e.desc.Err = err
	e.desc.Error = ""
	if err != nil {
		e.desc.Error = err.Error()
	}
}

func (h *Host) markFailed(domain string, err error) {
	h.setState(domain, StateFailed, err)
}

func (h *Host) countReady() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, e := range h.entries {
		if e.desc.State == StateReady {
			n++
		}
	}
	return n
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, map[string]any) {}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
