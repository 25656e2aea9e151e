package integration

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/services"
	"github.com/fanex-id/integrations/pkg/supervisor"
)

type stagedService struct {
	service     string
	handler     services.Handler
	schema      services.Schema
	description string
}

type stagedTask struct {
	name string
	fn   supervisor.TaskFunc
}

// SetupContext is what an integration sees during Setup. Registrations and
// background tasks are staged and only take effect when Setup succeeds.
type SetupContext struct {
	// Config is the integration's configuration as supplied by the host.
	Config services.Values
	// Logger is scoped to the integration's domain.
	Logger zerolog.Logger

	domain string
	host   *Host

	mu       sync.Mutex
	services []stagedService
	tasks    []stagedTask
}

func newSetupContext(h *Host, domain string, cfg services.Values) *SetupContext {
	if cfg == nil {
		cfg = services.Values{}
	}
	return &SetupContext{
		Config: cfg,
		Logger: h.logger.With().Str("integration", domain).Logger(),
		domain: domain,
		host:   h,
	}
}

// Domain returns the domain being set up.
func (sc *SetupContext) Domain() string {
	return sc.domain
}

// Register stages a service under the integration's own domain.
func (sc *SetupContext) Register(service string, h services.Handler, schema services.Schema, description string) error {
	if service == "" {
		return fmt.Errorf("%s: service name is required", sc.domain)
	}
	if h == nil {
		return fmt.Errorf("%s.%s: handler is nil", sc.domain, service)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.services = append(sc.services, stagedService{
		service:     service,
		handler:     h,
		schema:      schema,
		description: description,
	})
	return nil
}

// Lookup reads the live registry, e.g. to find another integration's service.
func (sc *SetupContext) Lookup(domain, service string) (services.Handler, bool) {
	return sc.host.registry.Get(domain, service)
}

// Registry returns the live registry for services that call other services at
// invocation time.
func (sc *SetupContext) Registry() *services.Registry {
	return sc.host.registry
}

// Dependency returns the live instance of another ready integration.
func (sc *SetupContext) Dependency(domain string) (Integration, error) {
	return sc.host.instance(domain)
}

// Events returns the bus the integration emits on.
func (sc *SetupContext) Events() events.Emitter {
	return sc.host.emitter()
}

// Go stages a supervised background loop, started once Setup succeeds and
// cancelled when the integration is reloaded or shut down.
func (sc *SetupContext) Go(name string, fn supervisor.TaskFunc) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.tasks = append(sc.tasks, stagedTask{name: sc.domain + "." + name, fn: fn})
}

// DependencyAs returns a ready dependency converted to T.
func DependencyAs[T any](sc *SetupContext, domain string) (T, error) {
	var zero T
	inst, err := sc.Dependency(domain)
	if err != nil {
		return zero, err
	}
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("integration %s has unexpected type %T", domain, inst)
	}
	return typed, nil
}
