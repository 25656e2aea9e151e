// Package integrationtest wires a Host with real registry, bus and supervisor
// for plugin tests.
package integrationtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
	"github.com/fanex-id/integrations/pkg/supervisor"
)

// Harness is a host plus recorded events.
type Harness struct {
	Host       *integration.Host
	Registry   *services.Registry
	Bus        *events.Bus
	Supervisor *supervisor.Supervisor

	mu     sync.Mutex
	events []events.Event
}

// New creates a harness with the given factories and per-domain configs. It
// does not run setup.
func New(t testing.TB, configs map[string]services.Values, factories ...integration.Factory) *Harness {
	t.Helper()

	logger := zerolog.Nop()
	bus := events.NewBus(logger)
	sup := supervisor.New(context.Background(), supervisor.Config{
		Logger:         logger,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})
	registry := services.NewRegistry(logger)

	h := &Harness{
		Host: integration.NewHost(integration.Options{
			Registry:   registry,
			Bus:        bus,
			Supervisor: sup,
			Logger:     logger,
			Configs:    configs,
		}),
		Registry:   registry,
		Bus:        bus,
		Supervisor: sup,
	}
	bus.Subscribe("*", func(e events.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
	})

	for _, f := range factories {
		require.NoError(t, h.Host.Add(f))
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Host.Shutdown(ctx)
		_ = sup.Stop(ctx)
		bus.Close()
	})
	return h
}

// Setup creates a harness for a single factory and sets it up, failing the test on error.
func Setup(t testing.TB, f integration.Factory, cfg services.Values) *Harness {
	t.Helper()
	h := New(t, map[string]services.Values{f.Domain: cfg}, f)
	require.NoError(t, h.Host.Setup(context.Background(), f.Domain))
	return h
}

// Invoke calls a service through the registry envelope path.
func (h *Harness) Invoke(domain, service string, req services.Request) services.Response {
	return h.Registry.Invoke(context.Background(), domain, service, req)
}

// Events returns events delivered so far.
func (h *Harness) Events() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.Event(nil), h.events...)
}

// WaitForEvent waits until an event named name has been delivered.
func (h *Harness) WaitForEvent(t testing.TB, name string) events.Event {
	t.Helper()

	var found events.Event
	require.Eventually(t, func() bool {
		for _, e := range h.Events() {
			if e.Name == name {
				found = e
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "event %s not emitted", name)
	return found
}
