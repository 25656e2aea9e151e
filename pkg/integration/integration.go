// Package integration defines the plugin contract and the host that drives
// plugin lifecycles: manifest validation, dependency ordering, setup,
// reload, health checks and shutdown.
package integration

import (
	"context"
	"errors"
	"time"

	"github.com/fanex-id/integrations/pkg/services"
)

// Integration is one plugin instance bound to a domain.
type Integration interface {
	// Domain returns the registry namespace, e.g. "telegram".
	Domain() string
	// Setup resolves configuration, builds clients and registers services.
	// A non-nil error leaves the integration failed with zero services registered.
	Setup(ctx context.Context, sc *SetupContext) error
}

// Shutdowner is implemented by integrations holding resources to release.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// HealthChecker is implemented by integrations that can probe their vendor.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Factory creates integration instances. Every plugin package exports one.
type Factory struct {
	Domain   string
	Manifest []byte
	New      func() Integration
}

// State is the lifecycle state of an integration.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateSettingUp     State = "setting_up"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

var (
	// ErrUnknownIntegration is returned for a domain the host was never given.
	ErrUnknownIntegration = errors.New("unknown integration")

	// ErrDependencyNotReady is returned when a required integration is absent or not ready.
	ErrDependencyNotReady = errors.New("dependency not ready")
)

// Descriptor is a read-only view of one integration's lifecycle.
type Descriptor struct {
	Domain   string          `json:"domain"`
	Name     string          `json:"name"`
	Version  string          `json:"version"`
	State    State           `json:"state"`
	Disabled bool            `json:"disabled,omitempty"`
	Config   services.Values `json:"-"`
	Manifest *Manifest       `json:"manifest,omitempty"`
	Err      error           `json:"-"`
	Error    string          `json:"error,omitempty"`
	SetupAt  time.Time       `json:"setup_at,omitempty"`
}

// Ready reports whether the integration finished setup successfully.
func (d Descriptor) Ready() bool {
	return d.State == StateReady
}
