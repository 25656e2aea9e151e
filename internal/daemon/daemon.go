// Package daemon assembles a fanex process: the integration host, its event
// bus and supervisor, the gateway, hooks and config hot reload.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/internal/audit"
	"github.com/fanex-id/integrations/internal/config"
	"github.com/fanex-id/integrations/internal/metrics"
	"github.com/fanex-id/integrations/internal/tracing"
	"github.com/fanex-id/integrations/pkg/events"
	"github.com/fanex-id/integrations/pkg/gateway"
	"github.com/fanex-id/integrations/pkg/hooks"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/integrations"
	"github.com/fanex-id/integrations/pkg/supervisor"
)

const configWatcherTask = "daemon.config_watcher"

// Options configures a Daemon.
type Options struct {
	Config *config.Config
	Loader *config.Loader // required for config hot reload
	// Factories are the available plugins; only configured domains and
	// their dependencies are added to the host.
	Factories []integration.Factory
	Logger    zerolog.Logger
	PIDFile   *PIDFile
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Ready     int           `json:"ready"`
	Total     int           `json:"total"`
}

// Daemon owns every long-lived component of the process.
type Daemon struct {
	config  *config.Config
	loader  *config.Loader
	logger  zerolog.Logger
	pidFile *PIDFile

	metrics    *metrics.Metrics
	audit      *audit.Logger
	bus        *events.Bus
	supervisor *supervisor.Supervisor
	host       *integration.Host
	hooks      *hooks.Manager
	gateway    *gateway.Server

	serveErr chan error

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// New builds the components without starting anything.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.PIDFile == nil {
		opts.PIDFile = NewPIDFile("")
	}

	if err := tracing.InitOpenTelemetry("fanex"); err != nil {
		opts.Logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without spans")
	}

	d := &Daemon{
		config:   opts.Config,
		loader:   opts.Loader,
		logger:   opts.Logger.With().Str("component", "daemon").Logger(),
		pidFile:  opts.PIDFile,
		metrics:  metrics.NewMetrics(),
		serveErr: make(chan error, 1),
	}

	if path := opts.Config.Logging.AuditFile; path != "" {
		a, err := audit.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		d.audit = a
	}

	d.bus = events.NewBus(opts.Logger, events.WithMetrics(d.metrics))
	d.supervisor = supervisor.New(context.Background(), supervisor.Config{
		Logger:  opts.Logger,
		Metrics: d.metrics,
	})
	d.host = integration.NewHost(integration.Options{
		Bus:        d.bus,
		Supervisor: d.supervisor,
		Metrics:    d.metrics,
		Logger:     opts.Logger,
		Configs:    opts.Config.IntegrationConfigs(),
	})

	selected, unknown, err := integrations.Select(opts.Factories, opts.Config.Domains())
	if err != nil {
		d.closeEarly()
		return nil, err
	}
	for _, domain := range unknown {
		d.logger.Warn().Str("integration", domain).Msg("No plugin for configured integration")
	}
	for _, f := range selected {
		if err := d.host.Add(f); err != nil {
			d.closeEarly()
			return nil, err
		}
	}

	hookManager, err := hooks.NewManager(hooks.Config{Hooks: opts.Config.Hooks, Logger: opts.Logger})
	if err != nil {
		d.closeEarly()
		return nil, fmt.Errorf("failed to configure hooks: %w", err)
	}
	d.hooks = hookManager

	if opts.Config.Gateway.Enabled {
		d.gateway, err = gateway.NewServer(gateway.Config{
			Options: opts.Config.GatewayOptions(),
			Host:    d.host,
			Bus:     d.bus,
			Metrics: d.metrics,
			Audit:   d.audit,
			Logger:  opts.Logger,
		})
		if err != nil {
			d.closeEarly()
			return nil, fmt.Errorf("failed to create gateway: %w", err)
		}
	}
	return d, nil
}

// Start sets up every configured integration and starts background work.
// Integration setup failures are logged, not fatal: the daemon serves the
// integrations that did come up.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting fanex daemon")

	if err := d.pidFile.Acquire(); err != nil {
		d.setStopped()
		return err
	}

	d.hooks.Attach(d.bus)

	if err := d.host.SetupAll(ctx); err != nil {
		logger.Warn().Err(err).Msg("Some integrations failed to set up")
	}

	if schedule := d.config.Host.HealthCheckSchedule; schedule != "" {
		if err := d.host.StartHealthChecks(schedule); err != nil {
			logger.Warn().Err(err).Msg("Health checks disabled")
		}
	}

	if d.config.Host.WatchConfig && d.loader != nil {
		watcher := config.NewWatcher(d.loader, d.config, d.host, d.logger)
		if err := d.supervisor.Go(configWatcherTask, watcher.Run); err != nil {
			logger.Warn().Err(err).Msg("Config hot reload disabled")
		}
	}

	if d.gateway != nil {
		go func() {
			d.serveErr <- d.gateway.ListenAndServe()
		}()
	}

	ready := 0
	for _, desc := range d.host.Descriptors() {
		if desc.Ready() {
			ready++
		}
	}
	d.audit.Lifecycle(ctx, "start", map[string]any{
		"integrations": len(d.host.Descriptors()),
		"ready":        ready,
	})
	logger.Info().
		Int("integrations", len(d.host.Descriptors())).
		Int("ready", ready).
		Int("services", d.host.Registry().Len()).
		Msg("Daemon started")
	return nil
}

// Run starts the daemon and blocks until ctx is cancelled or the gateway
// fails, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info().Msg("Shutdown requested")
	case err := <-d.serveErr:
		runErr = err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), d.config.Host.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, d.Stop(stopCtx))
}

// Stop shuts components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return errors.New("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping fanex daemon")

	var errs []error
	if d.gateway != nil {
		if err := d.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.hooks.Close()
	if err := d.host.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("integrations: %w", err))
	}
	if err := d.supervisor.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	d.bus.Close()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.pidFile.Release(); err != nil {
		errs = append(errs, err)
	}
	d.audit.Lifecycle(ctx, "stop", nil)
	if err := d.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Error().Err(err).Msg("Daemon stopped with errors")
		return err
	}
	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// closeEarly releases what New opened when construction fails.
func (d *Daemon) closeEarly() {
	d.bus.Close()
	_ = d.audit.Close()
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	descriptors := d.host.Descriptors()
	s := Status{Running: d.running, Total: len(descriptors)}
	for _, desc := range descriptors {
		if desc.Ready() {
			s.Ready++
		}
	}
	if d.running {
		s.StartTime = d.startTime
		s.Uptime = time.Since(d.startTime)
	}
	return s
}

// Host returns the integration host.
func (d *Daemon) Host() *integration.Host {
	return d.host
}

// Bus returns the event bus.
func (d *Daemon) Bus() *events.Bus {
	return d.bus
}

// Handler returns the gateway handler, or nil when the gateway is disabled.
func (d *Daemon) Handler() http.Handler {
	if d.gateway == nil {
		return nil
	}
	return d.gateway.Handler()
}
