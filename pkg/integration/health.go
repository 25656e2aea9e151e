package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fanex-id/integrations/pkg/supervisor"
)

// IntegrationHealth is the health of one integration.
type IntegrationHealth struct {
	Domain  string `json:"domain"`
	State   State  `json:"state"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport aggregates integration and background task health.
type HealthReport struct {
	CheckedAt    time.Time               `json:"checked_at"`
	Healthy      bool                    `json:"healthy"`
	Integrations []IntegrationHealth     `json:"integrations"`
	Tasks        []supervisor.TaskHealth `json:"tasks,omitempty"`
}

// healthCheckTimeout bounds each integration's Health call.
const healthCheckTimeout = 10 * time.Second

// CheckHealth probes every ready integration implementing HealthChecker.
// Failed integrations are reported unhealthy; disabled ones are skipped.
func (h *Host) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{CheckedAt: time.Now(), Healthy: true}

	for _, d := range h.Descriptors() {
		if d.Disabled {
			continue
		}
		ih := IntegrationHealth{Domain: d.Domain, State: d.State, Healthy: d.State == StateReady, Error: d.Error}

		if d.State == StateReady {
			if inst, err := h.instance(d.Domain); err == nil {
				if checker, ok := inst.(HealthChecker); ok {
					if err := probe(ctx, checker); err != nil {
						ih.Healthy = false
						ih.Error = err.Error()
					}
				}
			}
		}

		if !ih.Healthy {
			report.Healthy = false
			h.logger.Warn().
				Str("integration", d.Domain).
				Str("state", string(d.State)).
				Str("error", ih.Error).
				Msg("Integration unhealthy")
		}
		report.Integrations = append(report.Integrations, ih)
	}

	if h.supervisor != nil {
		report.Tasks = h.supervisor.Health()
		for _, t := range report.Tasks {
			if !t.Running {
				report.Healthy = false
			}
		}
	}

	return report
}

func probe(ctx context.Context, checker HealthChecker) (err error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("health check panicked: %v", rec)
		}
	}()
	return checker.Health(ctx)
}

// StartHealthChecks runs CheckHealth on a cron schedule such as "@every 1m".
func (h *Host) StartHealthChecks(schedule string) error {
	h.cronMu.Lock()
	defer h.cronMu.Unlock()

	if h.cron != nil {
		return fmt.Errorf("health checks already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		report := h.CheckHealth(context.Background())
		h.logger.Debug().
			Bool("healthy", report.Healthy).
			Int("integrations", len(report.Integrations)).
			Msg("Health check complete")
	}); err != nil {
		return fmt.Errorf("invalid health check schedule %q: %w", schedule, err)
	}

	c.Start()
	h.cron = c
	h.logger.Info().Str("schedule", schedule).Msg("Health checks scheduled")
	return nil
}

// StopHealthChecks stops scheduled health checks and waits for a running check.
func (h *Host) StopHealthChecks() {
	h.cronMu.Lock()
	c := h.cron
	h.cron = nil
	h.cronMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
