package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
)

var validLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel accepts an empty level, which means info.
func (v *Validator) ValidateLogLevel(level string) error {
	if level == "" {
		return nil
	}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP listen port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSchedule validates a cron spec such as "@every 1m" or "*/5 * * * *".
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateIntegration checks the keys the host itself reads.
func (v *Validator) ValidateIntegration(domain string, cfg map[string]any) error {
	if strings.TrimSpace(domain) == "" {
		return errors.New("integration domain cannot be empty")
	}
	if enabled, ok := cfg["enabled"]; ok {
		if _, err := cast.ToBoolE(enabled); err != nil {
			return fmt.Errorf("integration %s: enabled must be a boolean", domain)
		}
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if cfg.Gateway.Enabled {
		if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
			errs = append(errs, fmt.Errorf("gateway: %w", err))
		}
		if cfg.Gateway.RequestTimeout < 0 {
			errs = append(errs, errors.New("gateway: request_timeout must be >= 0"))
		}
		if cfg.Gateway.MaxBodyBytes < 0 {
			errs = append(errs, errors.New("gateway: max_body_bytes must be >= 0"))
		}
	}

	if err := v.ValidateSchedule(cfg.Host.HealthCheckSchedule); err != nil {
		errs = append(errs, fmt.Errorf("host: %w", err))
	}

	for i, h := range cfg.Hooks {
		if !h.Enabled {
			continue
		}
		if strings.TrimSpace(h.Event) == "" {
			errs = append(errs, fmt.Errorf("hook %d: event is required", i))
		}
		if strings.TrimSpace(h.Script) == "" {
			errs = append(errs, fmt.Errorf("hook %d: script is required", i))
		}
	}

	for _, domain := range cfg.Domains() {
		if err := v.ValidateIntegration(domain, cfg.Integrations[domain]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
