// Package config loads the fanex process configuration: logging, the
// gateway, host behaviour and per-integration settings.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fanex-id/integrations/internal/logger"
	"github.com/fanex-id/integrations/pkg/gateway"
	"github.com/fanex-id/integrations/pkg/hooks"
	"github.com/fanex-id/integrations/pkg/services"
)

// Config is the root configuration document.
type Config struct {
	Logging      logger.Config             `mapstructure:"logging"`
	Gateway      GatewayConfig             `mapstructure:"gateway"`
	Host         HostConfig                `mapstructure:"host"`
	Hooks        []hooks.Hook              `mapstructure:"hooks"`
	Integrations map[string]map[string]any `mapstructure:"integrations"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	SharedSecret       string        `mapstructure:"shared_secret"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"` // negative disables
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	ValidateRequests   bool          `mapstructure:"validate_requests"`
}

// HostConfig controls the integration host.
type HostConfig struct {
	HealthCheckSchedule string        `mapstructure:"health_check_schedule"` // cron spec, empty disables
	WatchConfig         bool          `mapstructure:"watch_config"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: logger.DefaultConfig(),
		Gateway: GatewayConfig{
			Enabled:            true,
			Host:               "0.0.0.0",
			Port:               8123,
			RateLimitPerMinute: 120,
			RequestTimeout:     30 * time.Second,
			MaxBodyBytes:       1 << 20,
			ShutdownTimeout:    30 * time.Second,
		},
		Host: HostConfig{
			HealthCheckSchedule: "@every 1m",
			WatchConfig:         true,
			ShutdownTimeout:     30 * time.Second,
		},
		Integrations: map[string]map[string]any{},
	}
}

// GatewayOptions converts the gateway section for gateway.NewServer.
func (c *Config) GatewayOptions() gateway.Options {
	return gateway.Options{
		Host:               c.Gateway.Host,
		Port:               c.Gateway.Port,
		Secret:             c.Gateway.SharedSecret,
		RateLimitPerMinute: c.Gateway.RateLimitPerMinute,
		RequestTimeout:     c.Gateway.RequestTimeout,
		MaxBodyBytes:       c.Gateway.MaxBodyBytes,
		ShutdownTimeout:    c.Gateway.ShutdownTimeout,
		ValidateRequests:   c.Gateway.ValidateRequests,
	}
}

// IntegrationConfigs returns per-domain settings with ${VAR} references
// expanded from the environment, so secrets can stay out of the file.
func (c *Config) IntegrationConfigs() map[string]services.Values {
	out := make(map[string]services.Values, len(c.Integrations))
	for domain, raw := range c.Integrations {
		values := services.Values{}
		for k, v := range raw {
			values[k] = expandEnv(v)
		}
		out[domain] = values
	}
	return out
}

// Domains returns the configured integration domains, sorted.
func (c *Config) Domains() []string {
	domains := make([]string, 0, len(c.Integrations))
	for d := range c.Integrations {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

func expandEnv(v any) any {
	switch t := v.(type) {
	case string:
		return os.ExpandEnv(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = expandEnv(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = expandEnv(inner)
		}
		return s
	default:
		return v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	return NewValidator().ValidateConfig(c)
}

func (c *Config) settings() map[string]any {
	return map[string]any{
		"logging": map[string]any{
			"level":      c.Logging.Level,
			"file":       c.Logging.File,
			"console":    c.Logging.Console,
			"pretty":     c.Logging.Pretty,
			"redaction":  c.Logging.Redaction,
			"max_size":   c.Logging.MaxSize,
			"max_age":    c.Logging.MaxAge,
			"compress":   c.Logging.Compress,
			"audit_file": c.Logging.AuditFile,
		},
		"gateway": map[string]any{
			"enabled":               c.Gateway.Enabled,
			"host":                  c.Gateway.Host,
			"port":                  c.Gateway.Port,
			"shared_secret":         c.Gateway.SharedSecret,
			"rate_limit_per_minute": c.Gateway.RateLimitPerMinute,
			"request_timeout":       c.Gateway.RequestTimeout.String(),
			"max_body_bytes":        c.Gateway.MaxBodyBytes,
			"shutdown_timeout":      c.Gateway.ShutdownTimeout.String(),
			"validate_requests":     c.Gateway.ValidateRequests,
		},
		"host": map[string]any{
			"health_check_schedule": c.Host.HealthCheckSchedule,
			"watch_config":          c.Host.WatchConfig,
			"shutdown_timeout":      c.Host.ShutdownTimeout.String(),
		},
		"hooks":        c.hookSettings(),
		"integrations": c.Integrations,
	}
}

func (c *Config) hookSettings() []map[string]any {
	out := make([]map[string]any, 0, len(c.Hooks))
	for _, h := range c.Hooks {
		out = append(out, map[string]any{
			"id":      h.ID,
			"event":   h.Event,
			"script":  h.Script,
			"timeout": h.Timeout.String(),
			"enabled": h.Enabled,
		})
	}
	return out
}

func (c *Config) String() string {
	return fmt.Sprintf("gateway=%s:%d integrations=%v", c.Gateway.Host, c.Gateway.Port, c.Domains())
}
