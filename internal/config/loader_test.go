package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderPath(t *testing.T) {
	assert.Equal(t, "/etc/fanex/fanex.yaml", NewLoader("/etc/fanex/fanex.yaml").Path())
	assert.Contains(t, NewLoader("").Path(), filepath.Join(".fanex", "fanex.yaml"))
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Gateway, cfg.Gateway)
	assert.Empty(t, cfg.Integrations)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "fanex.yaml", `
logging:
  level: debug
gateway:
  port: 9100
  shared_secret: abc
  request_timeout: 5s
host:
  health_check_schedule: "@every 30s"
integrations:
  slack:
    webhook_url: https://hooks.slack.test/x
    default_channel: "#ops"
  docker:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console, "unset keys keep defaults")
	assert.Equal(t, 9100, cfg.Gateway.Port)
	assert.Equal(t, "abc", cfg.Gateway.SharedSecret)
	assert.Equal(t, 5*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, 120, cfg.Gateway.RateLimitPerMinute)
	assert.Equal(t, "@every 30s", cfg.Host.HealthCheckSchedule)
	assert.Equal(t, []string{"docker", "slack"}, cfg.Domains())
	assert.Equal(t, "#ops", cfg.Integrations["slack"]["default_channel"])
	assert.Equal(t, false, cfg.Integrations["docker"]["enabled"])
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "fanex.json", `{"gateway":{"port":9200},"integrations":{"jira":{"server_url":"https://jira.test"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Gateway.Port)
	assert.Equal(t, "https://jira.test", cfg.Integrations["jira"]["server_url"])
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeFile(t, "fanex.yaml", "gateway:\n  port: 9100\n")
	t.Setenv("FANEX_GATEWAY_PORT", "9300")
	t.Setenv("FANEX_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Gateway.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeFile(t, "fanex.json", "not json")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fanex.yaml")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Gateway.Port = 9400
	cfg.Gateway.ShutdownTimeout = 10 * time.Second
	cfg.Integrations["webhook"] = map[string]any{"default_url": "https://example.test/hook"}
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9400, loaded.Gateway.Port)
	assert.Equal(t, 10*time.Second, loaded.Gateway.ShutdownTimeout)
	assert.Equal(t, "https://example.test/hook", loaded.Integrations["webhook"]["default_url"])
}

func TestLoad_Hooks(t *testing.T) {
	path := writeFile(t, "fanex.yaml", `
hooks:
  - id: page-oncall
    event: "docker.*"
    script: ./page.sh
    timeout: 10s
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Hooks, 1)
	assert.Equal(t, "page-oncall", cfg.Hooks[0].ID)
	assert.Equal(t, "docker.*", cfg.Hooks[0].Event)
	assert.Equal(t, 10*time.Second, cfg.Hooks[0].Timeout)
	assert.True(t, cfg.Hooks[0].Enabled)
	assert.NoError(t, cfg.Validate())
}
