package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/internal/config"
	"github.com/fanex-id/integrations/pkg/hooks"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

type pingIntegration struct{}

func (pingIntegration) Domain() string { return "ping" }

func (pingIntegration) Setup(ctx context.Context, sc *integration.SetupContext) error {
	if sc.Config.String("fail") != "" {
		return fmt.Errorf("ping: %s", sc.Config.String("fail"))
	}
	events := sc.Events()
	return sc.Register("ping", func(ctx context.Context, req services.Request) (services.Response, error) {
		events.Emit("ping.pinged", map[string]any{"who": req.StringOr("who", "anon")})
		return services.OK(map[string]any{"reply": "pong"}), nil
	}, nil, "Reply with pong")
}

func pingFactory() integration.Factory {
	return integration.Factory{
		Domain:   "ping",
		Manifest: []byte(`{"domain":"ping","name":"Ping","version":"1.0.0"}`),
		New:      func() integration.Integration { return pingIntegration{} },
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = freePort(t)
	cfg.Host.HealthCheckSchedule = ""
	cfg.Host.WatchConfig = false
	cfg.Host.ShutdownTimeout = 5 * time.Second
	cfg.Integrations["ping"] = map[string]any{}
	return cfg
}

func TestDaemon_StartServeStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.AuditFile = filepath.Join(t.TempDir(), "audit.log")
	pid := NewPIDFile(filepath.Join(t.TempDir(), "fanex.pid"))

	d, err := New(Options{Config: cfg, Factories: []integration.Factory{pingFactory()}, Logger: zerolog.Nop(), PIDFile: pid})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	got, running := pid.Running()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), got)

	status := d.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.Ready)
	assert.Equal(t, 1, status.Total)

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/api/services/ping/ping", "application/json", strings.NewReader(`{"who":"test"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Error(t, d.Start(context.Background()), "second start is rejected")

	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Status().Running)
	_, err = os.Stat(pid.Path())
	assert.True(t, os.IsNotExist(err), "PID file is removed")
	assert.Error(t, d.Stop(context.Background()))

	trail, err := os.ReadFile(cfg.Logging.AuditFile)
	require.NoError(t, err)
	assert.Contains(t, string(trail), `"action":"start"`)
	assert.Contains(t, string(trail), `"action":"call:ping.ping"`)
	assert.Contains(t, string(trail), `"action":"stop"`)
}

func TestDaemon_AuditFileError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.AuditFile = filepath.Join(t.TempDir(), "missing", "audit.log")

	_, err := New(Options{Config: cfg, Factories: []integration.Factory{pingFactory()}, Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open audit log")
}

func TestDaemon_SetupFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Enabled = false
	cfg.Integrations["ping"] = map[string]any{"fail": "no credentials"}

	d, err := New(Options{Config: cfg, Factories: []integration.Factory{pingFactory()}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Nil(t, d.Handler())

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	desc, ok := d.Host().Get("ping")
	require.True(t, ok)
	assert.Equal(t, integration.StateFailed, desc.State)
	assert.Equal(t, 0, d.Status().Ready)
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Enabled = false

	d, err := New(Options{Config: cfg, Factories: []integration.Factory{pingFactory()}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Status().Running }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, d.Status().Running)
}

func TestDaemon_HooksRunOnEvents(t *testing.T) {
	out := filepath.Join(t.TempDir(), "hook.txt")
	cfg := testConfig(t)
	cfg.Gateway.Enabled = false
	cfg.Hooks = []hooks.Hook{{Enabled: true, Event: "ping.*", Script: `echo "$FANEX_DATA_WHO" > ` + out}}

	d, err := New(Options{Config: cfg, Factories: []integration.Factory{pingFactory()}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	resp := d.Host().Registry().Invoke(context.Background(), "ping", "ping", services.Request{"who": "hooked"})
	require.True(t, resp.Success())

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(data)) == "hooked"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNew_RejectsBadFactory(t *testing.T) {
	_, err := New(Options{
		Config:    testConfig(t),
		Factories: []integration.Factory{{Domain: "broken", Manifest: []byte(`{}`), New: func() integration.Integration { return pingIntegration{} }}},
		Logger:    zerolog.Nop(),
	})
	assert.Error(t, err)
}
