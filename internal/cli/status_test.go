package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/pkg/integration"
)

func TestStatusCommand(t *testing.T) {
	t.Run("stopped", func(t *testing.T) {
		pid := filepath.Join(t.TempDir(), "fanex.pid")
		out, _, err := execute(t, "status", "--pid-file", pid)
		require.NoError(t, err)
		assert.Equal(t, "Status: stopped\n", out)
	})

	t.Run("stale pid file", func(t *testing.T) {
		pid := filepath.Join(t.TempDir(), "fanex.pid")
		require.NoError(t, os.WriteFile(pid, []byte("not-a-pid"), 0o644))
		out, _, err := execute(t, "status", "--pid-file", pid)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: stopped")
	})

	t.Run("running with gateway", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/integrations", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"integrations": []integration.Descriptor{
					{Domain: "webhook", Version: "1.0.0", State: integration.StateReady},
					{Domain: "slack", Version: "1.0.0", State: integration.StateFailed, Error: "missing webhook_url"},
				},
				"count": 2,
			})
		}))
		defer server.Close()

		pid := filepath.Join(t.TempDir(), "fanex.pid")
		require.NoError(t, os.WriteFile(pid, []byte(strconv.Itoa(os.Getpid())), 0o644))

		out, _, err := execute(t, "status", "--pid-file", pid, "--gateway", server.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Status: running")
		assert.Contains(t, out, "PID: "+strconv.Itoa(os.Getpid()))
		assert.Contains(t, out, "Uptime:")
		assert.Contains(t, out, "webhook")
		assert.Contains(t, out, "missing webhook_url")
	})

	t.Run("gateway unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()

		pid := filepath.Join(t.TempDir(), "fanex.pid")
		require.NoError(t, os.WriteFile(pid, []byte(strconv.Itoa(os.Getpid())), 0o644))

		out, _, err := execute(t, "status", "--pid-file", pid, "--gateway", server.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Gateway: unreachable")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{90*time.Second + 400*time.Millisecond, "1m30s"},
		{2*time.Hour + 5*time.Minute + 9*time.Second, "2h5m9s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}
