package cli

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		pid := filepath.Join(t.TempDir(), "fanex.pid")
		_, _, err := execute(t, "stop", "--pid-file", pid)
		require.Error(t, err)
		assert.Equal(t, "daemon is not running", err.Error())
	})

	t.Run("terminates process", func(t *testing.T) {
		proc := exec.Command("sleep", "30")
		require.NoError(t, proc.Start())
		// Reap the child so it does not linger as a zombie after SIGTERM.
		go func() { _ = proc.Wait() }()

		pid := filepath.Join(t.TempDir(), "fanex.pid")
		require.NoError(t, os.WriteFile(pid, []byte(strconv.Itoa(proc.Process.Pid)), 0o644))

		out, _, err := execute(t, "stop", "--pid-file", pid, "--timeout", "5s")
		require.NoError(t, err)
		assert.Contains(t, out, "Daemon stopped")
	})
}
