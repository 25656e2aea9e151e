package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and stderr.
// Flag values live in package variables, so every flag is reset first.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetIn(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// writeConfig writes a YAML config into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fanex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, _, err := execute(t, "--version")
		require.NoError(t, err)
		assert.Equal(t, "fanex version "+GetVersion()+"\n", out)
	})

	t.Run("version command", func(t *testing.T) {
		out, _, err := execute(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "fanex "+GetVersion())
	})

	t.Run("subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"serve", "status", "stop", "call", "services", "docs", "version"} {
			assert.True(t, names[want], "missing %s command", want)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		_, _, err := execute(t, "nope")
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("log level override", func(t *testing.T) {
		cfgFile = writeConfig(t, "logging:\n  level: info\n")
		logLevel = "debug"
		t.Cleanup(func() { cfgFile, logLevel = "", "" })

		cfg, loader, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, cfgFile, loader.Path())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfgFile = writeConfig(t, "gateway:\n  port: 70000\n")
		t.Cleanup(func() { cfgFile = "" })

		_, _, err := loadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port must be between 1 and 65535")
	})
}

func TestNewLocalHost(t *testing.T) {
	cfgFile = writeConfig(t, "")
	t.Cleanup(func() { cfgFile = "" })
	cfg, _, err := loadConfig()
	require.NoError(t, err)

	t.Run("all", func(t *testing.T) {
		host, closeHost, err := newLocalHost(cfg, toolLogger(cfg, &bytes.Buffer{}), nil)
		require.NoError(t, err)
		defer closeHost()
		assert.Len(t, host.Descriptors(), len(factories()))
	})

	t.Run("selected with dependencies", func(t *testing.T) {
		host, closeHost, err := newLocalHost(cfg, toolLogger(cfg, &bytes.Buffer{}), []string{"microsoft_graph_exchange"})
		require.NoError(t, err)
		defer closeHost()

		var domains []string
		for _, d := range host.Descriptors() {
			domains = append(domains, d.Domain)
		}
		assert.ElementsMatch(t, []string{"microsoft_graph", "microsoft_graph_exchange"}, domains)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := newLocalHost(cfg, toolLogger(cfg, &bytes.Buffer{}), []string{"nope"})
		require.Error(t, err)
		assert.Equal(t, "unknown integration: nope", err.Error())
	})
}
