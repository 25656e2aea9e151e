// Package cli implements the fanex command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fanex-id/integrations/internal/config"
	"github.com/fanex-id/integrations/internal/logger"
	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/integrations"
	"github.com/fanex-id/integrations/pkg/supervisor"
)

const version = "0.3.0"

var (
	cfgFile  string
	logLevel string
)

// factories is swapped in tests.
var factories = integrations.Builtin

var rootCmd = &cobra.Command{
	Use:   "fanex",
	Short: "faneX-ID integration runtime",
	Long: `fanex hosts the faneX-ID integration plugins (chat, ticketing, home
automation, virtualization, Microsoft 365, mail and AI assistants) and exposes
their services to the workflow engine over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fanex/fanex.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// toolLogger logs warnings and errors to w for one-shot commands, whose
// stdout is reserved for command output.
func toolLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	lc := cfg.Logging
	if logLevel == "" {
		lc.Level = "warn"
	}
	lc.File = ""
	lc.Console = true
	lc.Pretty = true
	l, err := logger.NewWithWriter(lc, w)
	if err != nil {
		return zerolog.Nop()
	}
	return l.Zerolog()
}

// newLocalHost builds a host without setting anything up. With domains
// non-nil only those plugins and their dependencies are added. The returned
// func shuts the host down.
func newLocalHost(cfg *config.Config, log zerolog.Logger, domains []string) (*integration.Host, func(), error) {
	available := factories()
	if domains != nil {
		selected, unknown, err := integrations.Select(available, domains)
		if err != nil {
			return nil, nil, err
		}
		if len(unknown) > 0 {
			return nil, nil, fmt.Errorf("unknown integration: %s", strings.Join(unknown, ", "))
		}
		available = selected
	}

	sup := supervisor.New(context.Background(), supervisor.Config{Logger: log})
	host := integration.NewHost(integration.Options{
		Supervisor: sup,
		Logger:     log,
		Configs:    cfg.IntegrationConfigs(),
	})
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = host.Shutdown(ctx)
		_ = sup.Stop(ctx)
	}
	for _, f := range available {
		if err := host.Add(f); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return host, closeFn, nil
}
