package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fanex-id/integrations/internal/daemon"
	"github.com/fanex-id/integrations/internal/logger"
)

var pidFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the integration host and gateway",
	Long: `Set up every configured integration and serve their services over the
gateway until SIGINT or SIGTERM. Integration settings are reloaded when the
config file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&pidFile, "pid-file", daemon.DefaultPIDPath(), "PID file path (empty disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Loader:    loader,
		Factories: factories(),
		Logger:    log.Zerolog(),
		PIDFile:   daemon.NewPIDFile(pidFile),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
