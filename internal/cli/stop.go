package cli

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fanex-id/integrations/internal/daemon"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running fanex daemon",
	Long: `Send SIGTERM to the daemon recorded in the PID file and wait for it to
shut down. SIGKILL is sent once the timeout expires.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&pidFile, "pid-file", daemon.DefaultPIDPath(), "PID file path")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "time to wait before sending SIGKILL")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	pf := daemon.NewPIDFile(pidFile)

	if err := pf.Signal(syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if _, running := pf.Running(); !running {
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL")
	if err := pf.Signal(syscall.SIGKILL); err != nil {
		return err
	}
	fmt.Fprintln(out, "Daemon killed")
	return nil
}
