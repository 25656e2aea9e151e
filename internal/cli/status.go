package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fanex-id/integrations/internal/daemon"
	"github.com/fanex-id/integrations/pkg/integration"
)

var gatewayURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and integration status",
	Long: `Show whether a fanex daemon is running and, when its gateway is
reachable, the state of every integration.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&pidFile, "pid-file", daemon.DefaultPIDPath(), "PID file path")
	statusCmd.Flags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default from config)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	pf := daemon.NewPIDFile(pidFile)

	pid, running := pf.Running()
	if !running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}
	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if started, err := pf.Started(); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(started)))
	}

	base := gatewayURL
	if base == "" {
		cfg, _, err := loadConfig()
		if err != nil || !cfg.Gateway.Enabled {
			return nil
		}
		host := cfg.Gateway.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		base = fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
	}

	descriptors, err := fetchIntegrations(base)
	if err != nil {
		fmt.Fprintf(out, "Gateway: unreachable (%v)\n", err)
		return nil
	}
	renderIntegrations(out, descriptors)
	return nil
}

func fetchIntegrations(base string) ([]integration.Descriptor, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/api/integrations")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Integrations []integration.Descriptor `json:"integrations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return body.Integrations, nil
}

func renderIntegrations(w io.Writer, descriptors []integration.Descriptor) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Domain", "Version", "State", "Error"})
	for _, d := range descriptors {
		t.AppendRow(table.Row{d.Domain, d.Version, d.State, d.Error})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
