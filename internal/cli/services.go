package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

var servicesSetup bool

var servicesCmd = &cobra.Command{
	Use:   "services [domain]",
	Short: "List integration services",
	Long: `List the services of every bundled integration. With --setup the
configured integrations are set up first so registered descriptions and
request fields are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServices,
}

func init() {
	servicesCmd.Flags().BoolVar(&servicesSetup, "setup", false, "set up configured integrations before listing")
	rootCmd.AddCommand(servicesCmd)
}

func runServices(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	log := toolLogger(cfg, cmd.ErrOrStderr())

	host, closeHost, err := newLocalHost(cfg, log, nil)
	if err != nil {
		return err
	}
	defer closeHost()

	if servicesSetup {
		setupConfigured(cmd.Context(), host, cfg.Domains())
	}

	filter := ""
	if len(args) == 1 {
		filter = args[0]
		if _, ok := host.Get(filter); !ok {
			return fmt.Errorf("%s: %w", filter, integration.ErrUnknownIntegration)
		}
	}

	snapshot := host.Registry().Snapshot()
	configured := map[string]bool{}
	for _, d := range cfg.Domains() {
		configured[d] = true
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Domain", "Service", "Status", "Fields", "Description"})
	for _, d := range host.Descriptors() {
		if filter != "" && d.Domain != filter {
			continue
		}
		if entries := snapshot.ByDomain(d.Domain); len(entries) > 0 {
			for _, e := range entries {
				t.AppendRow(table.Row{e.Domain, e.Service, string(d.State), fieldList(e.Schema), e.Description})
			}
			continue
		}
		status := serviceStatus(d, configured[d.Domain])
		for _, name := range d.Manifest.Services {
			t.AppendRow(table.Row{d.Domain, name, status, "", ""})
		}
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return nil
}

// setupConfigured sets up the configured domains that have a plugin,
// dependencies first. Failures are logged by the host and reflected in the
// descriptor state.
func setupConfigured(ctx context.Context, host *integration.Host, domains []string) {
	if ctx == nil {
		ctx = context.Background()
	}
	done := map[string]bool{}
	var setup func(string)
	setup = func(domain string) {
		if done[domain] {
			return
		}
		done[domain] = true
		d, ok := host.Get(domain)
		if !ok {
			return
		}
		for _, dep := range d.Manifest.DependsOn() {
			setup(dep)
		}
		_ = host.Setup(ctx, domain)
	}
	for _, domain := range domains {
		setup(domain)
	}
}

func serviceStatus(d integration.Descriptor, configured bool) string {
	switch {
	case d.Disabled:
		return "disabled"
	case d.State == integration.StateFailed:
		return "failed"
	case !configured:
		return "not configured"
	default:
		return string(d.State)
	}
}

func fieldList(schema services.Schema) string {
	names := schema.Fields()
	for i, name := range names {
		if schema[name].Required {
			names[i] = name + "*"
		}
	}
	return strings.Join(names, ", ")
}
