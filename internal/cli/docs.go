package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

var (
	docsOutput string
	docsSetup  bool
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Generate markdown documentation for all integrations",
	Long: `Render a markdown overview of every bundled integration from its
manifest: configuration keys, services and events. With --setup the configured
integrations are set up and their request fields are documented too.`,
	Args: cobra.NoArgs,
	RunE: runDocs,
}

func init() {
	docsCmd.Flags().StringVarP(&docsOutput, "output", "o", "", "write to file instead of stdout")
	docsCmd.Flags().BoolVar(&docsSetup, "setup", false, "set up configured integrations to include request fields")
	rootCmd.AddCommand(docsCmd)
}

func runDocs(cmd *cobra.Command, args []string) error {
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

	if docsSetup {
		setupConfigured(cmd.Context(), host, cfg.Domains())
	}

	var out io.Writer = cmd.OutOrStdout()
	if docsOutput != "" {
		f, err := os.Create(docsOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", docsOutput, err)
		}
		defer f.Close()
		out = f
	}

	writeDocs(out, host.Descriptors(), host.Registry().Snapshot())
	return nil
}

func writeDocs(w io.Writer, descriptors []integration.Descriptor, snapshot services.Snapshot) {
	fmt.Fprintln(w, "# faneX-ID Integrations")
	fmt.Fprintln(w)

	overview := table.NewWriter()
	overview.AppendHeader(table.Row{"Integration", "Domain", "Version", "Capabilities", "Services"})
	for _, d := range descriptors {
		m := d.Manifest
		overview.AppendRow(table.Row{m.Name, "`" + m.Domain + "`", m.Version, strings.Join(m.Capabilities, ", "), len(m.Services)})
	}
	fmt.Fprintln(w, overview.RenderMarkdown())

	for _, d := range descriptors {
		writeIntegrationDocs(w, d.Manifest, snapshot.ByDomain(d.Domain))
	}
}

func writeIntegrationDocs(w io.Writer, m *integration.Manifest, registered []services.Entry) {
	fmt.Fprintf(w, "\n## %s (`%s`)\n\n", m.Name, m.Domain)
	if m.Description != "" {
		fmt.Fprintf(w, "%s\n\n", m.Description)
	}
	if deps := m.DependsOn(); len(deps) > 0 {
		fmt.Fprintf(w, "Depends on: `%s`\n\n", strings.Join(deps, "`, `"))
	}

	if props, _ := m.Config["properties"].(map[string]any); len(props) > 0 {
		required := map[string]bool{}
		for _, r := range cast.ToStringSlice(m.Config["required"]) {
			required[r] = true
		}
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		t := table.NewWriter()
		t.AppendHeader(table.Row{"Key", "Type", "Required", "Default"})
		for _, k := range keys {
			prop, _ := props[k].(map[string]any)
			def := ""
			if v, ok := prop["default"]; ok {
				def = cast.ToString(v)
			}
			t.AppendRow(table.Row{"`" + k + "`", cast.ToString(prop["type"]), yesNo(required[k]), def})
		}
		fmt.Fprintf(w, "### Configuration\n\n%s\n\n", t.RenderMarkdown())
	}

	fmt.Fprintln(w, "### Services")
	fmt.Fprintln(w)
	if len(registered) > 0 {
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Service", "Fields", "Description"})
		for _, e := range registered {
			t.AppendRow(table.Row{"`" + e.Service + "`", fieldList(e.Schema), e.Description})
		}
		fmt.Fprintln(w, t.RenderMarkdown())
	} else {
		for _, s := range m.Services {
			fmt.Fprintf(w, "- `%s.%s`\n", m.Domain, s)
		}
	}

	if len(m.Events) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "### Events")
		fmt.Fprintln(w)
		for _, e := range m.Events {
			fmt.Fprintf(w, "- `%s`\n", e)
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
