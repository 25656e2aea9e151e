package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/services"
)

func TestDocsCommand(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		out, _, err := execute(t, "docs", "--config", writeConfig(t, ""))
		require.NoError(t, err)
		assert.Contains(t, out, "# faneX-ID Integrations")
		assert.Contains(t, out, "## Generic Webhook (`webhook`)")
		assert.Contains(t, out, "- `webhook.send_webhook`")
		assert.Contains(t, out, "Depends on: `microsoft_graph`")
	})

	t.Run("output file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "INTEGRATIONS.md")
		out, _, err := execute(t, "docs", "--config", writeConfig(t, ""), "--output", file)
		require.NoError(t, err)
		assert.Empty(t, out)

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "`default_url`")
	})
}

func TestWriteIntegrationDocs(t *testing.T) {
	m := &integration.Manifest{
		Domain:      "demo",
		Name:        "Demo",
		Description: "Demo integration",
		Services:    []string{"ping"},
		Events:      []string{"demo.pinged"},
		Config: map[string]any{
			"properties": map[string]any{
				"token": map[string]any{"type": "string"},
				"retries": map[string]any{"type": "integer", "default": 3},
			},
			"required": []any{"token"},
		},
	}

	t.Run("manifest only", func(t *testing.T) {
		var buf bytes.Buffer
		writeIntegrationDocs(&buf, m, nil)
		out := buf.String()

		assert.Contains(t, out, "## Demo (`demo`)")
		assert.Contains(t, out, "Demo integration")
		assert.Contains(t, out, "### Configuration")
		assert.Contains(t, out, "`token`")
		assert.Contains(t, out, "yes")
		assert.Contains(t, out, "3")
		assert.Contains(t, out, "- `demo.ping`")
		assert.Contains(t, out, "- `demo.pinged`")
		assert.NotContains(t, out, "Depends on")
	})

	t.Run("registered services", func(t *testing.T) {
		var buf bytes.Buffer
		writeIntegrationDocs(&buf, m, []services.Entry{{
			Domain:      "demo",
			Service:     "ping",
			Description: "Ping the demo",
			Schema:      services.Schema{"target": {Type: services.TypeString, Required: true}},
		}})
		out := buf.String()

		assert.Contains(t, out, "`ping`")
		assert.Contains(t, out, "target*")
		assert.Contains(t, out, "Ping the demo")
		assert.NotContains(t, out, "- `demo.ping`")
	})
}
