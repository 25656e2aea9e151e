package aiassistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{"bare object", `{"name":"wf","steps":[]}`, map[string]any{"name": "wf", "steps": []any{}}},
		{"surrounded by prose", "Here you go:\n{\"name\": \"wf\"}\nEnjoy.", map[string]any{"name": "wf"}},
		{"fenced", "```json\n{\"a\": 1}\n```", map[string]any{"a": float64(1)}},
		{"stray brace before fence", "Use {placeholders}. ```json\n{\"b\": true}\n```", map[string]any{"b": true}},
		{"nested", `x {"a": {"b": [1, 2]}} y`, map[string]any{"a": map[string]any{"b": []any{float64(1), float64(2)}}}},
		{"no json", "I cannot help with that.", nil},
		{"malformed", "{not json}", nil},
		{"array only", "[1, 2, 3]", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.text))
		})
	}
}

func TestFormatLogs(t *testing.T) {
	entries := []any{
		map[string]any{"timestamp": "2024-01-01T10:00:00Z", "level": "ERROR", "source": "api", "message": "boom"},
		map[string]any{"time": "t2", "severity": "WARN", "logger": "db", "msg": "slow"},
		map[string]any{"message": "no level"},
	}
	assert.Equal(t,
		"[2024-01-01T10:00:00Z] ERROR api: boom\n[t2] WARN db: slow\n[] INFO : no level",
		FormatLogs(entries))
}

func TestFormatLogs_KeepsMostRecent(t *testing.T) {
	entries := make([]any, 150)
	for i := range entries {
		entries[i] = map[string]any{"message": i}
	}
	out := FormatLogs(entries)
	assert.Contains(t, out, "[] INFO : 149")
	assert.Contains(t, out, "[] INFO : 50\n")
	assert.NotContains(t, out, "[] INFO : 49\n")
}

func TestFormatLogs_Empty(t *testing.T) {
	assert.Equal(t, "No logs provided.", FormatLogs(nil))
}
