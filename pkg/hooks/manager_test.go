package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/pkg/events"
)

func newEvent(name string, data map[string]any) events.Event {
	return events.Event{ID: "evt-1", Name: name, Data: data, Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{Hooks: []Hook{{Enabled: true, Script: "true"}}})
	assert.ErrorContains(t, err, "event is required")

	_, err = NewManager(Config{Hooks: []Hook{{Enabled: true, Event: "slack.*"}}})
	assert.ErrorContains(t, err, "script is required")

	m, err := NewManager(Config{Hooks: []Hook{
		{Event: "slack.*", Script: "true"},
		{Enabled: true, Event: "jira.*", Script: "true"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len(), "disabled hooks are skipped")
	assert.Equal(t, "jira.*", m.hooks[0].ID)
	assert.Equal(t, defaultTimeout, m.hooks[0].Timeout)
}

func TestTrigger_RunsMatchingHooks(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	m, err := NewManager(Config{
		Logger: zerolog.Nop(),
		Hooks: []Hook{
			{ID: "tickets", Enabled: true, Event: "jira.*", Script: `echo "$FANEX_EVENT:$FANEX_DATA_ISSUE_KEY:$FANEX_EVENT_ID" >> ` + out},
			{ID: "other", Enabled: true, Event: "slack.message_sent", Script: "echo slack >> " + out},
		},
	})
	require.NoError(t, err)

	require.NoError(t, m.Trigger(context.Background(), newEvent("jira.ticket_created", map[string]any{"issue_key": "OPS-7"})))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "jira.ticket_created:OPS-7:evt-1\n", string(data))
}

func TestTrigger_EventDataJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	m, err := NewManager(Config{Hooks: []Hook{
		{Enabled: true, Event: "*", Script: `printf '%s' "$FANEX_EVENT_DATA" > ` + out},
	}})
	require.NoError(t, err)

	require.NoError(t, m.Trigger(context.Background(), newEvent("docker.container_started", map[string]any{"id": "abc", "ports": []any{80}})))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc","ports":[80]}`, string(data))
}

func TestTrigger_FailureIncludesOutput(t *testing.T) {
	m, err := NewManager(Config{Hooks: []Hook{
		{ID: "broken", Enabled: true, Event: "x", Script: "echo boom; exit 3"},
	}})
	require.NoError(t, err)

	err = m.Trigger(context.Background(), newEvent("x", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook broken failed")
	assert.Contains(t, err.Error(), "boom")
}

func TestTrigger_Timeout(t *testing.T) {
	m, err := NewManager(Config{Hooks: []Hook{
		{ID: "slow", Enabled: true, Event: "x", Script: "sleep 5", Timeout: 50 * time.Millisecond},
	}})
	require.NoError(t, err)

	start := time.Now()
	assert.Error(t, m.Trigger(context.Background(), newEvent("x", nil)))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestAttach_RunsOnBusEvents(t *testing.T) {
	out := filepath.Join(t.TempDir(), "bus.txt")
	bus := events.NewBus(zerolog.Nop())
	defer bus.Close()

	m, err := NewManager(Config{Hooks: []Hook{
		{Enabled: true, Event: "telegram.*", Script: `echo "$FANEX_DATA_CHAT_ID" >> ` + out},
	}})
	require.NoError(t, err)
	m.Attach(bus)

	bus.Emit("telegram.message_sent", map[string]any{"chat_id": int64(42)})
	bus.Emit("slack.message_sent", map[string]any{"chat_id": "ignored"})

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && strings.TrimSpace(string(data)) == "42"
	}, 3*time.Second, 20*time.Millisecond)

	m.Close()
	bus.Emit("telegram.message_sent", map[string]any{"chat_id": 7})
	time.Sleep(100 * time.Millisecond)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(data))
}

func TestNormalizeEnvKey(t *testing.T) {
	assert.Equal(t, "ISSUE_KEY", normalizeEnvKey("issue-key"))
	assert.Equal(t, "A_B_1", normalizeEnvKey(" a.b.1 "))
	assert.Equal(t, "UNKNOWN", normalizeEnvKey(""))
}
