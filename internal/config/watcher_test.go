package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanex-id/integrations/pkg/services"
)

type reloadCall struct {
	domain string
	cfg    services.Values
}

type fakeReloader struct {
	mu    sync.Mutex
	calls []reloadCall
	err   error
}

func (f *fakeReloader) Reload(_ context.Context, domain string, cfg services.Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reloadCall{domain, cfg})
	return f.err
}

func (f *fakeReloader) domains() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.domain)
	}
	return out
}

func configWith(integrations map[string]map[string]any) *Config {
	cfg := DefaultConfig()
	cfg.Integrations = integrations
	return cfg
}

func TestWatcherApply(t *testing.T) {
	applied := configWith(map[string]map[string]any{
		"slack":  {"webhook_url": "https://a"},
		"jira":   {"server_url": "https://jira"},
		"docker": {},
	})
	target := &fakeReloader{}
	w := NewWatcher(NewLoader("unused.yaml"), applied, target, zerolog.Nop())

	next := configWith(map[string]map[string]any{
		"slack":    {"webhook_url": "https://b"},
		"jira":     {"server_url": "https://jira"},
		"telegram": {"bot_token": "t"},
	})
	changed := w.Apply(context.Background(), next)

	assert.Equal(t, []string{"docker", "slack", "telegram"}, changed)
	require.Len(t, target.calls, 3)
	assert.Equal(t, services.Values{"enabled": false}, target.calls[0].cfg, "removed domain is disabled")
	assert.Equal(t, "https://b", target.calls[1].cfg.String("webhook_url"))

	// Applying the same config again changes nothing.
	assert.Empty(t, w.Apply(context.Background(), next))
	assert.Len(t, target.calls, 3)
}

func TestWatcherApply_ReloadErrorDoesNotStopOthers(t *testing.T) {
	target := &fakeReloader{err: errors.New("setup failed")}
	w := NewWatcher(NewLoader("unused.yaml"), configWith(nil), target, zerolog.Nop())

	changed := w.Apply(context.Background(), configWith(map[string]map[string]any{
		"a": {"x": 1},
		"b": {"x": 2},
	}))
	assert.Equal(t, []string{"a", "b"}, changed)
	assert.Len(t, target.calls, 2)
}

func TestWatcherRun_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("integrations:\n  slack:\n    webhook_url: https://a\n"), 0o644))

	loader := NewLoader(path)
	applied, err := loader.Load()
	require.NoError(t, err)

	target := &fakeReloader{}
	w := NewWatcher(loader, applied, target, zerolog.Nop())
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("integrations:\n  slack:\n    webhook_url: https://b\n"), 0o644))

	assert.Eventually(t, func() bool {
		return len(target.domains()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"slack"}, target.domains())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherRun_InvalidConfigIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("integrations:\n  slack: {}\n"), 0o644))

	loader := NewLoader(path)
	applied, err := loader.Load()
	require.NoError(t, err)

	target := &fakeReloader{}
	w := NewWatcher(loader, applied, target, zerolog.Nop())

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\nintegrations:\n  slack:\n    x: 1\n"), 0o644))
	w.reload(context.Background())
	assert.Empty(t, target.domains())
}
