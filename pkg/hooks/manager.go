// Package hooks runs shell commands when matching events are emitted on the
// integration event bus, e.g. paging someone on "docker.container_stopped".
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/fanex-id/integrations/pkg/events"
)

const defaultTimeout = 30 * time.Second

// Hook runs Script for every event whose name matches Event.
type Hook struct {
	ID      string        `mapstructure:"id"`
	Event   string        `mapstructure:"event"` // event name or pattern such as "telegram.*"
	Script  string        `mapstructure:"script"`
	Timeout time.Duration `mapstructure:"timeout"`
	Enabled bool          `mapstructure:"enabled"`
}

// Config configures a hook Manager.
type Config struct {
	Hooks  []Hook
	Logger zerolog.Logger
}

// Manager executes configured hooks for bus events.
type Manager struct {
	hooks  []Hook
	logger zerolog.Logger

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewManager validates the enabled hooks.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		logger: cfg.Logger.With().Str("component", "hooks").Logger(),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	for i, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		hook.Event = strings.TrimSpace(hook.Event)
		if hook.Event == "" {
			return nil, fmt.Errorf("hook %d: event is required", i)
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook %d: script is required for event %q", i, hook.Event)
		}
		if hook.ID == "" {
			hook.ID = hook.Event
		}
		if hook.Timeout <= 0 {
			hook.Timeout = defaultTimeout
		}
		m.hooks = append(m.hooks, hook)
	}
	return m, nil
}

// Len returns the number of enabled hooks.
func (m *Manager) Len() int {
	return len(m.hooks)
}

// Attach subscribes the manager to bus. Each matching hook runs in its own
// goroutine so a slow script never holds up event delivery.
func (m *Manager) Attach(bus *events.Bus) {
	if len(m.hooks) == 0 {
		return
	}
	unsubscribe := bus.Subscribe("*", func(evt events.Event) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		for _, hook := range m.matching(evt.Name) {
			m.wg.Add(1)
			go func(h Hook) {
				defer m.wg.Done()
				if err := m.Run(m.ctx, h, evt); err != nil {
					m.logger.Warn().Err(err).Str("hook_id", h.ID).Str("event", evt.Name).Msg("Hook failed")
				}
			}(hook)
		}
	})

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	m.logger.Info().Int("hooks", len(m.hooks)).Msg("Event hooks attached")
}

// Trigger runs every hook matching evt synchronously and joins their errors.
func (m *Manager) Trigger(ctx context.Context, evt events.Event) error {
	var errs []error
	for _, hook := range m.matching(evt.Name) {
		if err := m.Run(ctx, hook, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) matching(name string) []Hook {
	var out []Hook
	for _, hook := range m.hooks {
		if events.Match(hook.Event, name) {
			out = append(out, hook)
		}
	}
	return out
}

// Run executes one hook for evt through /bin/sh.
func (m *Manager) Run(ctx context.Context, hook Hook, evt events.Event) error {
	runCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = environment(evt)

	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if text != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hook.ID, err, text)
		}
		return fmt.Errorf("hook %s failed: %w", hook.ID, err)
	}

	m.logger.Debug().
		Str("event", evt.Name).
		Str("hook_id", hook.ID).
		Str("output", text).
		Msg("Hook executed")
	return nil
}

// Close detaches from the bus, cancels running scripts and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func environment(evt events.Event) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		"FANEX_EVENT="+evt.Name,
		"FANEX_EVENT_ID="+evt.ID,
		"FANEX_EVENT_TIME="+evt.Timestamp.UTC().Format(time.RFC3339),
	)
	if len(evt.Data) == 0 {
		return env
	}

	if raw, err := json.Marshal(evt.Data); err == nil {
		env = append(env, "FANEX_EVENT_DATA="+string(raw))
	}

	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value, err := cast.ToStringE(evt.Data[key])
		if err != nil {
			raw, _ := json.Marshal(evt.Data[key])
			value = string(raw)
		}
		env = append(env, "FANEX_DATA_"+normalizeEnvKey(key)+"="+value)
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
