package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/services"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader re-runs setup for one integration with new settings.
// *integration.Host satisfies it.
type Reloader interface {
	Reload(ctx context.Context, domain string, cfg services.Values) error
}

// Watcher reloads integrations whose settings changed on disk.
type Watcher struct {
	loader   *Loader
	target   Reloader
	logger   zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	current map[string]services.Values
}

// NewWatcher creates a watcher starting from the already applied config.
func NewWatcher(loader *Loader, applied *Config, target Reloader, logger zerolog.Logger) *Watcher {
	return &Watcher{
		loader:   loader,
		target:   target,
		logger:   logger.With().Str("component", "config_watcher").Logger(),
		debounce: defaultDebounce,
		current:  applied.IntegrationConfigs(),
	}
}

// Run watches the config file's directory until ctx is done. Editors often
// replace files by rename, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	path := filepath.Clean(w.loader.Path())
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	w.logger.Info().Str("path", path).Msg("Watching config file")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != path || !evt.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload config, keeping current settings")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error().Err(err).Msg("Reloaded config is invalid, keeping current settings")
		return
	}
	w.Apply(ctx, cfg)
}

// Apply reloads every integration whose settings differ from the last
// applied config and returns the affected domains. A domain removed from the
// file is reloaded disabled.
func (w *Watcher) Apply(ctx context.Context, cfg *Config) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := cfg.IntegrationConfigs()
	var changed []string

	for _, domain := range unionKeys(w.current, next) {
		before, after := w.current[domain], next[domain]
		if reflect.DeepEqual(before, after) {
			continue
		}
		if after == nil {
			after = services.Values{"enabled": false}
		}
		changed = append(changed, domain)

		if err := w.target.Reload(ctx, domain, after); err != nil {
			w.logger.Error().Err(err).Str("integration", domain).Msg("Integration reload failed")
			continue
		}
		w.logger.Info().Str("integration", domain).Msg("Integration reloaded after config change")
	}

	w.current = next
	return changed
}

func unionKeys(a, b map[string]services.Values) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
