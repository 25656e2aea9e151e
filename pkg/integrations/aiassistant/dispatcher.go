package aiassistant

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/fanex-id/integrations/pkg/clientcache"
)

type backendFunc func(ctx context.Context, provider string, cfg Config) (Backend, error)

// Dispatcher routes completions to a provider backend. Backends are built on
// first use and cached per provider for the life of the dispatcher.
type Dispatcher struct {
	cfg      Config
	logger   zerolog.Logger
	backends *clientcache.Cache[Backend]
	build    backendFunc
}

// NewDispatcher returns a dispatcher for cfg.
func NewDispatcher(cfg Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		logger: logger,
		backends: clientcache.New(clientcache.WithOnEvict(func(provider string, b Backend) {
			if c, ok := b.(io.Closer); ok {
				if err := c.Close(); err != nil {
					logger.Warn().Err(err).Str("provider", provider).Msg("Failed to close AI backend")
				}
			}
		})),
		build: newBackend,
	}
}

// Available returns the providers with credentials, in priority order.
func (d *Dispatcher) Available() []string {
	out := make([]string, 0, len(priority))
	for _, p := range priority {
		if d.cfg.available(p) {
			out = append(out, p)
		}
	}
	return out
}

// Select resolves a provider selector to a concrete provider name.
//
// "auto" (or empty) picks the default provider when it has credentials and
// otherwise the first available provider in priority order. An explicit
// provider is returned as is when available; it never falls back.
func (d *Dispatcher) Select(provider string) (string, error) {
	if provider == "" || provider == ProviderAuto {
		if def, err := canonical(d.cfg.DefaultProvider); err == nil && d.cfg.available(def) {
			return def, nil
		}
		for _, p := range priority {
			if d.cfg.available(p) {
				return p, nil
			}
		}
		return "", ErrNoProvider
	}

	name, err := canonical(provider)
	if err != nil {
		return "", err
	}
	if !d.cfg.available(name) {
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, name)
	}
	return name, nil
}

// Query sends p to the selected provider. Zero MaxTokens or Temperature
// take the configured defaults.
func (d *Dispatcher) Query(ctx context.Context, provider string, p Prompt) (Result, error) {
	name, err := d.Select(provider)
	if err != nil {
		return Result{}, err
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = d.cfg.MaxTokens
	}
	if p.Temperature <= 0 {
		p.Temperature = d.cfg.Temperature
	}

	backend, err := d.backends.Get(ctx, name, func(ctx context.Context) (Backend, error) {
		d.logger.Debug().Str("provider", name).Msg("Creating AI backend")
		return d.build(ctx, name, d.cfg)
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}

	res, err := backend.Complete(ctx, p)
	if err != nil {
		d.logger.Error().Err(err).Str("provider", name).Msg("AI query failed")
		return Result{}, fmt.Errorf("%s query failed: %w", name, err)
	}
	res.Provider = name
	return res, nil
}

// Close releases every cached backend.
func (d *Dispatcher) Close() {
	d.backends.Purge()
}
