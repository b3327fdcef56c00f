// Copyright (c) 2026 Mongrest. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package schema

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider hands out the current [Registry] and, when hot reload is enabled,
// swaps in freshly loaded registries atomically.
//
// # Concurrency
//
// Readers call [Provider.Registry] on every request; the atomic pointer makes
// the swap race-free without any lock on the hot path. A request that started
// on the old registry finishes on the old registry.
type Provider struct {
	dir     string
	current atomic.Pointer[Registry]
	log     *slog.Logger
}

// NewProvider loads the initial registry from dir. A load failure at startup
// is fatal by contract, so the error must abort the process.
func NewProvider(dir string, log *slog.Logger) (*Provider, error) {
	registry, err := Load(dir)
	if err != nil {
		return nil, err
	}

	provider := &Provider{dir: dir, log: log}
	provider.current.Store(registry)

	log.Info("schema registry loaded",
		slog.Int("collections", len(registry.collections)),
		slog.Int("procedures", len(registry.procedures)),
	)

	return provider, nil
}

// Registry returns the current registry snapshot.
func (p *Provider) Registry() *Registry {
	return p.current.Load()
}

// Watch runs the hot-reload loop until ctx is cancelled. Descriptor changes
// are debounced, then the whole directory is reloaded; a failed reload keeps
// the previous registry serving.
func (p *Provider) Watch(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schema: create watcher: %w", err)
	}
	defer watcher.Close()

	for _, sub := range []string{"collections", "procedures"} {
		path := filepath.Join(p.dir, sub)
		if err := watcher.Add(path); err != nil {
			p.log.Warn("schema_watch_skip", slog.String("path", path), slog.Any("error", err))
		}
	}

	p.log.Info("schema hot reload enabled", slog.String("dir", p.dir), slog.Duration("debounce", debounce))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			p.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("schema_watch_error", slog.Any("error", err))
		}
	}
}

// reload builds a fresh registry and swaps it in. Failures never disturb the
// registry currently serving.
func (p *Provider) reload() {
	registry, err := Load(p.dir)
	if err != nil {
		p.log.Error("schema_reload_failed", slog.Any("error", err))
		return
	}

	p.current.Store(registry)
	p.log.Info("schema registry reloaded",
		slog.Int("collections", len(registry.collections)),
		slog.Int("procedures", len(registry.procedures)),
	)
}
