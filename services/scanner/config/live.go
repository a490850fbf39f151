// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Live holds the current configuration and refreshes the policy section
// when the file changes on disk. It implements storage.ConfigStore.
//
// Only Policy is hot: everything else (ports, storage, windows) is wired
// into running components and keeps its boot-time value until restart.
type Live struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewLive wraps a loaded configuration. path may be empty when no file is
// in play (env-only deployments); Watch is then a no-op.
func NewLive(cfg Config, path string, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{path: path, logger: logger, cfg: cfg}
}

// Snapshot returns a copy of the current configuration.
func (l *Live) Snapshot() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// AllowSecretReveal implements storage.ConfigStore.
func (l *Live) AllowSecretReveal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.Policy.AllowSecretReveal
}

// RetentionPeriod implements storage.ConfigStore.
func (l *Live) RetentionPeriod() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.RetentionPeriod()
}

// Watch blocks until ctx is done, reloading the policy section whenever
// the config file is rewritten. Reload failures keep the previous policy.
func (l *Live) Watch(ctx context.Context) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors and config maps replace
	// the file, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.reloadPolicy()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (l *Live) reloadPolicy() {
	fresh, err := Load(l.path)
	if err != nil {
		l.logger.Warn("config reload failed, keeping previous policy", "error", err)
		return
	}

	l.mu.Lock()
	changed := l.cfg.Policy != fresh.Policy
	l.cfg.Policy = fresh.Policy
	l.mu.Unlock()

	if changed {
		l.logger.Info("policy reloaded",
			"allow_secret_reveal", fresh.Policy.AllowSecretReveal)
	}
}
