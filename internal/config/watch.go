// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// HOT RELOAD
// =============================================================================

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and hands the result to onChange.
// A failed reload passes a nil config and the error; the caller keeps its
// previous configuration. The parent directory is watched so atomic
// rename-over saves are seen. Call stop to end watching.
func Watch(path string, onChange func(*Config, error)) (stop func() error, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	var (
		mu      sync.Mutex
		pending *time.Timer
		stopped bool
	)
	reload := func() {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		mu.Unlock()

		cfg, err := LoadFromPath(abs)
		if err != nil {
			log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", abs, err)
		} else {
			log.Printf("CONFIG_RELOADED | path=%s", abs)
		}
		onChange(cfg, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				mu.Lock()
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(watchDebounce, reload)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("CONFIG_WATCH_ERROR | path=%s error=%v", abs, err)
			}
		}
	}()

	var once sync.Once
	stop = func() error {
		var closeErr error
		once.Do(func() {
			mu.Lock()
			stopped = true
			if pending != nil {
				pending.Stop()
			}
			mu.Unlock()
			closeErr = watcher.Close()
			<-done
		})
		return closeErr
	}
	return stop, nil
}
