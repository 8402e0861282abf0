// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard watches a file for external mutation while a pipeline
// stage holds it as ground truth.
//
// The pipeline's non-mutation guarantee only covers its own writes; a
// concurrent writer (the live session appending, another tool editing the
// file) silently invalidates every checksum taken earlier. The guard
// turns that silent invalidation into a detectable condition.
package guard

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// mutatingOps are the event kinds that change the watched file's content
// or identity. Chmod is deliberately excluded.
const mutatingOps = fsnotify.Write | fsnotify.Remove | fsnotify.Rename | fsnotify.Create

// Guard watches one file for mutation until stopped.
//
// # Thread Safety
//
// Safe for concurrent use.
type Guard struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu     sync.Mutex
	events []fsnotify.Event
	done   chan struct{}
}

// Watch starts guarding path. The parent directory is watched rather than
// the file itself so removes and renames of the file are still observed.
func Watch(path string, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	g := &Guard{
		path:    abs,
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go g.loop()
	return g, nil
}

// loop collects mutating events for the guarded file until the watcher
// closes.
func (g *Guard) loop() {
	defer close(g.done)
	for {
		select {
		case event, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != g.path || event.Op&mutatingOps == 0 {
				continue
			}
			g.mu.Lock()
			g.events = append(g.events, event)
			g.mu.Unlock()
			g.logger.Warn("guarded file mutated externally",
				"path", g.path, "op", event.Op.String())
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			g.logger.Warn("file watcher error", "path", g.path, "error", err)
		}
	}
}

// Mutated reports whether any mutation has been observed so far.
func (g *Guard) Mutated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events) > 0
}

// Stop ends the watch and returns every mutation event observed.
func (g *Guard) Stop() []fsnotify.Event {
	g.watcher.Close()
	<-g.done

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.events
}
