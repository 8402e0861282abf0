// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestGuard_DetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	g, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("{}\n{}\n"), 0o644); err != nil {
		t.Fatalf("mutate file: %v", err)
	}

	if !waitFor(t, g.Mutated) {
		t.Error("expected the external write to be observed")
	}
	if events := g.Stop(); len(events) == 0 {
		t.Error("Stop should report the observed events")
	}
}

func TestGuard_DetectsRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	g, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	if !waitFor(t, g.Mutated) {
		t.Error("expected the removal to be observed")
	}
	g.Stop()
}

func TestGuard_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	g, err := Watch(path, nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	sibling := filepath.Join(dir, "other.jsonl")
	if err := os.WriteFile(sibling, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	// Give the watcher a moment; the sibling write must not register.
	time.Sleep(100 * time.Millisecond)
	if g.Mutated() {
		t.Error("sibling file activity should not count as mutation")
	}
	g.Stop()
}
