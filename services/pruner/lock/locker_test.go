// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMutex_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")

	m := NewMutex(path, time.Second)
	if err := m.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestMutex_ReleaseWithoutAcquire(t *testing.T) {
	m := NewMutex(filepath.Join(t.TempDir(), "index.lock"), 0)
	if err := m.Release(); err != nil {
		t.Fatalf("Release without Acquire should be a no-op, got %v", err)
	}
}

func TestMutex_WithLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.lock")
	m := NewMutex(path, time.Second)

	ran := false
	err := m.WithLock(func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Error("WithLock did not run fn")
	}

	// Lock must be free again afterwards.
	if err := m.Acquire(); err != nil {
		t.Fatalf("re-Acquire after WithLock: %v", err)
	}
	m.Release()
}

func TestMutex_Reentry(t *testing.T) {
	// flock is per file description, so a second Mutex in the same
	// process can still acquire. This test only asserts the single-mutex
	// acquire/release cycle is repeatable.
	path := filepath.Join(t.TempDir(), "index.lock")
	m := NewMutex(path, 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := m.Acquire(); err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
		if err := m.Release(); err != nil {
			t.Fatalf("Release #%d: %v", i, err)
		}
	}
}
