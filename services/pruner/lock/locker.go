// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides advisory file locking for the shared backup
// metadata index.
//
// The backup directory is shared across every operation on the machine, so
// each read-modify-write cycle on the index must run under an exclusive
// lock. Unix uses flock(2); other platforms fall back to an exclusive
// lock-file create.
//
// # Thread Safety
//
// Implementations are safe for concurrent use on different files. Locking
// the same file from multiple goroutines of one process must go through a
// single Mutex instance.
package lock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Sentinel errors for lock operations.
var (
	// ErrFileLocked is returned when the lock is held by another process
	// and the attempt was non-blocking.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrLockTimeout is returned when the lock could not be acquired
	// within the configured wait budget.
	ErrLockTimeout = errors.New("timed out waiting for file lock")
)

// FileLocker abstracts platform-specific file locking.
type FileLocker interface {
	// Lock acquires an exclusive, non-blocking lock on the file.
	// Returns ErrFileLocked if another process holds it.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call even if not locked.
	Unlock(f *os.File) error
}

// Mutex serializes access to a shared on-disk resource via a sidecar lock
// file. Acquire retries until the lock is obtained or the wait budget is
// exhausted. Goroutines of one process are serialized by an in-process
// mutex before the file lock is attempted, so a single Mutex instance is
// safe for concurrent use.
type Mutex struct {
	// Path is the lock file guarding the resource.
	Path string

	// Wait bounds how long Acquire retries. Zero means a single
	// non-blocking attempt.
	Wait time.Duration

	locker FileLocker
	proc   sync.Mutex
	file   *os.File
}

// NewMutex creates a mutex on the given lock-file path.
func NewMutex(path string, wait time.Duration) *Mutex {
	return &Mutex{Path: path, Wait: wait, locker: newPlatformLocker()}
}

// Acquire takes the exclusive lock, retrying every 25ms until Wait expires.
func (m *Mutex) Acquire() error {
	m.proc.Lock()

	f, err := os.OpenFile(m.Path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		m.proc.Unlock()
		return fmt.Errorf("open lock file %s: %w", m.Path, err)
	}

	deadline := time.Now().Add(m.Wait)
	for {
		err = m.locker.Lock(f)
		if err == nil {
			m.file = f
			return nil
		}
		if !errors.Is(err, ErrFileLocked) {
			f.Close()
			m.proc.Unlock()
			return fmt.Errorf("lock %s: %w", m.Path, err)
		}
		if time.Now().After(deadline) {
			f.Close()
			m.proc.Unlock()
			return fmt.Errorf("%w: %s", ErrLockTimeout, m.Path)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Release drops the lock. Safe to call when not held.
func (m *Mutex) Release() error {
	if m.file == nil {
		return nil
	}
	err := m.locker.Unlock(m.file)
	closeErr := m.file.Close()
	m.file = nil
	m.proc.Unlock()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", m.Path, err)
	}
	return closeErr
}

// WithLock runs fn while holding the mutex.
func (m *Mutex) WithLock(fn func() error) error {
	if err := m.Acquire(); err != nil {
		return err
	}
	defer m.Release()
	return fn()
}
