// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package lock

import (
	"os"
)

// portableFileLocker approximates exclusive locking on platforms without
// flock(2) by claiming a ".claim" sibling with O_CREATE|O_EXCL.
//
// Unlike flock, the claim survives a process crash until Unlock removes
// it, so stale claims may require manual cleanup. This is the fallback
// path only; Unix builds use the flock implementation.
type portableFileLocker struct{}

// Lock claims the sidecar exclusively.
func (l *portableFileLocker) Lock(f *os.File) error {
	claim, err := os.OpenFile(f.Name()+".claim", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrFileLocked
		}
		return err
	}
	return claim.Close()
}

// Unlock removes the claim.
func (l *portableFileLocker) Unlock(f *os.File) error {
	err := os.Remove(f.Name() + ".claim")
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// newPlatformLocker returns the portable fallback implementation.
func newPlatformLocker() FileLocker {
	return &portableFileLocker{}
}
