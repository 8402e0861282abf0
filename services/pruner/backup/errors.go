// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"errors"
)

// Sentinel errors for backup operations.
var (
	// ErrOriginalMissing is returned when the file to back up does not
	// exist.
	ErrOriginalMissing = errors.New("original file does not exist")

	// ErrNotRegularFile is returned when the backup source is not a
	// regular file.
	ErrNotRegularFile = errors.New("backup source is not a regular file")

	// ErrVerificationFailed is returned when a freshly created backup
	// fails its immediate verification. The partial backup is deleted
	// before this error is returned; a backup is never left in an
	// unverified, trusted state.
	ErrVerificationFailed = errors.New("backup verification failed")

	// ErrNoBackups is returned when no backups exist for a file.
	ErrNoBackups = errors.New("no backups found for file")

	// ErrChainExhausted is returned when every candidate in the backup
	// chain failed verification or restore.
	ErrChainExhausted = errors.New("all backups in chain failed")

	// ErrEntryNotFound is returned when a backup id is absent from the
	// metadata index.
	ErrEntryNotFound = errors.New("backup metadata entry not found")
)
