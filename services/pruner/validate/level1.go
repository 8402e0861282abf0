// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"os"
	"time"
)

// BackupIntegrity is level 1: proves the backup taken for this operation
// still byte-matches the original before any destructive step proceeds.
// Compressed backups are compared through a streaming decompressor; the
// compressed bytes themselves are never the comparison subject.
func (v *Validator) BackupIntegrity(ctx context.Context, originalPath, backupPath string) Result {
	start := time.Now()
	result := Result{Level: LevelBackupIntegrity, Valid: true, Metrics: map[string]any{}}
	defer func() { result.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		result.failf("cancelled: %v", err)
		return result
	}
	if backupPath == "" {
		result.failf("no backup path supplied")
		return result
	}
	if _, err := os.Stat(backupPath); err != nil {
		result.failf("backup file unavailable: %v", err)
		return result
	}

	verification, err := v.backups.VerifyIntegrity(originalPath, backupPath)
	if err != nil {
		result.failf("verify backup: %v", err)
		return result
	}

	result.Metrics["method"] = verification.Method
	result.Metrics["checksums_match"] = verification.ChecksumsMatch
	result.Metrics["sizes_match"] = verification.SizesMatch

	if !verification.ChecksumsMatch {
		result.failf("backup checksum does not match original (%s)", verification.Method)
	}
	if !verification.SizesMatch && verification.ChecksumsMatch {
		// Cannot happen with SHA-256 over identical content; recorded as a
		// warning in case the comparison path changes.
		result.warnf("checksums match but reported sizes differ")
	}
	return result
}
