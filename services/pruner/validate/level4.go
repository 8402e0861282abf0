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
	"path/filepath"
	"time"

	"github.com/AleutianAI/ccmonitor/services/pruner/integrity"
)

// RecoveryCapability is level 4: proves, before anything is committed,
// that this operation's backup can actually be restored. The backup is
// restored into a scratch directory and the restored content is verified
// against the original (or, when the original is already gone, against the
// checksum recorded at backup time). The whole exercise runs under the
// configured restore timeout.
func (v *Validator) RecoveryCapability(ctx context.Context, in Input) Result {
	start := time.Now()
	result := Result{Level: LevelRecoveryCapability, Valid: true, Metrics: map[string]any{}}
	defer func() { result.Duration = time.Since(start) }()

	if in.BackupPath == "" {
		result.failf("no backup path supplied")
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, v.restoreTimeout)
	defer cancel()

	scratch, err := os.MkdirTemp("", "ccmonitor-restore-check-*")
	if err != nil {
		result.failf("create scratch dir: %v", err)
		return result
	}
	defer os.RemoveAll(scratch)

	target := filepath.Join(scratch, "restored.jsonl")
	if _, err := v.backups.Restore(ctx, in.BackupPath, target); err != nil {
		result.failf("test restoration failed: %v", err)
		return result
	}

	restoredDigest, err := integrity.ChecksumFile(target)
	if err != nil {
		result.failf("checksum restored file: %v", err)
		return result
	}
	result.Metrics["restored_checksum"] = restoredDigest

	// Prefer the live original as ground truth; fall back to the recorded
	// checksum when the original is unavailable.
	if _, statErr := os.Stat(in.OriginalPath); statErr == nil {
		originalDigest, err := integrity.ChecksumFile(in.OriginalPath)
		if err != nil {
			result.failf("checksum original: %v", err)
			return result
		}
		if restoredDigest != originalDigest {
			result.failf("restored content does not match original")
		}
	} else if in.BackupMeta != nil {
		if restoredDigest != in.BackupMeta.Checksum {
			result.failf("restored content does not match recorded backup checksum")
		}
	} else {
		result.warnf("original unavailable and no recorded checksum; restoration verified structurally only")
	}

	result.Metrics["restore_duration"] = time.Since(start).String()
	return result
}
