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
	"time"
)

// VerificationStatus is the recorded outcome of a backup's last
// verification.
type VerificationStatus string

const (
	// StatusPending means the backup has not been verified yet.
	StatusPending VerificationStatus = "pending"

	// StatusVerified means checksum verification succeeded.
	StatusVerified VerificationStatus = "verified"

	// StatusFailed means checksum verification failed.
	StatusFailed VerificationStatus = "failed"

	// StatusSkipped means verification was deliberately not performed.
	StatusSkipped VerificationStatus = "skipped"
)

// Metadata is the append-only index record for one backup.
//
// Checksum is always the digest of the *uncompressed* original content,
// regardless of whether the backup file itself is gzip-compressed.
type Metadata struct {
	BackupID           string             `json:"backup_id"`
	OriginalFile       string             `json:"original_file"`
	BackupPath         string             `json:"backup_path"`
	Timestamp          time.Time          `json:"timestamp"`
	OriginalSize       int64              `json:"original_size"`
	BackupSize         int64              `json:"backup_size"`
	Checksum           string             `json:"checksum"`
	Compressed         bool               `json:"compressed"`
	CompressionRatio   float64            `json:"compression_ratio"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	RetentionExpires   time.Time          `json:"retention_expires"`
}

// Verification is the outcome of comparing a backup against its original
// or its own recorded checksum.
type Verification struct {
	// Valid requires the checksum match; size match alone is not
	// sufficient.
	Valid bool `json:"valid"`

	// ChecksumsMatch reports whether the content digests matched.
	ChecksumsMatch bool `json:"checksums_match"`

	// SizesMatch is a secondary signal comparing uncompressed sizes.
	SizesMatch bool `json:"sizes_match"`

	// Method records how the comparison was performed (sha256,
	// sha256-gzip, or sampled).
	Method string `json:"method"`
}

// CleanupReport summarizes a retention pass.
type CleanupReport struct {
	Removed    int   `json:"removed_count"`
	SpaceFreed int64 `json:"space_freed"`
}

// RecoveryAttempt records the outcome for one candidate in the backup
// chain during disaster recovery.
type RecoveryAttempt struct {
	BackupID string `json:"backup_id"`
	Path     string `json:"backup_path"`

	// TrustedWithoutReverify is true when a recorded "verified" status
	// was accepted instead of re-checksumming. That trust is always
	// explicit and logged.
	TrustedWithoutReverify bool   `json:"trusted_without_reverify"`
	Succeeded              bool   `json:"succeeded"`
	Error                  string `json:"error,omitempty"`
}

// RecoveryResult reports a chain recovery: which backup (if any) was
// restored and what happened to every candidate tried before it.
type RecoveryResult struct {
	Recovered    bool              `json:"recovered"`
	RestoredFrom string            `json:"restored_from,omitempty"`
	Attempts     []RecoveryAttempt `json:"attempts"`
}
