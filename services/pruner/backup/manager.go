// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup creates, verifies, restores, and retires compressed
// point-in-time backups of conversation log files.
//
// Backups are written into one dedicated directory per Manager, named
// `<stem>_backup_<YYYYMMDD_HHMMSS>_<8hex><ext>[.gz]`, and tracked in a
// shared metadata index (JSON array file under flock by default, Badger
// optionally). The recorded checksum is always that of the uncompressed
// original content.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/ccmonitor/services/pruner/integrity"
)

// backupTimeFormat is the timestamp embedded in backup file names.
const backupTimeFormat = "20060102_150405"

// Manager owns one backup directory and its metadata index.
//
// # Thread Safety
//
// Safe for concurrent use; index mutations are serialized by the index
// implementation. Two Managers over the same directory are also safe for
// the JSON index (flock) but not for Badger, which holds a directory lock.
type Manager struct {
	dir    string
	index  Index
	logger *slog.Logger

	compress          bool
	verifyOnCreate    bool
	reverifyOnRecover bool
	retention         time.Duration

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCompression toggles gzip compression of new backups. Default true.
func WithCompression(enabled bool) Option {
	return func(m *Manager) { m.compress = enabled }
}

// WithVerifyOnCreate toggles immediate verification of new backups.
// Default true. When enabled, a backup that fails verification is deleted
// and Create returns ErrVerificationFailed.
func WithVerifyOnCreate(enabled bool) Option {
	return func(m *Manager) { m.verifyOnCreate = enabled }
}

// WithReverifyOnRecover controls whether chain recovery re-checksums
// candidates whose recorded status is already "verified". Default true.
// Disabling it is an explicit performance trade-off; the trust is logged
// whenever it is taken.
func WithReverifyOnRecover(enabled bool) Option {
	return func(m *Manager) { m.reverifyOnRecover = enabled }
}

// WithRetention sets the retention horizon stamped into new metadata.
// Default 30 days.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithIndex substitutes the metadata index implementation.
func WithIndex(idx Index) Option {
	return func(m *Manager) { m.index = idx }
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager over the given backup directory.
func NewManager(dir string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	m := &Manager{
		dir:               dir,
		logger:            logger,
		compress:          true,
		verifyOnCreate:    true,
		reverifyOnRecover: true,
		retention:         30 * 24 * time.Hour,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.index == nil {
		idx, err := NewJSONIndex(dir)
		if err != nil {
			return nil, err
		}
		m.index = idx
	}
	return m, nil
}

// Close releases the metadata index.
func (m *Manager) Close() error {
	return m.index.Close()
}

// Create produces a verified backup of filePath.
//
// The uncompressed content is hashed while it streams into the backup
// file, so the recorded checksum always describes the original bytes. With
// verification enabled (the default) the new backup is immediately
// re-verified; on failure the partial backup is deleted and
// ErrVerificationFailed is returned, so an unverified backup is never
// trusted.
func (m *Manager) Create(ctx context.Context, filePath string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrOriginalMissing, filePath)
		}
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, filePath)
	}

	ts := m.now().UTC()
	backupPath := m.backupPath(filePath, ts)

	checksum, err := m.writeBackup(filePath, backupPath)
	if err != nil {
		os.Remove(backupPath)
		return nil, err
	}

	backupInfo, err := os.Stat(backupPath)
	if err != nil {
		os.Remove(backupPath)
		return nil, fmt.Errorf("stat backup: %w", err)
	}

	meta := &Metadata{
		BackupID:           uuid.New().String(),
		OriginalFile:       filepath.Clean(filePath),
		BackupPath:         backupPath,
		Timestamp:          ts,
		OriginalSize:       info.Size(),
		BackupSize:         backupInfo.Size(),
		Checksum:           checksum,
		Compressed:         m.compress,
		VerificationStatus: StatusPending,
		RetentionExpires:   ts.Add(m.retention),
	}
	if info.Size() > 0 {
		meta.CompressionRatio = float64(info.Size()-backupInfo.Size()) / float64(info.Size())
	}

	if m.verifyOnCreate {
		verification, err := m.VerifyIntegrity(filePath, backupPath)
		if err != nil || !verification.Valid {
			os.Remove(backupPath)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
			}
			return nil, fmt.Errorf("%w: checksums_match=%t sizes_match=%t",
				ErrVerificationFailed, verification.ChecksumsMatch, verification.SizesMatch)
		}
		meta.VerificationStatus = StatusVerified
	} else {
		meta.VerificationStatus = StatusSkipped
	}

	if err := m.index.Append(*meta); err != nil {
		os.Remove(backupPath)
		return nil, fmt.Errorf("record backup metadata: %w", err)
	}

	m.logger.Info("backup created",
		"backup_id", meta.BackupID,
		"original", meta.OriginalFile,
		"backup", meta.BackupPath,
		"compressed", meta.Compressed,
		"compression_ratio", meta.CompressionRatio,
		"verification", meta.VerificationStatus,
	)
	return meta, nil
}

// VerifyIntegrity compares an original file against a backup.
//
// Compressed backups are hashed through a streaming gzip reader; the
// compressed byte stream is never compared directly. Both sides are hashed
// concurrently. Valid requires the checksum match; the size comparison is
// reported as a secondary signal only.
func (m *Manager) VerifyIntegrity(originalPath, backupPath string) (*Verification, error) {
	compressed := strings.HasSuffix(backupPath, ".gz")

	var digestOrig, digestBackup string
	var sizeOrig, sizeBackup int64

	var g errgroup.Group
	g.Go(func() error {
		var err error
		digestOrig, err = integrity.ChecksumFile(originalPath)
		if err != nil {
			return err
		}
		info, err := os.Stat(originalPath)
		if err != nil {
			return err
		}
		sizeOrig = info.Size()
		return nil
	})
	g.Go(func() error {
		var err error
		if compressed {
			digestBackup, sizeBackup, err = checksumGzipCounted(backupPath)
			return err
		}
		digestBackup, err = integrity.ChecksumFile(backupPath)
		if err != nil {
			return err
		}
		info, err := os.Stat(backupPath)
		if err != nil {
			return err
		}
		sizeBackup = info.Size()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	method := string(integrity.MethodSHA256)
	if compressed {
		method = string(integrity.MethodSHA256Gzip)
	}

	v := &Verification{
		ChecksumsMatch: digestOrig == digestBackup,
		SizesMatch:     sizeOrig == sizeBackup,
		Method:         method,
	}
	v.Valid = v.ChecksumsMatch
	return v, nil
}

// Restore reads a backup, decompressing if needed. With a non-empty target
// the content is written there (atomically, temp + rename) and the
// returned slice is nil; with an empty target the content is returned in
// memory.
func (m *Manager) Restore(ctx context.Context, backupPath, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(backupPath)
	if err != nil {
		return nil, fmt.Errorf("open backup %s: %w", backupPath, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(backupPath, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip reader %s: %w", backupPath, err)
		}
		defer zr.Close()
		reader = zr
	}

	if target == "" {
		content, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("read backup content: %w", err)
		}
		return content, nil
	}

	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".restore-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp restore file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write restore content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync restore file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close restore file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return nil, fmt.Errorf("rename restore file: %w", err)
	}

	success = true
	m.logger.Info("backup restored", "backup", backupPath, "target", target)
	return nil, nil
}

// List returns all backups for an original file, newest first.
func (m *Manager) List(originalPath string) ([]Metadata, error) {
	entries, err := m.index.All()
	if err != nil {
		return nil, err
	}

	clean := filepath.Clean(originalPath)
	var out []Metadata
	for _, e := range entries {
		if e.OriginalFile == clean {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Cleanup removes backups that are older than retentionDays or in excess
// of maxPerFile for their original (oldest first).
//
// For each eligible backup the on-disk file is deleted and confirmed gone
// before its metadata entry is removed, so the index never claims a backup
// that no longer exists and never forgets one that does. Running Cleanup
// twice in a row removes nothing on the second pass.
func (m *Manager) Cleanup(retentionDays, maxPerFile int) (*CleanupReport, error) {
	entries, err := m.index.All()
	if err != nil {
		return nil, err
	}

	cutoff := m.now().UTC().AddDate(0, 0, -retentionDays)

	// Group newest-first per original so count-based eligibility can take
	// the oldest excess.
	byOriginal := make(map[string][]Metadata)
	for _, e := range entries {
		byOriginal[e.OriginalFile] = append(byOriginal[e.OriginalFile], e)
	}

	report := &CleanupReport{}
	for _, group := range byOriginal {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Timestamp.After(group[j].Timestamp)
		})
		for i, e := range group {
			expired := e.Timestamp.Before(cutoff)
			excess := maxPerFile > 0 && i >= maxPerFile
			if !expired && !excess {
				continue
			}

			size := e.BackupSize
			if err := os.Remove(e.BackupPath); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("backup file removal failed, keeping metadata for retry",
					"backup_id", e.BackupID, "error", err)
				continue
			}
			// File confirmed gone; only now drop the metadata entry.
			if err := m.index.Remove(e.BackupID); err != nil {
				m.logger.Error("metadata removal failed after file deletion",
					"backup_id", e.BackupID, "error", err)
				continue
			}
			report.Removed++
			report.SpaceFreed += size
		}
	}

	if report.Removed > 0 {
		m.logger.Info("backup cleanup",
			"removed", report.Removed,
			"space_freed", report.SpaceFreed,
			"retention_days", retentionDays,
			"max_per_file", maxPerFile,
		)
	}
	return report, nil
}

// RecoverFromChain restores originalPath from the newest usable backup.
//
// Candidates are tried newest first. Each is verified against its recorded
// checksum before restore unless re-verification is disabled and the entry
// is already marked verified, in which case the recorded status is trusted
// explicitly and that trust is logged. After a restore the restored file
// is checked against the recorded checksum as well. The result reports
// which backup was used and the outcome for every candidate tried.
func (m *Manager) RecoverFromChain(ctx context.Context, originalPath string) (*RecoveryResult, error) {
	chain, err := m.List(originalPath)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBackups, originalPath)
	}

	result := &RecoveryResult{}
	for _, candidate := range chain {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		attempt := RecoveryAttempt{BackupID: candidate.BackupID, Path: candidate.BackupPath}

		trusted := !m.reverifyOnRecover && candidate.VerificationStatus == StatusVerified
		if trusted {
			attempt.TrustedWithoutReverify = true
			m.logger.Warn("trusting recorded verification without re-checksum",
				"backup_id", candidate.BackupID, "backup", candidate.BackupPath)
		} else {
			if err := m.verifyCandidate(candidate); err != nil {
				attempt.Error = err.Error()
				result.Attempts = append(result.Attempts, attempt)
				m.logger.Warn("chain candidate failed verification",
					"backup_id", candidate.BackupID, "error", err)
				continue
			}
		}

		if _, err := m.Restore(ctx, candidate.BackupPath, originalPath); err != nil {
			attempt.Error = err.Error()
			result.Attempts = append(result.Attempts, attempt)
			m.logger.Warn("chain candidate failed restore",
				"backup_id", candidate.BackupID, "error", err)
			continue
		}

		restored, err := integrity.ChecksumFile(originalPath)
		if err != nil || restored != candidate.Checksum {
			attempt.Error = "restored file failed checksum verification"
			result.Attempts = append(result.Attempts, attempt)
			continue
		}

		attempt.Succeeded = true
		result.Attempts = append(result.Attempts, attempt)
		result.Recovered = true
		result.RestoredFrom = candidate.BackupID
		m.logger.Info("recovered from backup chain",
			"backup_id", candidate.BackupID, "original", originalPath)
		return result, nil
	}

	return result, fmt.Errorf("%w: %s (%d candidates tried)",
		ErrChainExhausted, originalPath, len(result.Attempts))
}

// verifyCandidate checks a backup's content digest against its recorded
// checksum. The original may be gone or corrupt during recovery, so the
// backup is verified for self-consistency, not against the live file.
func (m *Manager) verifyCandidate(meta Metadata) error {
	var digest string
	var err error
	if strings.HasSuffix(meta.BackupPath, ".gz") {
		digest, err = integrity.ChecksumGzipFile(meta.BackupPath)
	} else {
		digest, err = integrity.ChecksumFile(meta.BackupPath)
	}
	if err != nil {
		return err
	}
	if digest != meta.Checksum {
		return fmt.Errorf("%w: digest mismatch for %s", ErrVerificationFailed, meta.BackupID)
	}
	return nil
}

// backupPath generates a collision-resistant backup file name:
// <stem>_backup_<timestamp>_<8hex><ext>[.gz].
func (m *Manager) backupPath(originalPath string, ts time.Time) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	name := fmt.Sprintf("%s_backup_%s_%s%s", stem, ts.Format(backupTimeFormat), suffix, ext)
	if m.compress {
		name += ".gz"
	}
	return filepath.Join(m.dir, name)
}

// writeBackup streams the original into the backup file, hashing the
// uncompressed bytes on the way through.
func (m *Manager) writeBackup(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create backup file: %w", err)
	}

	var content io.WriteCloser = out
	if m.compress {
		content = gzip.NewWriter(out)
	}

	digest, err := hashingCopy(content, in)
	if err != nil {
		if m.compress {
			content.Close()
		}
		out.Close()
		return "", fmt.Errorf("write backup: %w", err)
	}

	if m.compress {
		if err := content.Close(); err != nil {
			out.Close()
			return "", fmt.Errorf("flush gzip stream: %w", err)
		}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return "", fmt.Errorf("sync backup: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close backup: %w", err)
	}
	return digest, nil
}
