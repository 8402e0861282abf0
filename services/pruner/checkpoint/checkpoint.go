// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint stores durable, timestamped snapshots of a file so the
// mutation pipeline can roll back to an arbitrary processing stage.
//
// Each checkpoint is a verbatim copy of the file under the store directory,
// named by a generated id, paired with a JSON metadata sidecar. Checkpoints
// are immutable once written and are removed only by age-based cleanup.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ccmonitor/pkg/validation"
	"github.com/AleutianAI/ccmonitor/services/pruner/integrity"
)

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound is returned when no checkpoint exists for an id.
	ErrNotFound = errors.New("checkpoint not found")
)

// Checkpoint is the durable metadata for one snapshot.
type Checkpoint struct {
	ID           string    `json:"id"`
	FilePath     string    `json:"file_path"`
	Stage        string    `json:"stage"`
	Timestamp    time.Time `json:"timestamp"`
	FileSize     int64     `json:"file_size"`
	Checksum     string    `json:"checksum"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
}

// RestoreResult is the value-level outcome of a restore attempt. A checksum
// mismatch or missing snapshot is a failed result, not an error; errors are
// reserved for I/O faults while reading metadata.
type RestoreResult struct {
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// Store persists checkpoints under a single directory.
//
// # Thread Safety
//
// Safe for concurrent use on distinct files. Two operations checkpointing
// the same file concurrently is unsupported, matching the pipeline's
// one-orchestrator-per-file model.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates (if needed) the checkpoint directory and returns a store.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Create snapshots filePath at the given stage and durably records metadata.
//
// If the file does not exist the checkpoint records that fact (zero size,
// empty checksum, no snapshot) so a later restore can report it. Checksum
// or copy failures propagate as errors; they are never swallowed.
func (s *Store) Create(ctx context.Context, filePath, stage string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	cp := Checkpoint{
		ID:        id,
		FilePath:  filePath,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	}

	info, err := os.Stat(filePath)
	switch {
	case err == nil:
		checksum, err := integrity.ChecksumFile(filePath)
		if err != nil {
			return "", fmt.Errorf("checksum %s: %w", filePath, err)
		}
		snapshotPath := filepath.Join(s.dir, id+".snapshot")
		if err := copyFile(filePath, snapshotPath); err != nil {
			return "", fmt.Errorf("snapshot %s: %w", filePath, err)
		}
		cp.FileSize = info.Size()
		cp.Checksum = checksum
		cp.SnapshotPath = snapshotPath
	case os.IsNotExist(err):
		s.logger.Warn("checkpointing missing file", "path", filePath, "stage", stage)
	default:
		return "", fmt.Errorf("stat %s: %w", filePath, err)
	}

	if err := s.writeSidecar(cp); err != nil {
		if cp.SnapshotPath != "" {
			os.Remove(cp.SnapshotPath)
		}
		return "", err
	}

	s.logger.Info("checkpoint created",
		"checkpoint_id", id,
		"stage", stage,
		"file", filePath,
		"size", cp.FileSize,
	)
	return id, nil
}

// Restore copies the snapshot back to target and re-verifies the restored
// file against the recorded checksum.
func (s *Store) Restore(ctx context.Context, id, target string) (*RestoreResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cp, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if cp.SnapshotPath == "" {
		return &RestoreResult{OK: false, Reason: "checkpoint has no snapshot (file was missing at create time)"}, nil
	}
	if _, err := os.Stat(cp.SnapshotPath); err != nil {
		return &RestoreResult{OK: false, Reason: fmt.Sprintf("snapshot missing: %v", err)}, nil
	}

	if err := copyFile(cp.SnapshotPath, target); err != nil {
		return &RestoreResult{OK: false, Reason: fmt.Sprintf("copy snapshot: %v", err)}, nil
	}

	checksum, err := integrity.ChecksumFile(target)
	if err != nil {
		return &RestoreResult{OK: false, Reason: fmt.Sprintf("checksum restored file: %v", err)}, nil
	}
	if checksum != cp.Checksum {
		return &RestoreResult{
			OK:       false,
			Reason:   "restored file checksum does not match checkpoint",
			Checksum: checksum,
		}, nil
	}

	s.logger.Info("checkpoint restored", "checkpoint_id", id, "target", target)
	return &RestoreResult{OK: true, Checksum: checksum}, nil
}

// Get loads one checkpoint's metadata. The id may come from a CLI user,
// so it is validated before touching the filesystem.
func (s *Store) Get(id string) (*Checkpoint, error) {
	if err := validation.ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	data, err := os.ReadFile(s.sidecarPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read checkpoint metadata: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// List returns all checkpoints, newest first.
func (s *Store) List() ([]Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	var out []Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		cp, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint sidecar", "name", entry.Name(), "error", err)
			continue
		}
		out = append(out, *cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Cleanup deletes snapshot and sidecar for every checkpoint older than
// maxAge. The snapshot is removed first; if that fails the sidecar is kept
// so the pair is retried on the next run, never left half-deleted.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	checkpoints, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, cp := range checkpoints {
		if !cp.Timestamp.Before(cutoff) {
			continue
		}

		if cp.SnapshotPath != "" {
			if err := os.Remove(cp.SnapshotPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("snapshot removal failed, keeping metadata for retry",
					"checkpoint_id", cp.ID, "error", err)
				continue
			}
		}
		if err := os.Remove(s.sidecarPath(cp.ID)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("sidecar removal failed", "checkpoint_id", cp.ID, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("checkpoint cleanup", "removed", removed, "max_age", maxAge)
	}
	return removed, nil
}

// sidecarPath returns the metadata path for an id.
func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// writeSidecar persists metadata atomically via temp file + rename.
func (s *Store) writeSidecar(cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp sidecar: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sidecar: %w", err)
	}
	if err := os.Rename(tmpPath, s.sidecarPath(cp.ID)); err != nil {
		return fmt.Errorf("rename sidecar: %w", err)
	}

	success = true
	return nil
}

// copyFile copies src to dst preserving the source mode.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
