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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ccmonitor/services/pruner/lock"
)

// indexFileName is the JSON array file holding one Metadata object per
// backup in the directory.
const indexFileName = "backup_metadata.json"

// JSONIndex stores the metadata log as a single JSON array file.
//
// Every read-modify-write cycle runs under an exclusive flock on a sidecar
// lock file, and the array is rewritten atomically (temp file + rename), so
// concurrent appenders from separate processes cannot lose entries.
type JSONIndex struct {
	path string
	mu   *lock.Mutex
}

// NewJSONIndex creates an index rooted in the given backup directory.
func NewJSONIndex(dir string) (*JSONIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(dir, indexFileName)
	return &JSONIndex{
		path: path,
		mu:   lock.NewMutex(path+".lock", 5*time.Second),
	}, nil
}

// Append adds or replaces one entry under the index lock.
func (x *JSONIndex) Append(meta Metadata) error {
	return x.mu.WithLock(func() error {
		entries, err := x.load()
		if err != nil {
			return err
		}
		replaced := false
		for i := range entries {
			if entries[i].BackupID == meta.BackupID {
				entries[i] = meta
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, meta)
		}
		return x.store(entries)
	})
}

// All returns every entry under the index lock.
func (x *JSONIndex) All() ([]Metadata, error) {
	var entries []Metadata
	err := x.mu.WithLock(func() error {
		var err error
		entries, err = x.load()
		return err
	})
	return entries, err
}

// Remove deletes one entry under the index lock.
func (x *JSONIndex) Remove(backupID string) error {
	return x.mu.WithLock(func() error {
		entries, err := x.load()
		if err != nil {
			return err
		}
		kept := entries[:0]
		found := false
		for _, e := range entries {
			if e.BackupID == backupID {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, backupID)
		}
		return x.store(kept)
	})
}

// Close is a no-op for the JSON index.
func (x *JSONIndex) Close() error {
	return nil
}

// load reads the array file. A missing file is an empty index.
func (x *JSONIndex) load() ([]Metadata, error) {
	data, err := os.ReadFile(x.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Metadata
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", x.path, err)
	}
	return entries, nil
}

// store rewrites the array file atomically.
func (x *JSONIndex) store(entries []Metadata) error {
	if entries == nil {
		entries = []Metadata{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	dir := filepath.Dir(x.path)
	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
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
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmpPath, x.path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}

	success = true
	return nil
}

// Compile-time interface check.
var _ Index = (*JSONIndex)(nil)
