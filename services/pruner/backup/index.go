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

// Index is the shared metadata log for one backup directory.
//
// The index is shared mutable state across every process backing up into
// the same directory, so implementations must serialize their
// read-modify-write cycles: JSONIndex takes an exclusive flock around each
// cycle, BadgerIndex runs each mutation in a storage transaction. A plain
// read-whole-file/append/write-whole-file pattern without locking loses
// entries under concurrent writers and is not an acceptable
// implementation.
type Index interface {
	// Append adds one entry. Entries are append-only; an existing
	// backup_id is overwritten only to update its verification status.
	Append(meta Metadata) error

	// All returns every entry in the index.
	All() ([]Metadata, error)

	// Remove deletes the entry for a backup id. Removing an absent id
	// returns ErrEntryNotFound.
	Remove(backupID string) error

	// Close releases index resources.
	Close() error
}
