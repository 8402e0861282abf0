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
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// badgerKeyPrefix namespaces backup entries inside the store.
const badgerKeyPrefix = "backup/"

// BadgerIndex stores the metadata log in a Badger key-value store, one key
// per backup id.
//
// Every mutation runs in a storage transaction, so concurrent appenders
// cannot lose entries the way a read-whole-file/rewrite JSON index can.
// The store itself holds a directory lock, which also serializes access
// across processes.
type BadgerIndex struct {
	db *badger.DB
}

// NewBadgerIndex opens (creating if needed) the index store under
// dir/index.badger.
func NewBadgerIndex(dir string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, "index.badger")).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

// Append writes one entry in a transaction.
func (x *BadgerIndex) Append(meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	err = x.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+meta.BackupID), data)
	})
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// All iterates every entry.
func (x *BadgerIndex) All() ([]Metadata, error) {
	var entries []Metadata
	err := x.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta Metadata
				if err := json.Unmarshal(val, &meta); err != nil {
					return fmt.Errorf("parse entry %s: %w", it.Item().Key(), err)
				}
				entries = append(entries, meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove deletes one entry in a transaction.
func (x *BadgerIndex) Remove(backupID string) error {
	key := []byte(badgerKeyPrefix + backupID)
	err := x.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrEntryNotFound, backupID)
			}
			return err
		}
		return txn.Delete(key)
	})
	return err
}

// Close closes the underlying store.
func (x *BadgerIndex) Close() error {
	return x.db.Close()
}

// Compile-time interface check.
var _ Index = (*BadgerIndex)(nil)
