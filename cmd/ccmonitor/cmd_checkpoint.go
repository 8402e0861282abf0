// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ccmonitor/services/pruner/checkpoint"
)

// newCheckpointStore opens the store under the configured data directory.
func newCheckpointStore() (*checkpoint.Store, error) {
	return checkpoint.NewStore(filepath.Join(config.dataDir(), "checkpoints"), logger.Slog())
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	store, err := newCheckpointStore()
	if err != nil {
		return err
	}
	checkpoints, err := store.List()
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Println("no checkpoints")
		return nil
	}
	return printJSON(checkpoints)
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	store, err := newCheckpointStore()
	if err != nil {
		return err
	}
	result, err := store.Restore(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("restore failed: %s", result.Reason)
	}
	return nil
}

func runCheckpointClean(cmd *cobra.Command, args []string) error {
	maxAge, err := time.ParseDuration(checkpointMaxAge)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}
	store, err := newCheckpointStore()
	if err != nil {
		return err
	}
	removed, err := store.Cleanup(maxAge)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d checkpoints\n", removed)
	return nil
}
