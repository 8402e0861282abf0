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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ccmonitor/services/pruner/validate"
)

// runValidate runs all five validation levels against an operation's
// files, after the fact.
func runValidate(cmd *cobra.Command, args []string) error {
	original, pruned, backupPath := args[0], args[1], args[2]

	opts := config.options()
	m, err := newBackupManager(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	v := validate.NewValidator(m, logger.Slog(),
		validate.WithFalsePositiveThreshold(opts.FalsePositiveThreshold),
	)

	summary := v.RunAll(cmd.Context(), validate.Input{
		OriginalPath: original,
		PrunedPath:   pruned,
		BackupPath:   backupPath,
	})
	if err := printJSON(summary); err != nil {
		return err
	}
	if !summary.OverallValid {
		return fmt.Errorf("validation failed at levels %v", summary.FailedLevels)
	}
	return nil
}
