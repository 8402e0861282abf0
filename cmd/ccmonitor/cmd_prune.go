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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// runPrune executes one safe pruning operation and prints the aggregated
// result as JSON on stdout. The process exit code reflects the outcome;
// callers never need to inspect component state.
func runPrune(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := pruneOutput
	if output == "" {
		// In-place prune: the transform still writes to an isolated
		// candidate; only the final commit rename replaces the input.
		output = input
	}

	p, err := newPruner()
	if err != nil {
		return err
	}
	defer p.Close()

	result := p.PruneWithSafety(cmd.Context(), input, output)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	if !result.Success {
		if result.Interrupted {
			return fmt.Errorf("interrupted; input preserved")
		}
		return fmt.Errorf("prune failed: %s", result.Error)
	}
	return nil
}
