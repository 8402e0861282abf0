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
	"time"

	"github.com/AleutianAI/ccmonitor/services/pruner/records"
)

// TransformIntegrity is level 2: judges whether the candidate output is a
// faithful reduction of the original. It fails on:
//
//   - orphaned records: kept records whose parent existed in the original
//     but is absent from the candidate;
//   - broken chains: distinct parents those orphans point at;
//   - an essential-record false-positive rate above the configured
//     threshold;
//   - structural corruption: candidate records that never existed in the
//     original, or a candidate larger than the original.
func (v *Validator) TransformIntegrity(ctx context.Context, in Input) Result {
	start := time.Now()
	result := Result{Level: LevelTransformIntegrity, Valid: true, Metrics: map[string]any{}}
	defer func() { result.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		result.failf("cancelled: %v", err)
		return result
	}

	originalRecs, err := records.ScanFile(in.OriginalPath)
	if err != nil {
		result.failf("scan original: %v", err)
		return result
	}
	prunedRecs, err := records.ScanFile(in.PrunedPath)
	if err != nil {
		result.failf("scan candidate: %v", err)
		return result
	}

	original := records.NewSet(originalRecs)
	pruned := records.NewSet(prunedRecs)

	result.Metrics["original_records"] = len(originalRecs)
	result.Metrics["pruned_records"] = len(prunedRecs)
	if len(originalRecs) > 0 {
		result.CompressionRatio = float64(len(originalRecs)-len(prunedRecs)) / float64(len(originalRecs))
	}

	if len(prunedRecs) > len(originalRecs) {
		result.failf("candidate has %d records but original has %d; a prune cannot add records",
			len(prunedRecs), len(originalRecs))
	}

	// Every candidate record must come from the original.
	invented := 0
	for _, r := range prunedRecs {
		if r.UUID != "" && !original.Contains(r.UUID) {
			invented++
		}
	}
	if invented > 0 {
		result.failf("%d candidate records do not exist in the original", invented)
	}

	result.OrphanedRecords = records.OrphanedChildren(original, pruned)
	result.BrokenChains = records.BrokenChains(original, pruned)
	if len(result.OrphanedRecords) > 0 {
		result.failf("%d orphaned records reference parents missing from the candidate",
			len(result.OrphanedRecords))
	}
	if len(result.BrokenChains) > 0 {
		result.failf("%d parent chains broken by the prune", len(result.BrokenChains))
	}

	// False-positive rate: fraction of records the engine itself declared
	// essential that are nonetheless missing from the candidate.
	if in.Stats != nil && len(in.Stats.EssentialUUIDs) > 0 {
		dropped := 0
		for _, uuid := range in.Stats.EssentialUUIDs {
			if !pruned.Contains(uuid) {
				dropped++
			}
		}
		result.FalsePositiveRate = float64(dropped) / float64(len(in.Stats.EssentialUUIDs))
		result.Metrics["essential_total"] = len(in.Stats.EssentialUUIDs)
		result.Metrics["essential_dropped"] = dropped

		if result.FalsePositiveRate > v.falsePositiveThreshold {
			result.failf("false-positive rate %.4f exceeds threshold %.4f (%d of %d essential records dropped)",
				result.FalsePositiveRate, v.falsePositiveThreshold, dropped, len(in.Stats.EssentialUUIDs))
		}
	}
	return result
}
