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
	"math"
	"os"
	"time"

	"github.com/AleutianAI/ccmonitor/services/pruner/records"
)

// ratioTolerance is the acceptance band around an explicit size target.
const ratioTolerance = 0.10

// PostOperation is level 3: a full-file check of the candidate output. The
// whole file must parse as records, a non-empty original must not produce
// an empty candidate, and the achieved byte reduction must be sane — never
// negative, and within ±10% of the target when one was configured.
func (v *Validator) PostOperation(ctx context.Context, in Input) Result {
	start := time.Now()
	result := Result{Level: LevelPostOperation, Valid: true, Metrics: map[string]any{}}
	defer func() { result.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		result.failf("cancelled: %v", err)
		return result
	}

	prunedRecs, err := records.ScanFile(in.PrunedPath)
	if err != nil {
		result.failf("candidate output does not fully parse: %v", err)
		return result
	}
	result.Metrics["output_records"] = len(prunedRecs)

	origInfo, err := os.Stat(in.OriginalPath)
	if err != nil {
		result.failf("stat original: %v", err)
		return result
	}
	prunedInfo, err := os.Stat(in.PrunedPath)
	if err != nil {
		result.failf("stat candidate: %v", err)
		return result
	}
	result.Metrics["bytes_in"] = origInfo.Size()
	result.Metrics["bytes_out"] = prunedInfo.Size()

	if origInfo.Size() > 0 && len(prunedRecs) == 0 {
		result.failf("candidate is empty while the original has content")
	}
	if prunedInfo.Size() > origInfo.Size() {
		result.failf("candidate (%d bytes) is larger than original (%d bytes)",
			prunedInfo.Size(), origInfo.Size())
	}

	var achieved float64
	if origInfo.Size() > 0 {
		achieved = float64(origInfo.Size()-prunedInfo.Size()) / float64(origInfo.Size())
	}
	result.Metrics["achieved_ratio"] = achieved

	if v.targetRatio > 0 {
		if math.Abs(achieved-v.targetRatio) > ratioTolerance {
			result.failf("achieved reduction %.2f outside ±%.0f%% of target %.2f",
				achieved, ratioTolerance*100, v.targetRatio)
		}
	} else if in.Stats != nil && in.Stats.TargetRatio > 0 {
		// Without an explicit target the level-derived ratio is advisory:
		// essential-record retention legitimately pushes the achieved
		// reduction below it.
		if math.Abs(achieved-in.Stats.TargetRatio) > ratioTolerance {
			result.warnf("achieved reduction %.2f deviates from level target %.2f",
				achieved, in.Stats.TargetRatio)
		}
	}
	return result
}
