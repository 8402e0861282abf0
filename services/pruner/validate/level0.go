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
	"os"
	"time"

	"github.com/AleutianAI/ccmonitor/services/pruner/integrity"
	"github.com/AleutianAI/ccmonitor/services/pruner/records"
)

// PreOperation is level 0: confirms the input file is safe to operate on
// before anything destructive begins. It checks existence, file type,
// readability, and JSONL shape over a sampled window of lines.
//
// An empty file and a file above the large-file threshold are warnings,
// not failures; malformed lines inside the sample are failures.
func (v *Validator) PreOperation(ctx context.Context, path string) Result {
	start := time.Now()
	result := Result{Level: LevelPreOperation, Valid: true, Metrics: map[string]any{}}
	defer func() { result.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		result.failf("cancelled: %v", err)
		return result
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			result.failf("input file does not exist: %s", path)
		} else {
			result.failf("stat input file: %v", err)
		}
		return result
	}
	if !info.Mode().IsRegular() {
		result.failf("input is not a regular file: %s", path)
		return result
	}
	result.Metrics["file_size"] = info.Size()

	f, err := os.Open(path)
	if err != nil {
		result.failf("input file is not readable: %v", err)
		return result
	}
	f.Close()

	if info.Size() == 0 {
		result.warnf("input file is empty")
		return result
	}
	if info.Size() > integrity.LargeFileThreshold {
		result.warnf("input file is large (%d bytes); expect slower verification", info.Size())
	}

	sample, err := records.SampleFile(path, v.sampleLines)
	if err != nil {
		result.failf("sample input file: %v", err)
		return result
	}
	result.Metrics["sampled_lines"] = sample.LinesRead
	result.Metrics["valid_records"] = sample.ValidRecords
	result.Metrics["malformed_lines"] = sample.MalformedLines

	if len(sample.MalformedLines) > 0 {
		result.failf("%d of %d sampled lines are not valid records (lines %v)",
			len(sample.MalformedLines), sample.LinesRead, sample.MalformedLines)
	}
	return result
}
