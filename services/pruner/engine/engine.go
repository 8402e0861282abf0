// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine produces the candidate reduced file for the safe mutation
// pipeline.
//
// The pipeline treats the engine as an external collaborator: it is handed
// an input path, an output path, and an aggressiveness level, and returns
// processing statistics. The safety guarantees live entirely in the
// orchestrator; the engine only decides which records a candidate output
// keeps. Heuristic is the built-in implementation; callers may substitute
// any Engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/ccmonitor/services/pruner/records"
)

// Level is the pruning aggressiveness tier.
type Level string

const (
	// LevelLight drops roughly a quarter of the prunable records.
	LevelLight Level = "light"

	// LevelMedium drops roughly half of the prunable records.
	LevelMedium Level = "medium"

	// LevelAggressive drops roughly three quarters of the prunable
	// records. The orchestrator requires explicit confirmation for this
	// tier.
	LevelAggressive Level = "aggressive"
)

// ErrUnknownLevel is returned for an unrecognized aggressiveness tier.
var ErrUnknownLevel = errors.New("unknown pruning level")

// ParseLevel converts a configuration string into a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelLight, LevelMedium, LevelAggressive:
		return Level(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// dropFraction returns the share of prunable records removed at a level.
func (l Level) dropFraction() float64 {
	switch l {
	case LevelLight:
		return 0.25
	case LevelAggressive:
		return 0.75
	default:
		return 0.50
	}
}

// TargetRatio is the size-reduction target associated with a level, used
// by post-operation validation as the ±10% tolerance anchor.
func (l Level) TargetRatio() float64 {
	return l.dropFraction()
}

// Stats describes one transform run.
type Stats struct {
	RecordsIn   int     `json:"records_in"`
	RecordsOut  int     `json:"records_out"`
	BytesIn     int64   `json:"bytes_in"`
	BytesOut    int64   `json:"bytes_out"`
	TargetRatio float64 `json:"target_ratio"`

	// EssentialUUIDs lists the records the engine judged essential.
	// Transform-integrity validation measures its false-positive rate
	// against this set.
	EssentialUUIDs []string `json:"essential_uuids"`

	Duration time.Duration `json:"duration"`
}

// Engine is the transform collaborator invoked by the orchestrator.
type Engine interface {
	// Prune writes a reduced candidate of inputPath to outputPath. It
	// must honor ctx cancellation and must not leave a half-written
	// output behind on failure.
	Prune(ctx context.Context, inputPath, outputPath string, level Level) (*Stats, error)
}

// Heuristic is the built-in importance-scoring engine.
//
// Essential records are conversation roots and any record that has a child
// in the input; those are always kept, along with the newest share of the
// remaining records as dictated by the level. Parents of kept records are
// re-added afterwards so the candidate never contains an orphaned chain.
type Heuristic struct {
	logger *slog.Logger
}

// NewHeuristic creates the default engine.
func NewHeuristic(logger *slog.Logger) *Heuristic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heuristic{logger: logger}
}

// Prune implements Engine.
func (h *Heuristic) Prune(ctx context.Context, inputPath, outputPath string, level Level) (*Stats, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recs, err := records.ScanFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	inputInfo, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	set := records.NewSet(recs)
	parents := set.Parents()

	essential := make(map[string]bool)
	var essentialList []string
	for _, r := range recs {
		if r.IsRoot() || parents[r.UUID] {
			if r.UUID != "" && !essential[r.UUID] {
				essential[r.UUID] = true
				essentialList = append(essentialList, r.UUID)
			}
		}
	}

	keep := h.selectKeeps(recs, essential, level)

	// Close the keep set over parent links so no kept record chains to a
	// dropped one.
	byUUID := make(map[string]records.Record, len(recs))
	for _, r := range recs {
		if r.UUID != "" {
			byUUID[r.UUID] = r
		}
	}
	for changed := true; changed; {
		changed = false
		for _, r := range recs {
			if !keep[r.UUID] || r.ParentUUID == "" {
				continue
			}
			if _, exists := byUUID[r.ParentUUID]; exists && !keep[r.ParentUUID] {
				keep[r.ParentUUID] = true
				changed = true
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bytesOut, kept, err := h.writeCandidate(ctx, outputPath, recs, keep)
	if err != nil {
		os.Remove(outputPath)
		return nil, err
	}

	stats := &Stats{
		RecordsIn:      len(recs),
		RecordsOut:     kept,
		BytesIn:        inputInfo.Size(),
		BytesOut:       bytesOut,
		TargetRatio:    level.TargetRatio(),
		EssentialUUIDs: essentialList,
		Duration:       time.Since(start),
	}

	h.logger.Info("prune transform complete",
		"level", string(level),
		"records_in", stats.RecordsIn,
		"records_out", stats.RecordsOut,
		"bytes_in", stats.BytesIn,
		"bytes_out", stats.BytesOut,
	)
	return stats, nil
}

// selectKeeps marks essential records plus the newest share of the rest.
func (h *Heuristic) selectKeeps(recs []records.Record, essential map[string]bool, level Level) map[string]bool {
	keep := make(map[string]bool, len(recs))

	var prunable []records.Record
	for _, r := range recs {
		if essential[r.UUID] {
			keep[r.UUID] = true
			continue
		}
		prunable = append(prunable, r)
	}

	drop := int(float64(len(prunable)) * level.dropFraction())
	// Records are in file order, oldest first; the oldest prunable
	// records are dropped.
	for i, r := range prunable {
		if i >= drop {
			keep[r.UUID] = true
		}
	}
	return keep
}

// writeCandidate emits the kept records, in original order, to a temp file
// renamed into place. Raw line bytes are preserved verbatim.
func (h *Heuristic) writeCandidate(ctx context.Context, outputPath string, recs []records.Record, keep map[string]bool) (int64, int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".prune-*.tmp")
	if err != nil {
		return 0, 0, fmt.Errorf("create candidate temp: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var written int64
	kept := 0
	for i, r := range recs {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				tmp.Close()
				return 0, 0, err
			}
		}
		if !keep[r.UUID] {
			continue
		}
		n, err := tmp.Write(append(r.Raw, '\n'))
		if err != nil {
			tmp.Close()
			return 0, 0, fmt.Errorf("write candidate: %w", err)
		}
		written += int64(n)
		kept++
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, 0, fmt.Errorf("sync candidate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, 0, fmt.Errorf("close candidate: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return 0, 0, fmt.Errorf("rename candidate: %w", err)
	}

	success = true
	return written, kept, nil
}

// Compile-time interface check.
var _ Engine = (*Heuristic)(nil)
