// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate implements the five-level validation framework run
// around every destructive prune.
//
// The levels are independent checks, not stages of one machine:
//
//	0 — pre-operation: the input exists, is regular, readable, and
//	    JSONL-shaped in a sampled window.
//	1 — backup integrity: original and backup content match.
//	2 — transform integrity: no orphaned chains, bounded false-positive
//	    rate, no structural corruption.
//	3 — post-operation: output parses fully and the achieved compression
//	    is sane.
//	4 — recovery capability: this operation's backup actually restores
//	    and verifies, inside a time budget.
//
// RunAll executes all five in order and aggregates. There is no partial
// pass: a single failing level fails the whole validation.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ccmonitor/services/pruner/backup"
	"github.com/AleutianAI/ccmonitor/services/pruner/engine"
)

// tracer is the package-level tracer for validation spans.
var tracer = otel.Tracer("github.com/AleutianAI/ccmonitor/services/pruner/validate")

// Level identifies one of the five validation levels.
type Level int

const (
	LevelPreOperation Level = iota
	LevelBackupIntegrity
	LevelTransformIntegrity
	LevelPostOperation
	LevelRecoveryCapability
)

// String returns the descriptive level name.
func (l Level) String() string {
	switch l {
	case LevelPreOperation:
		return "pre_operation"
	case LevelBackupIntegrity:
		return "backup_integrity"
	case LevelTransformIntegrity:
		return "transform_integrity"
	case LevelPostOperation:
		return "post_operation"
	case LevelRecoveryCapability:
		return "recovery_capability"
	default:
		return fmt.Sprintf("level_%d", int(l))
	}
}

// Result is the structured verdict of one level.
type Result struct {
	Level    Level         `json:"level"`
	Valid    bool          `json:"valid"`
	Errors   []string      `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`

	// Metrics carries level-specific measurements (counts, sizes,
	// methods used).
	Metrics map[string]any `json:"metrics,omitempty"`

	// Transform-integrity extras, populated for level 2 only.
	FalsePositiveRate float64  `json:"false_positive_rate,omitempty"`
	OrphanedRecords   []string `json:"orphaned_records,omitempty"`
	BrokenChains      []string `json:"broken_chains,omitempty"`
	CompressionRatio  float64  `json:"compression_ratio,omitempty"`
}

// failf appends a formatted error and marks the result invalid.
func (r *Result) failf(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// warnf appends a formatted warning.
func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Summary aggregates a multi-level run.
type Summary struct {
	OverallValid  bool          `json:"overall_valid"`
	Results       []Result      `json:"results"`
	FailedLevels  []Level       `json:"failed_levels,omitempty"`
	TotalErrors   int           `json:"total_errors"`
	TotalWarnings int           `json:"total_warnings"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Input carries everything a validation run may need. Fields irrelevant to
// the levels being run may be left zero.
type Input struct {
	// OriginalPath is the unmutated input file.
	OriginalPath string

	// PrunedPath is the candidate output of the transform.
	PrunedPath string

	// BackupPath is the backup created for this operation.
	BackupPath string

	// BackupMeta is the metadata recorded for BackupPath, used by
	// recovery validation when the original is unavailable.
	BackupMeta *backup.Metadata

	// Stats is the transform's self-report, including the essential
	// record set used for false-positive measurement.
	Stats *engine.Stats
}

// Validator runs validation levels with shared configuration.
//
// # Thread Safety
//
// Safe for concurrent use; all state is read-only after construction.
type Validator struct {
	backups *backup.Manager
	logger  *slog.Logger

	falsePositiveThreshold float64
	sampleLines            int
	restoreTimeout         time.Duration
	targetRatio            float64
}

// Option configures a Validator.
type Option func(*Validator)

// WithFalsePositiveThreshold sets the maximum tolerated fraction of
// essential records dropped by the transform. Default 0.01.
func WithFalsePositiveThreshold(t float64) Option {
	return func(v *Validator) { v.falsePositiveThreshold = t }
}

// WithSampleLines sets how many lines level 0 samples. Default 100.
func WithSampleLines(n int) Option {
	return func(v *Validator) { v.sampleLines = n }
}

// WithRestoreTimeout bounds the level-4 scratch restoration. Default 30s.
func WithRestoreTimeout(d time.Duration) Option {
	return func(v *Validator) { v.restoreTimeout = d }
}

// WithTargetRatio sets an explicit size-reduction target checked by level
// 3 with ±10% tolerance. Default 0 (no explicit target).
func WithTargetRatio(r float64) Option {
	return func(v *Validator) { v.targetRatio = r }
}

// NewValidator creates a validator backed by the given backup manager.
func NewValidator(backups *backup.Manager, logger *slog.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		backups:                backups,
		logger:                 logger,
		falsePositiveThreshold: 0.01,
		sampleLines:            100,
		restoreTimeout:         30 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RunAll executes all five levels in order and aggregates the verdicts.
// Every level runs even after a failure so the summary reports the full
// picture; OverallValid is the logical AND of all five.
func (v *Validator) RunAll(ctx context.Context, in Input) *Summary {
	ctx, span := tracer.Start(ctx, "validate.run_all")
	defer span.End()

	return v.run(ctx, in,
		LevelPreOperation,
		LevelBackupIntegrity,
		LevelTransformIntegrity,
		LevelPostOperation,
		LevelRecoveryCapability,
	)
}

// RunLevels executes an explicit subset of levels in the given order. The
// orchestrator uses it for the post-transform phase, whose depth depends on
// the configured validation level.
func (v *Validator) RunLevels(ctx context.Context, in Input, levels ...Level) *Summary {
	ctx, span := tracer.Start(ctx, "validate.run_levels")
	defer span.End()

	return v.run(ctx, in, levels...)
}

// run executes the given levels in order.
func (v *Validator) run(ctx context.Context, in Input, levels ...Level) *Summary {
	start := time.Now()
	summary := &Summary{OverallValid: true}

	for _, level := range levels {
		var result Result
		switch level {
		case LevelPreOperation:
			result = v.PreOperation(ctx, in.OriginalPath)
		case LevelBackupIntegrity:
			result = v.BackupIntegrity(ctx, in.OriginalPath, in.BackupPath)
		case LevelTransformIntegrity:
			result = v.TransformIntegrity(ctx, in)
		case LevelPostOperation:
			result = v.PostOperation(ctx, in)
		case LevelRecoveryCapability:
			result = v.RecoveryCapability(ctx, in)
		}

		summary.Results = append(summary.Results, result)
		summary.TotalErrors += len(result.Errors)
		summary.TotalWarnings += len(result.Warnings)
		if !result.Valid {
			summary.OverallValid = false
			summary.FailedLevels = append(summary.FailedLevels, level)
		}

		v.logger.Info("validation level complete",
			"level", level.String(),
			"valid", result.Valid,
			"errors", len(result.Errors),
			"warnings", len(result.Warnings),
			"duration", result.Duration,
		)
	}

	summary.Elapsed = time.Since(start)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Bool("validation.overall_valid", summary.OverallValid),
		attribute.Int("validation.total_errors", summary.TotalErrors),
	)
	if !summary.OverallValid {
		span.SetStatus(codes.Error, "validation failed")
	}
	return summary
}
