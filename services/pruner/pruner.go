// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pruner orchestrates safe destructive pruning of conversation
// logs.
//
// # Description
//
// SafePruner sequences checkpoint → pre-validation → backup → backup
// verification → transform → comprehensive validation → atomic commit,
// with defined rollback behavior at every stage boundary. The transform
// writes to an isolated candidate file and the input is replaced only by a
// final rename, so a failed operation of any kind leaves the input
// byte-identical. The contract: an operation either fully succeeds with a
// verified result or preserves the original.
//
// One SafePruner handles one file per operation; independent files may be
// pruned concurrently by independent instances sharing the same backup
// directory.
package pruner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/ccmonitor/services/pruner/backup"
	"github.com/AleutianAI/ccmonitor/services/pruner/checkpoint"
	"github.com/AleutianAI/ccmonitor/services/pruner/engine"
	"github.com/AleutianAI/ccmonitor/services/pruner/guard"
	"github.com/AleutianAI/ccmonitor/services/pruner/records"
	"github.com/AleutianAI/ccmonitor/services/pruner/validate"
)

// tracer is the package-level tracer for operation spans.
var tracer = otel.Tracer("github.com/AleutianAI/ccmonitor/services/pruner")

// SafePruner is the safe mutation orchestrator.
//
// # Thread Safety
//
// Safe for concurrent use on distinct files. Concurrent operations on the
// same file are unsupported.
type SafePruner struct {
	opts        Options
	engine      engine.Engine
	backups     *backup.Manager
	checkpoints *checkpoint.Store
	validator   *validate.Validator
	logger      *slog.Logger
}

// PrunerOption configures a SafePruner beyond its Options.
type PrunerOption func(*SafePruner)

// WithEngine substitutes the pruning engine. The default is the built-in
// heuristic engine.
func WithEngine(e engine.Engine) PrunerOption {
	return func(p *SafePruner) { p.engine = e }
}

// WithBackupManager substitutes the backup manager, for callers that share
// one across tools.
func WithBackupManager(m *backup.Manager) PrunerOption {
	return func(p *SafePruner) { p.backups = m }
}

// New creates a SafePruner rooted at dataDir, which receives the backups/
// and checkpoints/ subdirectories.
func New(dataDir string, opts Options, logger *slog.Logger, popts ...PrunerOption) (*SafePruner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &SafePruner{opts: opts, logger: logger}
	for _, opt := range popts {
		opt(p)
	}

	if p.engine == nil {
		p.engine = engine.NewHeuristic(logger)
	}
	if p.backups == nil {
		m, err := backup.NewManager(filepath.Join(dataDir, "backups"), logger,
			backup.WithCompression(opts.EnableCompression),
			backup.WithRetention(time24h(opts.BackupRetentionDays)),
		)
		if err != nil {
			return nil, err
		}
		p.backups = m
	}

	store, err := checkpoint.NewStore(filepath.Join(dataDir, "checkpoints"), logger)
	if err != nil {
		return nil, err
	}
	p.checkpoints = store

	p.validator = validate.NewValidator(p.backups, logger,
		validate.WithFalsePositiveThreshold(opts.FalsePositiveThreshold),
	)
	return p, nil
}

// Close releases the underlying backup index.
func (p *SafePruner) Close() error {
	return p.backups.Close()
}

// Backups exposes the backup manager for maintenance surfaces (list,
// recover, clean).
func (p *SafePruner) Backups() *backup.Manager { return p.backups }

// Checkpoints exposes the checkpoint store for maintenance surfaces.
func (p *SafePruner) Checkpoints() *checkpoint.Store { return p.checkpoints }

// PruneWithSafety runs one complete safe pruning operation of input into
// output. It never returns an error: every failure mode is classified into
// the result's structured error and accompanied by the recovery state of
// the input.
func (p *SafePruner) PruneWithSafety(ctx context.Context, input, output string) *OperationResult {
	ctx, span := tracer.Start(ctx, "pruner.prune_with_safety")
	defer span.End()
	span.SetAttributes(
		attribute.String("pruner.input", input),
		attribute.String("pruner.level", p.opts.PruningLevel),
	)

	result := &OperationResult{FinalState: StateInit, DataPreserved: true}

	level, err := engine.ParseLevel(p.opts.PruningLevel)
	if err != nil {
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %v", ErrPreValidation, err))
	}
	// The most destructive tier is refused without explicit confirmation.
	if level == engine.LevelAggressive && !p.opts.ConfirmAggressive {
		return p.fail(span, result, StateRolledBack, ErrConfirmationRequired)
	}

	if interrupted := p.checkStage(ctx, result); interrupted != nil {
		return p.fail(span, result, StateRolledBack, interrupted)
	}

	// Stage: checkpoint. Taken before anything else so emergency recovery
	// has a known-good snapshot of the input.
	checkpointID, err := p.checkpoints.Create(ctx, input, "pre_prune")
	if err != nil {
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: checkpoint: %v", ErrUnexpected, err))
	}
	result.CheckpointID = checkpointID
	result.FinalState = StateCheckpointed
	result.applied("checkpoint_created")

	// The guard watches for external writers for the rest of the
	// operation; tripping it is handled as an unexpected failure.
	g, err := guard.Watch(input, p.logger)
	if err != nil {
		p.logger.Warn("mutation guard unavailable", "error", err)
	} else {
		defer g.Stop()
		result.applied("mutation_guard")
	}

	// Stage: level 0 pre-validation.
	if res := p.validator.PreOperation(ctx, input); !res.Valid {
		result.ValidationResults = &validate.Summary{Results: []validate.Result{res}, FailedLevels: []validate.Level{res.Level}, TotalErrors: len(res.Errors)}
		result.Recovered = true
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %s", ErrPreValidation, firstError(res)))
	}
	result.FinalState = StateLevel0OK
	result.applied("pre_validation")

	if interrupted := p.checkStage(ctx, result); interrupted != nil {
		return p.fail(span, result, StateRolledBack, interrupted)
	}

	// Stage: backup. The one stage where failure must never proceed
	// further; nothing has been mutated yet.
	meta, err := p.backups.Create(ctx, input)
	if err != nil {
		result.Recovered = true
		if errors.Is(err, backup.ErrVerificationFailed) {
			return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %v", ErrBackupVerification, err))
		}
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %v", ErrBackupCreation, err))
	}
	result.BackupPath = meta.BackupPath
	result.BackupChecksum = meta.Checksum
	result.FinalState = StateBackedUp
	result.applied("backup_created")

	// Stage: level 1 against the fresh backup.
	if res := p.validator.BackupIntegrity(ctx, input, meta.BackupPath); !res.Valid {
		result.Recovered = true
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %s", ErrBackupVerification, firstError(res)))
	}
	result.BackupVerified = true
	result.FinalState = StateLevel1OK
	result.applied("backup_verified")

	if interrupted := p.checkStage(ctx, result); interrupted != nil {
		return p.fail(span, result, StateRolledBack, interrupted)
	}
	if g != nil && g.Mutated() {
		return p.emergency(ctx, span, result, input, fmt.Errorf("%w: input changed during operation", ErrUnexpected))
	}

	// Stage: transform into an isolated candidate. The input is never the
	// write target, so rollback never has to touch it.
	candidate := candidatePath(output)
	stats, err := p.transform(ctx, input, candidate, level)
	if err != nil {
		os.Remove(candidate)
		result.Recovered = true
		result.RollbackCompleted = true
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.Interrupted = true
			result.applied("interrupt_cleanup")
			return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %v", ErrInterrupted, err))
		}
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %v", ErrTransform, err))
	}
	result.ProcessingStats = stats
	result.FinalState = StateTransformed
	result.applied("transform_isolated_output")

	// Stage: comprehensive validation (depth per configuration).
	summary := p.validator.RunLevels(ctx, validate.Input{
		OriginalPath: input,
		PrunedPath:   candidate,
		BackupPath:   meta.BackupPath,
		BackupMeta:   meta,
		Stats:        stats,
	}, p.postTransformLevels()...)
	result.ValidationResults = summary
	result.applied("comprehensive_validation")

	if !summary.OverallValid {
		os.Remove(candidate)
		result.Recovered = true
		result.RollbackCompleted = true
		result.applied("rollback")
		return p.fail(span, result, StateRolledBack,
			fmt.Errorf("%w: levels %v", ErrValidation, summary.FailedLevels))
	}
	result.FinalState = StateValidated

	if interrupted := p.checkStage(ctx, result); interrupted != nil {
		os.Remove(candidate)
		result.RollbackCompleted = true
		return p.fail(span, result, StateRolledBack, interrupted)
	}
	if g != nil && g.Mutated() {
		os.Remove(candidate)
		result.RollbackCompleted = true
		return p.emergency(ctx, span, result, input, fmt.Errorf("%w: input changed during operation", ErrUnexpected))
	}

	// Final re-verify of the candidate itself before it becomes real.
	if err := p.reverifyCandidate(candidate); err != nil {
		os.Remove(candidate)
		result.Recovered = true
		result.RollbackCompleted = true
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %v", ErrCommit, err))
	}
	result.applied("final_reverify")

	if p.opts.DryRun {
		os.Remove(candidate)
		result.Success = true
		result.FinalState = StateValidated
		result.applied("dry_run_discard")
		p.logger.Info("dry run complete; candidate discarded",
			"input", input, "records_out", stats.RecordsOut)
		return result
	}

	// Stage: atomic commit.
	if err := os.Rename(candidate, output); err != nil {
		os.Remove(candidate)
		result.Recovered = true
		result.RollbackCompleted = true
		return p.fail(span, result, StateRolledBack, fmt.Errorf("%w: %v", ErrCommit, err))
	}
	result.FinalState = StateCommitted
	result.applied("atomic_commit")
	result.Success = true

	p.logger.Info("safe prune committed",
		"input", input,
		"output", output,
		"records_in", stats.RecordsIn,
		"records_out", stats.RecordsOut,
		"backup", meta.BackupPath,
	)
	return result
}

// transform invokes the engine under the configured timeout.
func (p *SafePruner) transform(ctx context.Context, input, candidate string, level engine.Level) (*engine.Stats, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	return p.engine.Prune(ctx, input, candidate, level)
}

// postTransformLevels maps the configured validation depth to the levels
// run after the transform.
func (p *SafePruner) postTransformLevels() []validate.Level {
	switch p.opts.ValidationLevel {
	case DepthBasic:
		return []validate.Level{validate.LevelTransformIntegrity}
	case DepthStandard:
		return []validate.Level{validate.LevelTransformIntegrity, validate.LevelPostOperation}
	default:
		return []validate.Level{
			validate.LevelTransformIntegrity,
			validate.LevelPostOperation,
			validate.LevelRecoveryCapability,
		}
	}
}

// reverifyCandidate is the last gate before commit: the candidate must
// fully parse and must not be empty.
func (p *SafePruner) reverifyCandidate(candidate string) error {
	recs, err := records.ScanFile(candidate)
	if err != nil {
		return fmt.Errorf("candidate re-parse: %w", err)
	}
	if len(recs) == 0 {
		return errors.New("candidate is empty at commit time")
	}
	return nil
}

// checkStage returns a classified interruption error when the context was
// cancelled. Cancellation is only honored between stages, never mid-write.
func (p *SafePruner) checkStage(ctx context.Context, result *OperationResult) error {
	if err := ctx.Err(); err != nil {
		result.Interrupted = true
		result.Recovered = true
		result.applied("interrupt_cleanup")
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return nil
}

// fail finalizes a failed result.
func (p *SafePruner) fail(span trace.Span, result *OperationResult, state State, err error) *OperationResult {
	result.Success = false
	result.Err = err
	result.Error = err.Error()
	result.FinalState = state
	span.SetStatus(codes.Error, err.Error())

	p.logger.Error("safe prune failed",
		"state", string(state),
		"error", err,
		"recovered", result.Recovered,
		"interrupted", result.Interrupted,
	)
	return result
}

// emergency handles unexpected failures: restore the checkpoint, fall back
// to the backup chain, then confirm the input's final integrity. Each
// step's outcome lands in the safety-measures list.
func (p *SafePruner) emergency(ctx context.Context, span trace.Span, result *OperationResult, input string, cause error) *OperationResult {
	result.FinalState = StateEmergencyRecovery
	result.applied("emergency_recovery")
	p.logger.Error("entering emergency recovery", "input", input, "cause", cause)

	// Cancellation must not block recovery of the user's data.
	ctx = context.WithoutCancel(ctx)

	restored := false
	if result.CheckpointID != "" {
		res, err := p.checkpoints.Restore(ctx, result.CheckpointID, input)
		if err == nil && res.OK {
			restored = true
			result.applied("checkpoint_restored")
		} else {
			result.applied("checkpoint_restore_failed")
		}
	}

	if !restored && result.BackupPath != "" {
		if rec, err := p.backups.RecoverFromChain(ctx, input); err == nil && rec.Recovered {
			restored = true
			result.applied("backup_chain_restored")
		} else {
			result.applied("backup_chain_restore_failed")
		}
	}

	// Final integrity check of the input, regardless of how we got here.
	if _, err := records.ScanFile(input); err == nil {
		result.Recovered = true
		result.applied("input_integrity_confirmed")
	} else {
		// The fatal case: nothing restorable and the input is corrupt.
		// This must be surfaced, never presented as recovered.
		result.Recovered = false
		result.DataPreserved = false
		result.applied("input_integrity_failed")
		p.logger.Error("input integrity could not be confirmed after recovery",
			"input", input, "error", err)
	}

	return p.fail(span, result, StateEmergencyRecovery, cause)
}

// candidatePath places the transform's working file next to the output so
// the final rename stays on one filesystem.
func candidatePath(output string) string {
	return filepath.Join(filepath.Dir(output), "."+filepath.Base(output)+".pending")
}

// time24h converts a whole-day count into a duration.
func time24h(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// firstError extracts a level's leading diagnostic for error wrapping.
func firstError(res validate.Result) string {
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	return "validation failed"
}
