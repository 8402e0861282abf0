// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pruner

import (
	"github.com/AleutianAI/ccmonitor/services/pruner/engine"
	"github.com/AleutianAI/ccmonitor/services/pruner/validate"
)

// State names a position in the operation's lifecycle.
type State string

const (
	StateInit              State = "INIT"
	StateCheckpointed      State = "CHECKPOINTED"
	StateLevel0OK          State = "LEVEL0_OK"
	StateBackedUp          State = "BACKED_UP"
	StateLevel1OK          State = "LEVEL1_OK"
	StateTransformed       State = "TRANSFORMED"
	StateValidated         State = "LEVEL2_3_4_OK"
	StateCommitted         State = "COMMITTED"
	StateRolledBack        State = "ROLLED_BACK"
	StateEmergencyRecovery State = "EMERGENCY_RECOVERY"
)

// OperationResult is the single aggregate returned to the caller. It is
// created fresh per operation; nothing in it is shared between calls.
type OperationResult struct {
	Success bool `json:"success"`

	BackupPath     string `json:"backup_path,omitempty"`
	BackupChecksum string `json:"backup_checksum,omitempty"`
	BackupVerified bool   `json:"backup_verified"`

	ValidationResults *validate.Summary `json:"validation_results,omitempty"`
	ProcessingStats   *engine.Stats     `json:"processing_stats,omitempty"`
	CheckpointID      string            `json:"checkpoint_id,omitempty"`

	// Err is the structured failure; Error mirrors its message for
	// serialized consumers.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	// Recovered reports that the original data was confirmed intact after
	// a failure. A false Recovered on a failed operation is the fatal
	// case: backup, checkpoint, and input all unusable.
	Recovered bool `json:"recovered"`

	// RollbackCompleted reports that partial artifacts were cleaned up.
	// The input itself is never touched during rollback.
	RollbackCompleted bool `json:"rollback_completed"`

	Interrupted   bool `json:"interrupted"`
	DataPreserved bool `json:"data_preserved"`

	FinalState State `json:"final_state"`

	// SafetyMeasuresApplied lists, in order, every safety mechanism that
	// ran during the operation.
	SafetyMeasuresApplied []string `json:"safety_measures_applied"`
}

// applied records a safety measure on the result.
func (r *OperationResult) applied(measure string) {
	r.SafetyMeasuresApplied = append(r.SafetyMeasuresApplied, measure)
}
