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

import "errors"

var (
	// ErrConfirmationRequired is returned when the aggressive tier is
	// requested without the explicit confirmation flag.
	ErrConfirmationRequired = errors.New("aggressive pruning requires explicit confirmation")

	// ErrPreValidation is returned when pre-operation validation (level 0)
	// rejects the input file. Nothing has been mutated.
	ErrPreValidation = errors.New("pre-operation validation failed")

	// ErrBackupCreation is returned when the backup cannot be created.
	// This is the critical abort: the operation never proceeds past it.
	ErrBackupCreation = errors.New("backup creation failed")

	// ErrBackupVerification is returned when the freshly created backup
	// fails integrity verification (level 1).
	ErrBackupVerification = errors.New("backup verification failed")

	// ErrTransform is returned when the pruning engine fails. Engine
	// failures are classified distinctly from validation failures.
	ErrTransform = errors.New("prune transform failed")

	// ErrValidation is returned when any post-transform validation level
	// fails; the wrapped message names the failing levels.
	ErrValidation = errors.New("validation failed")

	// ErrCommit is returned when the validated candidate cannot be moved
	// into place.
	ErrCommit = errors.New("commit failed")

	// ErrInterrupted is returned when the operation is cancelled between
	// stages. The input is preserved.
	ErrInterrupted = errors.New("operation interrupted")

	// ErrUnexpected is returned for failures outside the taxonomy, after
	// emergency recovery has been attempted.
	ErrUnexpected = errors.New("unexpected failure")
)
