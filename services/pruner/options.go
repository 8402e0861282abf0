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
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationDepth selects how much post-transform validation runs.
type ValidationDepth string

const (
	// DepthBasic runs transform integrity only (level 2).
	DepthBasic ValidationDepth = "basic"

	// DepthStandard adds the post-operation check (levels 2–3).
	DepthStandard ValidationDepth = "standard"

	// DepthComprehensive adds the recovery-capability check (levels 2–4).
	DepthComprehensive ValidationDepth = "comprehensive"
)

// Options is the configuration surface of one pruning operation.
type Options struct {
	// PruningLevel is the aggressiveness tier handed to the engine.
	PruningLevel string `yaml:"pruning_level" validate:"oneof=light medium aggressive"`

	// ConfirmAggressive must be set for the aggressive tier; without it
	// the operation is refused before anything runs.
	ConfirmAggressive bool `yaml:"confirm_aggressive"`

	// EnableCompression gzip-compresses the backup.
	EnableCompression bool `yaml:"enable_compression"`

	// ValidationLevel selects the post-transform validation depth.
	ValidationLevel ValidationDepth `yaml:"validation_level" validate:"oneof=basic standard comprehensive"`

	// BackupRetentionDays is the retention horizon for backup cleanup.
	BackupRetentionDays int `yaml:"backup_retention_days" validate:"min=1"`

	// MaxBackups caps backups kept per original file.
	MaxBackups int `yaml:"max_backups" validate:"min=1"`

	// FalsePositiveThreshold bounds the fraction of essential records the
	// transform may drop before level 2 fails.
	FalsePositiveThreshold float64 `yaml:"false_positive_threshold" validate:"gt=0,lte=1"`

	// Timeout bounds the transform step. Zero means no bound.
	Timeout time.Duration `yaml:"timeout"`

	// DryRun runs the full pipeline including validation but discards the
	// candidate output instead of committing it.
	DryRun bool `yaml:"dry_run"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		PruningLevel:           "medium",
		EnableCompression:      true,
		ValidationLevel:        DepthComprehensive,
		BackupRetentionDays:    30,
		MaxBackups:             10,
		FalsePositiveThreshold: 0.01,
	}
}

// optionsValidator holds the shared struct validator. validator.New is
// expensive; one instance serves all option checks.
var optionsValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the options against their declared constraints.
func (o Options) Validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
