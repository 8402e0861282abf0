// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// file paths. Using these validators prevents path traversal out of the
// managed checkpoint and backup directories.
package validation

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidateID validates an opaque identifier (checkpoint id, backup id)
// before it is joined into a filesystem path.
//
// Identifiers in this repository are UUIDs; anything else — and in
// particular anything containing path separators or traversal sequences —
// is rejected. A raw id like "../../etc/passwd" must never reach a
// filepath.Join.
//
// Returns an error if the id is invalid.
//
// Example:
//
//	if err := validation.ValidateID(userSuppliedID); err != nil {
//	    return fmt.Errorf("invalid checkpoint id: %w", err)
//	}
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("id %q is not a valid identifier", id)
	}
	return nil
}
