// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	m, err := newBackupManager(config.options())
	if err != nil {
		return err
	}
	defer m.Close()

	meta, err := m.Create(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(meta)
}

func runBackupList(cmd *cobra.Command, args []string) error {
	m, err := newBackupManager(config.options())
	if err != nil {
		return err
	}
	defer m.Close()

	chain, err := m.List(args[0])
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		fmt.Println("no backups")
		return nil
	}
	return printJSON(chain)
}

func runBackupVerify(cmd *cobra.Command, args []string) error {
	m, err := newBackupManager(config.options())
	if err != nil {
		return err
	}
	defer m.Close()

	v, err := m.VerifyIntegrity(args[0], args[1])
	if err != nil {
		return err
	}
	if err := printJSON(v); err != nil {
		return err
	}
	if !v.Valid {
		return fmt.Errorf("backup does not match original")
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	m, err := newBackupManager(config.options())
	if err != nil {
		return err
	}
	defer m.Close()

	if _, err := m.Restore(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("restored %s to %s\n", args[0], args[1])
	return nil
}

func runBackupRecover(cmd *cobra.Command, args []string) error {
	m, err := newBackupManager(config.options())
	if err != nil {
		return err
	}
	defer m.Close()

	result, err := m.RecoverFromChain(cmd.Context(), args[0])
	if result != nil {
		if perr := printJSON(result); perr != nil {
			return perr
		}
	}
	return err
}

func runBackupClean(cmd *cobra.Command, args []string) error {
	opts := config.options()
	retention := opts.BackupRetentionDays
	if cleanRetentionDays > 0 {
		retention = cleanRetentionDays
	}
	maxPerFile := opts.MaxBackups
	if cleanMaxPerFile > 0 {
		maxPerFile = cleanMaxPerFile
	}

	m, err := newBackupManager(opts)
	if err != nil {
		return err
	}
	defer m.Close()

	report, err := m.Cleanup(retention, maxPerFile)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d backups, freed %d bytes\n", report.Removed, report.SpaceFreed)
	return nil
}
