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
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ccmonitor/pkg/logging"
	"github.com/AleutianAI/ccmonitor/services/pruner"
	"github.com/AleutianAI/ccmonitor/services/pruner/backup"
)

// --- Global Command Variables ---
var (
	config Config
	logger *logging.Logger

	configPath   string
	dataDirFlag  string
	logLevelFlag string
	jsonLogs     bool
	traceEnabled bool
	indexFlag    string

	pruneLevel      string
	pruneConfirm    bool
	pruneOutput     string
	pruneDryRun     bool
	pruneNoCompress bool
	pruneValidation string
	pruneThreshold  float64

	cleanRetentionDays int
	cleanMaxPerFile    int
	checkpointMaxAge   string

	rootCmd = &cobra.Command{
		Use:   "ccmonitor",
		Short: "Safely prune and protect conversational JSONL logs",
		Long: `ccmonitor wraps destructive pruning of append-only conversation
logs in a safe mutation pipeline: checkpoint, verified backup, five-level
validation, and atomic commit. A prune either fully succeeds with a
verified result or leaves the original file byte-identical.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			config, err = loadConfig(configPath)
			if err != nil {
				return err
			}
			if dataDirFlag != "" {
				config.DataDir = dataDirFlag
			}
			if logLevelFlag != "" {
				config.LogLevel = logLevelFlag
			}
			if indexFlag != "" {
				config.Index = indexFlag
			}

			logger = logging.New(logging.Config{
				Level:     logging.ParseLevel(config.LogLevel),
				LogDir:    config.LogDir,
				Service:   "ccmonitor",
				ForceJSON: jsonLogs,
			})

			if traceEnabled {
				return initTracing(cmd.Context())
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			err := shutdownTracing(cmd.Context())
			if logger != nil {
				logger.Close()
			}
			return err
		},
	}

	// --- Prune ---
	pruneCmd = &cobra.Command{
		Use:   "prune [file]",
		Short: "Safely prune a conversation log",
		Args:  cobra.ExactArgs(1),
		RunE:  runPrune, // Defined in cmd_prune.go
	}

	// --- Validate ---
	validateCmd = &cobra.Command{
		Use:   "validate [original] [pruned] [backup]",
		Short: "Run all five validation levels against an operation's files",
		Args:  cobra.ExactArgs(3),
		RunE:  runValidate, // Defined in cmd_validate.go
	}

	// --- Backup Management ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Manage backups of conversation logs",
	}
	backupCreateCmd = &cobra.Command{
		Use:   "create [file]",
		Short: "Create a verified backup of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupCreate, // Defined in cmd_backup.go
	}
	backupListCmd = &cobra.Command{
		Use:   "list [file]",
		Short: "List backups for a file, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupList,
	}
	backupVerifyCmd = &cobra.Command{
		Use:   "verify [file] [backup]",
		Short: "Verify a backup against its original",
		Args:  cobra.ExactArgs(2),
		RunE:  runBackupVerify,
	}
	backupRestoreCmd = &cobra.Command{
		Use:   "restore [backup] [target]",
		Short: "Restore a backup to a target path",
		Args:  cobra.ExactArgs(2),
		RunE:  runBackupRestore,
	}
	backupRecoverCmd = &cobra.Command{
		Use:   "recover [file]",
		Short: "Recover a lost or corrupt file from its backup chain",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupRecover,
	}
	backupCleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove expired and excess backups",
		RunE:  runBackupClean,
	}

	// --- Checkpoint Management ---
	checkpointCmd = &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage pipeline checkpoints",
	}
	checkpointListCmd = &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE:  runCheckpointList, // Defined in cmd_checkpoint.go
	}
	checkpointRestoreCmd = &cobra.Command{
		Use:   "restore [checkpoint-id] [target]",
		Short: "Restore a checkpoint snapshot to a target path",
		Args:  cobra.ExactArgs(2),
		RunE:  runCheckpointRestore,
	}
	checkpointCleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove checkpoints older than the maximum age",
		RunE:  runCheckpointClean,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.ccmonitor/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "force JSON log output")
	rootCmd.PersistentFlags().BoolVar(&traceEnabled, "trace", false, "emit OpenTelemetry spans to stdout")
	rootCmd.PersistentFlags().StringVar(&indexFlag, "index", "", "backup metadata index: json|badger")

	pruneCmd.Flags().StringVar(&pruneLevel, "level", "", "pruning level: light|medium|aggressive")
	pruneCmd.Flags().BoolVar(&pruneConfirm, "confirm-aggressive", false, "confirm the aggressive tier")
	pruneCmd.Flags().StringVarP(&pruneOutput, "output", "o", "", "output path (default: prune in place)")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "validate the full pipeline but discard the result")
	pruneCmd.Flags().BoolVar(&pruneNoCompress, "no-compression", false, "store the backup uncompressed")
	pruneCmd.Flags().StringVar(&pruneValidation, "validation", "", "validation depth: basic|standard|comprehensive")
	pruneCmd.Flags().Float64Var(&pruneThreshold, "false-positive-threshold", 0, "max fraction of essential records the prune may drop")

	backupCleanCmd.Flags().IntVar(&cleanRetentionDays, "retention-days", 0, "override retention in days")
	backupCleanCmd.Flags().IntVar(&cleanMaxPerFile, "max-per-file", 0, "override max backups kept per file")
	checkpointCleanCmd.Flags().StringVar(&checkpointMaxAge, "max-age", "168h", "maximum checkpoint age (Go duration)")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupVerifyCmd,
		backupRestoreCmd, backupRecoverCmd, backupCleanCmd)
	checkpointCmd.AddCommand(checkpointListCmd, checkpointRestoreCmd, checkpointCleanCmd)
	rootCmd.AddCommand(pruneCmd, validateCmd, backupCmd, checkpointCmd)
}

// newPruner builds a SafePruner from config plus prune-command flag
// overrides.
func newPruner() (*pruner.SafePruner, error) {
	opts := config.options()
	if pruneLevel != "" {
		opts.PruningLevel = pruneLevel
	}
	if pruneConfirm {
		opts.ConfirmAggressive = true
	}
	if pruneNoCompress {
		opts.EnableCompression = false
	}
	if pruneValidation != "" {
		opts.ValidationLevel = pruner.ValidationDepth(pruneValidation)
	}
	if pruneThreshold > 0 {
		opts.FalsePositiveThreshold = pruneThreshold
	}
	opts.DryRun = pruneDryRun

	m, err := newBackupManager(opts)
	if err != nil {
		return nil, err
	}
	return pruner.New(config.dataDir(), opts, logger.Slog(), pruner.WithBackupManager(m))
}

// newBackupManager builds the shared backup manager honoring the index
// selection.
func newBackupManager(opts pruner.Options) (*backup.Manager, error) {
	dir := filepath.Join(config.dataDir(), "backups")

	var mopts []backup.Option
	mopts = append(mopts,
		backup.WithCompression(opts.EnableCompression),
		backup.WithRetention(time.Duration(opts.BackupRetentionDays)*24*time.Hour),
	)
	switch config.Index {
	case "", "json":
		return backup.NewManager(dir, logger.Slog(), mopts...)
	case "badger":
		idx, err := backup.NewBadgerIndex(dir)
		if err != nil {
			return nil, err
		}
		return backup.NewManager(dir, logger.Slog(), append(mopts, backup.WithIndex(idx))...)
	default:
		return nil, fmt.Errorf("unknown index type %q (want json or badger)", config.Index)
	}
}
