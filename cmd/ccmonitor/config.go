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
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ccmonitor/services/pruner"
)

// Config is the on-disk configuration surface. Flags override it.
type Config struct {
	// DataDir receives the backups/ and checkpoints/ subdirectories.
	DataDir string `yaml:"data_dir"`

	// LogLevel is debug|info|warn|error.
	LogLevel string `yaml:"log_level"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir"`

	// Index selects the backup metadata index: json (default) or badger.
	Index string `yaml:"index"`

	// Pruning carries the orchestrator options.
	Pruning PruningConfig `yaml:"pruning"`
}

// PruningConfig mirrors pruner.Options in YAML form.
type PruningConfig struct {
	Level                  string        `yaml:"level"`
	ConfirmAggressive      bool          `yaml:"confirm_aggressive"`
	EnableCompression      *bool         `yaml:"enable_compression"`
	ValidationLevel        string        `yaml:"validation_level"`
	BackupRetentionDays    int           `yaml:"backup_retention_days"`
	MaxBackups             int           `yaml:"max_backups"`
	FalsePositiveThreshold float64       `yaml:"false_positive_threshold"`
	Timeout                time.Duration `yaml:"timeout"`
}

// defaultConfig returns the configuration used when no file exists.
func defaultConfig() Config {
	return Config{
		DataDir:  "~/.ccmonitor",
		LogLevel: "info",
		Index:    "json",
	}
}

// loadConfig reads the YAML config at path, falling back to defaults when
// path is empty and no default file exists. An explicitly named file that
// cannot be read is an error; a missing default file is not.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if path == "" {
		path = filepath.Join(expandHome("~/.ccmonitor"), "config.yaml")
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// options merges the config's pruning section over the documented
// defaults.
func (c Config) options() pruner.Options {
	opts := pruner.DefaultOptions()
	p := c.Pruning

	if p.Level != "" {
		opts.PruningLevel = p.Level
	}
	opts.ConfirmAggressive = p.ConfirmAggressive
	if p.EnableCompression != nil {
		opts.EnableCompression = *p.EnableCompression
	}
	if p.ValidationLevel != "" {
		opts.ValidationLevel = pruner.ValidationDepth(p.ValidationLevel)
	}
	if p.BackupRetentionDays > 0 {
		opts.BackupRetentionDays = p.BackupRetentionDays
	}
	if p.MaxBackups > 0 {
		opts.MaxBackups = p.MaxBackups
	}
	if p.FalsePositiveThreshold > 0 {
		opts.FalsePositiveThreshold = p.FalsePositiveThreshold
	}
	if p.Timeout > 0 {
		opts.Timeout = p.Timeout
	}
	return opts
}

// dataDir returns the expanded data directory.
func (c Config) dataDir() string {
	return expandHome(c.DataDir)
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
