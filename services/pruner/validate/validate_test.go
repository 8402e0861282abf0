// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/ccmonitor/services/pruner/backup"
	"github.com/AleutianAI/ccmonitor/services/pruner/engine"
)

const fixture = `{"uuid":"a","parentUuid":null,"message":{"role":"user","content":"hi"}}
{"uuid":"b","parentUuid":"a","message":{"role":"assistant","content":"hello"}}
{"uuid":"c","parentUuid":"b","message":{"role":"user","content":"bye"}}
`

func newTestValidator(t *testing.T, opts ...Option) (*Validator, *backup.Manager) {
	t.Helper()
	m, err := backup.NewManager(filepath.Join(t.TempDir(), "backups"), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return NewValidator(m, nil, opts...), m
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestPreOperation_ValidFile(t *testing.T) {
	v, _ := newTestValidator(t)
	path := writeFile(t, t.TempDir(), "session.jsonl", fixture)

	result := v.PreOperation(context.Background(), path)
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestPreOperation_MissingFile(t *testing.T) {
	v, _ := newTestValidator(t)

	result := v.PreOperation(context.Background(), filepath.Join(t.TempDir(), "gone.jsonl"))
	if result.Valid {
		t.Fatal("missing file must fail pre-operation validation")
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "does not exist") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestPreOperation_Directory(t *testing.T) {
	v, _ := newTestValidator(t)

	result := v.PreOperation(context.Background(), t.TempDir())
	if result.Valid {
		t.Fatal("a directory must fail pre-operation validation")
	}
}

func TestPreOperation_EmptyFileWarns(t *testing.T) {
	v, _ := newTestValidator(t)
	path := writeFile(t, t.TempDir(), "empty.jsonl", "")

	result := v.PreOperation(context.Background(), path)
	if !result.Valid {
		t.Fatalf("empty file should warn, not fail: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected an empty-file warning")
	}
}

func TestPreOperation_MalformedSample(t *testing.T) {
	v, _ := newTestValidator(t)
	path := writeFile(t, t.TempDir(), "bad.jsonl", fixture+"not json at all\n")

	result := v.PreOperation(context.Background(), path)
	if result.Valid {
		t.Fatal("malformed sampled lines must fail pre-operation validation")
	}
}

func TestBackupIntegrity(t *testing.T) {
	v, m := newTestValidator(t)
	original := writeFile(t, t.TempDir(), "session.jsonl", fixture)

	meta, err := m.Create(context.Background(), original)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := v.BackupIntegrity(context.Background(), original, meta.BackupPath)
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}

	// Mutate the original; the check must now fail.
	if err := os.WriteFile(original, []byte("drifted\n"), 0o644); err != nil {
		t.Fatalf("mutate original: %v", err)
	}
	result = v.BackupIntegrity(context.Background(), original, meta.BackupPath)
	if result.Valid {
		t.Fatal("drifted original must fail backup integrity validation")
	}
}

func TestBackupIntegrity_NoBackup(t *testing.T) {
	v, _ := newTestValidator(t)
	original := writeFile(t, t.TempDir(), "session.jsonl", fixture)

	result := v.BackupIntegrity(context.Background(), original, "")
	if result.Valid {
		t.Fatal("missing backup path must fail")
	}
}

func TestTransformIntegrity_CleanPrune(t *testing.T) {
	v, _ := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)
	pruned := writeFile(t, dir, "pruned.jsonl",
		`{"uuid":"a","parentUuid":null,"message":{"role":"user","content":"hi"}}`+"\n"+
			`{"uuid":"b","parentUuid":"a","message":{"role":"assistant","content":"hello"}}`+"\n")

	result := v.TransformIntegrity(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
	})
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
	if result.CompressionRatio <= 0 {
		t.Errorf("compression ratio = %f, want > 0", result.CompressionRatio)
	}
}

func TestTransformIntegrity_DetectsOrphans(t *testing.T) {
	v, _ := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)
	// "c" kept while its parent "b" was dropped.
	pruned := writeFile(t, dir, "pruned.jsonl",
		`{"uuid":"a","parentUuid":null,"message":{"role":"user","content":"hi"}}`+"\n"+
			`{"uuid":"c","parentUuid":"b","message":{"role":"user","content":"bye"}}`+"\n")

	result := v.TransformIntegrity(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
	})
	if result.Valid {
		t.Fatal("orphaned record must fail transform integrity validation")
	}
	if len(result.OrphanedRecords) != 1 || result.OrphanedRecords[0] != "c" {
		t.Errorf("orphaned = %v, want [c]", result.OrphanedRecords)
	}
	if len(result.BrokenChains) != 1 || result.BrokenChains[0] != "b" {
		t.Errorf("broken chains = %v, want [b]", result.BrokenChains)
	}
}

func TestTransformIntegrity_FalsePositiveRate(t *testing.T) {
	v, _ := newTestValidator(t)
	dir := t.TempDir()

	// 100 essential root records; the candidate drops two of them. A 2%
	// false-positive rate exceeds the 1% default threshold.
	var originalContent, prunedContent strings.Builder
	var essential []string
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("ess-%03d", i)
		line := fmt.Sprintf(`{"uuid":"%s","parentUuid":null}`, id)
		originalContent.WriteString(line + "\n")
		if i >= 2 {
			prunedContent.WriteString(line + "\n")
		}
		essential = append(essential, id)
	}
	original := writeFile(t, dir, "session.jsonl", originalContent.String())
	pruned := writeFile(t, dir, "pruned.jsonl", prunedContent.String())

	result := v.TransformIntegrity(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
		Stats:        &engine.Stats{EssentialUUIDs: essential},
	})
	if result.Valid {
		t.Fatal("2% essential loss must exceed the 1% threshold and fail")
	}
	if result.FalsePositiveRate != 0.02 {
		t.Errorf("false-positive rate = %f, want 0.02", result.FalsePositiveRate)
	}
}

func TestTransformIntegrity_InventedRecords(t *testing.T) {
	v, _ := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)
	pruned := writeFile(t, dir, "pruned.jsonl",
		fixture+`{"uuid":"ghost","parentUuid":null}`+"\n")

	result := v.TransformIntegrity(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
	})
	if result.Valid {
		t.Fatal("records absent from the original must fail validation")
	}
}

func TestPostOperation(t *testing.T) {
	v, _ := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)
	pruned := writeFile(t, dir, "pruned.jsonl", strings.SplitAfter(fixture, "\n")[0])

	result := v.PostOperation(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
	})
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
}

func TestPostOperation_EmptyOutput(t *testing.T) {
	v, _ := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)
	pruned := writeFile(t, dir, "pruned.jsonl", "")

	result := v.PostOperation(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
	})
	if result.Valid {
		t.Fatal("empty candidate for a non-empty original must fail")
	}
}

func TestPostOperation_UnparseableOutput(t *testing.T) {
	v, _ := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)
	pruned := writeFile(t, dir, "pruned.jsonl", "corrupt {{{\n")

	result := v.PostOperation(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
	})
	if result.Valid {
		t.Fatal("unparseable candidate must fail post-operation validation")
	}
}

func TestPostOperation_ExplicitTargetTolerance(t *testing.T) {
	v, _ := newTestValidator(t, WithTargetRatio(0.9))
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)
	// Keeping two of three records reduces bytes far less than 90%.
	pruned := writeFile(t, dir, "pruned.jsonl",
		strings.Join(strings.SplitAfter(fixture, "\n")[:2], ""))

	result := v.PostOperation(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
	})
	if result.Valid {
		t.Fatal("reduction far from the explicit target must fail")
	}
}

func TestRecoveryCapability(t *testing.T) {
	v, m := newTestValidator(t)
	original := writeFile(t, t.TempDir(), "session.jsonl", fixture)

	meta, err := m.Create(context.Background(), original)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := v.RecoveryCapability(context.Background(), Input{
		OriginalPath: original,
		BackupPath:   meta.BackupPath,
		BackupMeta:   meta,
	})
	if !result.Valid {
		t.Fatalf("expected valid, got errors: %v", result.Errors)
	}
}

func TestRecoveryCapability_CorruptBackup(t *testing.T) {
	v, m := newTestValidator(t)
	original := writeFile(t, t.TempDir(), "session.jsonl", fixture)

	meta, err := m.Create(context.Background(), original)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.WriteFile(meta.BackupPath, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt backup: %v", err)
	}

	result := v.RecoveryCapability(context.Background(), Input{
		OriginalPath: original,
		BackupPath:   meta.BackupPath,
		BackupMeta:   meta,
	})
	if result.Valid {
		t.Fatal("a backup that cannot restore must fail recovery validation")
	}
}

func TestRunAll_Aggregates(t *testing.T) {
	v, m := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)

	meta, err := m.Create(context.Background(), original)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	pruned := writeFile(t, dir, "pruned.jsonl",
		strings.Join(strings.SplitAfter(fixture, "\n")[:2], ""))

	summary := v.RunAll(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
		BackupPath:   meta.BackupPath,
		BackupMeta:   meta,
	})
	if !summary.OverallValid {
		t.Fatalf("expected overall valid, failed levels %v, results %+v",
			summary.FailedLevels, summary.Results)
	}
	if len(summary.Results) != 5 {
		t.Errorf("got %d results, want 5", len(summary.Results))
	}
}

func TestRunAll_OneFailureFailsAll(t *testing.T) {
	v, m := newTestValidator(t)
	dir := t.TempDir()
	original := writeFile(t, dir, "session.jsonl", fixture)

	meta, err := m.Create(context.Background(), original)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Candidate keeps "c" but drops its parent "b".
	pruned := writeFile(t, dir, "pruned.jsonl",
		`{"uuid":"a","parentUuid":null,"message":{"role":"user","content":"hi"}}`+"\n"+
			`{"uuid":"c","parentUuid":"b","message":{"role":"user","content":"bye"}}`+"\n")

	summary := v.RunAll(context.Background(), Input{
		OriginalPath: original,
		PrunedPath:   pruned,
		BackupPath:   meta.BackupPath,
		BackupMeta:   meta,
	})
	if summary.OverallValid {
		t.Fatal("a single failing level must fail the whole validation")
	}
	if len(summary.FailedLevels) != 1 || summary.FailedLevels[0] != LevelTransformIntegrity {
		t.Errorf("failed levels = %v, want [transform_integrity]", summary.FailedLevels)
	}
	if len(summary.Results) != 5 {
		t.Errorf("all levels should still run; got %d results", len(summary.Results))
	}
}
