// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package records

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeJSONL(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestScanFile_Basic(t *testing.T) {
	path := writeJSONL(t,
		`{"uuid":"a","parentUuid":null,"message":{"role":"user"}}`,
		`{"uuid":"b","parentUuid":"a","message":{"role":"assistant"}}`,
		``,
		`{"uuid":"c","parentUuid":"b"}`,
	)

	recs, err := ScanFile(path)
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if !recs[0].IsRoot() {
		t.Error("record a should be a root")
	}
	if recs[1].ParentUUID != "a" {
		t.Errorf("record b parent = %q, want a", recs[1].ParentUUID)
	}
	if recs[2].Line != 4 {
		t.Errorf("record c line = %d, want 4", recs[2].Line)
	}
	if string(recs[2].Raw) != `{"uuid":"c","parentUuid":"b"}` {
		t.Errorf("raw line not preserved: %s", recs[2].Raw)
	}
}

func TestScanFile_Malformed(t *testing.T) {
	path := writeJSONL(t,
		`{"uuid":"a","parentUuid":null}`,
		`not json at all`,
	)

	_, err := ScanFile(path)
	if !errors.Is(err, ErrMalformedLine) {
		t.Fatalf("expected ErrMalformedLine, got %v", err)
	}
}

func TestScanFile_Missing(t *testing.T) {
	_, err := ScanFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSampleFile(t *testing.T) {
	path := writeJSONL(t,
		`{"uuid":"a"}`,
		`broken`,
		`{"uuid":"b","parentUuid":"a"}`,
	)

	report, err := SampleFile(path, 100)
	if err != nil {
		t.Fatalf("SampleFile: %v", err)
	}
	if report.LinesRead != 3 {
		t.Errorf("lines read = %d, want 3", report.LinesRead)
	}
	if report.ValidRecords != 2 {
		t.Errorf("valid records = %d, want 2", report.ValidRecords)
	}
	if !reflect.DeepEqual(report.MalformedLines, []int{2}) {
		t.Errorf("malformed lines = %v, want [2]", report.MalformedLines)
	}
	if report.Empty {
		t.Error("report should not be empty")
	}
}

func TestSampleFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	report, err := SampleFile(path, 10)
	if err != nil {
		t.Fatalf("SampleFile: %v", err)
	}
	if !report.Empty {
		t.Error("empty file should report Empty")
	}
}

func TestOrphanedChildren(t *testing.T) {
	original := NewSet([]Record{
		{UUID: "A"},
		{UUID: "B", ParentUUID: "A"},
		{UUID: "C", ParentUUID: "B"},
	})
	pruned := NewSet([]Record{
		{UUID: "A"},
		{UUID: "C", ParentUUID: "B"},
	})

	orphaned := OrphanedChildren(original, pruned)
	if !reflect.DeepEqual(orphaned, []string{"C"}) {
		t.Errorf("orphaned = %v, want [C]", orphaned)
	}

	chains := BrokenChains(original, pruned)
	if !reflect.DeepEqual(chains, []string{"B"}) {
		t.Errorf("broken chains = %v, want [B]", chains)
	}
}

func TestOrphanedChildren_IntactForest(t *testing.T) {
	original := NewSet([]Record{
		{UUID: "A"},
		{UUID: "B", ParentUUID: "A"},
	})
	pruned := NewSet([]Record{
		{UUID: "A"},
		{UUID: "B", ParentUUID: "A"},
	})

	if orphaned := OrphanedChildren(original, pruned); len(orphaned) != 0 {
		t.Errorf("intact forest should have no orphans, got %v", orphaned)
	}
}

func TestOrphanedChildren_ParentNeverExisted(t *testing.T) {
	// A parent reference that was already dangling in the original is not
	// an orphan introduced by the transform.
	original := NewSet([]Record{
		{UUID: "B", ParentUUID: "ghost"},
	})
	pruned := NewSet([]Record{
		{UUID: "B", ParentUUID: "ghost"},
	})

	if orphaned := OrphanedChildren(original, pruned); len(orphaned) != 0 {
		t.Errorf("pre-existing dangling parent is not an orphan, got %v", orphaned)
	}
}

func TestParents(t *testing.T) {
	set := NewSet([]Record{
		{UUID: "A"},
		{UUID: "B", ParentUUID: "A"},
		{UUID: "C", ParentUUID: "A"},
		{UUID: "D"},
	})

	parents := set.Parents()
	if !parents["A"] {
		t.Error("A should be a parent")
	}
	if parents["D"] {
		t.Error("D has no children")
	}
}
