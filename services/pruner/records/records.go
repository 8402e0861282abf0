// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package records reads conversational JSONL logs as a sequence of records
// and analyzes the parent/child forest they form.
//
// A record is one JSON object per line carrying a "uuid" and an optional
// "parentUuid". Only those two fields plus line validity are inspected; the
// payload is opaque to this package and is never interpreted.
package records

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// maxLineBytes bounds a single JSONL line. Conversation records carrying
// large tool output can exceed bufio's default 64KiB token size.
const maxLineBytes = 16 * 1024 * 1024

// Sentinel errors for record scanning.
var (
	// ErrMalformedLine is returned (wrapped, with a line number) when a
	// line is not a valid JSON object.
	ErrMalformedLine = errors.New("malformed JSONL line")
)

// Record is one parsed JSONL entry. Raw retains the original line bytes so
// callers can re-emit records without re-marshaling the opaque payload.
type Record struct {
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid"`
	Raw        json.RawMessage `json:"-"`
	Line       int             `json:"-"`
}

// IsRoot reports whether the record has no parent.
func (r Record) IsRoot() bool {
	return r.ParentUUID == ""
}

// envelope is the minimal shape decoded from each line.
type envelope struct {
	UUID       string  `json:"uuid"`
	ParentUUID *string `json:"parentUuid"`
}

// ScanFile parses every line of a JSONL file into records.
//
// Blank lines are skipped. A line that fails to parse as a JSON object
// aborts the scan with ErrMalformedLine wrapped alongside the 1-based line
// number.
func ScanFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, line, err)
		}

		rec := Record{UUID: env.UUID, Line: line}
		if env.ParentUUID != nil {
			rec.ParentUUID = *env.ParentUUID
		}
		rec.Raw = append(json.RawMessage(nil), raw...)
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	return out, nil
}

// SampleReport summarizes a bounded sanity scan of the head of a file.
type SampleReport struct {
	LinesRead      int
	ValidRecords   int
	MalformedLines []int
	Empty          bool
}

// SampleFile parses up to maxLines lines and reports how many were valid
// JSON objects. Unlike ScanFile it does not abort on a malformed line; it
// records the line number and continues, so pre-operation validation can
// report all problems in the sampled window at once.
func SampleFile(path string, maxLines int) (*SampleReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	report := &SampleReport{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		if maxLines > 0 && line >= maxLines {
			break
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		report.LinesRead++

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			report.MalformedLines = append(report.MalformedLines, line)
			continue
		}
		report.ValidRecords++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	report.Empty = report.LinesRead == 0
	return report, nil
}

// Set indexes a slice of records by UUID for forest queries.
type Set struct {
	Records []Record
	byUUID  map[string]int
}

// NewSet builds an indexed set. Duplicate UUIDs keep the first occurrence.
func NewSet(recs []Record) *Set {
	s := &Set{Records: recs, byUUID: make(map[string]int, len(recs))}
	for i, r := range recs {
		if r.UUID == "" {
			continue
		}
		if _, dup := s.byUUID[r.UUID]; !dup {
			s.byUUID[r.UUID] = i
		}
	}
	return s
}

// Contains reports whether a UUID is present in the set.
func (s *Set) Contains(uuid string) bool {
	_, ok := s.byUUID[uuid]
	return ok
}

// Len returns the number of records in the set.
func (s *Set) Len() int {
	return len(s.Records)
}

// OrphanedChildren returns the UUIDs of records in the pruned set whose
// parent existed in the original set but is absent from the pruned set.
// These are the broken links a transform must not introduce: the child
// survived while the record it chains to was dropped.
func OrphanedChildren(original, pruned *Set) []string {
	var orphaned []string
	for _, r := range pruned.Records {
		if r.ParentUUID == "" {
			continue
		}
		if original.Contains(r.ParentUUID) && !pruned.Contains(r.ParentUUID) {
			orphaned = append(orphaned, r.UUID)
		}
	}
	sort.Strings(orphaned)
	return orphaned
}

// BrokenChains counts the distinct missing parents referenced by orphaned
// children. Two children orphaned by the same dropped parent are one broken
// chain.
func BrokenChains(original, pruned *Set) []string {
	seen := make(map[string]bool)
	var chains []string
	for _, r := range pruned.Records {
		if r.ParentUUID == "" {
			continue
		}
		if original.Contains(r.ParentUUID) && !pruned.Contains(r.ParentUUID) && !seen[r.ParentUUID] {
			seen[r.ParentUUID] = true
			chains = append(chains, r.ParentUUID)
		}
	}
	sort.Strings(chains)
	return chains
}

// Parents returns the UUIDs of records that have at least one child in the
// set.
func (s *Set) Parents() map[string]bool {
	parents := make(map[string]bool)
	for _, r := range s.Records {
		if r.ParentUUID != "" && s.Contains(r.ParentUUID) {
			parents[r.ParentUUID] = true
		}
	}
	return parents
}
