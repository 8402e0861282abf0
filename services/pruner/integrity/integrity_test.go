// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writeGzip(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(content); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestChecksumFile_KnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jsonl", []byte("hello\n"))

	got, err := ChecksumFile(path)
	if err != nil {
		t.Fatalf("ChecksumFile: %v", err)
	}
	// sha256 of "hello\n"
	want := "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"
	if got != want {
		t.Errorf("digest = %s, want %s", got, want)
	}
}

func TestChecksumFile_Missing(t *testing.T) {
	_, err := ChecksumFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestChecksumFile_Directory(t *testing.T) {
	_, err := ChecksumFile(t.TempDir())
	if !errors.Is(err, ErrNotRegularFile) {
		t.Fatalf("expected ErrNotRegularFile, got %v", err)
	}
}

func TestVerifyFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.jsonl", []byte(`{"uuid":"1"}`+"\n"))
	b := writeFile(t, dir, "b.jsonl", []byte(`{"uuid":"1"}`+"\n"))
	c := writeFile(t, dir, "c.jsonl", []byte(`{"uuid":"2"}`+"\n"))

	cmp, err := VerifyFiles(a, b)
	if err != nil {
		t.Fatalf("VerifyFiles: %v", err)
	}
	if !cmp.Equal {
		t.Error("identical files should compare equal")
	}
	if cmp.Method != MethodSHA256 {
		t.Errorf("method = %s, want %s", cmp.Method, MethodSHA256)
	}

	cmp, err = VerifyFiles(a, c)
	if err != nil {
		t.Fatalf("VerifyFiles: %v", err)
	}
	if cmp.Equal {
		t.Error("different files should not compare equal")
	}
}

func TestVerifyAgainstGzip(t *testing.T) {
	dir := t.TempDir()
	content := []byte(strings.Repeat(`{"uuid":"x","parentUuid":null}`+"\n", 100))
	plain := writeFile(t, dir, "orig.jsonl", content)
	gz := writeGzip(t, dir, "orig.jsonl.gz", content)

	cmp, err := VerifyAgainstGzip(plain, gz)
	if err != nil {
		t.Fatalf("VerifyAgainstGzip: %v", err)
	}
	if !cmp.Equal {
		t.Error("decompressed content should match original")
	}
	if cmp.Method != MethodSHA256Gzip {
		t.Errorf("method = %s, want %s", cmp.Method, MethodSHA256Gzip)
	}

	// The compressed byte stream itself must not be treated as comparable.
	raw, err := VerifyFiles(plain, gz)
	if err != nil {
		t.Fatalf("VerifyFiles: %v", err)
	}
	if raw.Equal {
		t.Error("compressed bytes should differ from plain bytes")
	}
}

func TestVerifyAgainstGzip_Mismatch(t *testing.T) {
	dir := t.TempDir()
	plain := writeFile(t, dir, "orig.jsonl", []byte("one\n"))
	gz := writeGzip(t, dir, "other.jsonl.gz", []byte("two\n"))

	cmp, err := VerifyAgainstGzip(plain, gz)
	if err != nil {
		t.Fatalf("VerifyAgainstGzip: %v", err)
	}
	if cmp.Equal {
		t.Error("mismatched content should not compare equal")
	}
}

func TestCompareSampled(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("abcdefgh"), 1024)

	a := writeFile(t, dir, "a.bin", content)
	b := writeFile(t, dir, "b.bin", append([]byte(nil), content...))

	cmp, err := CompareSampled(a, b, 256)
	if err != nil {
		t.Fatalf("CompareSampled: %v", err)
	}
	if !cmp.Equal {
		t.Error("identical files should compare equal")
	}
	if cmp.Method != MethodSampled {
		t.Errorf("method = %s, want %s", cmp.Method, MethodSampled)
	}
}

func TestCompareSampled_SizeMismatch(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", []byte("aaaa"))
	b := writeFile(t, dir, "b.bin", []byte("aaaaa"))

	cmp, err := CompareSampled(a, b, 2)
	if err != nil {
		t.Fatalf("CompareSampled: %v", err)
	}
	if cmp.Equal {
		t.Error("size mismatch should fail sampled comparison")
	}
}

func TestCompareSampled_TailMismatch(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("x"), 4096)
	altered := append([]byte(nil), content...)
	altered[len(altered)-1] = 'y'

	a := writeFile(t, dir, "a.bin", content)
	b := writeFile(t, dir, "b.bin", altered)

	cmp, err := CompareSampled(a, b, 64)
	if err != nil {
		t.Fatalf("CompareSampled: %v", err)
	}
	if cmp.Equal {
		t.Error("tail mismatch should fail sampled comparison")
	}
}
