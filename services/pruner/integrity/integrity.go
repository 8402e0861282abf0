// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity provides content-addressed hashing and file equality
// checks for the safe mutation pipeline.
//
// All hashing streams files in fixed-size chunks so memory use is bounded
// regardless of file size. Comparisons against gzip-compressed counterparts
// always decompress through a streaming reader first; the compressed byte
// stream is never assumed comparable to the original.
//
// Every comparison reports the Method that produced it. Callers that accept
// the sampled fallback for very large files do so explicitly and can tell
// from the result that a full hash was not computed.
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// chunkSize is the read buffer used when streaming a file through the hash.
const chunkSize = 64 * 1024

// LargeFileThreshold is the size above which callers may elect the sampled
// comparison fallback instead of a full hash.
const LargeFileThreshold = 100 * 1024 * 1024

// DefaultSampleSize is the number of bytes read from each end of a file
// during a sampled comparison.
const DefaultSampleSize = 1024 * 1024

// Method identifies how a comparison was performed.
type Method string

const (
	// MethodSHA256 is a full streaming SHA-256 digest comparison.
	MethodSHA256 Method = "sha256"

	// MethodSHA256Gzip is a full digest comparison where one side was
	// decompressed through a gzip reader before hashing.
	MethodSHA256Gzip Method = "sha256-gzip"

	// MethodSampled compares size plus the first and last N bytes only.
	// This is an explicit trade-off for very large files, not a silent
	// approximation.
	MethodSampled Method = "sampled"
)

// Sentinel errors for integrity operations.
var (
	// ErrNotRegularFile is returned when a path exists but is not a
	// regular file (directory, device, socket).
	ErrNotRegularFile = errors.New("not a regular file")
)

// Comparison is the outcome of a two-file equality check.
type Comparison struct {
	// Equal is true when the two contents matched under Method.
	Equal bool `json:"equal"`

	// Method records how the comparison was performed.
	Method Method `json:"method"`

	// DigestA and DigestB are the hex digests when a hashing method was
	// used, empty for sampled comparisons.
	DigestA string `json:"digest_a,omitempty"`
	DigestB string `json:"digest_b,omitempty"`
}

// ChecksumFile computes the SHA-256 digest of a file by streaming it in
// fixed-size chunks.
//
// # Inputs
//
//   - path: File to hash. Must be a regular file.
//
// # Outputs
//
//   - string: Lowercase hex digest (64 characters).
//   - error: Non-nil if the file is missing, irregular, or unreadable.
func ChecksumFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ChecksumReader(f)
}

// ChecksumReader computes the SHA-256 digest of everything readable from r.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumGzipFile computes the SHA-256 digest of the decompressed content
// of a gzip file.
func ChecksumGzipFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("gzip reader %s: %w", path, err)
	}
	defer zr.Close()

	return ChecksumReader(zr)
}

// VerifyFiles compares two files by full SHA-256 digest.
//
// # Outputs
//
//   - Comparison: Equal true iff digests match; Method is always
//     MethodSHA256.
//   - error: Non-nil if either file could not be hashed.
func VerifyFiles(pathA, pathB string) (Comparison, error) {
	digestA, err := ChecksumFile(pathA)
	if err != nil {
		return Comparison{}, err
	}
	digestB, err := ChecksumFile(pathB)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		Equal:   digestA == digestB,
		Method:  MethodSHA256,
		DigestA: digestA,
		DigestB: digestB,
	}, nil
}

// VerifyAgainstGzip compares a plain file against a gzip-compressed
// counterpart by decompressing the latter through a streaming reader and
// hashing the decompressed content.
func VerifyAgainstGzip(plainPath, gzipPath string) (Comparison, error) {
	digestA, err := ChecksumFile(plainPath)
	if err != nil {
		return Comparison{}, err
	}
	digestB, err := ChecksumGzipFile(gzipPath)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		Equal:   digestA == digestB,
		Method:  MethodSHA256Gzip,
		DigestA: digestA,
		DigestB: digestB,
	}, nil
}

// CompareSampled compares two files by size plus their first and last
// sampleSize bytes. It exists for files above LargeFileThreshold where a
// full hash is prohibitively slow; the returned Method makes the trade-off
// visible to the caller.
//
// # Inputs
//
//   - pathA, pathB: Files to compare.
//   - sampleSize: Bytes read from each end. <=0 uses DefaultSampleSize.
//
// # Outputs
//
//   - Comparison: Equal true iff sizes match and both boundary samples
//     match. Method is always MethodSampled.
//   - error: Non-nil on I/O failure.
func CompareSampled(pathA, pathB string, sampleSize int64) (Comparison, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	infoA, err := os.Stat(pathA)
	if err != nil {
		return Comparison{}, fmt.Errorf("stat %s: %w", pathA, err)
	}
	infoB, err := os.Stat(pathB)
	if err != nil {
		return Comparison{}, fmt.Errorf("stat %s: %w", pathB, err)
	}

	result := Comparison{Method: MethodSampled}
	if infoA.Size() != infoB.Size() {
		return result, nil
	}

	head := infoA.Size()
	if head > sampleSize {
		head = sampleSize
	}

	headA, err := readAt(pathA, 0, head)
	if err != nil {
		return Comparison{}, err
	}
	headB, err := readAt(pathB, 0, head)
	if err != nil {
		return Comparison{}, err
	}
	if !bytes.Equal(headA, headB) {
		return result, nil
	}

	tailOffset := infoA.Size() - sampleSize
	if tailOffset < 0 {
		tailOffset = 0
	}
	tailA, err := readAt(pathA, tailOffset, sampleSize)
	if err != nil {
		return Comparison{}, err
	}
	tailB, err := readAt(pathB, tailOffset, sampleSize)
	if err != nil {
		return Comparison{}, err
	}

	result.Equal = bytes.Equal(tailA, tailB)
	return result, nil
}

// readAt reads up to length bytes from path starting at offset.
func readAt(path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s at %d: %w", path, offset, err)
	}
	return buf[:n], nil
}
