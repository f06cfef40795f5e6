// Package fingerprint detects whether a file changed between two reads.
//
// A Fingerprint is the (size, modification time, content hash) triple of a
// file. Guarded values pair an expensive result computed outside the project
// lock with the fingerprint of the input it was computed from, so the result
// can be re-verified cheaply inside the critical section.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// Fingerprint identifies one observed version of a file.
type Fingerprint struct {
	Size        int64  `json:"size"`
	ModTimeNS   int64  `json:"mtime_ns"`
	ContentHash string `json:"content_hash"`
}

// Of fingerprints the file at path.
func Of(path string) (Fingerprint, error) {
	fp, _, err := read(path)
	return fp, err
}

// read fingerprints path and returns the bytes the hash was computed over.
// The stat is taken before the read so a write racing the read shows up as a
// mismatch on the next fingerprint.
func read(path string) (Fingerprint, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, nil, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Fingerprint{}, nil, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return Fingerprint{
		Size:        info.Size(),
		ModTimeNS:   info.ModTime().UnixNano(),
		ContentHash: hex.EncodeToString(sum[:]),
	}, data, nil
}

// Matches reports whether a and b describe the same file version.
// All three components must be equal.
func Matches(a, b Fingerprint) bool {
	return a.Size == b.Size && a.ModTimeNS == b.ModTimeNS && a.ContentHash == b.ContentHash
}

// IsZero reports whether fp was never populated.
func (fp Fingerprint) IsZero() bool {
	return fp == Fingerprint{}
}
