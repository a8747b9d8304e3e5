// Package hasher computes content identifiers for script files.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const (
	// AccessDenied is returned in place of a digest when the file cannot be read.
	AccessDenied = "access-denied"

	// UnknownHash identifies a run that has no script file at all (REPL, embedded).
	UnknownHash = "unknown-hash"

	chunkSize = 4096
)

// HashFile streams the file at path through SHA-256 in fixed-size chunks
// so memory use does not depend on file size.
func HashFile(path string) ([sha256.Size]byte, error) {
	var digest [sha256.Size]byte

	file, err := os.Open(path)
	if err != nil {
		return digest, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, onlyReader{file}, buf); err != nil {
		return digest, fmt.Errorf("hashing %s: %w", path, err)
	}

	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// ScriptDigest returns the lowercase hex SHA-256 of the file at path, or
// AccessDenied when any I/O error occurs. It never fails.
func ScriptDigest(path string) string {
	digest, err := HashFile(path)
	if err != nil {
		return AccessDenied
	}
	return hex.EncodeToString(digest[:])
}

// onlyReader hides *os.File's WriterTo so io.CopyBuffer actually uses the
// bounded buffer instead of delegating to a file-specific fast path.
type onlyReader struct {
	io.Reader
}
