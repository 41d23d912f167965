package util

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// VerifyStreamHash checksums the given io.Reader and compares the SHA256
// against goal. It returns the number of bytes read and whether the hash
// matched. An empty goal always matches. The reader is not closed.
func VerifyStreamHash(r io.Reader, goal []byte) (int64, bool, error) {
	hw := NewHashWriterPlain()
	n, err := io.Copy(hw, r)
	_, ok := hw.CheckSHA256(goal)
	return n, ok, err
}

// An HashWriter wraps an io.Writer and also calculates the SHA256 hash and
// size of the bytes written.
type HashWriter struct {
	w      io.Writer // nil for a plain writer
	sha256 hash.Hash
	size   int64
}

// NewHashWriter returns a HashWriter wrapping w.
func NewHashWriter(w io.Writer) *HashWriter {
	return &HashWriter{w: w, sha256: sha256.New()}
}

// NewHashWriterPlain return a HashWriter that does not wrap an output stream.
// It will just compute the checksum of the data written to it.
func NewHashWriterPlain() *HashWriter {
	return &HashWriter{sha256: sha256.New()}
}

func (hw *HashWriter) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if hw.w != nil {
		n, err = hw.w.Write(p)
	}
	hw.sha256.Write(p[:n])
	hw.size += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (hw *HashWriter) Size() int64 {
	return hw.size
}

// SHA256 returns the hash of the bytes written so far.
func (hw *HashWriter) SHA256() []byte {
	return hw.sha256.Sum(nil)
}

// SHA256Hex returns the hash as lower case hex.
func (hw *HashWriter) SHA256Hex() string {
	return hex.EncodeToString(hw.SHA256())
}

// CheckSHA256 returns the SHA256 hash for this writer, and compares it for
// equality with the goal hash passed in. If the goal is empty then it is
// treated as matching, and true is returned.
func (hw *HashWriter) CheckSHA256(goal []byte) ([]byte, bool) {
	computed := hw.SHA256()
	ok := len(goal) == 0 || bytes.Equal(goal, computed)
	return computed, ok
}
