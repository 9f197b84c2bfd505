package pipeline

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// ComputeFingerprint produces a stable hex digest over the store key, the
// object key, and the file content. The content is streamed once and never
// held in memory. The fingerprint only seeds upload session identifiers;
// the remote store does not consult it.
func ComputeFingerprint(storeKey, objectKey string, content io.Reader) (string, error) {
	hasher := sha256.New()
	io.WriteString(hasher, storeKey)
	io.WriteString(hasher, objectKey)
	if _, err := io.Copy(hasher, content); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// newSessionID derives a fresh upload session id: a fingerprint prefix
// plus random bytes, so sessions are never reused across invocations.
func newSessionID(fingerprint string) (string, error) {
	random := make([]byte, 8)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	prefix := fingerprint
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "-" + hex.EncodeToString(random), nil
}
