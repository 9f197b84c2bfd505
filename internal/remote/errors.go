package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing bucket, object, session, or
	// manifest on the remote side. Terminal, never retried.
	ErrNotFound = errors.New("not found")

	// ErrManifestShape indicates an expected derivative or viewable node
	// is absent from the manifest tree.
	ErrManifestShape = errors.New("unexpected manifest shape")
)

// StoreError is a failure reported by the remote content store or
// conversion service during an in-flight call. It is terminal for the
// operation but leaves remote-side resumable state intact.
type StoreError struct {
	Op         string
	StatusCode int
	Diagnostic string
}

func (e *StoreError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("%s: remote store returned %d: %s", e.Op, e.StatusCode, e.Diagnostic)
	}
	return fmt.Sprintf("%s: remote store returned %d", e.Op, e.StatusCode)
}
