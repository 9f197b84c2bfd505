package pipeline

import (
	"encoding/base64"
	"strings"
)

// DerivationKey converts an object identifier into the opaque key that
// addresses its conversion job and output manifest: unpadded base64 with
// any '/' replaced so the key is URL-path safe.
func DerivationKey(objectID string) string {
	encoded := base64.StdEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(objectID))
	return strings.ReplaceAll(encoded, "/", "_")
}
