package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashText returns a stable hex identifier for a piece of text. Used for
// prompt-hash audit fields on runs.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
