package crosstalk

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewAPIKey generates a team credential. Format: ct_<32 hex chars>.
func NewAPIKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return "ct_" + hex.EncodeToString(b), nil
}

// HashAPIKey returns the hex sha256 digest under which a credential is
// stored and indexed. The digest is deterministic so a store can resolve a
// presented key back to its team without keeping the key itself.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
