package relay

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Identity is an agent's relay signing identity. The secret key never
// leaves the local machine; published events carry only the public key.
type Identity struct {
	priv ed25519.PrivateKey
}

// GenerateIdentity creates a fresh ed25519 identity.
func GenerateIdentity() (Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity: %w", err)
	}
	return Identity{priv: priv}, nil
}

// IdentityFromSecretKey restores an identity from its hex-encoded seed.
func IdentityFromSecretKey(secret string) (Identity, error) {
	raw, err := hex.DecodeString(secret)
	if err != nil {
		return Identity{}, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("secret key must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	return Identity{priv: ed25519.NewKeyFromSeed(raw)}, nil
}

// Valid reports whether the identity holds a usable key.
func (id Identity) Valid() bool {
	return len(id.priv) == ed25519.PrivateKeySize
}

// PublicKey returns the hex-encoded public key.
func (id Identity) PublicKey() string {
	if !id.Valid() {
		return ""
	}
	return hex.EncodeToString(id.priv.Public().(ed25519.PublicKey))
}

// SecretKey returns the hex-encoded seed, for persistence only. It must
// never appear in logs or API responses.
func (id Identity) SecretKey() string {
	if !id.Valid() {
		return ""
	}
	return hex.EncodeToString(id.priv.Seed())
}

// Sign signs a hex event id and returns the hex-encoded signature.
func (id Identity) Sign(eventID string) (string, error) {
	raw, err := hex.DecodeString(eventID)
	if err != nil {
		return "", fmt.Errorf("decode event id: %w", err)
	}
	return hex.EncodeToString(ed25519.Sign(id.priv, raw)), nil
}

// NewTeamTag mints a fresh team tag. The tag doubles as the team's shared
// secret on the relay, so it uses a full uuid rather than a short name.
func NewTeamTag() string {
	return uuid.NewString()
}
