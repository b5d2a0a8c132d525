package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and checks secrets with bcrypt
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with cost, falling back to bcrypt.DefaultCost when out of range
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns the bcrypt hash of secret
func (h *Hasher) Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(out), nil
}

// Compare reports whether secret matches hash. Malformed hashes never match.
func (h *Hasher) Compare(hash, secret string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// LegacyPINDigest is the unsalted SHA-256 hex digest older terminals stored for PINs
func LegacyPINDigest(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// verify checks credential against the password first, then the bcrypt PIN
// hash, then the legacy PIN digest. Any match succeeds.
func (h *Hasher) verify(e *models.Employee, credential string) bool {
	if h.Compare(e.PasswordHash, credential) {
		return true
	}
	if e.PinHash != "" && h.Compare(e.PinHash, credential) {
		return true
	}
	if e.PinDigest != "" {
		want := LegacyPINDigest(credential)
		return subtle.ConstantTimeCompare([]byte(want), []byte(e.PinDigest)) == 1
	}
	return false
}
