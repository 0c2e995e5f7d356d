// Package crypto implements identifier hashing and shared-secret verification.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// HashIdentifier returns a stable hash for a client-supplied identifier so
// raw identifiers are never stored.
func HashIdentifier(id string) string {
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:])
}

// Secret holds the Argon2id digest of the configured shared secret.
// Candidates are digested with the same salt and compared in constant time.
type Secret struct {
	salt   []byte
	digest []byte
}

// NewSecret digests the configured shared secret with a per-process salt.
func NewSecret(secret string) (*Secret, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secret salt: %w", err)
	}
	return &Secret{
		salt:   salt,
		digest: argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen),
	}, nil
}

// Verify reports whether the candidate matches the configured secret.
func (s *Secret) Verify(candidate string) bool {
	got := argon2.IDKey([]byte(candidate), s.salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, s.digest) == 1
}
