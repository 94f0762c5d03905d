package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrCredentialMismatch an existing identity was presented with a digest
// that does not match the stored hash.
var ErrCredentialMismatch = errors.New("credential mismatch")

// ComputeCredentialDigest is the digest a client computes over its secret
// before it ever leaves the device. The account directory only sees this
// digest, never the raw secret.
func ComputeCredentialDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GeneratePassword hashes the credential digest for storage.
func GeneratePassword(digest string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(digest), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword reports whether the given credential digest matches the
// stored hash.
func ComparePassword(stored, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(digest)) == nil
}
