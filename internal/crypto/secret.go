package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes.
const maxSecretBytes = 54

var (
	ErrSecretLength = errors.New("invalid secret length")
	ErrSecretHash   = errors.New("failed to hash secret")
)

// GenerateSecret returns a URL-safe secret built from n random bytes.
// 48 bytes encode to 64 characters.
func GenerateSecret(n int) (string, error) {
	if n < 16 || n > maxSecretBytes {
		return "", fmt.Errorf("%w: %d bytes (want 16-%d)", ErrSecretLength, n, maxSecretBytes)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSecret hashes a room secret for storage.
func HashSecret(secret string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretHash, err)
	}
	return string(hash), nil
}

// VerifySecret compares secret against a stored hash.
func VerifySecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
