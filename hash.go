package ldapauth

import (
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// hashSecret hashes the submitted secret with bcrypt before it is persisted.
// The raw secret is never stored; the directory remains the authority for
// verification, the hash only keeps the local record well-formed for
// applications that expect one.
func hashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// tokensEqual compares remember tokens in constant time.
func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateRememberToken returns a fresh random remember-me token.
func GenerateRememberToken() string {
	return uuid.NewString()
}
