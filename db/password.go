package db

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Stored hashes carry the Dovecot-style scheme prefix so the verifier can
// tell how a credential was hashed. Only bcrypt is ever generated; the
// cleartext password never reaches the credentials table.
const blfCryptPrefix = "{BLF-CRYPT}"

// GenerateBcryptHash creates a new salted bcrypt hash with the BLF-CRYPT
// prefix.
func GenerateBcryptHash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error generating bcrypt hash: %w", err)
	}
	return blfCryptPrefix + string(hash), nil
}

// verifyPassword checks the provided password against the stored hash.
// Bare bcrypt hashes without the prefix are accepted too.
func verifyPassword(hashedPassword, password string) error {
	hashedPassword = strings.TrimPrefix(hashedPassword, blfCryptPrefix)
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
