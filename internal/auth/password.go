package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// hashCost balances login latency against brute-force resistance.
const hashCost = 10

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	if len(password) > 72 {
		// bcrypt silently truncates beyond 72 bytes.
		return "", fmt.Errorf("password too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with its plaintext form.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
