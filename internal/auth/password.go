package auth

import (
	"golang.org/x/crypto/bcrypt"

	"pentestdesk/internal/apperr"
)

const (
	MinPasswordLength = 8
	// MaxPasswordLength is the bcrypt input limit, in bytes.
	MaxPasswordLength = 72
)

// HashPassword hashes a plaintext password using bcrypt with DefaultCost.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPassword compares a bcrypt hash with a candidate plaintext password.
func CheckPassword(hash, pw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
}

func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return apperr.Validation("password must be at least 8 characters")
	}
	if len(pw) > MaxPasswordLength {
		return apperr.Validation("password must be at most 72 bytes")
	}
	return nil
}
