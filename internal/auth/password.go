package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Password limits for provisioned accounts. bcrypt only reads the first 72 bytes,
// so longer inputs are rejected instead of silently truncated.
const (
	MinPasswordLength = 8
	MaxPasswordBytes  = 72
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
)

// CheckPasswordPolicy validates a new account password.
func CheckPasswordPolicy(plain string) error {
	switch {
	case len([]rune(plain)) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(plain) > MaxPasswordBytes:
		return ErrPasswordTooLong
	}
	return nil
}

// HashPassword hashes plain for storage on a profile. Costs outside bcrypt's
// range fall back to bcrypt.DefaultCost.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether plain matches the profile's stored hash.
// Profiles provisioned without a password never match.
func VerifyPassword(user *domain.User, plain string) bool {
	if user == nil || user.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(plain)) == nil
}
