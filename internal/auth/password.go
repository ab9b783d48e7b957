package auth

import (
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword is returned when a password does not match the policy.
var ErrWeakPassword = errors.New("password does not meet the requirements")

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPasswordHash reports whether password matches hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordPolicy validates new passwords against a configured pattern.
type PasswordPolicy struct {
	re *regexp.Regexp
}

// NewPasswordPolicy compiles pattern.
func NewPasswordPolicy(pattern string) (*PasswordPolicy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid PASSWORD_REGEXP: %w", err)
	}
	return &PasswordPolicy{re: re}, nil
}

// Check returns ErrWeakPassword when password does not match.
func (p *PasswordPolicy) Check(password string) error {
	if !p.re.MatchString(password) {
		return ErrWeakPassword
	}
	return nil
}
