package auth

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/zonestack/server/internal/config"
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// PasswordService hashes and checks editor passwords
type PasswordService struct {
	bcryptCost int
}

// NewPasswordService creates a password service. A cost outside bcrypt's
// range falls back to bcrypt.DefaultCost.
func NewPasswordService(cfg *config.Config) *PasswordService {
	cost := cfg.Auth.BCryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordService{bcryptCost: cost}
}

// HashPassword validates and hashes a password
func (s *PasswordService) HashPassword(password string) (string, error) {
	if err := s.ValidatePasswordStrength(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash
func (s *PasswordService) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var passwordRules = []struct {
	match   func(rune) bool
	message string
}{
	{unicode.IsUpper, "password must contain at least one uppercase letter"},
	{unicode.IsLower, "password must contain at least one lowercase letter"},
	{unicode.IsNumber, "password must contain at least one number"},
	{func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }, "password must contain at least one special character"},
}

// ValidatePasswordStrength requires 8 to 72 bytes with an uppercase letter,
// a lowercase letter, a digit and a special character.
func (s *PasswordService) ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes long", maxPasswordBytes)
	}

	for _, rule := range passwordRules {
		found := false
		for _, r := range password {
			if rule.match(r) {
				found = true
				break
			}
		}
		if !found {
			return errors.New(rule.message)
		}
	}
	return nil
}
