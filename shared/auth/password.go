package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and checks passwords with bcrypt
type PasswordHasher struct {
	cost int

	placeholderOnce sync.Once
	placeholder     []byte
}

// NewPasswordHasher uses bcrypt.DefaultCost when cost is 0
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the bcrypt hash of password
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Check reports whether password matches hash. Malformed hashes, such as
// the random placeholder given to social-only accounts, never match.
func (h *PasswordHasher) Check(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Reject compares password against a placeholder hash of the hasher's cost
// and always reports false. Logins for unknown accounts go through it so
// they take as long as a wrong password.
func (h *PasswordHasher) Reject(password string) bool {
	h.placeholderOnce.Do(func() {
		h.placeholder, _ = bcrypt.GenerateFromPassword([]byte("placeholder"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.placeholder, []byte(password))
	return false
}
