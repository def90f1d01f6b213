package security

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordService hashes and verifies passwords with bcrypt
type PasswordService struct {
	cost  int
	dummy []byte
}

// NewPasswordService creates a password service using the given bcrypt cost
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	s := &PasswordService{cost: cost}
	// used by VerifyMissing so unknown users cost one comparison too
	s.dummy, _ = bcrypt.GenerateFromPassword(prehash("accounts-missing-user"), cost)
	return s
}

// prehash keeps inputs under the 72 byte bcrypt limit: base64(sha256(password)) is 44 bytes
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// Hash returns the bcrypt hash of password
func (s *PasswordService) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash
func (s *PasswordService) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// VerifyMissing burns a comparison against a fixed hash and always fails
func (s *PasswordService) VerifyMissing(password string) bool {
	_ = bcrypt.CompareHashAndPassword(s.dummy, prehash(password))
	return false
}
