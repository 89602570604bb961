package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password can not be empty")

// BcryptVerifier is the default Verifier and Hasher.
type BcryptVerifier struct {
	Cost int
}

// NewBcryptVerifier returns a verifier hashing with cost, or the bcrypt
// default when cost is out of range.
func NewBcryptVerifier(cost int) BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return BcryptVerifier{Cost: cost}
}

// Verify implements Verifier.
func (b BcryptVerifier) Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Hash implements Hasher.
func (b BcryptVerifier) Hash(plain string) (string, error) {
	return HashPassword(plain, b.Cost)
}

// HashPassword will generate a password hash
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}
