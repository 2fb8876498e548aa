package backend

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a username and password pair.
type Verifier interface {
	Verify(username, password string) bool
}

// BcryptVerifier accepts one user whose password is stored as a bcrypt hash.
type BcryptVerifier struct {
	username string
	hash     []byte
}

var _ Verifier = (*BcryptVerifier)(nil)

// NewBcryptVerifier creates a verifier for username and its bcrypt password hash.
func NewBcryptVerifier(username, passwordHash string) (*BcryptVerifier, error) {
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}

	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("invalid password hash: %w", err)
	}

	return &BcryptVerifier{
		username: username,
		hash:     []byte(passwordHash),
	}, nil
}

// Verify implements Verifier.
func (v *BcryptVerifier) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
	return userOK && passOK
}

// denyAll is used when no credential is configured.
type denyAll struct{}

func (denyAll) Verify(string, string) bool { return false }

// newSessionToken returns an opaque token for a successful login.
func newSessionToken() string {
	return uuid.NewString()
}
