package authn

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

const (
	MinPasswordLen = 8
	// bcrypt ignores input past 72 bytes
	MaxPasswordLen = 72
)

var (
	ErrPasswordLength = errors.New("password must be between 8 and 72 bytes")
	ErrBadCredentials = errors.New("invalid email or password")
)

// BcryptCost is a variable so tests can lower it.
var BcryptCost = bcrypt.DefaultCost

func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return "", ErrPasswordLength
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", xerrors.Wrap(err, "hash password")
	}
	return string(h), nil
}

// CheckPassword returns ErrBadCredentials when password does not match
// hash, and a wrapped error when hash itself is unusable.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrBadCredentials
	default:
		return xerrors.Wrap(err, "compare password hash")
	}
}
