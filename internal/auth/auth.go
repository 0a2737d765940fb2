// Package auth verifies client credentials at signaling-connection time.
//
// The relay does not own accounts: registration, login, and password handling
// live in an external service that mints HS256 JWTs. This package only checks
// a presented token and extracts the stable user id. The matchmaking core is
// independent of the result; it needs nothing beyond an opaque connection id.
package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingCredentials = errors.New("missing credentials")
)

// Mode selects how signaling connections are authenticated.
type Mode string

const (
	// ModeNone admits every connection as an anonymous guest.
	ModeNone Mode = "none"
	// ModeJWT requires a valid HS256 token from the login service.
	ModeJWT Mode = "jwt"
)

// UserRecord identifies an authenticated user. Zero value = anonymous guest.
type UserRecord struct {
	UserID string
}

func (u UserRecord) Anonymous() bool { return u.UserID == "" }

// Verifier authenticates one credential string.
type Verifier interface {
	Authenticate(credential string) (UserRecord, error)
}

// NewVerifier builds the verifier for the given mode.
func NewVerifier(mode Mode, jwtSecret string) (Verifier, error) {
	switch mode {
	case ModeNone:
		return GuestVerifier{}, nil
	case ModeJWT:
		if jwtSecret == "" {
			return nil, fmt.Errorf("auth mode %q requires a jwt secret", mode)
		}
		return NewJWTVerifier(jwtSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// GuestVerifier admits everyone, with or without a credential.
type GuestVerifier struct{}

func (GuestVerifier) Authenticate(string) (UserRecord, error) {
	return UserRecord{}, nil
}
