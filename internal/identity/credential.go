package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential = errors.New("identity: credential required")
	ErrInvalidCredential = errors.New("identity: invalid credential")
	ErrExpiredCredential = errors.New("identity: credential expired")
	ErrMissingSubject    = errors.New("identity: subject required")
)

// CredentialClaims are the fields read from a bearer credential. The remote
// authority verifies signatures; the client only reads claims.
type CredentialClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseCredential reads the claims of a JWT credential without verifying its
// signature. It fails for malformed tokens and for tokens expired at now.
func ParseCredential(token string, now time.Time) (CredentialClaims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return CredentialClaims{}, ErrMissingCredential
	}
	claims := &CredentialClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(trimmed, claims); err != nil {
		return CredentialClaims{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return CredentialClaims{}, ErrExpiredCredential
	}
	return *claims, nil
}

// looksLikeJWT reports whether token has the three-segment compact form.
func looksLikeJWT(token string) bool {
	return strings.Count(strings.TrimSpace(token), ".") == 2
}
