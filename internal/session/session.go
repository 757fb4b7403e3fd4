// Package session validates the signed session tokens minted by the
// credential-issuance service. Validation is pure: no side effects, and
// every expected failure mode comes back as ErrInvalidSession.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned for any token that cannot be accepted:
// malformed, bad signature, expired, or missing the user id.
var ErrInvalidSession = errors.New("invalid session")

// Validator verifies session tokens and extracts the user id.
type Validator struct {
	secret []byte
	maxAge time.Duration
}

// NewValidator builds a Validator. maxAge bounds token lifetime from its
// issued-at claim, independent of any exp claim the issuer set.
func NewValidator(secret string, maxAge time.Duration) *Validator {
	return &Validator{secret: []byte(secret), maxAge: maxAge}
}

// Validate checks the raw token and returns the embedded user id.
func (v *Validator) Validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidSession)
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: unparseable claims", ErrInvalidSession)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	// Expiry derives from the issued-at claim, so a token without one
	// would never expire. Reject it outright.
	if claims.IssuedAt == nil {
		return "", fmt.Errorf("%w: missing issued-at", ErrInvalidSession)
	}
	if time.Now().After(claims.IssuedAt.Add(v.maxAge)) {
		return "", fmt.Errorf("%w: session older than max age", ErrInvalidSession)
	}

	return claims.Subject, nil
}
