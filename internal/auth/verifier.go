// Package auth verifies the operator bearer tokens guarding administrative routes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin may inspect and retry webhook deliveries.
const RoleAdmin = "admin"

var ErrDisabled = errors.New("auth: no signing secret configured")

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Principal struct {
	Subject string
	Role    string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether tokens are required at all.
func (v *Verifier) Enabled() bool { return v != nil && len(v.secret) > 0 }

func (v *Verifier) Verify(token string) (Principal, error) {
	if !v.Enabled() {
		return Principal{}, ErrDisabled
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("auth: %w", err)
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for subject with role, valid for ttl.
func (v *Verifier) Issue(subject, role string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrDisabled
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	})
	return token.SignedString(v.secret)
}
