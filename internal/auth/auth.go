// Package auth issues and verifies admin tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminRole is the role claim required for lyric editing.
const AdminRole = "admin"

var (
	// ErrNoSecret is returned when admin access is not configured.
	ErrNoSecret = errors.New("admin access disabled")
	// ErrForbidden is returned for valid tokens without the admin role.
	ErrForbidden = errors.New("admin role required")
	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
)

// Claims are the token claims understood by the server.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authorizer verifies HS256 tokens signed with a shared secret.
type Authorizer struct {
	secret []byte
	now    func() time.Time
}

// New creates an authorizer. An empty secret rejects every token.
func New(secret string) *Authorizer {
	return &Authorizer{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a secret is configured.
func (a *Authorizer) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Issue signs an admin token for subject valid for ttl.
func (a *Authorizer) Issue(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", ErrNoSecret
	}
	now := a.now()
	claims := Claims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks the signature, expiry and admin role of token.
func (a *Authorizer) Verify(token string) (*Claims, error) {
	if !a.Enabled() {
		return nil, ErrNoSecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Role != AdminRole {
		return nil, ErrForbidden
	}
	return claims, nil
}

// VerifyRequest verifies the bearer token of r.
func (a *Authorizer) VerifyRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, ErrMissingToken
	}
	return a.Verify(strings.TrimSpace(token))
}
