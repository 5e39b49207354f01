package api

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Token scopes
const (
	ScopeRead  = "read"
	ScopeAdmin = "admin"
)

// TokenIssuer is the issuer and audience of admin API tokens
const TokenIssuer = "karapace-operator"

// DefaultTokenTTL is the lifetime of tokens minted by the CLI
const DefaultTokenTTL = 5 * time.Minute

var (
	// ErrInvalidToken is returned for malformed, expired or forged tokens
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoSecret is returned when no signing secret is configured
	ErrNoSecret = errors.New("api secret not configured")
)

// Claims are the admin API token claims
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Admin reports whether the token may call mutating actions
func (c *Claims) Admin() bool {
	return c.Scope == ScopeAdmin
}

// IssueToken signs an HS256 token for subject with scope
func IssueToken(secret []byte, subject, scope string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now().UTC()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenIssuer},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies raw and returns its claims
func ParseToken(secret []byte, raw string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	claims := &Claims{}
	tk, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenIssuer),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil || !tk.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Scope != ScopeRead && claims.Scope != ScopeAdmin {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidToken, claims.Scope)
	}
	return claims, nil
}
