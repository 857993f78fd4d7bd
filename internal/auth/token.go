package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

const (
	defaultTokenTTL = time.Hour
	clockSkew       = 30 * time.Second
)

// Claims carried by access tokens. Subject is the profile id. Role mirrors the
// profile at issue time and is informational; the stored profile is authoritative.
type Claims struct {
	Role domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 access tokens shared with the identity backend.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithIssuer sets the iss claim written on issue and required on parse.
func WithIssuer(issuer string) TokenOption {
	return func(tm *TokenManager) { tm.issuer = issuer }
}

// NewTokenManager builds a manager. A non-positive ttl falls back to one hour.
func NewTokenManager(secret string, ttlMinutes int, opts ...TokenOption) *TokenManager {
	tm := &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
	if tm.ttl <= 0 {
		tm.ttl = defaultTokenTTL
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// GenerateToken signs a token for the profile and returns it with its expiry.
func (tm *TokenManager) GenerateToken(userID string, role domain.Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tm.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies signature, expiry and issuer and returns the claims.
// Tokens without an expiry or subject are rejected.
func (tm *TokenManager) ParseToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
