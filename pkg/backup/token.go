package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long a transfer token stays valid
const TokenTTL = time.Minute

// Tokens signs and validates HS256 bearer tokens for the backup endpoint
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens creates a token manager. The secret must be at least 32 characters.
func NewTokens(secret string) (*Tokens, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	return &Tokens{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed token naming subject
func (t *Tokens) Issue(subject string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token and returns its subject
func (t *Tokens) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// bearer extracts the token from an Authorization header
func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
