package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/nhle/teamboard/internal/transport"
)

// expiryLeeway treats tokens about to expire as already expired so a
// dial does not race the deadline.
const expiryLeeway = time.Minute

// Claims are the parts of the bearer token the client cares about.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token is unusable at now. Tokens without
// an exp claim never expire client-side.
func (c Claims) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryLeeway).Before(c.ExpiresAt)
}

// ParseClaims decodes a JWT without verifying its signature. The server
// verifies; the client only needs the subject and expiry.
func ParseClaims(token string) (Claims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parsing token: %w", err)
	}

	var c Claims
	if sub, ok := claims["sub"].(string); ok {
		c.Subject = sub
	}
	switch exp := claims["exp"].(type) {
	case float64:
		c.ExpiresAt = time.Unix(int64(exp), 0)
	case int64:
		c.ExpiresAt = time.Unix(exp, 0)
	}
	return c, nil
}

// Subject returns the sub claim of token.
func Subject(token string) (string, error) {
	c, err := ParseClaims(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", transport.ErrUnauthenticated, err)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", transport.ErrUnauthenticated)
	}
	return c.Subject, nil
}

// TokenSource serves the stored bearer token to the transport and the
// REST client. Expired JWTs are rejected before they reach the network;
// opaque tokens are passed through unchanged.
type TokenSource struct {
	vault *Vault
	now   func() time.Time
}

// NewTokenSource reads tokens from vault.
func NewTokenSource(vault *Vault) *TokenSource {
	return &TokenSource{vault: vault, now: time.Now}
}

// Token implements transport.TokenSource.
func (s *TokenSource) Token(context.Context) (string, error) {
	tok, err := s.vault.Get(TokenKey)
	if errors.Is(err, ErrNotFound) {
		return "", transport.ErrUnauthenticated
	}
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", transport.ErrUnauthenticated
	}

	if c, err := ParseClaims(tok); err == nil && c.Expired(s.now()) {
		return "", fmt.Errorf("%w: token expired at %s", transport.ErrUnauthenticated, c.ExpiresAt.Format(time.RFC3339))
	}
	return tok, nil
}

// Store saves a new token after checking that it is not already expired.
func (s *TokenSource) Store(tok string) error {
	if c, err := ParseClaims(tok); err == nil && c.Expired(s.now()) {
		return fmt.Errorf("%w: token already expired", transport.ErrUnauthenticated)
	}
	return s.vault.Set(TokenKey, tok)
}

// Clear removes the stored token.
func (s *TokenSource) Clear() error {
	return s.vault.Delete(TokenKey)
}
