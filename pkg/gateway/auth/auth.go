// Package auth issues and verifies the HS256 bearer tokens that scope every
// request to a username.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("auth: invalid token")

type Principal struct {
	Username string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts a bearer token from the Authorization header, falling
// back to the "token" query parameter. Browsers cannot set headers on
// websocket upgrades, so the relay endpoint authenticates via the query form.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
		if token == "" {
			return "", false
		}
		return token, true
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, true
	}
	return "", false
}

// Verifier signs and validates session tokens with a shared HS256 secret.
type Verifier struct {
	secret   []byte
	lifetime time.Duration
}

func NewVerifier(secret string, lifetime time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), lifetime: lifetime}
}

// Issue signs a token for username and returns it with its expiry.
func (v *Verifier) Issue(username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(v.lifetime)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify validates a token and returns the username it was issued for.
// Expired, malformed, or foreign-algorithm tokens all yield ErrInvalidToken.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate resolves the request's bearer token to a principal.
func (v *Verifier) Authenticate(r *http.Request) (*Principal, error) {
	token, ok := ParseBearer(r)
	if !ok {
		return nil, ErrInvalidToken
	}
	username, err := v.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Principal{Username: username}, nil
}
