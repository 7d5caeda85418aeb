// Package auth verifies the session token presented on HTTP requests and the
// WebSocket handshake.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is used when no cookie name is configured.
const DefaultCookieName = "duochat_auth"

// ErrUnauthenticated is returned when a request carries no valid token.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Authenticator validates HS256 tokens whose subject is the user id.
type Authenticator struct {
	secret     []byte
	cookieName string
	now        func() time.Time
}

// New creates an Authenticator. An empty cookieName uses DefaultCookieName.
func New(secret, cookieName string) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret must not be empty")
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Authenticator{secret: []byte(secret), cookieName: cookieName, now: time.Now}, nil
}

// CookieName returns the session cookie name.
func (a *Authenticator) CookieName() string { return a.cookieName }

// Authenticate returns the user id of the request's session. The cookie is
// checked first, then an Authorization: Bearer header.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	token := a.extractToken(r)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	return a.Verify(token)
}

// Verify parses token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Issue signs a token for userID that expires after ttl.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id must not be empty")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) extractToken(r *http.Request) string {
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
