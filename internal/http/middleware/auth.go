// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file guards the admin surface with HS256 bearer tokens
// (github.com/golang-jwt/jwt/v5). Tokens are minted by the login handler via
// AdminAuth.Issue. Without a configured secret the guard refuses every admin
// request unless it was explicitly opened with Unguarded.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

const tokenIssuer = "go-media-gate"

var (
	// ErrInvalidToken covers malformed, forged or wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for a well-formed token past its expiry.
	ErrExpiredToken = errors.New("token expired")
)

// AdminAuth issues and verifies admin tokens.
type AdminAuth struct {
	secret    []byte
	ttl       time.Duration
	unguarded bool

	// Now is the clock used for issuing and validation; tests replace it.
	Now func() time.Time
}

// NewAdminAuth returns an AdminAuth signing with secret. With an empty secret
// no token can be issued and the guard refuses every request.
func NewAdminAuth(secret string, ttl time.Duration) *AdminAuth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if strings.TrimSpace(secret) == "" {
		secret = ""
	}
	return &AdminAuth{secret: []byte(secret), ttl: ttl, Now: time.Now}
}

// Unguarded lets admin requests through without a token while no secret is
// configured. It has no effect once a secret is set.
func (a *AdminAuth) Unguarded() *AdminAuth {
	if !a.Enabled() {
		log.Warn().Msg("admin routes are unguarded: ADMIN_AUTH_DISABLED is set and ADMIN_JWT_SECRET is not")
		a.unguarded = true
	}
	return a
}

// Enabled reports whether tokens can be issued and verified.
func (a *AdminAuth) Enabled() bool { return len(a.secret) > 0 }

// Issue mints a token for subject and returns it with its expiry.
func (a *AdminAuth) Issue(subject string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, errors.New("admin auth is disabled")
	}
	now := a.Now()
	exp := now.Add(a.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses token and returns its subject.
func (a *AdminAuth) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Require returns the admin guard. Verified requests carry the subject under
// UserIDKey; admin responses are marked no-store.
func (a *AdminAuth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		if !a.Enabled() {
			if a.unguarded {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "auth_disabled",
				"message":    "admin auth is not configured",
			})
			return
		}

		raw := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(raw, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		sub, err := a.Verify(token)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		c.Set(UserIDKey, sub)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="admin"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
