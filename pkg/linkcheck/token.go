package linkcheck

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

const tokenIssuer = "web-audit"

// TokenSource signs short-lived HS256 bearer tokens for the probe endpoint and reuses
// one until it is close to expiry.
type TokenSource struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	current string
	expires time.Time
}

// NewTokenSource returns nil when secret is empty
func NewTokenSource(secret, subject string, ttl time.Duration) *TokenSource {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenSource{secret: []byte(secret), subject: subject, ttl: ttl, now: time.Now}
}

// Token returns a valid signed token
func (ts *TokenSource) Token() (string, error) {
	if ts == nil {
		return "", fmt.Errorf("%w: no token secret configured", utils.ErrUnauthorized)
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.current != "" && now.Add(ts.ttl/10).Before(ts.expires) {
		return ts.current, nil
	}

	expires := now.Add(ts.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   ts.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("signing link check token: %w", err)
	}
	ts.current, ts.expires = signed, expires
	return signed, nil
}

// VerifyToken checks an HS256 token signed with secret and returns its subject
func VerifyToken(secret []byte, tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: missing bearer token", utils.ErrUnauthorized)
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", utils.ErrUnauthorized)
		}
		return "", fmt.Errorf("%w: %w", utils.ErrUnauthorized, err)
	}
	return claims.Subject, nil
}
