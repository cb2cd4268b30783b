// Package auth validates the HS256 bearer tokens issued by the identity service.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the token verification parameters.
type Config struct {
	Secret string
	Issuer string
	// Leeway tolerates clock skew between the issuer and this service.
	Leeway time.Duration
}

// Claims is the caller identity extracted from a token. Subject is the user id and TenantID the
// organization the user is acting in.
type Claims struct {
	Subject   string
	TenantID  string
	Scopes    map[string]struct{}
	ExpiresAt time.Time
}

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps every parse and validation failure.
	ErrInvalidToken = errors.New("invalid bearer token")
)

type tokenClaims struct {
	TenantID string `json:"tenant_id"`
	Scopes   any    `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Parse validates token and returns its claims. Tokens without a subject, tenant or expiry are
// rejected.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || tc.Subject == "" || tc.TenantID == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Subject:   tc.Subject,
		TenantID:  tc.TenantID,
		Scopes:    scopeSet(tc.Scopes),
		ExpiresAt: tc.ExpiresAt.Time,
	}, nil
}

// Issue signs claims with cfg. The service only verifies tokens; Issue exists for local tooling
// and tests.
func Issue(claims Claims, cfg Config) (string, error) {
	scopes := make([]string, 0, len(claims.Scopes))
	for scope := range claims.Scopes {
		scopes = append(scopes, scope)
	}
	tc := tokenClaims{
		TenantID: claims.TenantID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(cfg.Secret))
}

// scopeSet accepts either a JSON array of scopes or a space-delimited string.
func scopeSet(raw any) map[string]struct{} {
	out := make(map[string]struct{})
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	case string:
		for _, s := range strings.Fields(v) {
			add(s)
		}
	}
	return out
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}
