// Package auth binds the shared bearer-token library to the time-tracking API.
package auth

import (
	"context"

	authlib "example.com/timetracking/pkg/auth"
)

// Claims mirrors the shared claims type.
type Claims = authlib.Claims

// Config mirrors the shared auth config.
type Config = authlib.Config

// WithClaims stores the claims in the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}

// FromContext retrieves claims from context.
func FromContext(ctx context.Context) (*Claims, bool) {
	return authlib.FromContext(ctx)
}
