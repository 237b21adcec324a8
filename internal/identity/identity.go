// Package identity resolves bearer tokens to the trusted caller identity the
// messaging core works with.
package identity

import (
	"context"
	"errors"
	"time"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the opaque, trusted caller. ExpiresAt is when the token stops
// being valid, zero when the provider does not say.
type Identity struct {
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"-"`
}

// Expired reports whether the token behind id is no longer valid at now.
func (id Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

// Provider validates a token. Implementations return an error wrapping
// ErrUnauthenticated for a bad token.
type Provider interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, token string) (Identity, error)

func (f ProviderFunc) Authenticate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}
