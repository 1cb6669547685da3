package auth

import (
	"context"
	"errors"
)

type identityKey struct{}

// ErrNoIdentity is returned when a context carries no authenticated
// identity.
var ErrNoIdentity = errors.New("auth: no identity in context")

// WithIdentity attaches the authenticated identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom retrieves the authenticated identity.
func IdentityFrom(ctx context.Context) (*Identity, error) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || id == nil {
		return nil, ErrNoIdentity
	}
	return id, nil
}

// TenantFrom returns the tenant of the authenticated identity.
func TenantFrom(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	return id.TenantID, nil
}
