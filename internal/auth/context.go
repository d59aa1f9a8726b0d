// ABOUTME: Caller identity for tracking who is making a chat request
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"

	"github.com/2389/opsdesk/internal/store"
)

// Identity is the authenticated caller as resolved by the auth collaborator.
type Identity struct {
	ID       int64      // account id; for users this is also their room id
	Username string     // informational only
	Role     store.Role // "user" | "admin"
}

// Valid reports whether the identity carries a usable id and a known role.
func (i *Identity) Valid() bool {
	return i != nil && i.ID > 0 && i.Role.Valid()
}

// IsAdmin returns true if the caller acts on the admin side of conversations.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == store.RoleAdmin
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok {
		return nil
	}
	return id
}
