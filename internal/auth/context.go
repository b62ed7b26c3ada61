package auth

import "context"

// Context is the resolved identity for one request: the single source of
// truth for every downstream authorization and isolation decision.
type Context struct {
	UserID        string
	Email         string
	Role          Role
	Permissions   PermissionSet
	CooperativeID string
	SessionID     string
	Meta          RequestMeta
}

// Can reports whether the merged permission set includes the permission.
func (c *Context) Can(p Permission) bool {
	if c == nil {
		return false
	}
	return c.Permissions.Has(p)
}

// IsAtLeast reports whether the resolved role meets the minimum.
func (c *Context) IsAtLeast(min Role) bool {
	if c == nil {
		return false
	}
	return c.Role.AtLeast(min)
}

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved identity to the request context.
func ContextWithIdentity(ctx context.Context, identity *Context) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the resolved identity if present.
func IdentityFromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Context)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
