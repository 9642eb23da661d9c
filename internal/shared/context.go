package shared

import "context"

// Actor identifies the caller for attribution on approvals, rejections and
// movements. It is supplied by the external identity layer, not produced here.
type Actor struct {
	UserID int64
	Role   string
}

type actorContextKey struct{}

type tenantContextKey struct{}

// ContextWithActor stores the caller identity in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the caller identity, zero value when absent.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}

// ContextWithTenant stores the tenant scope in context. Zero means unscoped.
func ContextWithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext extracts the tenant scope applied at the request boundary.
// Scoping is a best-effort request-time filter, not a data-model invariant.
func TenantFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(tenantContextKey{}).(int64)
	return id
}
