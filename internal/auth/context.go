package auth

import "context"

// Principal is who an action runs as. Admin principals may act for any entity; others
// only for EntityID. Never holds key material.
type Principal struct {
	EntityID string
	APIKeyID string
	Admin    bool
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns nil when ctx carries no principal.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
