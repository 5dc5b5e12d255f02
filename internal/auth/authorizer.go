package auth

import (
	"context"

	apperrors "github.com/rajasatyajit/stripemirror/internal/errors"
)

// Authorizer decides whether the caller in ctx may run operation against entityID. It
// returns the entity id the operation should act on, which replaces the caller's.
type Authorizer interface {
	AuthenticateAndAuthorize(ctx context.Context, operation, entityID string) (bool, string, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, operation, entityID string) (bool, string, error)

func (f AuthorizerFunc) AuthenticateAndAuthorize(ctx context.Context, operation, entityID string) (bool, string, error) {
	return f(ctx, operation, entityID)
}

// PrincipalAuthorizer authorizes against the principal attached to the request. A key
// may only act for its own entity; an empty entity id means that entity. Admin
// principals must name the entity they act for.
type PrincipalAuthorizer struct{}

func (PrincipalAuthorizer) AuthenticateAndAuthorize(ctx context.Context, operation, entityID string) (bool, string, error) {
	p := GetPrincipal(ctx)
	if p == nil {
		return false, "", nil
	}
	if p.Admin {
		if entityID == "" {
			return false, "", apperrors.ValidationError{Field: "entityId", Message: "entity id is required"}
		}
		return true, entityID, nil
	}
	if p.EntityID == "" || (entityID != "" && entityID != p.EntityID) {
		return false, "", nil
	}
	return true, p.EntityID, nil
}
