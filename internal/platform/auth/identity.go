package auth

import (
	"context"
	"strings"
)

// Roles recognised by billing endpoints.
const (
	RoleStaff  = "staff"
	RoleDoctor = "doctor"
	RoleAdmin  = "admin"
)

// Actor types recorded on audit entries.
const (
	ActorTypeUser    = "user"
	ActorTypeStaff   = "staff"
	ActorTypeService = "service"
	ActorTypeSystem  = "system"
)

// Identity is a clinic user authenticated with a Firebase ID token.
type Identity struct {
	UID     string
	Email   string
	StaffID string
	Roles   []string
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries any of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// ServiceIdentity is a workload authenticated with a Google-signed OIDC token.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

// Actor is the principal a write is attributed to.
type Actor struct {
	ID      string
	Type    string
	IsAdmin bool
}

type identityKey struct{}
type serviceIdentityKey struct{}

// WithIdentity stores the user identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the user identity stored by the Firebase middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

// WithServiceIdentity stores the workload identity on ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the workload identity stored by the OIDC middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// ActorFromContext resolves who is acting on the request. Staff identities win over service
// identities; with neither the actor is the system.
func ActorFromContext(ctx context.Context) Actor {
	if identity, ok := IdentityFromContext(ctx); ok {
		actorType := ActorTypeUser
		if identity.HasAnyRole(RoleStaff, RoleDoctor, RoleAdmin) {
			actorType = ActorTypeStaff
		}
		return Actor{ID: identity.UID, Type: actorType, IsAdmin: identity.HasRole(RoleAdmin)}
	}
	if service, ok := ServiceIdentityFromContext(ctx); ok {
		id := service.Email
		if id == "" {
			id = service.Subject
		}
		return Actor{ID: id, Type: ActorTypeService}
	}
	return Actor{ID: "system", Type: ActorTypeSystem}
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
