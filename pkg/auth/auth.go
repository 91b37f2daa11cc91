// Package auth defines the authentication contract the API sits
// behind. The Gate and IdentityStore interfaces are the boundary;
// the static API-key gate in this package is the reference
// implementation, and real deployments swap in their own. Token
// rotation is a concern of those implementations, not of the
// contract.
package auth

import "context"

// Permission names one capability a principal may hold.
type Permission string

const (
	// PermResearchRead covers flow and report reads.
	PermResearchRead Permission = "research:read"

	// PermResearchWrite covers creating, starting, and cancelling
	// flows.
	PermResearchWrite Permission = "research:write"

	// PermAdminAccess covers error statistics and alert management.
	PermAdminAccess Permission = "admin:access"
)

// Role bundles permissions under a name assignable to an API key.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermResearchRead},
	RoleOperator: {PermResearchRead, PermResearchWrite},
	RoleAdmin:    {PermResearchRead, PermResearchWrite, PermAdminAccess},
}

// IsValid reports whether the role is a known value.
func (r Role) IsValid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Permissions returns the capabilities the role grants.
func (r Role) Permissions() []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Principal is an authenticated caller.
type Principal struct {
	// Name identifies the caller in logs. Never the raw credential.
	Name string
	Role Role
}

// Can reports whether the principal's role grants the permission.
func (p *Principal) Can(permission Permission) bool {
	if p == nil {
		return false
	}
	for _, perm := range rolePermissions[p.Role] {
		if perm == permission {
			return true
		}
	}
	return false
}

// Gate authenticates request credentials and authorizes principals.
type Gate interface {
	// Authenticate resolves a credential to a principal. The error is
	// an AuthenticationError for unknown or missing credentials.
	Authenticate(ctx context.Context, credential string) (*Principal, error)

	// Authorize reports whether the principal holds the permission.
	Authorize(principal *Principal, permission Permission) bool
}

// IdentityStore resolves credentials to principals. Gates front it;
// real deployments back it with their identity system.
type IdentityStore interface {
	Lookup(ctx context.Context, credential string) (*Principal, bool)
}

// OpenGate admits every request as an anonymous admin. It backs
// development setups with no API keys configured.
type OpenGate struct{}

func (OpenGate) Authenticate(context.Context, string) (*Principal, error) {
	return &Principal{Name: "anonymous", Role: RoleAdmin}, nil
}

func (OpenGate) Authorize(*Principal, Permission) bool { return true }
