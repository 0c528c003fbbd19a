package trust

import "strings"

// Roles recognised by the permission guards.
const (
	RolePlatformAdmin = "platform_admin"
	RoleOrgAdmin      = "org_admin"
	RolePublisher     = "publisher"
	RoleViewer        = "viewer"
)

// Actor is the authenticated caller of a mutating operation.
type Actor interface {
	UserID() string
	OrganizationID() string
	Role() string
}

// Principal is the plain Actor implementation built from decoded credentials.
type Principal struct {
	User         string
	Organization string
	RoleName     string
}

func (p Principal) UserID() string         { return p.User }
func (p Principal) OrganizationID() string { return p.Organization }
func (p Principal) Role() string           { return p.RoleName }

// SystemActor performs housekeeping such as expiry sweeps.
var SystemActor Actor = Principal{User: "system", RoleName: RolePlatformAdmin}

func isPlatformAdmin(a Actor) bool {
	return a != nil && strings.EqualFold(a.Role(), RolePlatformAdmin)
}

// canActFor reports whether actor may mutate trust state on behalf of org.
func canActFor(actor Actor, org string) bool {
	if actor == nil {
		return false
	}
	if isPlatformAdmin(actor) {
		return true
	}
	if actor.OrganizationID() != org {
		return false
	}
	return !strings.EqualFold(actor.Role(), RoleViewer)
}

func requireActFor(actor Actor, org string) error {
	if canActFor(actor, org) {
		return nil
	}
	return newError(KindInsufficientPermission, "actor may not act for organization %s", org)
}

func userOf(actor Actor) string {
	if actor == nil {
		return ""
	}
	return actor.UserID()
}
