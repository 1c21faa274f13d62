// Package authz provides relationship-based authorization for organizations
// and projects. Concerns are split so backends can be swapped independently:
// Authorizer answers permission checks, MembershipManager writes the
// user-resource relationships, and the repositories hold org/project rows.
package authz

import (
	"context"
)

// Role represents a user's role in an organization or project
type Role string

const (
	RoleOwner  Role = "owner"  // Full control (org only)
	RoleAdmin  Role = "admin"  // Manage members, settings
	RoleMember Role = "member" // Full access to resources
	RoleViewer Role = "viewer" // Read-only access
)

// Action represents an operation that can be performed on a resource
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage" // Membership and settings administration
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceOrg     ResourceType = "org"
	ResourceProject ResourceType = "project"
)

// Authorizer answers permission checks. It holds no CRUD logic.
type Authorizer interface {
	// Check performs a generic authorization check,
	// e.g. Check(ctx, "user-123", ActionUpdate, ResourceProject, "proj-456").
	Check(ctx context.Context, userID string, action Action, resourceType ResourceType, resourceID string) bool

	CanAccessOrg(ctx context.Context, userID, orgID string) bool
	CanAccessProject(ctx context.Context, userID, projectID string) bool
	CanPerformOrgAction(ctx context.Context, userID, orgID string, action Action) bool
	CanPerformProjectAction(ctx context.Context, userID, projectID string, action Action) bool

	// Role lookups for display and for role-floor checks in services
	GetOrgRole(ctx context.Context, userID, orgID string) Role
	GetProjectRole(ctx context.Context, userID, projectID string) Role
}

// OrgPermissions defines what actions each role can perform at org level
var OrgPermissions = map[Role]map[Action]bool{
	RoleOwner: {
		ActionView:   true,
		ActionCreate: true,
		ActionUpdate: true,
		ActionDelete: true,
		ActionManage: true,
	},
	RoleAdmin: {
		ActionView:   true,
		ActionCreate: true,
		ActionUpdate: true,
		ActionDelete: false,
		ActionManage: true,
	},
	RoleMember: {
		ActionView:   true,
		ActionCreate: true,
		ActionUpdate: false,
		ActionDelete: false,
		ActionManage: false,
	},
	RoleViewer: {
		ActionView:   true,
		ActionCreate: false,
		ActionUpdate: false,
		ActionDelete: false,
		ActionManage: false,
	},
}

// ProjectPermissions defines what actions each role can perform at project level
var ProjectPermissions = map[Role]map[Action]bool{
	RoleOwner: { // Owner acts as admin inside projects
		ActionView:   true,
		ActionCreate: true,
		ActionUpdate: true,
		ActionDelete: true,
		ActionManage: true,
	},
	RoleAdmin: {
		ActionView:   true,
		ActionCreate: true,
		ActionUpdate: true,
		ActionDelete: true,
		ActionManage: true,
	},
	RoleMember: {
		ActionView:   true,
		ActionCreate: true,
		ActionUpdate: true,
		ActionDelete: false,
		ActionManage: false,
	},
	RoleViewer: {
		ActionView:   true,
		ActionCreate: false,
		ActionUpdate: false,
		ActionDelete: false,
		ActionManage: false,
	},
}

// HasPermission checks if a role has permission to perform an action
func HasPermission(permissions map[Role]map[Action]bool, role Role, action Action) bool {
	if rolePerms, ok := permissions[role]; ok {
		if allowed, ok := rolePerms[action]; ok {
			return allowed
		}
	}
	return false
}

// MapOrgRoleToProjectRole maps an organization role to the project role a
// user inherits when the project has no explicit members.
func MapOrgRoleToProjectRole(orgRole Role) Role {
	switch orgRole {
	case RoleOwner, RoleAdmin:
		return RoleAdmin
	case RoleMember:
		return RoleMember
	case RoleViewer:
		return RoleViewer
	default:
		return ""
	}
}

// RoleAtLeast reports whether role meets the floor, using
// owner > admin > member > viewer ordering.
func RoleAtLeast(role, floor Role) bool {
	return roleRank(role) >= roleRank(floor)
}

func roleRank(r Role) int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}
