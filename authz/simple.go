package authz

import (
	"context"
	"database/sql"
	"log"
)

// SimpleAuthorizer answers permission checks from the memberships table.
type SimpleAuthorizer struct {
	db *sql.DB
}

// NewSimpleAuthorizer creates a membership-backed authorizer
func NewSimpleAuthorizer(db *sql.DB) *SimpleAuthorizer {
	return &SimpleAuthorizer{db: db}
}

// Check performs a generic authorization check
func (a *SimpleAuthorizer) Check(ctx context.Context, userID string, action Action, resourceType ResourceType, resourceID string) bool {
	switch resourceType {
	case ResourceOrg:
		return a.CanPerformOrgAction(ctx, userID, resourceID, action)
	case ResourceProject:
		return a.CanPerformProjectAction(ctx, userID, resourceID, action)
	default:
		return false
	}
}

// CanAccessOrg checks if a user has any role in the organization
func (a *SimpleAuthorizer) CanAccessOrg(ctx context.Context, userID, orgID string) bool {
	return a.GetOrgRole(ctx, userID, orgID) != ""
}

// CanAccessProject checks if a user can view the project, explicitly or
// through org membership
func (a *SimpleAuthorizer) CanAccessProject(ctx context.Context, userID, projectID string) bool {
	return a.GetProjectRole(ctx, userID, projectID) != ""
}

// CanPerformOrgAction checks the org permission matrix for the user's role
func (a *SimpleAuthorizer) CanPerformOrgAction(ctx context.Context, userID, orgID string, action Action) bool {
	role := a.GetOrgRole(ctx, userID, orgID)
	if role == "" {
		return false
	}
	return HasPermission(OrgPermissions, role, action)
}

// CanPerformProjectAction checks the project permission matrix for the
// user's effective role
func (a *SimpleAuthorizer) CanPerformProjectAction(ctx context.Context, userID, projectID string, action Action) bool {
	role := a.GetProjectRole(ctx, userID, projectID)
	if role == "" {
		return false
	}
	return HasPermission(ProjectPermissions, role, action)
}

// GetOrgRole returns the user's role in the organization, or "" if none
func (a *SimpleAuthorizer) GetOrgRole(ctx context.Context, userID, orgID string) Role {
	var role string
	err := a.db.QueryRowContext(ctx,
		`SELECT role FROM memberships
		 WHERE user_id = $1 AND resource_type = 'org' AND resource_id = $2`,
		userID, orgID).Scan(&role)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[AUTHZ] org role lookup failed for user=%s org=%s: %v", userID, orgID, err)
		}
		return ""
	}
	return Role(role)
}

// GetProjectRole returns the user's effective role in a project.
//
// Resolution order:
//  1. An explicit project membership always wins.
//  2. Otherwise, if the project has NO explicit members at all, the user's
//     org role is inherited (mapped through MapOrgRoleToProjectRole).
//  3. If the project has explicit members and the user is not one of them,
//     the user has no access even when they belong to the org.
func (a *SimpleAuthorizer) GetProjectRole(ctx context.Context, userID, projectID string) Role {
	query := `
		WITH project_info AS (
			SELECT
				p.organization_id,
				EXISTS (
					SELECT 1 FROM memberships m
					WHERE m.resource_type = 'project' AND m.resource_id = p.id
				) AS has_explicit_members
			FROM projects p
			WHERE p.id = $2
		),
		explicit_role AS (
			SELECT m.role, 0 AS priority, false AS is_inherited
			FROM memberships m
			WHERE m.user_id = $1 AND m.resource_type = 'project' AND m.resource_id = $2
		),
		inherited_role AS (
			SELECT m.role, 1 AS priority, true AS is_inherited
			FROM memberships m
			JOIN project_info pi ON m.resource_id = pi.organization_id
			WHERE m.user_id = $1
			  AND m.resource_type = 'org'
			  AND NOT pi.has_explicit_members
		)
		SELECT role, is_inherited FROM (
			SELECT * FROM explicit_role
			UNION ALL
			SELECT * FROM inherited_role
		) roles
		ORDER BY priority
		LIMIT 1`

	var role sql.NullString
	var isInherited bool
	err := a.db.QueryRowContext(ctx, query, userID, projectID).Scan(&role, &isInherited)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[AUTHZ] project role lookup failed for user=%s project=%s: %v", userID, projectID, err)
		}
		return ""
	}
	if !role.Valid {
		return ""
	}
	if isInherited {
		return MapOrgRoleToProjectRole(Role(role.String))
	}
	return Role(role.String)
}
