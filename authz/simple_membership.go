package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SimpleMembershipManager stores memberships in Postgres
type SimpleMembershipManager struct {
	db *sql.DB
}

// NewSimpleMembershipManager creates a Postgres-backed membership manager
func NewSimpleMembershipManager(db *sql.DB) *SimpleMembershipManager {
	return &SimpleMembershipManager{db: db}
}

// AddMember adds a user to a resource. Re-adding updates the role in place.
func (m *SimpleMembershipManager) AddMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string, role Role, invitedBy string) error {
	now := time.Now()
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO memberships (id, user_id, resource_type, resource_id, role, invited_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, resource_type, resource_id)
		 DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), userID, string(resourceType), resourceID, string(role), nullIfEmpty(invitedBy), now, now)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes an existing member's role
func (m *SimpleMembershipManager) UpdateMemberRole(ctx context.Context, userID string, resourceType ResourceType, resourceID string, role Role) error {
	result, err := m.db.ExecContext(ctx,
		`UPDATE memberships SET role = $1, updated_at = $2
		 WHERE user_id = $3 AND resource_type = $4 AND resource_id = $5`,
		string(role), time.Now(), userID, string(resourceType), resourceID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("membership not found")
	}
	return nil
}

// RemoveMember removes a user from a resource
func (m *SimpleMembershipManager) RemoveMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) error {
	result, err := m.db.ExecContext(ctx,
		`DELETE FROM memberships
		 WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`,
		userID, string(resourceType), resourceID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("membership not found")
	}
	return nil
}

// GetMembership returns a single membership row
func (m *SimpleMembershipManager) GetMembership(ctx context.Context, userID string, resourceType ResourceType, resourceID string) (*Membership, error) {
	var mem Membership
	var invitedBy sql.NullString
	err := m.db.QueryRowContext(ctx,
		`SELECT id, user_id, resource_type, resource_id, role, invited_by, created_at, updated_at
		 FROM memberships
		 WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`,
		userID, string(resourceType), resourceID).
		Scan(&mem.ID, &mem.UserID, &mem.ResourceType, &mem.ResourceID, &mem.Role, &invitedBy, &mem.CreatedAt, &mem.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("membership not found")
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	mem.InvitedBy = invitedBy.String
	return &mem, nil
}

// GetUserMemberships returns all memberships for a user
func (m *SimpleMembershipManager) GetUserMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, user_id, resource_type, resource_id, role, invited_by, created_at, updated_at
		 FROM memberships
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	return scanMemberships(rows)
}

// GetUserOrgMemberships returns the user's org memberships
func (m *SimpleMembershipManager) GetUserOrgMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	return m.getUserMembershipsByType(ctx, userID, ResourceOrg)
}

// GetUserProjectMemberships returns the user's explicit project memberships
func (m *SimpleMembershipManager) GetUserProjectMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	return m.getUserMembershipsByType(ctx, userID, ResourceProject)
}

func (m *SimpleMembershipManager) getUserMembershipsByType(ctx context.Context, userID string, resourceType ResourceType) ([]*Membership, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, user_id, resource_type, resource_id, role, invited_by, created_at, updated_at
		 FROM memberships
		 WHERE user_id = $1 AND resource_type = $2
		 ORDER BY created_at`,
		userID, string(resourceType))
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()
	return scanMemberships(rows)
}

// GetResourceMembers returns all members of a resource with user details,
// owners first
func (m *SimpleMembershipManager) GetResourceMembers(ctx context.Context, resourceType ResourceType, resourceID string) ([]*Membership, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT m.id, m.user_id, m.resource_type, m.resource_id, m.role, m.invited_by, m.created_at, m.updated_at,
		        COALESCE(u.name, ''), COALESCE(u.email, '')
		 FROM memberships m
		 LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.resource_type = $1 AND m.resource_id = $2
		 ORDER BY CASE m.role
		     WHEN 'owner' THEN 1
		     WHEN 'admin' THEN 2
		     WHEN 'member' THEN 3
		     WHEN 'viewer' THEN 4
		     ELSE 5
		 END, m.created_at`,
		string(resourceType), resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()
	return scanMembershipsWithUser(rows)
}

// IsMember checks whether the user has any membership on the resource
func (m *SimpleMembershipManager) IsMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM memberships
		     WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3
		 )`,
		userID, string(resourceType), resourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

func scanMemberships(rows *sql.Rows) ([]*Membership, error) {
	memberships := make([]*Membership, 0) // JSON: [] not null
	for rows.Next() {
		var mem Membership
		var invitedBy sql.NullString
		if err := rows.Scan(&mem.ID, &mem.UserID, &mem.ResourceType, &mem.ResourceID, &mem.Role, &invitedBy, &mem.CreatedAt, &mem.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		mem.InvitedBy = invitedBy.String
		memberships = append(memberships, &mem)
	}
	return memberships, rows.Err()
}

func scanMembershipsWithUser(rows *sql.Rows) ([]*Membership, error) {
	memberships := make([]*Membership, 0) // JSON: [] not null
	for rows.Next() {
		var mem Membership
		var invitedBy sql.NullString
		if err := rows.Scan(&mem.ID, &mem.UserID, &mem.ResourceType, &mem.ResourceID, &mem.Role, &invitedBy, &mem.CreatedAt, &mem.UpdatedAt, &mem.Name, &mem.Email); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		mem.InvitedBy = invitedBy.String
		memberships = append(memberships, &mem)
	}
	return memberships, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
