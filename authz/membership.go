package authz

import (
	"context"
	"time"
)

// Membership links a user to an org or project with a role. One row per
// (user, resource) pair; re-adding a member updates the role in place.
type Membership struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Role         Role         `json:"role"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	InvitedBy    string       `json:"invited_by,omitempty"`

	// Populated on member listings via join with users
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// MembershipManager writes and reads user-resource relationships
type MembershipManager interface {
	AddMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string, role Role, invitedBy string) error
	UpdateMemberRole(ctx context.Context, userID string, resourceType ResourceType, resourceID string, role Role) error
	RemoveMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) error

	GetMembership(ctx context.Context, userID string, resourceType ResourceType, resourceID string) (*Membership, error)
	GetUserMemberships(ctx context.Context, userID string) ([]*Membership, error)
	GetUserOrgMemberships(ctx context.Context, userID string) ([]*Membership, error)
	GetUserProjectMemberships(ctx context.Context, userID string) ([]*Membership, error)
	GetResourceMembers(ctx context.Context, resourceType ResourceType, resourceID string) ([]*Membership, error)
	IsMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) (bool, error)
}
