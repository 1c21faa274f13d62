package authz

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested resource does not exist
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyExists is returned when a slug collides inside its scope
	ErrAlreadyExists = errors.New("resource already exists")
)

// Organization is the tenant root. Every incident, service and schedule
// belongs to exactly one organization.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Settings    string    `json:"settings,omitempty"` // JSON blob
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Project is an optional sub-tenant inside an organization.
type Project struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description,omitempty"`
	Settings       string    `json:"settings,omitempty"` // JSON blob
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrgRepository handles organization persistence
type OrgRepository interface {
	Create(ctx context.Context, org *Organization) error
	Get(ctx context.Context, orgID string) (*Organization, error)
	GetBySlug(ctx context.Context, slug string) (*Organization, error)
	List(ctx context.Context, limit, offset int) ([]*Organization, error)
	ListByUser(ctx context.Context, userID string) ([]*Organization, error)
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, orgID string) error
	Exists(ctx context.Context, orgID string) (bool, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// ProjectRepository handles project persistence
type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	Get(ctx context.Context, projectID string) (*Project, error)
	GetBySlug(ctx context.Context, orgID, slug string) (*Project, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Project, error)
	ListByUser(ctx context.Context, userID string) ([]*Project, error)
	Update(ctx context.Context, project *Project) error
	Delete(ctx context.Context, projectID string) error
	Exists(ctx context.Context, projectID string) (bool, error)
	SlugExistsInOrg(ctx context.Context, orgID, slug string) (bool, error)
	GetOrgID(ctx context.Context, projectID string) (string, error)
}
