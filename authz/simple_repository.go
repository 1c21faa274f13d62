package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// SimpleOrgRepository stores organizations in Postgres
type SimpleOrgRepository struct {
	db *sql.DB
}

// NewSimpleOrgRepository creates a Postgres-backed org repository
func NewSimpleOrgRepository(db *sql.DB) *SimpleOrgRepository {
	return &SimpleOrgRepository{db: db}
}

// Create inserts a new organization
func (r *SimpleOrgRepository) Create(ctx context.Context, org *Organization) error {
	// Empty settings stays NULL so Postgres JSON columns do not reject ""
	var settings interface{}
	if org.Settings != "" {
		settings = org.Settings
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO organizations (name, slug, description, settings)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, is_active, created_at, updated_at`,
		org.Name, org.Slug, org.Description, settings).
		Scan(&org.ID, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// Get returns an organization by id
func (r *SimpleOrgRepository) Get(ctx context.Context, orgID string) (*Organization, error) {
	return r.getOrgWhere(ctx, "id = $1", orgID)
}

// GetBySlug returns an organization by slug
func (r *SimpleOrgRepository) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	return r.getOrgWhere(ctx, "slug = $1", slug)
}

func (r *SimpleOrgRepository) getOrgWhere(ctx context.Context, where string, arg interface{}) (*Organization, error) {
	var org Organization
	var settings sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, slug, COALESCE(description, ''), settings, is_active, created_at, updated_at
		 FROM organizations
		 WHERE `+where+` AND is_active = true`, arg).
		Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &settings, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.Settings = settings.String
	return &org, nil
}

// List returns active organizations with pagination
func (r *SimpleOrgRepository) List(ctx context.Context, limit, offset int) ([]*Organization, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, slug, COALESCE(description, ''), settings, is_active, created_at, updated_at
		 FROM organizations
		 WHERE is_active = true
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()
	return scanOrganizations(rows)
}

// ListByUser returns organizations the user is a member of
func (r *SimpleOrgRepository) ListByUser(ctx context.Context, userID string) ([]*Organization, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT o.id, o.name, o.slug, COALESCE(o.description, ''), o.settings, o.is_active, o.created_at, o.updated_at
		 FROM organizations o
		 JOIN memberships m ON m.resource_id = o.id AND m.resource_type = 'org'
		 WHERE m.user_id = $1 AND o.is_active = true
		 ORDER BY o.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user organizations: %w", err)
	}
	defer rows.Close()
	return scanOrganizations(rows)
}

// Update modifies name, description and settings
func (r *SimpleOrgRepository) Update(ctx context.Context, org *Organization) error {
	var settings interface{}
	if org.Settings != "" {
		settings = org.Settings
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE organizations
		 SET name = $1, description = $2, settings = $3, updated_at = NOW()
		 WHERE id = $4 AND is_active = true`,
		org.Name, org.Description, settings, org.ID)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes the organization
func (r *SimpleOrgRepository) Delete(ctx context.Context, orgID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET is_active = false, updated_at = NOW() WHERE id = $1 AND is_active = true`,
		orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists checks whether an active organization with the id exists
func (r *SimpleOrgRepository) Exists(ctx context.Context, orgID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1 AND is_active = true)`, orgID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check organization: %w", err)
	}
	return exists, nil
}

// SlugExists checks whether an active organization uses the slug
func (r *SimpleOrgRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM organizations WHERE slug = $1 AND is_active = true)`, slug).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func scanOrganizations(rows *sql.Rows) ([]*Organization, error) {
	orgs := make([]*Organization, 0) // JSON: [] not null
	for rows.Next() {
		var org Organization
		var settings sql.NullString
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &settings, &org.IsActive, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		org.Settings = settings.String
		orgs = append(orgs, &org)
	}
	return orgs, rows.Err()
}

// SimpleProjectRepository stores projects in Postgres
type SimpleProjectRepository struct {
	db *sql.DB
}

// NewSimpleProjectRepository creates a Postgres-backed project repository
func NewSimpleProjectRepository(db *sql.DB) *SimpleProjectRepository {
	return &SimpleProjectRepository{db: db}
}

// Create inserts a new project
func (r *SimpleProjectRepository) Create(ctx context.Context, project *Project) error {
	var settings interface{}
	if project.Settings != "" {
		settings = project.Settings
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO projects (organization_id, name, slug, description, settings)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, is_active, created_at, updated_at`,
		project.OrganizationID, project.Name, project.Slug, project.Description, settings).
		Scan(&project.ID, &project.IsActive, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Get returns a project by id
func (r *SimpleProjectRepository) Get(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	var settings sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, slug, COALESCE(description, ''), settings, is_active, created_at, updated_at
		 FROM projects
		 WHERE id = $1 AND is_active = true`, projectID).
		Scan(&project.ID, &project.OrganizationID, &project.Name, &project.Slug, &project.Description, &settings, &project.IsActive, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	project.Settings = settings.String
	return &project, nil
}

// GetBySlug returns a project by slug inside an organization
func (r *SimpleProjectRepository) GetBySlug(ctx context.Context, orgID, slug string) (*Project, error) {
	var project Project
	var settings sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, slug, COALESCE(description, ''), settings, is_active, created_at, updated_at
		 FROM projects
		 WHERE organization_id = $1 AND slug = $2 AND is_active = true`, orgID, slug).
		Scan(&project.ID, &project.OrganizationID, &project.Name, &project.Slug, &project.Description, &settings, &project.IsActive, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	project.Settings = settings.String
	return &project, nil
}

// ListByOrg returns all active projects in an organization
func (r *SimpleProjectRepository) ListByOrg(ctx context.Context, orgID string) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, organization_id, name, slug, COALESCE(description, ''), settings, is_active, created_at, updated_at
		 FROM projects
		 WHERE organization_id = $1 AND is_active = true
		 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

// ListByUser returns every project the user can see:
//   - projects where the user has an explicit membership
//   - all org projects when the user owns the org
//   - projects with no explicit members when the user belongs to the org
func (r *SimpleProjectRepository) ListByUser(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.organization_id, p.name, p.slug, COALESCE(p.description, ''), p.settings, p.is_active, p.created_at, p.updated_at
		 FROM projects p
		 WHERE p.is_active = true AND (
		     EXISTS (
		         SELECT 1 FROM memberships m
		         WHERE m.user_id = $1 AND m.resource_type = 'project' AND m.resource_id = p.id
		     )
		     OR EXISTS (
		         SELECT 1 FROM memberships m
		         WHERE m.user_id = $1 AND m.resource_type = 'org'
		           AND m.resource_id = p.organization_id AND m.role = 'owner'
		     )
		     OR (
		         EXISTS (
		             SELECT 1 FROM memberships m
		             WHERE m.user_id = $1 AND m.resource_type = 'org'
		               AND m.resource_id = p.organization_id
		         )
		         AND NOT EXISTS (
		             SELECT 1 FROM memberships m
		             WHERE m.resource_type = 'project' AND m.resource_id = p.id
		         )
		     )
		 )
		 ORDER BY p.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user projects: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

// Update modifies name, description and settings
func (r *SimpleProjectRepository) Update(ctx context.Context, project *Project) error {
	var settings interface{}
	if project.Settings != "" {
		settings = project.Settings
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects
		 SET name = $1, description = $2, settings = $3, updated_at = NOW()
		 WHERE id = $4 AND is_active = true`,
		project.Name, project.Description, settings, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes the project
func (r *SimpleProjectRepository) Delete(ctx context.Context, projectID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET is_active = false, updated_at = NOW() WHERE id = $1 AND is_active = true`,
		projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists checks whether an active project with the id exists
func (r *SimpleProjectRepository) Exists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1 AND is_active = true)`, projectID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project: %w", err)
	}
	return exists, nil
}

// SlugExistsInOrg checks whether an active project in the org uses the slug
func (r *SimpleProjectRepository) SlugExistsInOrg(ctx context.Context, orgID, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE organization_id = $1 AND slug = $2 AND is_active = true)`,
		orgID, slug).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// GetOrgID returns the organization a project belongs to
func (r *SimpleProjectRepository) GetOrgID(ctx context.Context, projectID string) (string, error) {
	var orgID string
	err := r.db.QueryRowContext(ctx,
		`SELECT organization_id FROM projects WHERE id = $1 AND is_active = true`, projectID).
		Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get project org: %w", err)
	}
	return orgID, nil
}

func scanProjects(rows *sql.Rows) ([]*Project, error) {
	projects := make([]*Project, 0) // JSON: [] not null
	for rows.Next() {
		var project Project
		var settings sql.NullString
		if err := rows.Scan(&project.ID, &project.OrganizationID, &project.Name, &project.Slug, &project.Description, &settings, &project.IsActive, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		project.Settings = settings.String
		projects = append(projects, &project)
	}
	return projects, rows.Err()
}

// NewSimpleBackend wires the Postgres-backed authz implementations together
func NewSimpleBackend(db *sql.DB) (Authorizer, MembershipManager, OrgRepository, ProjectRepository) {
	return NewSimpleAuthorizer(db),
		NewSimpleMembershipManager(db),
		NewSimpleOrgRepository(db),
		NewSimpleProjectRepository(db)
}
