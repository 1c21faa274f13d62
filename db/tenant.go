package db

import "fmt"

// TenantFilter scopes a repository operation to one organization and
// optionally one project. Every read and write goes through one of these;
// a filter with an empty OrgID is a programmer error, not a request error.
type TenantFilter struct {
	OrgID     string
	ProjectID string
}

// NewTenantFilter builds a filter and panics on a missing org id. Callers
// derive the arguments from the authenticated principal, so an empty org
// means a code path skipped authentication.
func NewTenantFilter(orgID, projectID string) TenantFilter {
	if orgID == "" {
		panic("db: tenant filter requires a non-empty org_id")
	}
	return TenantFilter{OrgID: orgID, ProjectID: projectID}
}

// MustValidate re-checks the invariant for filters built literally.
func (f TenantFilter) MustValidate() {
	if f.OrgID == "" {
		panic("db: tenant filter requires a non-empty org_id")
	}
}

// HasProject reports whether the filter narrows to a single project.
func (f TenantFilter) HasProject() bool { return f.ProjectID != "" }

func (f TenantFilter) String() string {
	if f.ProjectID == "" {
		return fmt.Sprintf("org=%s", f.OrgID)
	}
	return fmt.Sprintf("org=%s project=%s", f.OrgID, f.ProjectID)
}
