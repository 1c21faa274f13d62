package authz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory fakes for the service tests. Roles live in a single map keyed by
// user and resource, and the authorizer answers from it through the real
// permission matrices.

type fakeState struct {
	orgs      map[string]*Organization
	roles     map[string]Role // "userID/resourceType/resourceID"
	nextID    int
	addErr    error
	deletedID string
}

func newFakeState() *fakeState {
	return &fakeState{
		orgs:  make(map[string]*Organization),
		roles: make(map[string]Role),
	}
}

func roleKey(userID string, rt ResourceType, resourceID string) string {
	return fmt.Sprintf("%s/%s/%s", userID, rt, resourceID)
}

type fakeAuthorizer struct{ s *fakeState }

func (a *fakeAuthorizer) Check(ctx context.Context, userID string, action Action, rt ResourceType, resourceID string) bool {
	if rt == ResourceOrg {
		return a.CanPerformOrgAction(ctx, userID, resourceID, action)
	}
	return a.CanPerformProjectAction(ctx, userID, resourceID, action)
}

func (a *fakeAuthorizer) CanAccessOrg(ctx context.Context, userID, orgID string) bool {
	return a.GetOrgRole(ctx, userID, orgID) != ""
}

func (a *fakeAuthorizer) CanAccessProject(ctx context.Context, userID, projectID string) bool {
	return a.GetProjectRole(ctx, userID, projectID) != ""
}

func (a *fakeAuthorizer) CanPerformOrgAction(ctx context.Context, userID, orgID string, action Action) bool {
	return HasPermission(OrgPermissions, a.GetOrgRole(ctx, userID, orgID), action)
}

func (a *fakeAuthorizer) CanPerformProjectAction(ctx context.Context, userID, projectID string, action Action) bool {
	return HasPermission(ProjectPermissions, a.GetProjectRole(ctx, userID, projectID), action)
}

func (a *fakeAuthorizer) GetOrgRole(ctx context.Context, userID, orgID string) Role {
	return a.s.roles[roleKey(userID, ResourceOrg, orgID)]
}

func (a *fakeAuthorizer) GetProjectRole(ctx context.Context, userID, projectID string) Role {
	return a.s.roles[roleKey(userID, ResourceProject, projectID)]
}

type fakeMembers struct{ s *fakeState }

func (m *fakeMembers) AddMember(ctx context.Context, userID string, rt ResourceType, resourceID string, role Role, invitedBy string) error {
	if m.s.addErr != nil {
		return m.s.addErr
	}
	m.s.roles[roleKey(userID, rt, resourceID)] = role
	return nil
}

func (m *fakeMembers) UpdateMemberRole(ctx context.Context, userID string, rt ResourceType, resourceID string, role Role) error {
	m.s.roles[roleKey(userID, rt, resourceID)] = role
	return nil
}

func (m *fakeMembers) RemoveMember(ctx context.Context, userID string, rt ResourceType, resourceID string) error {
	delete(m.s.roles, roleKey(userID, rt, resourceID))
	return nil
}

func (m *fakeMembers) GetMembership(ctx context.Context, userID string, rt ResourceType, resourceID string) (*Membership, error) {
	role, ok := m.s.roles[roleKey(userID, rt, resourceID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &Membership{UserID: userID, ResourceType: rt, ResourceID: resourceID, Role: role}, nil
}

func (m *fakeMembers) GetUserMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	return nil, nil
}

func (m *fakeMembers) GetUserOrgMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	return nil, nil
}

func (m *fakeMembers) GetUserProjectMemberships(ctx context.Context, userID string) ([]*Membership, error) {
	return nil, nil
}

func (m *fakeMembers) GetResourceMembers(ctx context.Context, rt ResourceType, resourceID string) ([]*Membership, error) {
	return nil, nil
}

func (m *fakeMembers) IsMember(ctx context.Context, userID string, rt ResourceType, resourceID string) (bool, error) {
	_, ok := m.s.roles[roleKey(userID, rt, resourceID)]
	return ok, nil
}

type fakeOrgRepo struct{ s *fakeState }

func (r *fakeOrgRepo) Create(ctx context.Context, org *Organization) error {
	r.s.nextID++
	org.ID = fmt.Sprintf("org-%d", r.s.nextID)
	org.IsActive = true
	r.s.orgs[org.ID] = org
	return nil
}

func (r *fakeOrgRepo) Get(ctx context.Context, orgID string) (*Organization, error) {
	org, ok := r.s.orgs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	return org, nil
}

func (r *fakeOrgRepo) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	for _, org := range r.s.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeOrgRepo) List(ctx context.Context, limit, offset int) ([]*Organization, error) {
	return nil, nil
}

func (r *fakeOrgRepo) ListByUser(ctx context.Context, userID string) ([]*Organization, error) {
	var orgs []*Organization
	for _, org := range r.s.orgs {
		if r.s.roles[roleKey(userID, ResourceOrg, org.ID)] != "" {
			orgs = append(orgs, org)
		}
	}
	return orgs, nil
}

func (r *fakeOrgRepo) Update(ctx context.Context, org *Organization) error {
	r.s.orgs[org.ID] = org
	return nil
}

func (r *fakeOrgRepo) Delete(ctx context.Context, orgID string) error {
	delete(r.s.orgs, orgID)
	r.s.deletedID = orgID
	return nil
}

func (r *fakeOrgRepo) Exists(ctx context.Context, orgID string) (bool, error) {
	_, ok := r.s.orgs[orgID]
	return ok, nil
}

func (r *fakeOrgRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := r.GetBySlug(ctx, slug)
	return err == nil, nil
}

func newTestOrgService() (*OrgService, *fakeState) {
	s := newFakeState()
	return NewOrgService(&fakeAuthorizer{s}, &fakeMembers{s}, &fakeOrgRepo{s}), s
}

func TestCreateOrg_CreatorBecomesOwner(t *testing.T) {
	svc, state := newTestOrgService()
	ctx := context.Background()

	org, err := svc.CreateOrg(ctx, "u1", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.NotEmpty(t, org.ID)
	assert.Equal(t, RoleOwner, state.roles[roleKey("u1", ResourceOrg, org.ID)])
}

func TestCreateOrg_Validation(t *testing.T) {
	svc, _ := newTestOrgService()
	ctx := context.Background()

	_, err := svc.CreateOrg(ctx, "u1", CreateOrgInput{Name: "Acme", Slug: "Not A Slug"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = svc.CreateOrg(ctx, "u1", CreateOrgInput{Name: "   ", Slug: "acme"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestCreateOrg_DuplicateSlug(t *testing.T) {
	svc, _ := newTestOrgService()
	ctx := context.Background()

	_, err := svc.CreateOrg(ctx, "u1", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)

	_, err = svc.CreateOrg(ctx, "u2", CreateOrgInput{Name: "Other", Slug: "acme"})
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestCreateOrg_RollsBackWithoutOwner(t *testing.T) {
	svc, state := newTestOrgService()
	ctx := context.Background()

	state.addErr = errors.New("membership write failed")
	_, err := svc.CreateOrg(ctx, "u1", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.Error(t, err)
	assert.Empty(t, state.orgs, "org must not survive without an owner")
}

func TestAddOrgMember_Permissions(t *testing.T) {
	svc, state := newTestOrgService()
	ctx := context.Background()

	org, err := svc.CreateOrg(ctx, "owner", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	state.roles[roleKey("viewer", ResourceOrg, org.ID)] = RoleViewer

	// Viewers cannot manage members
	err = svc.AddOrgMember(ctx, "viewer", org.ID, AddOrgMemberInput{UserID: "u2", Role: RoleMember})
	assert.True(t, errors.Is(err, ErrForbidden))

	// Owners can
	err = svc.AddOrgMember(ctx, "owner", org.ID, AddOrgMemberInput{UserID: "u2", Role: RoleMember})
	require.NoError(t, err)
	assert.Equal(t, RoleMember, state.roles[roleKey("u2", ResourceOrg, org.ID)])

	// A second owner can never be added
	err = svc.AddOrgMember(ctx, "owner", org.ID, AddOrgMemberInput{UserID: "u3", Role: RoleOwner})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = svc.AddOrgMember(ctx, "owner", org.ID, AddOrgMemberInput{UserID: "u3", Role: Role("root")})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestUpdateOrgMemberRole_ProtectsOwner(t *testing.T) {
	svc, state := newTestOrgService()
	ctx := context.Background()

	org, err := svc.CreateOrg(ctx, "owner", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	state.roles[roleKey("u2", ResourceOrg, org.ID)] = RoleMember

	err = svc.UpdateOrgMemberRole(ctx, "owner", org.ID, "owner", RoleMember)
	assert.True(t, errors.Is(err, ErrInvalidInput), "owner's role is immutable")

	err = svc.UpdateOrgMemberRole(ctx, "owner", org.ID, "u2", RoleOwner)
	assert.True(t, errors.Is(err, ErrInvalidInput), "no promotion to owner")

	err = svc.UpdateOrgMemberRole(ctx, "owner", org.ID, "u2", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, state.roles[roleKey("u2", ResourceOrg, org.ID)])
}

func TestRemoveOrgMember(t *testing.T) {
	svc, state := newTestOrgService()
	ctx := context.Background()

	org, err := svc.CreateOrg(ctx, "owner", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	state.roles[roleKey("u2", ResourceOrg, org.ID)] = RoleAdmin

	err = svc.RemoveOrgMember(ctx, "u2", org.ID, "u2")
	assert.True(t, errors.Is(err, ErrCannotRemoveSelf))

	err = svc.RemoveOrgMember(ctx, "u2", org.ID, "owner")
	assert.True(t, errors.Is(err, ErrInvalidInput), "the owner cannot be removed")

	err = svc.RemoveOrgMember(ctx, "owner", org.ID, "u2")
	require.NoError(t, err)
	_, ok := state.roles[roleKey("u2", ResourceOrg, org.ID)]
	assert.False(t, ok)
}

func TestDeleteOrg_OwnerOnly(t *testing.T) {
	svc, state := newTestOrgService()
	ctx := context.Background()

	org, err := svc.CreateOrg(ctx, "owner", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	state.roles[roleKey("admin", ResourceOrg, org.ID)] = RoleAdmin

	err = svc.DeleteOrg(ctx, "admin", org.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	err = svc.DeleteOrg(ctx, "owner", org.ID)
	require.NoError(t, err)
	assert.Equal(t, org.ID, state.deletedID)
}

func TestListUserOrgs_IncludesRole(t *testing.T) {
	svc, state := newTestOrgService()
	ctx := context.Background()

	org, err := svc.CreateOrg(ctx, "u1", CreateOrgInput{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	state.roles[roleKey("u2", ResourceOrg, org.ID)] = RoleViewer

	orgs, err := svc.ListUserOrgs(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, RoleViewer, orgs[0].Role)

	orgs, err = svc.ListUserOrgs(ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, orgs)
}
