package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleOwner, ActionDelete, true},
		{RoleOwner, ActionManage, true},
		{RoleAdmin, ActionManage, true},
		{RoleAdmin, ActionDelete, false},
		{RoleMember, ActionCreate, true},
		{RoleMember, ActionUpdate, false},
		{RoleViewer, ActionView, true},
		{RoleViewer, ActionCreate, false},
		{Role("intruder"), ActionView, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HasPermission(OrgPermissions, tt.role, tt.action),
			"%s %s", tt.role, tt.action)
	}
}

func TestProjectPermissions_AdminCanDelete(t *testing.T) {
	// Org admins cannot delete the org, but they can delete projects
	assert.False(t, HasPermission(OrgPermissions, RoleAdmin, ActionDelete))
	assert.True(t, HasPermission(ProjectPermissions, RoleAdmin, ActionDelete))
}

func TestMapOrgRoleToProjectRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, MapOrgRoleToProjectRole(RoleOwner))
	assert.Equal(t, RoleAdmin, MapOrgRoleToProjectRole(RoleAdmin))
	assert.Equal(t, RoleMember, MapOrgRoleToProjectRole(RoleMember))
	assert.Equal(t, RoleViewer, MapOrgRoleToProjectRole(RoleViewer))
	assert.Equal(t, Role(""), MapOrgRoleToProjectRole(Role("")))
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAtLeast(RoleOwner, RoleAdmin))
	assert.True(t, RoleAtLeast(RoleAdmin, RoleAdmin))
	assert.False(t, RoleAtLeast(RoleMember, RoleAdmin))
	assert.False(t, RoleAtLeast(Role(""), RoleViewer))
}

func TestValidateSlug(t *testing.T) {
	assert.NoError(t, validateSlug("acme-prod-1"))
	assert.Error(t, validateSlug(""))
	assert.Error(t, validateSlug("Has-Caps"))
	assert.Error(t, validateSlug("spaces here"))
	assert.Error(t, validateSlug("under_score"))
}
