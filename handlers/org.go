package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/authz"
)

// OrgHandler exposes organization and project management plus their
// membership rosters. Permission checks live in the authz services; this
// layer only translates their sentinel errors to HTTP.
type OrgHandler struct {
	orgs     *authz.OrgService
	projects *authz.ProjectService
}

func NewOrgHandler(orgs *authz.OrgService, projects *authz.ProjectService) *OrgHandler {
	return &OrgHandler{orgs: orgs, projects: projects}
}

func respondAuthzError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authz.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, authz.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, authz.ErrInvalidInput), errors.Is(err, authz.ErrCannotRemoveSelf):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		respondError(c, err)
	}
}

// CreateOrg handles POST /api/orgs. The creator becomes the owner.
func (h *OrgHandler) CreateOrg(c *gin.Context) {
	var input authz.CreateOrgInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	org, err := h.orgs.CreateOrg(c.Request.Context(), GetUserID(c), input)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

// ListOrgs handles GET /api/orgs. Returns the caller's organizations with
// their role in each.
func (h *OrgHandler) ListOrgs(c *gin.Context) {
	orgs, err := h.orgs.ListUserOrgs(c.Request.Context(), GetUserID(c))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

// GetOrg handles GET /api/orgs/:org_id.
func (h *OrgHandler) GetOrg(c *gin.Context) {
	org, err := h.orgs.GetOrg(c.Request.Context(), GetUserID(c), c.Param("org_id"))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// UpdateOrg handles PUT /api/orgs/:org_id.
func (h *OrgHandler) UpdateOrg(c *gin.Context) {
	var input authz.UpdateOrgInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	org, err := h.orgs.UpdateOrg(c.Request.Context(), GetUserID(c), c.Param("org_id"), input)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// DeleteOrg handles DELETE /api/orgs/:org_id. Owner only.
func (h *OrgHandler) DeleteOrg(c *gin.Context) {
	if err := h.orgs.DeleteOrg(c.Request.Context(), GetUserID(c), c.Param("org_id")); err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Organization deleted"})
}

// ListOrgMembers handles GET /api/orgs/:org_id/members.
func (h *OrgHandler) ListOrgMembers(c *gin.Context) {
	members, err := h.orgs.GetOrgMembers(c.Request.Context(), GetUserID(c), c.Param("org_id"))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// AddOrgMember handles POST /api/orgs/:org_id/members.
func (h *OrgHandler) AddOrgMember(c *gin.Context) {
	var input authz.AddOrgMemberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.orgs.AddOrgMember(c.Request.Context(), GetUserID(c), c.Param("org_id"), input); err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Member added"})
}

// UpdateOrgMember handles PUT /api/orgs/:org_id/members/:user_id.
func (h *OrgHandler) UpdateOrgMember(c *gin.Context) {
	var input struct {
		Role authz.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}

	err := h.orgs.UpdateOrgMemberRole(c.Request.Context(), GetUserID(c), c.Param("org_id"),
		c.Param("user_id"), input.Role)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member role updated"})
}

// RemoveOrgMember handles DELETE /api/orgs/:org_id/members/:user_id.
func (h *OrgHandler) RemoveOrgMember(c *gin.Context) {
	err := h.orgs.RemoveOrgMember(c.Request.Context(), GetUserID(c), c.Param("org_id"), c.Param("user_id"))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

// CreateProject handles POST /api/projects.
func (h *OrgHandler) CreateProject(c *gin.Context) {
	var input authz.CreateProjectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	project, err := h.projects.CreateProject(c.Request.Context(), GetUserID(c), input)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// ListProjects handles GET /api/projects. With org_id set, lists that
// organization's projects; otherwise all projects the caller belongs to.
func (h *OrgHandler) ListProjects(c *gin.Context) {
	ctx := c.Request.Context()
	userID := GetUserID(c)

	if orgID := c.Query("org_id"); orgID != "" {
		projects, err := h.projects.ListOrgProjects(ctx, userID, orgID)
		if err != nil {
			respondAuthzError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects})
		return
	}

	projects, err := h.projects.ListUserProjects(ctx, userID)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// GetProject handles GET /api/projects/:project_id.
func (h *OrgHandler) GetProject(c *gin.Context) {
	project, err := h.projects.GetProject(c.Request.Context(), GetUserID(c), c.Param("project_id"))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// UpdateProject handles PUT /api/projects/:project_id.
func (h *OrgHandler) UpdateProject(c *gin.Context) {
	var input authz.UpdateProjectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	project, err := h.projects.UpdateProject(c.Request.Context(), GetUserID(c), c.Param("project_id"), input)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// DeleteProject handles DELETE /api/projects/:project_id.
func (h *OrgHandler) DeleteProject(c *gin.Context) {
	if err := h.projects.DeleteProject(c.Request.Context(), GetUserID(c), c.Param("project_id")); err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Project deleted"})
}

// ListProjectMembers handles GET /api/projects/:project_id/members.
func (h *OrgHandler) ListProjectMembers(c *gin.Context) {
	members, err := h.projects.GetProjectMembers(c.Request.Context(), GetUserID(c), c.Param("project_id"))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// AddProjectMember handles POST /api/projects/:project_id/members.
func (h *OrgHandler) AddProjectMember(c *gin.Context) {
	var input authz.AddProjectMemberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	err := h.projects.AddProjectMember(c.Request.Context(), GetUserID(c), c.Param("project_id"), input)
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Member added"})
}

// RemoveProjectMember handles DELETE /api/projects/:project_id/members/:user_id.
func (h *OrgHandler) RemoveProjectMember(c *gin.Context) {
	err := h.projects.RemoveProjectMember(c.Request.Context(), GetUserID(c), c.Param("project_id"), c.Param("user_id"))
	if err != nil {
		respondAuthzError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}
