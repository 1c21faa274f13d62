package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

type GroupHandler struct {
	groups *services.GroupService
}

func NewGroupHandler(groups *services.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// isGroupAdmin reports whether the caller administers the group.
func (h *GroupHandler) isGroupAdmin(groupID, userID string) bool {
	member, err := h.groups.GetGroupMember(groupID, userID)
	return err == nil && member.Role == "admin" && member.IsActive
}

// ListGroups handles GET /api/groups.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListGroups(GetTenantFilter(c), c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetGroup handles GET /api/groups/:id, including the member roster.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	group, err := h.groups.GetGroupWithMembers(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// CreateGroup handles POST /api/groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req db.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	filter := GetTenantFilter(c)
	if req.OrganizationID == "" {
		req.OrganizationID = filter.OrgID
	}
	if req.ProjectID == "" {
		req.ProjectID = filter.ProjectID
	}

	group, err := h.groups.CreateGroup(req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

// UpdateGroup handles PUT /api/groups/:id.
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	groupID := c.Param("id")
	if !h.isGroupAdmin(groupID, GetUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Group admin role required"})
		return
	}

	var req db.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	group, err := h.groups.UpdateGroup(groupID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// DeleteGroup handles DELETE /api/groups/:id.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID := c.Param("id")
	if !h.isGroupAdmin(groupID, GetUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Group admin role required"})
		return
	}

	if err := h.groups.DeleteGroup(groupID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

// ListGroupMembers handles GET /api/groups/:id/members.
func (h *GroupHandler) ListGroupMembers(c *gin.Context) {
	members, err := h.groups.GetGroupMembers(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// AddGroupMember handles POST /api/groups/:id/members.
func (h *GroupHandler) AddGroupMember(c *gin.Context) {
	groupID := c.Param("id")
	if !h.isGroupAdmin(groupID, GetUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Group admin role required"})
		return
	}

	var req db.AddGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	member, err := h.groups.AddGroupMember(groupID, req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

// UpdateGroupMember handles PUT /api/groups/:id/members/:user_id.
func (h *GroupHandler) UpdateGroupMember(c *gin.Context) {
	groupID := c.Param("id")
	if !h.isGroupAdmin(groupID, GetUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Group admin role required"})
		return
	}

	var req db.UpdateGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	member, err := h.groups.UpdateGroupMember(groupID, c.Param("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// RemoveGroupMember handles DELETE /api/groups/:id/members/:user_id.
func (h *GroupHandler) RemoveGroupMember(c *gin.Context) {
	groupID := c.Param("id")
	if !h.isGroupAdmin(groupID, GetUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Group admin role required"})
		return
	}

	if err := h.groups.RemoveGroupMember(groupID, c.Param("user_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

// GetMyGroups handles GET /api/groups/mine.
func (h *GroupHandler) GetMyGroups(c *gin.Context) {
	groups, err := h.groups.GetUserGroups(GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}
