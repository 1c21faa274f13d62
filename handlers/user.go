package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

type UserHandler struct {
	users *services.UserService
	slack *services.SlackService
}

func NewUserHandler(users *services.UserService, slack *services.SlackService) *UserHandler {
	return &UserHandler{users: users, slack: slack}
}

// ListUsers handles GET /api/users.
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(GetTenantFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// SearchUsers handles GET /api/users/search. Used by member pickers; the
// exclude parameter drops users already on the roster being edited.
func (h *UserHandler) SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q parameter is required"})
		return
	}

	var excludeIDs []string
	if exclude := c.Query("exclude"); exclude != "" {
		excludeIDs = strings.Split(exclude, ",")
	}
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	users, err := h.users.SearchUsers(query, excludeIDs, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetCurrentUser handles GET /api/users/me.
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.users.GetUser(GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetUser handles GET /api/users/:id.
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.users.GetUser(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser handles PUT /api/users/:id. Users may only edit themselves.
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id := c.Param("id")
	if id != GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Cannot update another user"})
		return
	}

	var req db.User
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	user, err := h.users.UpdateUser(id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateFCMToken handles PUT /api/users/me/fcm-token.
func (h *UserHandler) UpdateFCMToken(c *gin.Context) {
	var req struct {
		FCMToken string `json:"fcm_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fcm_token is required"})
		return
	}

	if err := h.users.UpdateFCMToken(GetUserID(c), req.FCMToken); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "FCM token updated"})
}

// GetNotificationConfig handles GET /api/users/me/notification-config.
func (h *UserHandler) GetNotificationConfig(c *gin.Context) {
	cfg, err := h.slack.GetUserNotificationConfig(GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateNotificationConfig handles PUT /api/users/me/notification-config.
func (h *UserHandler) UpdateNotificationConfig(c *gin.Context) {
	var req struct {
		SlackUserID    string `json:"slack_user_id"`
		SlackChannelID string `json:"slack_channel_id"`
		SlackEnabled   bool   `json:"slack_enabled"`
		EmailEnabled   bool   `json:"email_enabled"`
		PushEnabled    bool   `json:"push_enabled"`
		Timezone       string `json:"timezone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	userID := GetUserID(c)
	err := h.slack.UpdateUserNotificationConfig(userID, req.SlackUserID, req.SlackChannelID,
		req.SlackEnabled, req.EmailEnabled, req.PushEnabled, req.Timezone)
	if err != nil {
		respondError(c, err)
		return
	}

	cfg, err := h.slack.GetUserNotificationConfig(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
