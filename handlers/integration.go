package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

type IntegrationHandler struct {
	integrations *services.IntegrationService
}

func NewIntegrationHandler(integrations *services.IntegrationService) *IntegrationHandler {
	return &IntegrationHandler{integrations: integrations}
}

// CreateIntegration handles POST /api/integrations. The response carries the
// generated webhook URL the monitoring source should post to.
func (h *IntegrationHandler) CreateIntegration(c *gin.Context) {
	var req db.CreateIntegrationRequest
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

	integration, err := h.integrations.CreateIntegration(req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, integration)
}

// ListIntegrations handles GET /api/integrations.
func (h *IntegrationHandler) ListIntegrations(c *gin.Context) {
	integrations, err := h.integrations.ListIntegrations(GetTenantFilter(c), c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"integrations": integrations})
}

// GetIntegration handles GET /api/integrations/:id.
func (h *IntegrationHandler) GetIntegration(c *gin.Context) {
	integration, err := h.integrations.GetIntegration(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if integration == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Integration not found"})
		return
	}
	c.JSON(http.StatusOK, integration)
}

// UpdateIntegration handles PUT /api/integrations/:id.
func (h *IntegrationHandler) UpdateIntegration(c *gin.Context) {
	var req db.UpdateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	integration, err := h.integrations.UpdateIntegration(c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, integration)
}

// DeleteIntegration handles DELETE /api/integrations/:id. Refused while
// active service mappings still reference the integration.
func (h *IntegrationHandler) DeleteIntegration(c *gin.Context) {
	if err := h.integrations.DeleteIntegration(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Integration deleted"})
}
