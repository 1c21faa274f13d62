package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

// ServiceHandler manages routable services, their integration mappings and
// the escalation policies attached to them.
type ServiceHandler struct {
	services    *services.ServiceService
	escalations *services.EscalationService
}

func NewServiceHandler(serviceSvc *services.ServiceService, escalations *services.EscalationService) *ServiceHandler {
	return &ServiceHandler{services: serviceSvc, escalations: escalations}
}

// CreateService handles POST /api/groups/:id/services.
func (h *ServiceHandler) CreateService(c *gin.Context) {
	var req db.CreateServiceRequest
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

	service, err := h.services.CreateService(c.Param("id"), req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, service)
}

// ListServices handles GET /api/services.
func (h *ServiceHandler) ListServices(c *gin.Context) {
	list, err := h.services.ListServices(GetTenantFilter(c), c.Query("group_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": list})
}

// GetService handles GET /api/services/:id.
func (h *ServiceHandler) GetService(c *gin.Context) {
	service, err := h.services.GetService(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, service)
}

// UpdateService handles PUT /api/services/:id.
func (h *ServiceHandler) UpdateService(c *gin.Context) {
	var req db.UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	service, err := h.services.UpdateService(c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, service)
}

// DeleteService handles DELETE /api/services/:id.
func (h *ServiceHandler) DeleteService(c *gin.Context) {
	if err := h.services.DeleteService(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service deleted"})
}

// AddServiceIntegration handles POST /api/services/:id/integrations.
func (h *ServiceHandler) AddServiceIntegration(c *gin.Context) {
	var req db.CreateServiceIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	mapping, err := h.services.AddServiceIntegration(c.Param("id"), req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mapping)
}

// ListServiceIntegrations handles GET /api/services/:id/integrations.
func (h *ServiceHandler) ListServiceIntegrations(c *gin.Context) {
	mappings, err := h.services.ListServiceIntegrations(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"integrations": mappings})
}

// UpdateServiceIntegration handles PUT /api/service-integrations/:mapping_id.
func (h *ServiceHandler) UpdateServiceIntegration(c *gin.Context) {
	var req db.UpdateServiceIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.services.UpdateServiceIntegration(c.Param("mapping_id"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Mapping updated"})
}

// RemoveServiceIntegration handles DELETE /api/service-integrations/:mapping_id.
func (h *ServiceHandler) RemoveServiceIntegration(c *gin.Context) {
	if err := h.services.RemoveServiceIntegration(c.Param("mapping_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Mapping removed"})
}

// CreateEscalationPolicy handles POST /api/groups/:id/escalation-policies.
func (h *ServiceHandler) CreateEscalationPolicy(c *gin.Context) {
	var req db.CreateEscalationPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	policy, err := h.escalations.CreateEscalationPolicy(c.Param("id"), GetTenantFilter(c).OrgID, req, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, policy)
}

// ListEscalationPolicies handles GET /api/groups/:id/escalation-policies.
func (h *ServiceHandler) ListEscalationPolicies(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	policies, err := h.escalations.ListGroupEscalationPolicies(c.Param("id"), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalation_policies": policies})
}

// GetEscalationPolicy handles GET /api/escalation-policies/:policy_id.
func (h *ServiceHandler) GetEscalationPolicy(c *gin.Context) {
	policy, err := h.escalations.GetEscalationPolicyWithLevels(c.Param("policy_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// UpdateEscalationPolicy handles PUT /api/escalation-policies/:policy_id.
func (h *ServiceHandler) UpdateEscalationPolicy(c *gin.Context) {
	var req db.UpdateEscalationPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	policy, err := h.escalations.UpdateEscalationPolicy(c.Param("policy_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// DeleteEscalationPolicy handles DELETE /api/escalation-policies/:policy_id.
func (h *ServiceHandler) DeleteEscalationPolicy(c *gin.Context) {
	if err := h.escalations.DeleteEscalationPolicy(c.Param("policy_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Escalation policy deleted"})
}
