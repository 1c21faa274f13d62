package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

type IncidentHandler struct {
	incidents   *services.IncidentService
	escalations *services.EscalationService
}

func NewIncidentHandler(incidents *services.IncidentService, escalations *services.EscalationService) *IncidentHandler {
	return &IncidentHandler{incidents: incidents, escalations: escalations}
}

// ListIncidents handles GET /api/incidents.
func (h *IncidentHandler) ListIncidents(c *gin.Context) {
	userID := GetUserID(c)
	filter := GetTenantFilter(c)

	opts := services.IncidentListOptions{
		Status:     c.Query("status"),
		Urgency:    c.Query("urgency"),
		Severity:   c.Query("severity"),
		Priority:   c.Query("priority"),
		AssignedTo: c.Query("assigned_to"),
		ServiceID:  c.Query("service_id"),
		GroupID:    c.Query("group_id"),
		Search:     c.Query("search"),
		Sort:       c.Query("sort"),
		TimeRange:  c.Query("time_range"),
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 0 {
		opts.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}

	incidents, err := h.incidents.ListIncidents(userID, filter, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 20
	}
	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"page":      page,
		"limit":     limit,
		"total":     len(incidents),
		"has_more":  len(incidents) == limit,
	})
}

// GetIncident handles GET /api/incidents/:id.
func (h *IncidentHandler) GetIncident(c *gin.Context) {
	incident, err := h.incidents.GetIncident(c.Param("id"), GetTenantFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// CreateIncident handles POST /api/incidents for manual incident creation.
func (h *IncidentHandler) CreateIncident(c *gin.Context) {
	var req db.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	filter := GetTenantFilter(c)
	incident := &db.Incident{
		Title:              req.Title,
		Description:        req.Description,
		Urgency:            req.Urgency,
		Priority:           req.Priority,
		ServiceID:          req.ServiceID,
		GroupID:            req.GroupID,
		EscalationPolicyID: req.EscalationPolicyID,
		IncidentKey:        req.IncidentKey,
		Fingerprint:        req.Fingerprint,
		Severity:           req.Severity,
		Source:             req.Source,
		IntegrationID:      req.IntegrationID,
		AssignedTo:         req.AssignedTo,
		Labels:             req.Labels,
		OrganizationID:     filter.OrgID,
		ProjectID:          filter.ProjectID,
	}
	if incident.ProjectID == "" {
		incident.ProjectID = req.ProjectID
	}

	// Auto-assign from the escalation policy when nobody was named.
	if incident.AssignedTo == "" && incident.EscalationPolicyID != "" && incident.GroupID != "" {
		assignee, err := h.escalations.GetAssigneeFromEscalationPolicy(incident.EscalationPolicyID, incident.GroupID)
		if err != nil {
			log.Printf("[incident] auto-assignment failed for policy %s: %v", incident.EscalationPolicyID, err)
		} else if assignee != "" {
			now := time.Now().UTC()
			incident.AssignedTo = assignee
			incident.AssignedAt = &now
		}
	}

	created, deduped, err := h.incidents.CreateIncident(c.Request.Context(), incident)
	if err != nil {
		respondError(c, err)
		return
	}
	if deduped {
		c.JSON(http.StatusOK, gin.H{"incident": created, "deduplicated": true})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// AcknowledgeIncident handles PUT /api/incidents/:id/acknowledge.
func (h *IncidentHandler) AcknowledgeIncident(c *gin.Context) {
	var req db.AcknowledgeIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.incidents.AcknowledgeIncident(c.Request.Context(), c.Param("id"), GetUserID(c), req.Note); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Incident acknowledged"})
}

// ResolveIncident handles PUT /api/incidents/:id/resolve.
func (h *IncidentHandler) ResolveIncident(c *gin.Context) {
	var req db.ResolveIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.incidents.ResolveIncident(c.Request.Context(), c.Param("id"), GetUserID(c), req.Note, req.Resolution); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Incident resolved"})
}

// AssignIncident handles POST /api/incidents/:id/assign.
func (h *IncidentHandler) AssignIncident(c *gin.Context) {
	var req db.AssignIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assigned_to is required"})
		return
	}

	if err := h.incidents.AssignIncident(c.Request.Context(), c.Param("id"), req.AssignedTo, GetUserID(c), req.Note); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Incident assigned"})
}

// AddNote handles POST /api/incidents/:id/notes.
func (h *IncidentHandler) AddNote(c *gin.Context) {
	var req struct {
		Note string `json:"note" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "note is required"})
		return
	}

	if err := h.incidents.AddNote(c.Request.Context(), c.Param("id"), GetUserID(c), req.Note); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Note added"})
}

// GetIncidentEvents handles GET /api/incidents/:id/events.
func (h *IncidentHandler) GetIncidentEvents(c *gin.Context) {
	// Scope check before exposing the timeline.
	if _, err := h.incidents.GetIncident(c.Param("id"), GetTenantFilter(c)); err != nil {
		respondError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.incidents.GetIncidentEvents(c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// GetIncidentStats handles GET /api/incidents/stats.
func (h *IncidentHandler) GetIncidentStats(c *gin.Context) {
	stats, err := h.incidents.GetIncidentStats(GetTenantFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
