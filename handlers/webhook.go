package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

const (
	webhookRateLimit = 100 // requests per second per integration
	webhookRateBurst = 200

	// webhookTimeout bounds one delivery end to end, DB calls included.
	webhookTimeout = 30 * time.Second
)

// WebhookHandler ingests monitoring alerts. Payloads are normalized per
// vendor, routed to a service through its mapping conditions and turned into
// incidents; resolved alerts auto-resolve their open incident.
type WebhookHandler struct {
	integrations *services.IntegrationService
	serviceSvc   *services.ServiceService
	escalations  *services.EscalationService
	incidents    *services.IncidentService

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewWebhookHandler(integrations *services.IntegrationService, serviceSvc *services.ServiceService,
	escalations *services.EscalationService, incidents *services.IncidentService) *WebhookHandler {
	return &WebhookHandler{
		integrations: integrations,
		serviceSvc:   serviceSvc,
		escalations:  escalations,
		incidents:    incidents,
		limiters:     make(map[string]*rate.Limiter),
	}
}

func (h *WebhookHandler) limiter(integrationID string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[integrationID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(webhookRateLimit), webhookRateBurst)
		h.limiters[integrationID] = l
	}
	return l
}

// ReceiveWebhook handles POST /webhook/:type/:integration_id.
func (h *WebhookHandler) ReceiveWebhook(c *gin.Context) {
	integrationType := c.Param("type")
	integrationID := c.Param("integration_id")

	if !h.limiter(integrationID).Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	integration, err := h.integrations.GetIntegration(integrationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if integration == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Integration not found"})
		return
	}
	if !integration.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Integration is inactive"})
		return
	}
	if integration.Type != integrationType {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Integration type mismatch"})
		return
	}

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	// A delivered webhook proves the monitoring source is alive.
	if err := h.integrations.UpdateHeartbeat(integrationID); err != nil {
		log.Printf("[webhook] failed to update heartbeat for integration %s: %v", integrationID, err)
	}

	alerts := parseAlerts(integrationType, body)
	log.Printf("[webhook] integration=%s type=%s alerts=%d", integrationID, integrationType, len(alerts))

	ctx, cancel := context.WithTimeout(c.Request.Context(), webhookTimeout)
	defer cancel()

	for i, alert := range alerts {
		if ctx.Err() != nil {
			log.Printf("[webhook] deadline elapsed, dropping %d remaining alerts for integration %s",
				len(alerts)-i, integrationID)
			break
		}
		if err := h.routeAlert(ctx, integration, alert); err != nil {
			// One bad alert must not drop the rest of the batch.
			log.Printf("[webhook] failed to process alert %s: %v", alert.Name, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Webhook processed successfully",
		"alerts_count":   len(alerts),
		"integration_id": integrationID,
		"timestamp":      time.Now(),
	})
}

// parseAlerts decodes the vendor payload into normalized alerts in three
// stages: the typed adapter, then the legacy map-driven decoder, then the
// generic single-alert shape. Schema drift degrades to a rough alert instead
// of a dropped one.
func parseAlerts(integrationType string, body []byte) []NormalizedAlert {
	if alerts := parseTypedAlerts(integrationType, body); len(alerts) > 0 {
		return alerts
	}

	if integrationType != "webhook" {
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err == nil {
			if alerts := parseLegacyAlerts(integrationType, payload); len(alerts) > 0 {
				log.Printf("[webhook] typed decode failed for %s payload, legacy decoder handled it", integrationType)
				return alerts
			}
		}
		log.Printf("[webhook] typed and legacy decode failed for %s payload, falling back to generic", integrationType)
	}
	var generic GenericWebhook
	if err := json.Unmarshal(body, &generic); err != nil {
		log.Printf("[webhook] failed to decode generic payload: %v", err)
		return nil
	}
	return []NormalizedAlert{generic.Normalize()}
}

func parseTypedAlerts(integrationType string, body []byte) []NormalizedAlert {
	switch integrationType {
	case "prometheus":
		var webhook PrometheusWebhook
		if err := json.Unmarshal(body, &webhook); err == nil && len(webhook.Alerts) > 0 {
			alerts := make([]NormalizedAlert, 0, len(webhook.Alerts))
			for _, a := range webhook.Alerts {
				alerts = append(alerts, a.Normalize())
			}
			return alerts
		}
	case "datadog":
		var webhook DatadogWebhook
		if err := json.Unmarshal(body, &webhook); err == nil && webhook.Title != "" {
			return []NormalizedAlert{webhook.Normalize()}
		}
	case "grafana":
		var webhook GrafanaWebhook
		if err := json.Unmarshal(body, &webhook); err == nil && webhook.RuleName != "" {
			return []NormalizedAlert{webhook.Normalize()}
		}
	case "aws":
		var webhook AWSWebhook
		if err := json.Unmarshal(body, &webhook); err == nil && webhook.Message != "" {
			var alarm CloudWatchAlarm
			if err := json.Unmarshal([]byte(webhook.Message), &alarm); err == nil && alarm.AlarmName != "" {
				return []NormalizedAlert{alarm.Normalize()}
			}
			log.Printf("[webhook] failed to decode CloudWatch alarm from SNS message")
		}
	case "pagerduty":
		var webhook PagerDutyWebhook
		if err := json.Unmarshal(body, &webhook); err == nil && webhook.Event.Data.Title != "" {
			return []NormalizedAlert{webhook.Normalize()}
		}
	case "coralogix":
		var webhook CoralogixWebhook
		if err := json.Unmarshal(body, &webhook); err == nil && webhook.AlertName != "" {
			return []NormalizedAlert{webhook.Normalize()}
		}
	}
	return nil
}

func (h *WebhookHandler) routeAlert(ctx context.Context, integration *db.Integration, alert NormalizedAlert) error {
	switch alert.Status {
	case alertStatusResolved:
		return h.resolveFromAlert(ctx, integration, alert)
	case alertStatusFiring:
		return h.createFromAlert(ctx, integration, alert)
	default:
		log.Printf("[webhook] unknown alert status %q, treating as firing", alert.Status)
		return h.createFromAlert(ctx, integration, alert)
	}
}

// matchedRoute is the outcome of service routing for a firing alert.
type matchedRoute struct {
	service  *db.Service
	assignee string
}

func (h *WebhookHandler) createFromAlert(ctx context.Context, integration *db.Integration, alert NormalizedAlert) error {
	route, err := h.resolveRoute(integration, alert)
	if err != nil {
		// Routing failure still produces an incident; it just lands unassigned.
		log.Printf("[webhook] service routing failed for alert %s: %v", alert.Name, err)
		route = &matchedRoute{}
	}

	incident := buildIncident(integration, alert, route)
	created, deduped, err := h.incidents.CreateIncident(ctx, incident)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	if deduped {
		log.Printf("[webhook] alert %s absorbed into incident %s (count %d)",
			alert.Name, created.ID, created.AlertCount)
		return nil
	}
	log.Printf("[webhook] created incident %s for alert %s (service=%s assignee=%s)",
		created.ID, alert.Name, created.ServiceID, created.AssignedTo)
	return nil
}

// resolveRoute walks the integration's service mappings in priority order and
// returns the first one whose routing conditions match, plus the on-call
// assignee from the service's escalation policy when one is attached.
func (h *WebhookHandler) resolveRoute(integration *db.Integration, alert NormalizedAlert) (*matchedRoute, error) {
	mappings, err := h.serviceSvc.ListIntegrationMappings(integration.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration mappings: %w", err)
	}

	route := &matchedRoute{}
	for _, mapping := range mappings {
		if !mapping.IsActive {
			continue
		}
		if !matchesRoutingConditions(alert, mapping.RoutingConditions) {
			continue
		}

		service, err := h.serviceSvc.GetService(mapping.ServiceID)
		if err != nil {
			log.Printf("[webhook] failed to load service %s: %v", mapping.ServiceID, err)
			continue
		}
		route.service = &service

		if service.EscalationPolicyID != "" && service.GroupID != "" {
			assignee, err := h.escalations.GetAssigneeFromEscalationPolicy(service.EscalationPolicyID, service.GroupID)
			if err != nil {
				log.Printf("[webhook] failed to resolve assignee for service %s: %v", service.ID, err)
			} else {
				route.assignee = assignee
			}
		}
		break
	}
	return route, nil
}

// matchesRoutingConditions checks an alert against a mapping's conditions.
// Empty conditions match everything; within a condition the values are OR'd,
// across conditions AND'd.
func matchesRoutingConditions(alert NormalizedAlert, conditions map[string]interface{}) bool {
	if len(conditions) == 0 {
		return true
	}

	if severities, ok := conditions["severity"].([]interface{}); ok {
		matched := false
		for _, sev := range severities {
			if s, ok := sev.(string); ok && s == alert.Severity {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if names, ok := conditions["alertname"].([]interface{}); ok {
		matched := false
		for _, name := range names {
			if n, ok := name.(string); ok && (n == "*" || n == alert.Name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if labelConditions, ok := conditions["labels"].(map[string]interface{}); ok {
		for key, expected := range labelConditions {
			actual, exists := alert.Labels[key]
			if !exists || actual != expected {
				return false
			}
		}
	}

	return true
}

func buildIncident(integration *db.Integration, alert NormalizedAlert, route *matchedRoute) *db.Incident {
	incident := &db.Incident{
		Title:          alert.Name,
		Description:    alert.Description,
		Severity:       alert.Severity,
		Priority:       alert.Priority,
		Status:         db.IncidentStatusTriggered,
		Urgency:        db.IncidentUrgencyHigh,
		Source:         "webhook",
		IntegrationID:  integration.ID,
		OrganizationID: integration.OrganizationID,
		ProjectID:      integration.ProjectID,
		Fingerprint:    alert.Fingerprint,
	}

	if alert.Summary != "" && alert.Summary != alert.Description {
		incident.Title = alert.Summary
		if incident.Description == "" {
			incident.Description = alert.Name
		}
	}

	if alert.Severity == "info" || alert.Severity == "warning" {
		incident.Urgency = db.IncidentUrgencyLow
	}

	incident.Labels = alert.Labels
	if incident.Labels == nil {
		incident.Labels = make(map[string]interface{})
	}
	if alert.Fingerprint != "" {
		incident.Labels["fingerprint"] = alert.Fingerprint
	}

	if route.service != nil {
		incident.ServiceID = route.service.ID
		incident.EscalationPolicyID = route.service.EscalationPolicyID
		incident.GroupID = route.service.GroupID
	}
	if route.assignee != "" {
		now := time.Now().UTC()
		incident.AssignedTo = route.assignee
		incident.AssignedAt = &now
	}
	return incident
}

// resolveFromAlert closes the open incident matching a resolved alert. No
// open incident is a no-op: the firing alert may never have reached us.
func (h *WebhookHandler) resolveFromAlert(ctx context.Context, integration *db.Integration, alert NormalizedAlert) error {
	instance, _ := alert.Labels["instance"].(string)
	job, _ := alert.Labels["job"].(string)

	incident, err := h.incidents.FindOpenIncidentForResolution(
		ctx, integration.OrganizationID, alert.Fingerprint, alert.Name, instance, job, alert.Name)
	if err != nil {
		return fmt.Errorf("failed to find incident for resolved alert: %w", err)
	}
	if incident == nil {
		log.Printf("[webhook] no open incident for resolved alert %s, skipping", alert.Name)
		return nil
	}

	systemUserID := db.GetSystemUserBySource(integration.Type)
	if err := h.incidents.AutoResolveIncident(ctx, incident.ID, systemUserID); err != nil {
		return fmt.Errorf("failed to auto-resolve incident %s: %w", incident.ID, err)
	}
	log.Printf("[webhook] auto-resolved incident %s for alert %s", incident.ID, alert.Name)
	return nil
}
