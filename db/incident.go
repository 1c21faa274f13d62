package db

import "time"

// Incident represents one deduplicated alert stream moving through the
// triggered → acknowledged → resolved lifecycle.
type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`   // triggered, acknowledged, resolved
	Urgency     string    `json:"urgency"`  // low, high
	Priority    string    `json:"priority"` // P1..P5
	Severity    string    `json:"severity,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Assignment & Acknowledgment
	AssignedTo     string     `json:"assigned_to,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	// Source & Integration
	Source        string `json:"source"`
	IntegrationID string `json:"integration_id,omitempty"`
	ServiceID     string `json:"service_id,omitempty"`
	ExternalID    string `json:"external_id,omitempty"`

	// Escalation
	EscalationPolicyID     string     `json:"escalation_policy_id,omitempty"`
	CurrentEscalationLevel int        `json:"current_escalation_level"`
	LastEscalatedAt        *time.Time `json:"last_escalated_at,omitempty"`
	EscalationStatus       string     `json:"escalation_status"`

	// Grouping & Organization
	GroupID        string `json:"group_id,omitempty"`
	APIKeyID       string `json:"api_key_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	// Deduplication
	Fingerprint string                 `json:"fingerprint,omitempty"`
	IncidentKey string                 `json:"incident_key,omitempty"`
	AlertCount  int                    `json:"alert_count"`
	Labels      map[string]interface{} `json:"labels,omitempty"`
}

// IncidentResponse includes joined display fields for API responses
type IncidentResponse struct {
	Incident

	AssignedToName      string `json:"assigned_to_name,omitempty"`
	AssignedToEmail     string `json:"assigned_to_email,omitempty"`
	AcknowledgedByName  string `json:"acknowledged_by_name,omitempty"`
	ResolvedByName      string `json:"resolved_by_name,omitempty"`
	GroupName           string `json:"group_name,omitempty"`
	ServiceName         string `json:"service_name,omitempty"`
	EscalationPolicyName string `json:"escalation_policy_name,omitempty"`

	RecentEvents []IncidentEvent `json:"recent_events,omitempty"`
}

// IncidentEvent is one entry in the incident timeline
type IncidentEvent struct {
	ID            string                 `json:"id"`
	IncidentID    string                 `json:"incident_id"`
	EventType     string                 `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	CreatedBy     string                 `json:"created_by,omitempty"`
	CreatedByName string                 `json:"created_by_name,omitempty"`
}

// Request/Response DTOs

type CreateIncidentRequest struct {
	Title              string                 `json:"title" binding:"required"`
	Description        string                 `json:"description"`
	Urgency            string                 `json:"urgency,omitempty" binding:"omitempty,oneof=low high"`
	Priority           string                 `json:"priority,omitempty"`
	ServiceID          string                 `json:"service_id,omitempty"`
	GroupID            string                 `json:"group_id,omitempty"`
	EscalationPolicyID string                 `json:"escalation_policy_id,omitempty"`
	IncidentKey        string                 `json:"incident_key,omitempty"`
	Fingerprint        string                 `json:"fingerprint,omitempty"`
	Severity           string                 `json:"severity,omitempty"`
	Source             string                 `json:"source,omitempty"`
	IntegrationID      string                 `json:"integration_id,omitempty"`
	AssignedTo         string                 `json:"assigned_to,omitempty"`
	Labels             map[string]interface{} `json:"labels,omitempty"`
	ProjectID          string                 `json:"project_id,omitempty"`
	OrganizationID     string                 `json:"organization_id,omitempty"`
}

type AcknowledgeIncidentRequest struct {
	Note string `json:"note,omitempty"`
}

type ResolveIncidentRequest struct {
	Note       string `json:"note,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

type AssignIncidentRequest struct {
	AssignedTo string `json:"assigned_to" binding:"required"`
	Note       string `json:"note,omitempty"`
}

// Incident statuses
const (
	IncidentStatusTriggered    = "triggered"
	IncidentStatusAcknowledged = "acknowledged"
	IncidentStatusResolved     = "resolved"
)

// Incident urgency levels
const (
	IncidentUrgencyLow  = "low"
	IncidentUrgencyHigh = "high"
)

// Incident event types
const (
	IncidentEventCreated      = "created"
	IncidentEventTriggered    = "triggered"
	IncidentEventAcknowledged = "acknowledged"
	IncidentEventResolved     = "resolved"
	IncidentEventAssigned     = "assigned"
	IncidentEventEscalated    = "escalated"
	IncidentEventNoteAdded    = "note_added"
)
