package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

// IncidentService owns the incident lifecycle: creation with fingerprint
// dedup, the status state machine, the event timeline, and notification
// fan-out via PGMQ.
type IncidentService struct {
	PG                 *sql.DB
	NotificationWorker NotificationSender
}

func NewIncidentService(pg *sql.DB) *IncidentService {
	return &IncidentService{PG: pg}
}

// SetNotificationWorker wires the notification producer after construction so
// the server and the background worker can share one service.
func (s *IncidentService) SetNotificationWorker(notificationWorker NotificationSender) {
	s.NotificationWorker = notificationWorker
}

// Lifecycle events an incident can receive.
const (
	TransitionTrigger     = "trigger"
	TransitionAcknowledge = "acknowledge"
	TransitionResolve     = "resolve"
)

// incidentTransitions spells out every legal lifecycle move. Anything absent
// from the table is a conflict, including re-acknowledging and any event
// against a resolved incident.
var incidentTransitions = map[string]map[string]string{
	db.IncidentStatusTriggered: {
		TransitionAcknowledge: db.IncidentStatusAcknowledged,
		TransitionResolve:     db.IncidentStatusResolved,
	},
	db.IncidentStatusAcknowledged: {
		TransitionResolve: db.IncidentStatusResolved,
	},
	db.IncidentStatusResolved: {},
}

// NextIncidentStatus resolves a lifecycle event against the current status.
func NextIncidentStatus(current, event string) (string, error) {
	next, ok := incidentTransitions[current][event]
	if !ok {
		return "", apperr.Newf(apperr.KindConflict, "cannot %s incident in status %q", event, current)
	}
	return next, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateIncident inserts a new incident atomically with its created event and
// the assignment notification. When the insert collides with an open incident
// carrying the same fingerprint, the alert is absorbed into that incident
// instead and deduped=true is returned; dedup hits never notify.
func (s *IncidentService) CreateIncident(ctx context.Context, incident *db.Incident) (created *db.Incident, deduped bool, err error) {
	if incident.ID == "" {
		incident.ID = uuid.New().String()
	}
	if incident.Status == "" {
		incident.Status = db.IncidentStatusTriggered
	}
	if incident.Urgency == "" {
		incident.Urgency = db.IncidentUrgencyHigh
	}
	if incident.EscalationStatus == "" {
		incident.EscalationStatus = db.EscalationStatusNone
	}
	if incident.AlertCount == 0 {
		incident.AlertCount = 1
	}
	if incident.CurrentEscalationLevel == 0 {
		incident.CurrentEscalationLevel = 1
	}
	if incident.Source == "" {
		incident.Source = "api"
	}

	// Integrations rarely know the tenant; inherit it from the routed
	// service, then the group.
	s.fillTenantContext(ctx, incident)

	// Two attempts: a unique violation means an open incident holds this
	// fingerprint, and absorbing can still miss when that incident resolves
	// between our insert and update.
	for attempt := 0; attempt < 2; attempt++ {
		err := s.insertIncident(ctx, incident)
		if err == nil {
			return incident, false, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, err
		}
		existing, derr := s.absorbDuplicateAlert(ctx, incident)
		if derr != nil {
			return nil, false, derr
		}
		if existing != nil {
			log.Printf("[incident] deduped alert into incident %s (fingerprint %s, alert_count %d)",
				existing.ID, existing.Fingerprint, existing.AlertCount)
			return existing, true, nil
		}
	}
	return nil, false, fmt.Errorf("failed to create incident %s: dedup retry exhausted", incident.Fingerprint)
}

func (s *IncidentService) fillTenantContext(ctx context.Context, incident *db.Incident) {
	if incident.OrganizationID == "" && incident.ServiceID != "" {
		var orgID, projectID sql.NullString
		err := s.PG.QueryRowContext(ctx, `SELECT organization_id, project_id FROM services WHERE id = $1`,
			incident.ServiceID).Scan(&orgID, &projectID)
		if err == nil {
			if orgID.Valid {
				incident.OrganizationID = orgID.String
			}
			if projectID.Valid && incident.ProjectID == "" {
				incident.ProjectID = projectID.String
			}
		}
	}
	if incident.OrganizationID == "" && incident.GroupID != "" {
		var orgID, projectID sql.NullString
		err := s.PG.QueryRowContext(ctx, `SELECT organization_id, project_id FROM groups WHERE id = $1`,
			incident.GroupID).Scan(&orgID, &projectID)
		if err == nil {
			if orgID.Valid {
				incident.OrganizationID = orgID.String
			}
			if projectID.Valid && incident.ProjectID == "" {
				incident.ProjectID = projectID.String
			}
		}
	}
	if incident.OrganizationID == "" {
		log.Printf("[incident] creating incident without organization context (source %s, service %s, group %s)",
			incident.Source, incident.ServiceID, incident.GroupID)
	}
}

func (s *IncidentService) insertIncident(ctx context.Context, incident *db.Incident) error {
	var labelsJSON interface{}
	if incident.Labels != nil {
		b, err := json.Marshal(incident.Labels)
		if err != nil {
			return fmt.Errorf("failed to marshal incident labels: %w", err)
		}
		labelsJSON = string(b)
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (
			id, title, description, status, urgency, priority, severity,
			assigned_to, assigned_at, source, integration_id, service_id, external_id,
			escalation_policy_id, current_escalation_level, escalation_status,
			group_id, api_key_id, incident_key, fingerprint, alert_count, labels,
			organization_id, project_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, incident.ID, incident.Title, incident.Description, incident.Status,
		incident.Urgency, incident.Priority, incident.Severity,
		nullIfEmpty(incident.AssignedTo), incident.AssignedAt, incident.Source,
		nullIfEmpty(incident.IntegrationID), nullIfEmpty(incident.ServiceID), incident.ExternalID,
		nullIfEmpty(incident.EscalationPolicyID), incident.CurrentEscalationLevel, incident.EscalationStatus,
		nullIfEmpty(incident.GroupID), nullIfEmpty(incident.APIKeyID),
		incident.IncidentKey, incident.Fingerprint, incident.AlertCount, labelsJSON,
		nullIfEmpty(incident.OrganizationID), nullIfEmpty(incident.ProjectID))
	if err != nil {
		return err
	}

	if err := createIncidentEvent(ctx, tx, incident.ID, db.IncidentEventCreated, map[string]interface{}{
		"source":   incident.Source,
		"severity": incident.Severity,
	}, ""); err != nil {
		return fmt.Errorf("failed to record created event: %w", err)
	}

	if incident.AssignedTo != "" {
		if err := createIncidentEvent(ctx, tx, incident.ID, db.IncidentEventAssigned, map[string]interface{}{
			"assigned_to_id": incident.AssignedTo,
			"method":         "auto_assignment",
		}, ""); err != nil {
			return fmt.Errorf("failed to record assignment event: %w", err)
		}
		if err := enqueueNotification(ctx, tx, "assigned", incident.AssignedTo, incident.ID, "high", []string{"slack", "push"}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit incident: %w", err)
	}
	return nil
}

// absorbDuplicateAlert folds a duplicate alert into the open incident holding
// the same fingerprint. Returns nil when no open incident matches anymore.
func (s *IncidentService) absorbDuplicateAlert(ctx context.Context, incident *db.Incident) (*db.Incident, error) {
	var existing db.Incident
	var assignedTo sql.NullString

	err := s.PG.QueryRowContext(ctx, `
		UPDATE incidents
		SET alert_count = alert_count + 1, updated_at = NOW()
		WHERE COALESCE(organization_id::text, '') = $1
		  AND COALESCE(project_id::text, '') = $2
		  AND fingerprint = $3
		  AND status != $4
		RETURNING id, title, status, urgency, priority, fingerprint, alert_count,
		          COALESCE(assigned_to::text, ''), created_at, updated_at
	`, incident.OrganizationID, incident.ProjectID, incident.Fingerprint,
		db.IncidentStatusResolved).Scan(
		&existing.ID, &existing.Title, &existing.Status, &existing.Urgency,
		&existing.Priority, &existing.Fingerprint, &existing.AlertCount,
		&assignedTo, &existing.CreatedAt, &existing.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to absorb duplicate alert: %w", err)
	}
	existing.AssignedTo = assignedTo.String
	return &existing, nil
}

// FindOpenIncidentForResolution locates the open incident a resolve signal
// refers to. Three strategies in order of confidence: exact fingerprint, the
// (alertname, instance, job) label triple, then exact title under the same
// alertname. Newest match wins.
func (s *IncidentService) FindOpenIncidentForResolution(ctx context.Context, orgID, fingerprint, alertname, instance, job, title string) (*db.Incident, error) {
	const base = `
		SELECT id, title, status, fingerprint, COALESCE(assigned_to::text, '')
		FROM incidents
		WHERE COALESCE(organization_id::text, '') = $1
		  AND status != 'resolved'
	`

	if fingerprint != "" {
		incident, err := s.scanOpenIncident(s.PG.QueryRowContext(ctx,
			base+` AND fingerprint = $2 ORDER BY created_at DESC LIMIT 1`, orgID, fingerprint))
		if incident != nil || err != nil {
			return incident, err
		}
	}

	if alertname != "" {
		incident, err := s.scanOpenIncident(s.PG.QueryRowContext(ctx,
			base+` AND labels->>'alertname' = $2
			       AND COALESCE(labels->>'instance', '') = $3
			       AND COALESCE(labels->>'job', '') = $4
			       ORDER BY created_at DESC LIMIT 1`, orgID, alertname, instance, job))
		if incident != nil || err != nil {
			return incident, err
		}
	}

	if title != "" && alertname != "" {
		incident, err := s.scanOpenIncident(s.PG.QueryRowContext(ctx,
			base+` AND title = $2 AND labels->>'alertname' = $3
			       ORDER BY created_at DESC LIMIT 1`, orgID, title, alertname))
		if incident != nil || err != nil {
			return incident, err
		}
	}

	return nil, nil
}

func (s *IncidentService) scanOpenIncident(row *sql.Row) (*db.Incident, error) {
	var incident db.Incident
	err := row.Scan(&incident.ID, &incident.Title, &incident.Status,
		&incident.Fingerprint, &incident.AssignedTo)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up open incident: %w", err)
	}
	return &incident, nil
}

func (s *IncidentService) currentStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.PG.QueryRowContext(ctx, `SELECT status FROM incidents WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apperr.New(apperr.KindNotFound, "incident not found")
		}
		return "", fmt.Errorf("failed to load incident: %w", err)
	}
	return status, nil
}

// canActOnIncident allows the assignee, a group admin of the incident's group,
// and org owners/admins to drive the lifecycle.
func (s *IncidentService) canActOnIncident(ctx context.Context, id, userID string) (bool, error) {
	var assignedTo, groupID, orgID sql.NullString
	err := s.PG.QueryRowContext(ctx, `
		SELECT assigned_to, group_id, organization_id FROM incidents WHERE id = $1
	`, id).Scan(&assignedTo, &groupID, &orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, apperr.New(apperr.KindNotFound, "incident not found")
		}
		return false, fmt.Errorf("failed to load incident: %w", err)
	}

	if assignedTo.Valid && assignedTo.String == userID {
		return true, nil
	}

	if orgID.Valid {
		var count int
		err := s.PG.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM memberships
			WHERE user_id = $1 AND resource_type = 'org' AND resource_id = $2
			  AND role IN ('owner', 'admin')
		`, userID, orgID.String).Scan(&count)
		if err != nil {
			return false, fmt.Errorf("failed to check org role: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}

	if groupID.Valid {
		var count int
		err := s.PG.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM group_members
			WHERE group_id = $1 AND user_id = $2 AND role = 'admin' AND is_active = true
		`, groupID.String, userID).Scan(&count)
		if err != nil {
			return false, fmt.Errorf("failed to check group role: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}

	return false, nil
}

// AcknowledgeIncident moves triggered to acknowledged and stops escalation.
func (s *IncidentService) AcknowledgeIncident(ctx context.Context, id, userID, note string) error {
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	next, err := NextIncidentStatus(status, TransitionAcknowledge)
	if err != nil {
		return err
	}

	allowed, err := s.canActOnIncident(ctx, id, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.New(apperr.KindForbidden, "not allowed to acknowledge this incident")
	}

	result, err := s.PG.ExecContext(ctx, `
		UPDATE incidents
		SET status = $1, acknowledged_by = $2::uuid, acknowledged_at = NOW(),
		    escalation_status = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, next, userID, db.EscalationStatusStopped, id, status)
	if err != nil {
		return fmt.Errorf("failed to acknowledge incident: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindConflict, "incident status changed, reload and retry")
	}

	eventData := map[string]interface{}{}
	if note != "" {
		eventData["note"] = note
	}
	_ = createIncidentEvent(ctx, s.PG, id, db.IncidentEventAcknowledged, eventData, userID)

	if s.NotificationWorker != nil {
		go func() {
			if err := s.NotificationWorker.SendIncidentAcknowledgedNotification(userID, id); err != nil {
				log.Printf("[incident] failed to send acknowledged notification: %v", err)
			}
		}()
	}
	return nil
}

// ResolveIncident moves an open incident to resolved.
func (s *IncidentService) ResolveIncident(ctx context.Context, id, userID, note, resolution string) error {
	allowed, err := s.canActOnIncident(ctx, id, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.New(apperr.KindForbidden, "not allowed to resolve this incident")
	}
	return s.resolve(ctx, id, userID, note, resolution)
}

// AutoResolveIncident resolves on behalf of a per-source system user. No role
// check; the caller already matched the incident to an inbound resolve signal.
func (s *IncidentService) AutoResolveIncident(ctx context.Context, id, systemUserID string) error {
	return s.resolve(ctx, id, systemUserID, "auto-resolved by monitoring source", "")
}

func (s *IncidentService) resolve(ctx context.Context, id, userID, note, resolution string) error {
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	next, err := NextIncidentStatus(status, TransitionResolve)
	if err != nil {
		return err
	}

	result, err := s.PG.ExecContext(ctx, `
		UPDATE incidents
		SET status = $1, resolved_by = $2::uuid, resolved_at = NOW() AT TIME ZONE 'UTC',
		    escalation_status = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, next, userID, db.EscalationStatusCompleted, id, status)
	if err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindConflict, "incident status changed, reload and retry")
	}

	eventData := map[string]interface{}{}
	if note != "" {
		eventData["note"] = note
	}
	if resolution != "" {
		eventData["resolution"] = resolution
	}
	_ = createIncidentEvent(ctx, s.PG, id, db.IncidentEventResolved, eventData, userID)

	if s.NotificationWorker != nil {
		go func() {
			if err := s.NotificationWorker.SendIncidentResolvedNotification(userID, id); err != nil {
				log.Printf("[incident] failed to send resolved notification: %v", err)
			}
		}()
	}
	return nil
}

// AssignIncident reassigns an open incident. Resolved incidents are closed
// history and cannot be reassigned.
func (s *IncidentService) AssignIncident(ctx context.Context, id, assigneeID, assignedBy, note string) error {
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if status == db.IncidentStatusResolved {
		return apperr.New(apperr.KindConflict, "cannot reassign a resolved incident")
	}

	allowed, err := s.canActOnIncident(ctx, id, assignedBy)
	if err != nil {
		return err
	}
	if !allowed {
		return apperr.New(apperr.KindForbidden, "not allowed to reassign this incident")
	}

	_, err = s.PG.ExecContext(ctx, `
		UPDATE incidents
		SET assigned_to = $1::uuid, assigned_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, assigneeID, id)
	if err != nil {
		return fmt.Errorf("failed to assign incident: %w", err)
	}

	eventData := map[string]interface{}{
		"assigned_to_id": assigneeID,
	}
	var assigneeName string
	if err := s.PG.QueryRowContext(ctx, `SELECT COALESCE(name, email, 'Unknown') FROM users WHERE id = $1`, assigneeID).Scan(&assigneeName); err == nil {
		eventData["assigned_to"] = assigneeName
	}
	if note != "" {
		eventData["note"] = note
	}
	_ = createIncidentEvent(ctx, s.PG, id, db.IncidentEventAssigned, eventData, assignedBy)

	if s.NotificationWorker != nil {
		go func() {
			if err := s.NotificationWorker.SendIncidentAssignedNotification(assigneeID, id); err != nil {
				log.Printf("[incident] failed to send assigned notification: %v", err)
			}
		}()
	}
	return nil
}

// AddNote appends a timeline comment without touching the status.
func (s *IncidentService) AddNote(ctx context.Context, id, userID, note string) error {
	if note == "" {
		return apperr.New(apperr.KindValidation, "note is required")
	}
	eventData := map[string]interface{}{"note": note}
	var authorName string
	if err := s.PG.QueryRowContext(ctx, `SELECT COALESCE(name, email, 'Unknown') FROM users WHERE id = $1`, userID).Scan(&authorName); err == nil {
		eventData["author_name"] = authorName
	}
	return createIncidentEvent(ctx, s.PG, id, db.IncidentEventNoteAdded, eventData, userID)
}

// GetIncident returns one incident with display names and the recent timeline,
// scoped to the caller's organization.
func (s *IncidentService) GetIncident(id string, filter db.TenantFilter) (*db.IncidentResponse, error) {
	filter.MustValidate()

	var incident db.IncidentResponse
	var assignedTo, acknowledgedBy, resolvedBy sql.NullString
	var assignedAt, acknowledgedAt, resolvedAt, lastEscalatedAt sql.NullTime
	var integrationID, serviceID, escalationPolicyID, groupID, apiKeyID sql.NullString
	var assignedToName, assignedToEmail, acknowledgedByName, resolvedByName sql.NullString
	var groupName, serviceName, escalationPolicyName sql.NullString
	var labels sql.NullString

	err := s.PG.QueryRow(`
		SELECT i.id, i.title, COALESCE(i.description, '') as description,
		       i.status, i.urgency, COALESCE(i.priority, '') as priority,
		       COALESCE(i.severity, '') as severity,
		       i.created_at, i.updated_at,
		       i.assigned_to, i.assigned_at,
		       i.acknowledged_by, i.acknowledged_at,
		       i.resolved_by, i.resolved_at,
		       i.source, i.integration_id, i.service_id, COALESCE(i.external_id, '') as external_id,
		       i.escalation_policy_id, i.current_escalation_level, i.last_escalated_at,
		       i.escalation_status, i.group_id, i.api_key_id,
		       COALESCE(i.fingerprint, '') as fingerprint,
		       COALESCE(i.incident_key, '') as incident_key,
		       i.alert_count, i.labels,
		       COALESCE(i.organization_id::text, '') as organization_id,
		       COALESCE(i.project_id::text, '') as project_id,
		       u_assigned.name, u_assigned.email, u_acked.name, u_resolved.name,
		       g.name, sv.name, ep.name
		FROM incidents i
		LEFT JOIN users u_assigned ON i.assigned_to = u_assigned.id
		LEFT JOIN users u_acked ON i.acknowledged_by = u_acked.id
		LEFT JOIN users u_resolved ON i.resolved_by = u_resolved.id
		LEFT JOIN groups g ON i.group_id = g.id
		LEFT JOIN services sv ON i.service_id = sv.id
		LEFT JOIN escalation_policies ep ON i.escalation_policy_id = ep.id
		WHERE i.id = $1 AND i.organization_id = $2
	`, id, filter.OrgID).Scan(
		&incident.ID, &incident.Title, &incident.Description,
		&incident.Status, &incident.Urgency, &incident.Priority, &incident.Severity,
		&incident.CreatedAt, &incident.UpdatedAt,
		&assignedTo, &assignedAt, &acknowledgedBy, &acknowledgedAt, &resolvedBy, &resolvedAt,
		&incident.Source, &integrationID, &serviceID, &incident.ExternalID,
		&escalationPolicyID, &incident.CurrentEscalationLevel, &lastEscalatedAt,
		&incident.EscalationStatus, &groupID, &apiKeyID,
		&incident.Fingerprint, &incident.IncidentKey, &incident.AlertCount, &labels,
		&incident.OrganizationID, &incident.ProjectID,
		&assignedToName, &assignedToEmail, &acknowledgedByName, &resolvedByName,
		&groupName, &serviceName, &escalationPolicyName,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, "incident not found")
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	incident.AssignedTo = assignedTo.String
	incident.AcknowledgedBy = acknowledgedBy.String
	incident.ResolvedBy = resolvedBy.String
	if assignedAt.Valid {
		incident.AssignedAt = &assignedAt.Time
	}
	if acknowledgedAt.Valid {
		incident.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		incident.ResolvedAt = &resolvedAt.Time
	}
	if lastEscalatedAt.Valid {
		incident.LastEscalatedAt = &lastEscalatedAt.Time
	}
	incident.IntegrationID = integrationID.String
	incident.ServiceID = serviceID.String
	incident.EscalationPolicyID = escalationPolicyID.String
	incident.GroupID = groupID.String
	incident.APIKeyID = apiKeyID.String
	incident.AssignedToName = assignedToName.String
	incident.AssignedToEmail = assignedToEmail.String
	incident.AcknowledgedByName = acknowledgedByName.String
	incident.ResolvedByName = resolvedByName.String
	incident.GroupName = groupName.String
	incident.ServiceName = serviceName.String
	incident.EscalationPolicyName = escalationPolicyName.String
	if labels.Valid && labels.String != "" {
		_ = json.Unmarshal([]byte(labels.String), &incident.Labels)
	}

	events, err := s.GetIncidentEvents(id, 10)
	if err == nil {
		incident.RecentEvents = events
	}

	return &incident, nil
}

// IncidentListOptions are additive filters on top of tenant scoping.
type IncidentListOptions struct {
	Status     string
	Urgency    string
	Severity   string
	Priority   string
	AssignedTo string // user id or "unassigned"
	ServiceID  string
	GroupID    string
	Search     string
	Sort       string
	TimeRange  string
	Limit      int
	Page       int
}

// ListIncidents returns incidents the user can see inside the organization:
// direct project membership, inherited access to open projects, org-level
// incidents, or incidents assigned directly to the user.
func (s *IncidentService) ListIncidents(userID string, filter db.TenantFilter, opts IncidentListOptions) ([]db.IncidentResponse, error) {
	filter.MustValidate()
	if userID == "" {
		return []db.IncidentResponse{}, nil
	}

	query := `
		SELECT i.id, i.title, COALESCE(i.description, '') as description,
		       i.status, i.urgency, COALESCE(i.priority, '') as priority,
		       COALESCE(i.severity, '') as severity,
		       i.created_at, i.updated_at,
		       i.assigned_to, i.assigned_at, i.acknowledged_by, i.acknowledged_at,
		       i.resolved_by, i.resolved_at,
		       i.source, i.service_id, i.group_id,
		       COALESCE(i.fingerprint, '') as fingerprint, i.alert_count,
		       i.escalation_status, i.current_escalation_level,
		       u_assigned.name, u_acked.name, u_resolved.name,
		       g.name, sv.name
		FROM incidents i
		LEFT JOIN users u_assigned ON i.assigned_to = u_assigned.id
		LEFT JOIN users u_acked ON i.acknowledged_by = u_acked.id
		LEFT JOIN users u_resolved ON i.resolved_by = u_resolved.id
		LEFT JOIN groups g ON i.group_id = g.id
		LEFT JOIN services sv ON i.service_id = sv.id
		WHERE i.organization_id = $2
		  AND (
			EXISTS (
				SELECT 1 FROM memberships m
				WHERE m.user_id = $1 AND m.resource_type = 'project'
				  AND m.resource_id = i.project_id
			)
			OR (
				i.project_id IS NOT NULL
				AND EXISTS (
					SELECT 1 FROM memberships m
					WHERE m.user_id = $1 AND m.resource_type = 'org' AND m.resource_id = $2
				)
				AND NOT EXISTS (
					SELECT 1 FROM memberships pm
					WHERE pm.resource_type = 'project' AND pm.resource_id = i.project_id
				)
			)
			OR (
				i.project_id IS NULL
				AND EXISTS (
					SELECT 1 FROM memberships m
					WHERE m.user_id = $1 AND m.resource_type = 'org' AND m.resource_id = $2
				)
			)
			OR i.assigned_to = $1
		  )`

	args := []interface{}{userID, filter.OrgID}
	argIndex := 3

	addFilter := func(clause, value string) {
		if value == "" {
			return
		}
		query += fmt.Sprintf(" AND %s = $%d", clause, argIndex)
		args = append(args, value)
		argIndex++
	}

	addFilter("i.status", opts.Status)
	addFilter("i.urgency", opts.Urgency)
	addFilter("i.severity", opts.Severity)
	addFilter("i.priority", opts.Priority)
	addFilter("i.service_id", opts.ServiceID)
	addFilter("i.group_id", opts.GroupID)
	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND i.project_id = $%d", argIndex)
		args = append(args, filter.ProjectID)
		argIndex++
	}
	if opts.AssignedTo == "unassigned" {
		query += " AND i.assigned_to IS NULL"
	} else if opts.AssignedTo != "" {
		query += fmt.Sprintf(" AND i.assigned_to = $%d::uuid", argIndex)
		args = append(args, opts.AssignedTo)
		argIndex++
	}
	if opts.Search != "" {
		query += fmt.Sprintf(" AND (i.title ILIKE $%d OR i.description ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+opts.Search+"%")
		argIndex++
	}

	switch opts.TimeRange {
	case "last_24_hours":
		query += " AND i.created_at >= NOW() - INTERVAL '24 hours'"
	case "last_7_days":
		query += " AND i.created_at >= NOW() - INTERVAL '7 days'"
	case "last_30_days":
		query += " AND i.created_at >= NOW() - INTERVAL '30 days'"
	}

	sortBy := "i.created_at DESC"
	switch opts.Sort {
	case "created_at_asc":
		sortBy = "i.created_at ASC"
	case "updated_at_desc":
		sortBy = "i.updated_at DESC"
	case "urgency_desc":
		sortBy = "CASE WHEN i.urgency = 'high' THEN 1 ELSE 2 END, i.created_at DESC"
	case "status_asc":
		sortBy = "CASE WHEN i.status = 'triggered' THEN 1 WHEN i.status = 'acknowledged' THEN 2 ELSE 3 END, i.created_at DESC"
	}
	query += " ORDER BY " + sortBy

	limit := 20
	if opts.Limit > 0 && opts.Limit <= 100 {
		limit = opts.Limit
	}
	offset := 0
	if opts.Page > 1 {
		offset = (opts.Page - 1) * limit
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := s.PG.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]db.IncidentResponse, 0)
	for rows.Next() {
		var incident db.IncidentResponse
		var assignedTo, acknowledgedBy, resolvedBy, serviceID, groupID sql.NullString
		var assignedAt, acknowledgedAt, resolvedAt sql.NullTime
		var assignedToName, acknowledgedByName, resolvedByName sql.NullString
		var groupName, serviceName sql.NullString

		err := rows.Scan(
			&incident.ID, &incident.Title, &incident.Description,
			&incident.Status, &incident.Urgency, &incident.Priority, &incident.Severity,
			&incident.CreatedAt, &incident.UpdatedAt,
			&assignedTo, &assignedAt, &acknowledgedBy, &acknowledgedAt,
			&resolvedBy, &resolvedAt,
			&incident.Source, &serviceID, &groupID,
			&incident.Fingerprint, &incident.AlertCount,
			&incident.EscalationStatus, &incident.CurrentEscalationLevel,
			&assignedToName, &acknowledgedByName, &resolvedByName,
			&groupName, &serviceName,
		)
		if err != nil {
			log.Printf("[incident] error scanning incident: %v", err)
			continue
		}

		incident.AssignedTo = assignedTo.String
		incident.AcknowledgedBy = acknowledgedBy.String
		incident.ResolvedBy = resolvedBy.String
		incident.ServiceID = serviceID.String
		incident.GroupID = groupID.String
		if assignedAt.Valid {
			incident.AssignedAt = &assignedAt.Time
		}
		if acknowledgedAt.Valid {
			incident.AcknowledgedAt = &acknowledgedAt.Time
		}
		if resolvedAt.Valid {
			incident.ResolvedAt = &resolvedAt.Time
		}
		incident.AssignedToName = assignedToName.String
		incident.AcknowledgedByName = acknowledgedByName.String
		incident.ResolvedByName = resolvedByName.String
		incident.GroupName = groupName.String
		incident.ServiceName = serviceName.String

		incidents = append(incidents, incident)
	}
	return incidents, nil
}

// GetIncidentEvents returns the newest timeline entries for an incident.
func (s *IncidentService) GetIncidentEvents(incidentID string, limit int) ([]db.IncidentEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.PG.Query(`
		SELECT ie.id, ie.incident_id, ie.event_type, ie.event_data, ie.created_at,
		       ie.created_by, u.name as created_by_name
		FROM incident_events ie
		LEFT JOIN users u ON ie.created_by = u.id
		WHERE ie.incident_id = $1
		ORDER BY ie.created_at DESC
		LIMIT $2
	`, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident events: %w", err)
	}
	defer rows.Close()

	events := make([]db.IncidentEvent, 0)
	for rows.Next() {
		var event db.IncidentEvent
		var eventDataJSON, createdBy, createdByName sql.NullString

		err := rows.Scan(&event.ID, &event.IncidentID, &event.EventType,
			&eventDataJSON, &event.CreatedAt, &createdBy, &createdByName)
		if err != nil {
			log.Printf("[incident] error scanning event: %v", err)
			continue
		}
		event.CreatedBy = createdBy.String
		event.CreatedByName = createdByName.String
		if eventDataJSON.Valid && eventDataJSON.String != "" {
			_ = json.Unmarshal([]byte(eventDataJSON.String), &event.EventData)
		}
		events = append(events, event)
	}
	return events, nil
}

func createIncidentEvent(ctx context.Context, e execer, incidentID, eventType string, eventData map[string]interface{}, createdBy string) error {
	eventDataJSON, _ := json.Marshal(eventData)
	_, err := e.ExecContext(ctx, `
		INSERT INTO incident_events (id, incident_id, event_type, event_data, created_at, created_by)
		VALUES ($1, $2, $3, $4, NOW(), $5)
	`, uuid.New().String(), incidentID, eventType, string(eventDataJSON), nullIfEmpty(createdBy))
	return err
}

// GetIncidentStats summarizes the last 30 days for the dashboard.
func (s *IncidentService) GetIncidentStats(filter db.TenantFilter) (map[string]interface{}, error) {
	filter.MustValidate()

	var total, triggered, acknowledged, resolved, highUrgency int
	err := s.PG.QueryRow(`
		SELECT COUNT(*),
		       COUNT(CASE WHEN status = 'triggered' THEN 1 END),
		       COUNT(CASE WHEN status = 'acknowledged' THEN 1 END),
		       COUNT(CASE WHEN status = 'resolved' THEN 1 END),
		       COUNT(CASE WHEN urgency = 'high' THEN 1 END)
		FROM incidents
		WHERE organization_id = $1
		  AND created_at >= NOW() - INTERVAL '30 days'
	`, filter.OrgID).Scan(&total, &triggered, &acknowledged, &resolved, &highUrgency)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident stats: %w", err)
	}

	return map[string]interface{}{
		"total":        total,
		"triggered":    triggered,
		"acknowledged": acknowledged,
		"resolved":     resolved,
		"high_urgency": highUrgency,
	}, nil
}
