package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

// EscalationWorker walks incidents through their escalation policies. Every
// tick it claims due incidents with FOR UPDATE SKIP LOCKED so multiple worker
// replicas never double-escalate.
type EscalationWorker struct {
	PG            *sql.DB
	OnCall        *services.OnCallService
	Notifications services.NotificationSender
}

func NewEscalationWorker(pg *sql.DB, oncall *services.OnCallService, notifications services.NotificationSender) *EscalationWorker {
	return &EscalationWorker{
		PG:            pg,
		OnCall:        oncall,
		Notifications: notifications,
	}
}

// Start runs the escalation loop until the context is cancelled.
func (w *EscalationWorker) Start(ctx context.Context) {
	log.Println("[escalation] worker started")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[escalation] worker stopped")
			return
		case <-ticker.C:
			w.runOnce()
		}
	}
}

type dueIncident struct {
	ID                     string
	GroupID                string
	EscalationPolicyID     string
	CurrentEscalationLevel int
	LastEscalatedAt        *time.Time
}

type pendingNotification struct {
	userID     string
	incidentID string
}

func (w *EscalationWorker) runOnce() {
	tx, err := w.PG.Begin()
	if err != nil {
		log.Printf("[escalation] failed to start transaction: %v", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	incidents, err := claimDueIncidents(tx)
	if err != nil {
		log.Printf("[escalation] failed to claim incidents: %v", err)
		return
	}
	if len(incidents) == 0 {
		return
	}
	log.Printf("[escalation] claimed %d incidents", len(incidents))

	var notifications []pendingNotification
	for _, incident := range incidents {
		notification, err := w.escalate(tx, incident)
		if err != nil {
			log.Printf("[escalation] incident %s: %v", incident.ID, err)
			continue
		}
		if notification != nil {
			notifications = append(notifications, *notification)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[escalation] failed to commit: %v", err)
		return
	}

	// Enqueue after commit so a rollback never leaves phantom notifications.
	for _, n := range notifications {
		if w.Notifications == nil {
			break
		}
		if err := w.Notifications.SendIncidentEscalatedNotification(n.userID, n.incidentID); err != nil {
			log.Printf("[escalation] failed to enqueue notification for incident %s: %v", n.incidentID, err)
		}
	}
}

// claimDueIncidents locks triggered incidents whose current escalation level
// has timed out. Never-escalated incidents are due once the first level's
// timeout has elapsed since creation; escalated ones once the current level's
// timeout has elapsed since last_escalated_at and a next level exists.
func claimDueIncidents(tx *sql.Tx) ([]dueIncident, error) {
	rows, err := tx.Query(`
		SELECT i.id, COALESCE(i.group_id::text, ''), i.escalation_policy_id,
		       i.current_escalation_level, i.last_escalated_at
		FROM incidents i
		WHERE i.status = 'triggered'
		  AND i.escalation_policy_id IS NOT NULL
		  AND i.escalation_status IN ('none', 'pending')
		  AND (
			(i.last_escalated_at IS NULL
			 AND EXISTS (
				SELECT 1 FROM escalation_levels el
				WHERE el.policy_id = i.escalation_policy_id
				  AND el.level_number = 1
				  AND i.created_at < NOW() - INTERVAL '1 minute' * el.timeout_minutes
			 ))
			OR
			(i.last_escalated_at IS NOT NULL
			 AND EXISTS (
				SELECT 1 FROM escalation_levels el
				WHERE el.policy_id = i.escalation_policy_id
				  AND el.level_number = i.current_escalation_level
				  AND i.last_escalated_at < NOW() - INTERVAL '1 minute' * el.timeout_minutes
			 )
			 AND EXISTS (
				SELECT 1 FROM escalation_levels el
				WHERE el.policy_id = i.escalation_policy_id
				  AND el.level_number = i.current_escalation_level + 1
			 ))
		  )
		ORDER BY i.created_at ASC
		LIMIT 50
		FOR UPDATE OF i SKIP LOCKED
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []dueIncident
	for rows.Next() {
		var incident dueIncident
		var lastEscalatedAt sql.NullTime
		err := rows.Scan(&incident.ID, &incident.GroupID, &incident.EscalationPolicyID,
			&incident.CurrentEscalationLevel, &lastEscalatedAt)
		if err != nil {
			log.Printf("[escalation] error scanning incident: %v", err)
			continue
		}
		if lastEscalatedAt.Valid {
			incident.LastEscalatedAt = &lastEscalatedAt.Time
		}
		incidents = append(incidents, incident)
	}
	return incidents, rows.Err()
}

// escalate advances one incident to its next policy level. Returns the
// notification to enqueue after commit, or nil when the level resolved to no
// assignee.
func (w *EscalationWorker) escalate(tx *sql.Tx, incident dueIncident) (*pendingNotification, error) {
	levels, err := loadEscalationLevels(tx, incident.EscalationPolicyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation levels: %w", err)
	}
	if len(levels) == 0 {
		markEscalation(tx, incident.ID, incident.CurrentEscalationLevel, db.EscalationStatusCompleted)
		return nil, nil
	}

	// An incident that never escalated starts at level 1 regardless of the
	// value current_escalation_level was created with.
	nextLevel := 1
	if incident.LastEscalatedAt != nil {
		nextLevel = incident.CurrentEscalationLevel + 1
	}

	var target *db.EscalationLevel
	for i := range levels {
		if levels[i].LevelNumber == nextLevel {
			target = &levels[i]
			break
		}
	}
	if target == nil {
		markEscalation(tx, incident.ID, incident.CurrentEscalationLevel, db.EscalationStatusCompleted)
		return nil, nil
	}

	assignee, err := w.resolveTarget(incident, *target)
	if err != nil {
		return nil, err
	}

	hasMoreLevels := false
	for _, level := range levels {
		if level.LevelNumber == nextLevel+1 {
			hasMoreLevels = true
			break
		}
	}
	status := db.EscalationStatusPending
	if !hasMoreLevels {
		status = db.EscalationStatusCompleted
	}

	if assignee != "" {
		_, err = tx.Exec(`
			UPDATE incidents SET assigned_to = $1::uuid, assigned_at = NOW(), updated_at = NOW()
			WHERE id = $2
		`, assignee, incident.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to assign incident: %w", err)
		}
	}
	markEscalation(tx, incident.ID, nextLevel, status)

	eventData := map[string]interface{}{
		"escalation_level": nextLevel,
		"target_type":      target.TargetType,
		"target_id":        target.TargetID,
	}
	if assignee != "" {
		eventData["assigned_to_id"] = assignee
	}
	recordEvent(tx, incident.ID, db.IncidentEventEscalated, eventData)

	log.Printf("[escalation] incident %s escalated to level %d (%s), status %s",
		incident.ID, nextLevel, target.TargetType, status)

	if assignee == "" {
		return nil, nil
	}
	return &pendingNotification{userID: assignee, incidentID: incident.ID}, nil
}

// resolveTarget maps an escalation level to a concrete user. External targets
// and empty on-call schedules resolve to nobody; the escalation still advances
// so a dead level cannot wedge the policy.
func (w *EscalationWorker) resolveTarget(incident dueIncident, level db.EscalationLevel) (string, error) {
	now := time.Now().UTC()

	switch level.TargetType {
	case db.EscalationTargetUser:
		return level.TargetID, nil
	case db.EscalationTargetScheduler:
		shift, err := w.OnCall.GetCurrentOnCall(level.TargetID, now)
		if err != nil {
			return "", fmt.Errorf("failed to resolve scheduler on-call: %w", err)
		}
		if shift == nil {
			log.Printf("[escalation] no on-call user for scheduler %s", level.TargetID)
			return "", nil
		}
		return shift.UserID, nil
	case db.EscalationTargetCurrentSchedule:
		shift, err := w.OnCall.GetCurrentOnCallForGroup(incident.GroupID, now)
		if err != nil {
			return "", fmt.Errorf("failed to resolve group on-call: %w", err)
		}
		if shift == nil {
			log.Printf("[escalation] no on-call user for group %s", incident.GroupID)
			return "", nil
		}
		return shift.UserID, nil
	case db.EscalationTargetGroup:
		groupID := level.TargetID
		if groupID == "" {
			groupID = incident.GroupID
		}
		return w.firstGroupMember(groupID)
	case db.EscalationTargetExternal:
		log.Printf("[escalation] external target %s for incident %s, handled by the notification sink", level.TargetID, incident.ID)
		return "", nil
	default:
		return "", fmt.Errorf("unknown escalation target type %q", level.TargetType)
	}
}

func (w *EscalationWorker) firstGroupMember(groupID string) (string, error) {
	var userID string
	err := w.PG.QueryRow(`
		SELECT gm.user_id
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1 AND gm.is_active = true AND u.is_active = true
		ORDER BY gm.escalation_order ASC, gm.added_at ASC
		LIMIT 1
	`, groupID).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Printf("[escalation] group %s has no active members", groupID)
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve group member: %w", err)
	}
	return userID, nil
}

func loadEscalationLevels(tx *sql.Tx, policyID string) ([]db.EscalationLevel, error) {
	rows, err := tx.Query(`
		SELECT id, policy_id, level_number, target_type, COALESCE(target_id::text, ''), timeout_minutes
		FROM escalation_levels
		WHERE policy_id = $1
		ORDER BY level_number ASC
	`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []db.EscalationLevel
	for rows.Next() {
		var level db.EscalationLevel
		err := rows.Scan(&level.ID, &level.PolicyID, &level.LevelNumber,
			&level.TargetType, &level.TargetID, &level.TimeoutMinutes)
		if err != nil {
			log.Printf("[escalation] error scanning level: %v", err)
			continue
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func markEscalation(tx *sql.Tx, incidentID string, level int, status string) {
	_, err := tx.Exec(`
		UPDATE incidents
		SET current_escalation_level = $1,
		    escalation_status = $2,
		    last_escalated_at = NOW() AT TIME ZONE 'UTC',
		    updated_at = NOW()
		WHERE id = $3
	`, level, status, incidentID)
	if err != nil {
		log.Printf("[escalation] failed to update incident %s: %v", incidentID, err)
	}
}

func recordEvent(tx *sql.Tx, incidentID, eventType string, eventData map[string]interface{}) {
	eventDataJSON, _ := json.Marshal(eventData)
	_, err := tx.Exec(`
		INSERT INTO incident_events (incident_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, NOW())
	`, incidentID, eventType, string(eventDataJSON))
	if err != nil {
		log.Printf("[escalation] failed to record %s event for incident %s: %v", eventType, incidentID, err)
	}
}
