package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

type EscalationService struct {
	PG     *sql.DB
	Groups *GroupService
	OnCall *OnCallService
}

func NewEscalationService(pg *sql.DB, groups *GroupService, oncall *OnCallService) *EscalationService {
	return &EscalationService{PG: pg, Groups: groups, OnCall: oncall}
}

// CreateEscalationPolicy creates the policy and its ordered levels in one
// transaction.
func (s *EscalationService) CreateEscalationPolicy(groupID, orgID string, req db.CreateEscalationPolicyRequest, createdBy string) (db.EscalationPolicyWithLevels, error) {
	var result db.EscalationPolicyWithLevels

	policy := db.EscalationPolicy{
		ID:                   uuid.New().String(),
		Name:                 req.Name,
		Description:          req.Description,
		IsActive:             true,
		RepeatMaxTimes:       req.RepeatMaxTimes,
		EscalateAfterMinutes: req.EscalateAfterMinutes,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
		GroupID:              groupID,
		CreatedBy:            createdBy,
		OrganizationID:       orgID,
	}
	if policy.EscalateAfterMinutes == 0 {
		policy.EscalateAfterMinutes = 5
	}

	tx, err := s.PG.Begin()
	if err != nil {
		return result, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO escalation_policies (id, name, description, is_active, repeat_max_times,
			escalate_after_minutes, created_at, updated_at, group_id, created_by, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, policy.ID, policy.Name, policy.Description, policy.IsActive, policy.RepeatMaxTimes,
		policy.EscalateAfterMinutes, policy.CreatedAt, policy.UpdatedAt, policy.GroupID,
		nullIfEmpty(policy.CreatedBy), nullIfEmpty(policy.OrganizationID))
	if err != nil {
		return result, fmt.Errorf("failed to create escalation policy: %w", err)
	}

	levels, err := insertEscalationLevels(tx, policy.ID, req.Levels)
	if err != nil {
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit escalation policy: %w", err)
	}

	result.EscalationPolicy = policy
	result.Levels = levels
	return result, nil
}

func insertEscalationLevels(tx *sql.Tx, policyID string, reqs []db.CreateEscalationLevelRequest) ([]db.EscalationLevel, error) {
	levels := make([]db.EscalationLevel, 0, len(reqs))
	for _, lreq := range reqs {
		level := db.EscalationLevel{
			ID:                  uuid.New().String(),
			PolicyID:            policyID,
			LevelNumber:         lreq.LevelNumber,
			TargetType:          lreq.TargetType,
			TargetID:            lreq.TargetID,
			TimeoutMinutes:      lreq.TimeoutMinutes,
			NotificationMethods: lreq.NotificationMethods,
			MessageTemplate:     lreq.MessageTemplate,
			CreatedAt:           time.Now(),
		}
		_, err := tx.Exec(`
			INSERT INTO escalation_levels (id, policy_id, level_number, target_type, target_id,
				timeout_minutes, notification_methods, message_template, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, level.ID, level.PolicyID, level.LevelNumber, level.TargetType, nullIfEmpty(level.TargetID),
			level.TimeoutMinutes, pq.Array(level.NotificationMethods), level.MessageTemplate, level.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to create escalation level %d: %w", lreq.LevelNumber, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// UpdateEscalationPolicy updates the policy and, when levels are provided,
// replaces the whole level set.
func (s *EscalationService) UpdateEscalationPolicy(policyID string, req db.UpdateEscalationPolicyRequest) (db.EscalationPolicyWithLevels, error) {
	var result db.EscalationPolicyWithLevels

	policy, err := s.GetEscalationPolicy(policyID)
	if err != nil {
		return result, err
	}

	if req.Name != nil {
		policy.Name = *req.Name
	}
	if req.Description != nil {
		policy.Description = *req.Description
	}
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}
	if req.RepeatMaxTimes != nil {
		policy.RepeatMaxTimes = *req.RepeatMaxTimes
	}
	if req.EscalateAfterMinutes != nil {
		policy.EscalateAfterMinutes = *req.EscalateAfterMinutes
	}
	policy.UpdatedAt = time.Now()

	tx, err := s.PG.Begin()
	if err != nil {
		return result, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		UPDATE escalation_policies
		SET name = $2, description = $3, is_active = $4, repeat_max_times = $5,
		    escalate_after_minutes = $6, updated_at = $7
		WHERE id = $1
	`, policy.ID, policy.Name, policy.Description, policy.IsActive, policy.RepeatMaxTimes,
		policy.EscalateAfterMinutes, policy.UpdatedAt)
	if err != nil {
		return result, fmt.Errorf("failed to update escalation policy: %w", err)
	}

	var levels []db.EscalationLevel
	if req.Levels != nil {
		_, err = tx.Exec(`DELETE FROM escalation_levels WHERE policy_id = $1`, policyID)
		if err != nil {
			return result, fmt.Errorf("failed to clear escalation levels: %w", err)
		}
		levels, err = insertEscalationLevels(tx, policyID, req.Levels)
		if err != nil {
			return result, err
		}
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit escalation policy update: %w", err)
	}

	if req.Levels == nil {
		levels, err = s.GetEscalationLevels(policyID)
		if err != nil {
			return result, err
		}
	}

	result.EscalationPolicy = policy
	result.Levels = levels
	return result, nil
}

// DeleteEscalationPolicy deactivates the policy. Refuses while services still
// reference it.
func (s *EscalationService) DeleteEscalationPolicy(policyID string) error {
	var serviceCount int
	err := s.PG.QueryRow(`
		SELECT COUNT(*) FROM services
		WHERE escalation_policy_id = $1 AND is_active = true
	`, policyID).Scan(&serviceCount)
	if err != nil {
		return fmt.Errorf("failed to check policy usage: %w", err)
	}
	if serviceCount > 0 {
		return apperr.Newf(apperr.KindConflict, "escalation policy is used by %d active service(s)", serviceCount)
	}

	result, err := s.PG.Exec(`
		UPDATE escalation_policies SET is_active = false, updated_at = NOW() WHERE id = $1
	`, policyID)
	if err != nil {
		return fmt.Errorf("failed to delete escalation policy: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "escalation policy not found")
	}
	return nil
}

func (s *EscalationService) GetEscalationPolicy(id string) (db.EscalationPolicy, error) {
	var policy db.EscalationPolicy
	err := s.PG.QueryRow(`
		SELECT id, name, COALESCE(description, '') as description, is_active,
		       repeat_max_times, escalate_after_minutes, created_at, updated_at,
		       group_id, COALESCE(created_by::text, '') as created_by,
		       COALESCE(organization_id::text, '') as organization_id
		FROM escalation_policies
		WHERE id = $1
	`, id).Scan(
		&policy.ID, &policy.Name, &policy.Description, &policy.IsActive,
		&policy.RepeatMaxTimes, &policy.EscalateAfterMinutes, &policy.CreatedAt, &policy.UpdatedAt,
		&policy.GroupID, &policy.CreatedBy, &policy.OrganizationID,
	)
	if err == sql.ErrNoRows {
		return policy, apperr.New(apperr.KindNotFound, "escalation policy not found")
	}
	return policy, err
}

func (s *EscalationService) GetEscalationPolicyWithLevels(id string) (db.EscalationPolicyWithLevels, error) {
	var result db.EscalationPolicyWithLevels

	policy, err := s.GetEscalationPolicy(id)
	if err != nil {
		return result, err
	}
	levels, err := s.GetEscalationLevels(id)
	if err != nil {
		return result, err
	}

	result.EscalationPolicy = policy
	result.Levels = levels
	return result, nil
}

func (s *EscalationService) GetEscalationLevels(policyID string) ([]db.EscalationLevel, error) {
	rows, err := s.PG.Query(`
		SELECT id, policy_id, level_number, target_type, COALESCE(target_id::text, '') as target_id,
		       timeout_minutes, notification_methods, COALESCE(message_template, '') as message_template,
		       created_at
		FROM escalation_levels
		WHERE policy_id = $1
		ORDER BY level_number ASC
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation levels: %w", err)
	}
	defer rows.Close()

	levels := make([]db.EscalationLevel, 0)
	for rows.Next() {
		var level db.EscalationLevel
		err := rows.Scan(
			&level.ID, &level.PolicyID, &level.LevelNumber, &level.TargetType, &level.TargetID,
			&level.TimeoutMinutes, pq.Array(&level.NotificationMethods), &level.MessageTemplate,
			&level.CreatedAt,
		)
		if err != nil {
			log.Printf("[escalation] error scanning level: %v", err)
			continue
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// ListGroupEscalationPolicies returns a group's policies.
func (s *EscalationService) ListGroupEscalationPolicies(groupID string, activeOnly bool) ([]db.EscalationPolicy, error) {
	query := `
		SELECT id, name, COALESCE(description, '') as description, is_active,
		       repeat_max_times, escalate_after_minutes, created_at, updated_at,
		       group_id, COALESCE(created_by::text, '') as created_by,
		       COALESCE(organization_id::text, '') as organization_id
		FROM escalation_policies
		WHERE group_id = $1`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.PG.Query(query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation policies: %w", err)
	}
	defer rows.Close()

	policies := make([]db.EscalationPolicy, 0)
	for rows.Next() {
		var policy db.EscalationPolicy
		err := rows.Scan(
			&policy.ID, &policy.Name, &policy.Description, &policy.IsActive,
			&policy.RepeatMaxTimes, &policy.EscalateAfterMinutes, &policy.CreatedAt, &policy.UpdatedAt,
			&policy.GroupID, &policy.CreatedBy, &policy.OrganizationID,
		)
		if err != nil {
			log.Printf("[escalation] error scanning policy: %v", err)
			continue
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

// GetAssigneeFromEscalationPolicy resolves the initial assignee for a new
// incident. Levels are walked in order and the first level that yields a user
// wins; external targets are skipped at ingest time and the incident is
// created unassigned when every level exhausts.
func (s *EscalationService) GetAssigneeFromEscalationPolicy(policyID, groupID string) (string, error) {
	levels, err := s.GetEscalationLevels(policyID)
	if err != nil {
		return "", err
	}

	if len(levels) == 0 {
		return s.currentOnCallUser(groupID)
	}

	for _, level := range levels {
		var userID string
		switch level.TargetType {
		case db.EscalationTargetUser:
			userID = level.TargetID
		case db.EscalationTargetScheduler:
			shift, err := s.OnCall.GetCurrentOnCall(level.TargetID, time.Now())
			if err != nil {
				log.Printf("[escalation] on-call lookup failed for scheduler %s: %v", level.TargetID, err)
				continue
			}
			if shift != nil {
				userID = shift.UserID
			}
		case db.EscalationTargetCurrentSchedule:
			userID, err = s.currentOnCallUser(groupID)
			if err != nil {
				log.Printf("[escalation] on-call lookup failed for group %s: %v", groupID, err)
				continue
			}
		case db.EscalationTargetGroup:
			targetGroup := level.TargetID
			if targetGroup == "" {
				targetGroup = groupID
			}
			userID, err = s.firstGroupMember(targetGroup)
			if err != nil {
				log.Printf("[escalation] member lookup failed for group %s: %v", targetGroup, err)
				continue
			}
		case db.EscalationTargetExternal:
			// Delivered by the notification sink, never an assignee
			continue
		}
		if userID != "" {
			return userID, nil
		}
	}

	return "", nil
}

func (s *EscalationService) currentOnCallUser(groupID string) (string, error) {
	shift, err := s.OnCall.GetCurrentOnCallForGroup(groupID, time.Now())
	if err != nil {
		return "", err
	}
	if shift == nil {
		return "", nil
	}
	return shift.UserID, nil
}

// firstGroupMember returns the member with the lowest escalation_order.
func (s *EscalationService) firstGroupMember(groupID string) (string, error) {
	var userID string
	err := s.PG.QueryRow(`
		SELECT gm.user_id
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1 AND gm.is_active = true AND u.is_active = true
		ORDER BY gm.escalation_order ASC, gm.added_at ASC
		LIMIT 1
	`, groupID).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return userID, nil
}
