package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

type OverrideService struct {
	PG *sql.DB
}

func NewOverrideService(pg *sql.DB) *OverrideService {
	return &OverrideService{PG: pg}
}

// CreateOverride replaces the on-call user for part or all of one shift.
// The override window must be contained in the shift: a nil window covers the
// whole shift, a partial window must satisfy
// shift.start <= override.start < override.end <= shift.end.
func (s *OverrideService) CreateOverride(req db.CreateOverrideRequest, createdBy string) (db.ScheduleOverride, error) {
	override := db.ScheduleOverride{
		ID:                uuid.New().String(),
		ShiftID:           req.ShiftID,
		OverrideUserID:    req.OverrideUserID,
		OverrideReason:    req.OverrideReason,
		OverrideStartTime: req.OverrideStartTime,
		OverrideEndTime:   req.OverrideEndTime,
		IsActive:          true,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
		CreatedBy:         createdBy,
	}

	// Both bounds or neither
	if (override.OverrideStartTime == nil) != (override.OverrideEndTime == nil) {
		return override, apperr.New(apperr.KindValidation, "override window requires both start and end time")
	}

	var originalUserID string
	var shiftStart, shiftEnd time.Time
	err := s.PG.QueryRow(`
		SELECT group_id, user_id, start_time, end_time
		FROM shifts WHERE id = $1 AND is_active = true
	`, override.ShiftID).Scan(&override.GroupID, &originalUserID, &shiftStart, &shiftEnd)
	if err != nil {
		if err == sql.ErrNoRows {
			return override, apperr.New(apperr.KindNotFound, "shift not found")
		}
		return override, fmt.Errorf("failed to load shift: %w", err)
	}

	if override.OverrideUserID == originalUserID {
		return override, apperr.New(apperr.KindValidation, "override user must differ from the scheduled user")
	}

	if override.OverrideStartTime != nil {
		start, end := *override.OverrideStartTime, *override.OverrideEndTime
		if !end.After(start) {
			return override, apperr.New(apperr.KindValidation, "override end time must be after start time")
		}
		if start.Before(shiftStart) || end.After(shiftEnd) {
			return override, apperr.New(apperr.KindValidation, "override window must fall within the shift")
		}
	}

	_, err = s.PG.Exec(`
		INSERT INTO schedule_overrides (id, shift_id, group_id, override_user_id,
			override_reason, override_start_time, override_end_time,
			is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, override.ID, override.ShiftID, override.GroupID, override.OverrideUserID,
		override.OverrideReason, override.OverrideStartTime, override.OverrideEndTime,
		override.IsActive, override.CreatedAt, override.UpdatedAt, override.CreatedBy)
	if err != nil {
		return override, fmt.Errorf("failed to create override: %w", err)
	}

	err = s.PG.QueryRow(`
		SELECT u.name, u.email FROM users u WHERE u.id = $1
	`, override.OverrideUserID).Scan(&override.OverrideUserName, &override.OverrideUserEmail)
	if err != nil {
		log.Printf("[override] failed to get user info for override %s: %v", override.ID, err)
	}

	return override, nil
}

// ListOverrides returns active overrides of a group.
func (s *OverrideService) ListOverrides(groupID string) ([]db.ScheduleOverride, error) {
	rows, err := s.PG.Query(`
		SELECT so.id, so.shift_id, so.group_id, so.override_user_id,
		       so.override_reason, so.override_start_time, so.override_end_time,
		       so.is_active, so.created_at, so.updated_at, so.created_by,
		       u.name as override_user_name, u.email as override_user_email
		FROM schedule_overrides so
		JOIN users u ON so.override_user_id = u.id
		WHERE so.group_id = $1 AND so.is_active = true
		ORDER BY so.created_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]db.ScheduleOverride, 0)
	for rows.Next() {
		var override db.ScheduleOverride
		var overrideReason sql.NullString
		var overrideStartTime, overrideEndTime sql.NullTime

		err := rows.Scan(
			&override.ID, &override.ShiftID, &override.GroupID, &override.OverrideUserID,
			&overrideReason, &overrideStartTime, &overrideEndTime,
			&override.IsActive, &override.CreatedAt, &override.UpdatedAt, &override.CreatedBy,
			&override.OverrideUserName, &override.OverrideUserEmail,
		)
		if err != nil {
			continue
		}

		if overrideReason.Valid {
			override.OverrideReason = &overrideReason.String
		}
		if overrideStartTime.Valid {
			override.OverrideStartTime = &overrideStartTime.Time
		}
		if overrideEndTime.Valid {
			override.OverrideEndTime = &overrideEndTime.Time
		}

		overrides = append(overrides, override)
	}

	return overrides, nil
}

// DeleteOverride deactivates an override, restoring the scheduled user for
// that window. The shift row itself is never mutated.
func (s *OverrideService) DeleteOverride(overrideID string) error {
	result, err := s.PG.Exec(`
		UPDATE schedule_overrides
		SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`, overrideID)
	if err != nil {
		return fmt.Errorf("failed to deactivate override: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "override not found")
	}
	return nil
}
