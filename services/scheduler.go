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

type SchedulerService struct {
	PG        *sql.DB
	Rotations *RotationService
}

func NewSchedulerService(pg *sql.DB, rotations *RotationService) *SchedulerService {
	return &SchedulerService{PG: pg, Rotations: rotations}
}

// generateUniqueName appends a numeric suffix until the name is free within
// the group.
func (s *SchedulerService) generateUniqueName(groupID, baseName string) string {
	if !s.nameExists(groupID, baseName) {
		return baseName
	}
	for i := 1; i <= 100; i++ {
		candidate := fmt.Sprintf("%s-%d", baseName, i)
		if !s.nameExists(groupID, candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s-%s", baseName, time.Now().Format("20060102-150405"))
}

func (s *SchedulerService) nameExists(groupID, name string) bool {
	var count int
	err := s.PG.QueryRow(`
		SELECT COUNT(*) FROM schedulers
		WHERE group_id = $1 AND name = $2 AND is_active = true
	`, groupID, name).Scan(&count)
	if err != nil {
		log.Printf("[scheduler] error checking name existence: %v", err)
		return true
	}
	return count > 0
}

func (s *SchedulerService) CreateScheduler(groupID string, req db.CreateSchedulerRequest, createdBy string) (db.Scheduler, error) {
	uniqueName := s.generateUniqueName(groupID, req.Name)

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Name
	}

	scheduler := db.Scheduler{
		ID:             uuid.New().String(),
		Name:           uniqueName,
		DisplayName:    displayName,
		GroupID:        groupID,
		Description:    req.Description,
		IsActive:       true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		CreatedBy:      createdBy,
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
	}

	if uniqueName != req.Name {
		log.Printf("[scheduler] name '%s' taken in group %s, using '%s'", req.Name, groupID, uniqueName)
	}

	_, err := s.PG.Exec(`
		INSERT INTO schedulers (id, name, display_name, group_id, description, is_active,
		                        created_at, updated_at, created_by, organization_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, scheduler.ID, scheduler.Name, scheduler.DisplayName, scheduler.GroupID, scheduler.Description,
		scheduler.IsActive, scheduler.CreatedAt, scheduler.UpdatedAt, nullIfEmpty(scheduler.CreatedBy),
		nullIfEmpty(scheduler.OrganizationID), nullIfEmpty(scheduler.ProjectID))
	if err != nil {
		return scheduler, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return scheduler, nil
}

// GetOrCreateDefaultScheduler returns the group's first scheduler, creating
// one when the group has none yet.
func (s *SchedulerService) GetOrCreateDefaultScheduler(groupID, orgID, createdBy string) (db.Scheduler, error) {
	schedulers, err := s.GetSchedulersByGroup(groupID)
	if err != nil {
		return db.Scheduler{}, err
	}
	if len(schedulers) > 0 {
		return schedulers[0], nil
	}

	return s.CreateScheduler(groupID, db.CreateSchedulerRequest{
		Name:           "default",
		DisplayName:    "Default Schedule",
		OrganizationID: orgID,
	}, createdBy)
}

// GetSchedulersByGroup returns active schedulers ordered by creation, so the
// first scheduler is the group default.
func (s *SchedulerService) GetSchedulersByGroup(groupID string) ([]db.Scheduler, error) {
	rows, err := s.PG.Query(`
		SELECT id, name, display_name, group_id, COALESCE(description, '') as description,
		       is_active, created_at, updated_at, COALESCE(created_by::text, '') as created_by,
		       COALESCE(organization_id::text, '') as organization_id,
		       COALESCE(project_id::text, '') as project_id
		FROM schedulers
		WHERE group_id = $1 AND is_active = true
		ORDER BY created_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedulers: %w", err)
	}
	defer rows.Close()

	schedulers := make([]db.Scheduler, 0)
	for rows.Next() {
		var scheduler db.Scheduler
		err := rows.Scan(
			&scheduler.ID, &scheduler.Name, &scheduler.DisplayName, &scheduler.GroupID,
			&scheduler.Description, &scheduler.IsActive, &scheduler.CreatedAt, &scheduler.UpdatedAt,
			&scheduler.CreatedBy, &scheduler.OrganizationID, &scheduler.ProjectID,
		)
		if err != nil {
			log.Printf("[scheduler] error scanning scheduler: %v", err)
			continue
		}
		schedulers = append(schedulers, scheduler)
	}
	return schedulers, nil
}

// GetScheduler returns one scheduler with its rotations and shifts nested.
func (s *SchedulerService) GetScheduler(schedulerID string) (db.Scheduler, error) {
	var scheduler db.Scheduler
	err := s.PG.QueryRow(`
		SELECT id, name, display_name, group_id, COALESCE(description, '') as description,
		       is_active, created_at, updated_at, COALESCE(created_by::text, '') as created_by,
		       COALESCE(organization_id::text, '') as organization_id,
		       COALESCE(project_id::text, '') as project_id
		FROM schedulers
		WHERE id = $1 AND is_active = true
	`, schedulerID).Scan(
		&scheduler.ID, &scheduler.Name, &scheduler.DisplayName, &scheduler.GroupID,
		&scheduler.Description, &scheduler.IsActive, &scheduler.CreatedAt, &scheduler.UpdatedAt,
		&scheduler.CreatedBy, &scheduler.OrganizationID, &scheduler.ProjectID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return scheduler, apperr.New(apperr.KindNotFound, "scheduler not found")
		}
		return scheduler, fmt.Errorf("failed to get scheduler: %w", err)
	}

	rotations, err := s.Rotations.ListRotations(schedulerID)
	if err != nil {
		return scheduler, err
	}
	scheduler.Rotations = rotations

	shifts, err := s.GetShiftsByScheduler(schedulerID)
	if err != nil {
		return scheduler, err
	}
	scheduler.Shifts = shifts

	return scheduler, nil
}

func (s *SchedulerService) UpdateScheduler(schedulerID string, req db.CreateSchedulerRequest) (db.Scheduler, error) {
	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Name
	}

	result, err := s.PG.Exec(`
		UPDATE schedulers
		SET display_name = $2, description = $3, updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`, schedulerID, displayName, req.Description)
	if err != nil {
		return db.Scheduler{}, fmt.Errorf("failed to update scheduler: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return db.Scheduler{}, apperr.New(apperr.KindNotFound, "scheduler not found")
	}

	return s.GetScheduler(schedulerID)
}

// DeleteScheduler soft deletes the scheduler with its rotations and shifts.
func (s *SchedulerService) DeleteScheduler(schedulerID string) error {
	tx, err := s.PG.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		UPDATE shifts SET is_active = false, updated_at = NOW() WHERE scheduler_id = $1
	`, schedulerID)
	if err != nil {
		return fmt.Errorf("failed to deactivate scheduler shifts: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE rotations SET is_active = false, updated_at = NOW() WHERE scheduler_id = $1
	`, schedulerID)
	if err != nil {
		return fmt.Errorf("failed to deactivate scheduler rotations: %w", err)
	}

	result, err := tx.Exec(`
		UPDATE schedulers SET is_active = false, updated_at = NOW() WHERE id = $1
	`, schedulerID)
	if err != nil {
		return fmt.Errorf("failed to deactivate scheduler: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "scheduler not found")
	}

	return tx.Commit()
}

// GetShiftsByScheduler returns the scheduler's shifts with user info.
func (s *SchedulerService) GetShiftsByScheduler(schedulerID string) ([]db.Shift, error) {
	rows, err := s.PG.Query(`
		SELECT s.id, s.scheduler_id, s.rotation_id, s.group_id, s.user_id,
		       s.start_time, s.end_time, s.is_active, s.created_at, s.updated_at,
		       COALESCE(s.created_by::text, '') as created_by,
		       u.name as user_name, u.email as user_email,
		       sc.name as scheduler_name
		FROM shifts s
		JOIN users u ON s.user_id = u.id
		JOIN schedulers sc ON s.scheduler_id = sc.id
		WHERE s.scheduler_id = $1 AND s.is_active = true
		ORDER BY s.start_time ASC
	`, schedulerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", err)
	}
	defer rows.Close()

	shifts := make([]db.Shift, 0)
	for rows.Next() {
		var shift db.Shift
		var rotationID sql.NullString
		err := rows.Scan(
			&shift.ID, &shift.SchedulerID, &rotationID, &shift.GroupID, &shift.UserID,
			&shift.StartTime, &shift.EndTime, &shift.IsActive, &shift.CreatedAt, &shift.UpdatedAt,
			&shift.CreatedBy, &shift.UserName, &shift.UserEmail, &shift.SchedulerName,
		)
		if err != nil {
			log.Printf("[scheduler] error scanning shift: %v", err)
			continue
		}
		if rotationID.Valid {
			shift.RotationID = &rotationID.String
		}
		shifts = append(shifts, shift)
	}
	return shifts, nil
}

// GetAllShiftsInGroup returns every shift of the group's active schedulers
// with its override envelope. Unlike the current-on-call lookup this includes
// future overrides, since schedule views need to display them ahead of time.
// shift.UserID always carries the EFFECTIVE user; original_* fields hold the
// scheduled user when the shift is overridden.
func (s *SchedulerService) GetAllShiftsInGroup(groupID string) ([]db.Shift, error) {
	query := `
		SELECT
			s.id, s.scheduler_id, s.rotation_id, s.group_id,
			s.user_id as original_user_id,
			s.start_time, s.end_time, s.is_active, s.created_at, s.updated_at,
			COALESCE(s.created_by::text, '') as created_by,
			sc.name as scheduler_name,
			CASE WHEN so.id IS NOT NULL THEN true ELSE false END as is_overridden,
			so.id as override_id,
			so.override_reason,
			so.override_start_time,
			so.override_end_time,
			COALESCE(so.override_user_id, s.user_id) as effective_user_id,
			COALESCE(u_override.name, u_original.name) as user_name,
			COALESCE(u_override.email, u_original.email) as user_email,
			u_original.name as original_user_name,
			u_original.email as original_user_email
		FROM shifts s
		JOIN schedulers sc ON s.scheduler_id = sc.id
		LEFT JOIN LATERAL (
			SELECT * FROM schedule_overrides o
			WHERE o.shift_id = s.id AND o.is_active = true
			ORDER BY o.created_at DESC
			LIMIT 1
		) so ON true
		LEFT JOIN users u_original ON s.user_id = u_original.id
		LEFT JOIN users u_override ON so.override_user_id = u_override.id
		WHERE s.group_id = $1 AND s.is_active = true AND sc.is_active = true
		ORDER BY sc.name ASC, s.start_time ASC
	`

	rows, err := s.PG.Query(query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group shifts: %w", err)
	}
	defer rows.Close()

	shifts := make([]db.Shift, 0)
	for rows.Next() {
		var shift db.Shift
		var rotationID, overrideID, overrideReason sql.NullString
		var overrideStartTime, overrideEndTime sql.NullTime
		var effectiveUserID string
		var originalUserName, originalUserEmail sql.NullString

		err := rows.Scan(
			&shift.ID, &shift.SchedulerID, &rotationID, &shift.GroupID, &shift.UserID,
			&shift.StartTime, &shift.EndTime, &shift.IsActive, &shift.CreatedAt, &shift.UpdatedAt,
			&shift.CreatedBy, &shift.SchedulerName,
			&shift.IsOverridden, &overrideID, &overrideReason,
			&overrideStartTime, &overrideEndTime, &effectiveUserID,
			&shift.UserName, &shift.UserEmail,
			&originalUserName, &originalUserEmail,
		)
		if err != nil {
			log.Printf("[scheduler] error scanning group shift: %v", err)
			continue
		}

		if rotationID.Valid {
			shift.RotationID = &rotationID.String
		}
		if overrideID.Valid {
			shift.OverrideID = &overrideID.String
		}
		if overrideReason.Valid {
			shift.OverrideReason = &overrideReason.String
		}
		if overrideStartTime.Valid {
			shift.OverrideStartTime = &overrideStartTime.Time
		}
		if overrideEndTime.Valid {
			shift.OverrideEndTime = &overrideEndTime.Time
		}
		if originalUserName.Valid {
			shift.OriginalUserName = &originalUserName.String
		}
		if originalUserEmail.Valid {
			shift.OriginalUserEmail = &originalUserEmail.String
		}

		if shift.IsOverridden {
			// The query scans the scheduled user into UserID and the override
			// user into effectiveUserID; swap so UserID is the effective user.
			// Copy before taking the pointer or OriginalUserID would follow
			// the reassignment.
			originalID := shift.UserID
			shift.OriginalUserID = &originalID
			shift.UserID = effectiveUserID
		}

		shifts = append(shifts, shift)
	}

	return shifts, nil
}
