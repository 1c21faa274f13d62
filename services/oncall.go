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

type OnCallService struct {
	PG *sql.DB
}

func NewOnCallService(pg *sql.DB) *OnCallService {
	return &OnCallService{PG: pg}
}

// oncallQuery resolves the effective on-call user at one instant. The active
// shift is the unique row with start_time <= t < end_time; an override wins
// when its window covers t, or when it has no window at all. Ties between
// overrides go to the most recently created one.
const oncallQuery = `
	SELECT s.id, s.scheduler_id, s.rotation_id, s.group_id,
	       s.user_id, s.start_time, s.end_time, s.is_active,
	       s.created_at, s.updated_at, COALESCE(s.created_by::text, '') as created_by,
	       CASE WHEN so.id IS NOT NULL THEN true ELSE false END as is_overridden,
	       so.id as override_id,
	       so.override_user_id,
	       so.override_reason,
	       so.override_start_time,
	       so.override_end_time,
	       COALESCE(u_override.name, u.name) as user_name,
	       COALESCE(u_override.email, u.email) as user_email,
	       u.name as original_user_name,
	       u.email as original_user_email
	FROM shifts s
	JOIN users u ON s.user_id = u.id
	LEFT JOIN LATERAL (
		SELECT * FROM schedule_overrides o
		WHERE o.shift_id = s.id
		  AND o.is_active = true
		  AND (o.override_start_time IS NULL
		       OR (o.override_start_time <= $2 AND $2 < o.override_end_time))
		ORDER BY o.created_at DESC
		LIMIT 1
	) so ON true
	LEFT JOIN users u_override ON so.override_user_id = u_override.id
	WHERE %s = $1
	  AND s.is_active = true
	  AND s.start_time <= $2 AND $2 < s.end_time
	ORDER BY s.start_time ASC
	LIMIT 1
`

func (s *OnCallService) scanOnCallShift(row *sql.Row) (*db.Shift, error) {
	var shift db.Shift
	var rotationID, overrideID, overrideUserID, overrideReason sql.NullString
	var overrideStartTime, overrideEndTime sql.NullTime
	var originalUserName, originalUserEmail string

	err := row.Scan(
		&shift.ID, &shift.SchedulerID, &rotationID, &shift.GroupID,
		&shift.UserID, &shift.StartTime, &shift.EndTime, &shift.IsActive,
		&shift.CreatedAt, &shift.UpdatedAt, &shift.CreatedBy,
		&shift.IsOverridden, &overrideID, &overrideUserID, &overrideReason,
		&overrideStartTime, &overrideEndTime,
		&shift.UserName, &shift.UserEmail,
		&originalUserName, &originalUserEmail,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current on-call: %w", err)
	}

	if rotationID.Valid {
		shift.RotationID = &rotationID.String
	}
	if shift.IsOverridden {
		originalID := shift.UserID
		shift.OriginalUserID = &originalID
		shift.OriginalUserName = &originalUserName
		shift.OriginalUserEmail = &originalUserEmail
		shift.UserID = overrideUserID.String
		shift.OverrideID = &overrideID.String
		if overrideReason.Valid {
			shift.OverrideReason = &overrideReason.String
		}
		if overrideStartTime.Valid {
			shift.OverrideStartTime = &overrideStartTime.Time
		}
		if overrideEndTime.Valid {
			shift.OverrideEndTime = &overrideEndTime.Time
		}
	}

	return &shift, nil
}

// GetCurrentOnCall returns the effective on-call shift of a scheduler at t,
// or nil when nobody is on call.
func (s *OnCallService) GetCurrentOnCall(schedulerID string, t time.Time) (*db.Shift, error) {
	query := fmt.Sprintf(oncallQuery, "s.scheduler_id")
	return s.scanOnCallShift(s.PG.QueryRow(query, schedulerID, t.UTC()))
}

// GetCurrentOnCallForGroup consults the group's default scheduler, which is
// the first one by creation order.
func (s *OnCallService) GetCurrentOnCallForGroup(groupID string, t time.Time) (*db.Shift, error) {
	var schedulerID string
	err := s.PG.QueryRow(`
		SELECT id FROM schedulers
		WHERE group_id = $1 AND is_active = true
		ORDER BY created_at ASC
		LIMIT 1
	`, groupID).Scan(&schedulerID)
	if err != nil {
		if err == sql.ErrNoRows {
			// No scheduler configured; fall back to any shift of the group
			query := fmt.Sprintf(oncallQuery, "s.group_id")
			return s.scanOnCallShift(s.PG.QueryRow(query, groupID, t.UTC()))
		}
		return nil, fmt.Errorf("failed to resolve default scheduler: %w", err)
	}
	return s.GetCurrentOnCall(schedulerID, t)
}

// GetUpcomingShifts returns future effective shifts of a group.
func (s *OnCallService) GetUpcomingShifts(groupID string, days int) ([]db.Shift, error) {
	if days <= 0 {
		days = 7
	}

	rows, err := s.PG.Query(`
		SELECT s.id, s.scheduler_id, s.group_id, s.user_id, s.start_time, s.end_time,
		       s.is_active, s.created_at, s.updated_at,
		       u.name as user_name, u.email as user_email
		FROM shifts s
		JOIN users u ON s.user_id = u.id
		WHERE s.group_id = $1 AND s.is_active = true
		  AND s.end_time > NOW()
		  AND s.start_time < NOW() + make_interval(days => $2)
		ORDER BY s.start_time ASC
	`, groupID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming shifts: %w", err)
	}
	defer rows.Close()

	shifts := make([]db.Shift, 0)
	for rows.Next() {
		var shift db.Shift
		err := rows.Scan(
			&shift.ID, &shift.SchedulerID, &shift.GroupID, &shift.UserID,
			&shift.StartTime, &shift.EndTime, &shift.IsActive,
			&shift.CreatedAt, &shift.UpdatedAt,
			&shift.UserName, &shift.UserEmail,
		)
		if err != nil {
			log.Printf("[oncall] error scanning shift: %v", err)
			continue
		}
		shifts = append(shifts, shift)
	}
	return shifts, nil
}

// IsUserGroupAdmin checks group-level admin role in memberships.
func (s *OnCallService) IsUserGroupAdmin(groupID, userID string) (bool, error) {
	var count int
	err := s.PG.QueryRow(`
		SELECT COUNT(*) FROM group_members
		WHERE group_id = $1 AND user_id = $2 AND role = 'admin'
	`, groupID, userID).Scan(&count)
	return count > 0, err
}

// SwapShifts exchanges the users of two shifts in the same group by creating
// one override on each shift, both attributed to the requestor. Shift rows are
// never mutated, so deleting the overrides undoes the swap.
func (s *OnCallService) SwapShifts(req db.ShiftSwapRequest, requestorID string) (db.ShiftSwapResponse, error) {
	var response db.ShiftSwapResponse

	shiftA, err := s.getShiftByID(req.CurrentShiftID)
	if err != nil {
		return response, err
	}
	shiftB, err := s.getShiftByID(req.TargetShiftID)
	if err != nil {
		return response, err
	}

	if shiftA.GroupID != shiftB.GroupID {
		return response, apperr.New(apperr.KindValidation, "cannot swap shifts from different groups")
	}

	isAdmin, err := s.IsUserGroupAdmin(shiftA.GroupID, requestorID)
	if err != nil {
		return response, fmt.Errorf("failed to check group role: %w", err)
	}
	if !isAdmin && shiftA.UserID != requestorID {
		return response, apperr.New(apperr.KindForbidden, "only group admins can swap other people's shifts")
	}

	tx, err := s.PG.Begin()
	if err != nil {
		return response, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	reason := req.SwapMessage
	if reason == "" {
		reason = "shift swap"
	}

	for _, pair := range []struct {
		shiftID string
		userID  string
	}{
		{shiftA.ID, shiftB.UserID},
		{shiftB.ID, shiftA.UserID},
	} {
		_, err = tx.Exec(`
			INSERT INTO schedule_overrides (id, shift_id, group_id, override_user_id,
				override_reason, is_active, created_at, updated_at, created_by)
			VALUES ($1, $2, $3, $4, $5, true, $6, $6, $7)
		`, uuid.New().String(), pair.shiftID, shiftA.GroupID, pair.userID, reason, now, requestorID)
		if err != nil {
			return response, fmt.Errorf("failed to create swap override: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return response, fmt.Errorf("failed to commit swap: %w", err)
	}

	swappedA := shiftA
	swappedA.UserID = shiftB.UserID
	swappedB := shiftB
	swappedB.UserID = shiftA.UserID

	response.Success = true
	response.Message = "Shifts swapped successfully"
	response.SwappedAt = now
	response.CurrentShift = swappedA
	response.TargetShift = swappedB
	return response, nil
}

func (s *OnCallService) getShiftByID(shiftID string) (db.Shift, error) {
	var shift db.Shift
	err := s.PG.QueryRow(`
		SELECT s.id, s.scheduler_id, s.group_id, s.user_id, s.start_time, s.end_time,
		       s.is_active, s.created_at, s.updated_at,
		       u.name as user_name, u.email as user_email
		FROM shifts s
		JOIN users u ON s.user_id = u.id
		WHERE s.id = $1 AND s.is_active = true
	`, shiftID).Scan(
		&shift.ID, &shift.SchedulerID, &shift.GroupID, &shift.UserID,
		&shift.StartTime, &shift.EndTime, &shift.IsActive,
		&shift.CreatedAt, &shift.UpdatedAt,
		&shift.UserName, &shift.UserEmail,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return shift, apperr.New(apperr.KindNotFound, "shift not found")
		}
		return shift, fmt.Errorf("failed to get shift: %w", err)
	}
	return shift, nil
}
