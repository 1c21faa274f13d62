package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

// DefaultExpansionHorizonDays bounds how far into the future rotations are
// materialized into shift rows.
const DefaultExpansionHorizonDays = 90

type RotationService struct {
	PG          *sql.DB
	HorizonDays int
}

func NewRotationService(pg *sql.DB, horizonDays int) *RotationService {
	if horizonDays <= 0 {
		horizonDays = DefaultExpansionHorizonDays
	}
	return &RotationService{PG: pg, HorizonDays: horizonDays}
}

// GeneratedShift is one (start, end, user) triple produced by expansion.
type GeneratedShift struct {
	StartTime time.Time
	EndTime   time.Time
	UserID    string
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseHandoffDay(day string) (time.Weekday, error) {
	wd, ok := weekdayNames[strings.ToLower(day)]
	if !ok {
		return 0, apperr.Newf(apperr.KindValidation, "invalid handoff day: %s", day)
	}
	return wd, nil
}

func parseHandoffTime(hhmm string) (hour, minute int, err error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return 0, 0, apperr.Newf(apperr.KindValidation, "invalid handoff time: %s", hhmm)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, apperr.Newf(apperr.KindValidation, "invalid handoff time: %s", hhmm)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, apperr.Newf(apperr.KindValidation, "invalid handoff time: %s", hhmm)
	}
	return hour, minute, nil
}

// shiftEnd advances a shift start by the rotation's shift length. one_month
// uses calendar months so Jan 31 + one_month lands per AddDate semantics.
func shiftEnd(start time.Time, shiftLength string) (time.Time, error) {
	switch shiftLength {
	case db.ShiftLengthOneDay:
		return start.AddDate(0, 0, 1), nil
	case db.ShiftLengthOneWeek:
		return start.AddDate(0, 0, 7), nil
	case db.ShiftLengthTwoWeeks:
		return start.AddDate(0, 0, 14), nil
	case db.ShiftLengthOneMonth:
		return start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, apperr.Newf(apperr.KindValidation, "invalid shift length: %s", shiftLength)
	}
}

// nextHandoff returns the earliest instant >= t that falls on the handoff
// weekday at the handoff clock time, in UTC.
func nextHandoff(t time.Time, day time.Weekday, hour, minute int) time.Time {
	t = t.UTC()
	candidate := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, time.UTC)
	daysAhead := (int(day) - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, daysAhead)
	if candidate.Before(t) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// ExpandRotation produces the deterministic shift sequence for a rotation over
// [start_at, min(end_at, now+horizon)). The first shift starts at start_at;
// every later shift starts at the next handoff instant at or after the
// previous shift's end. Users cycle round-robin through user_order. An empty
// user_order yields no shifts.
func (s *RotationService) ExpandRotation(rotation db.Rotation, now time.Time) ([]GeneratedShift, error) {
	if len(rotation.UserOrder) == 0 {
		return nil, nil
	}

	day, err := parseHandoffDay(rotation.HandoffDay)
	if err != nil {
		return nil, err
	}
	hour, minute, err := parseHandoffTime(rotation.HandoffTime)
	if err != nil {
		return nil, err
	}

	windowEnd := now.UTC().AddDate(0, 0, s.HorizonDays)
	if rotation.EndAt != nil && rotation.EndAt.Before(windowEnd) {
		windowEnd = rotation.EndAt.UTC()
	}

	var shifts []GeneratedShift
	start := rotation.StartAt.UTC()
	for i := 0; start.Before(windowEnd); i++ {
		end, err := shiftEnd(start, rotation.ShiftLength)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, GeneratedShift{
			StartTime: start,
			EndTime:   end,
			UserID:    rotation.UserOrder[i%len(rotation.UserOrder)],
		})
		start = nextHandoff(end, day, hour, minute)
	}

	return shifts, nil
}

// CreateRotation inserts the rotation and materializes its shifts.
func (s *RotationService) CreateRotation(schedulerID string, req db.CreateRotationRequest, createdBy string) (db.Rotation, error) {
	var rotation db.Rotation

	if req.EndAt != nil && !req.EndAt.After(req.StartAt) {
		return rotation, apperr.New(apperr.KindValidation, "end_at must be after start_at")
	}
	if _, err := parseHandoffDay(req.HandoffDay); err != nil {
		return rotation, err
	}
	if _, _, err := parseHandoffTime(req.HandoffTime); err != nil {
		return rotation, err
	}
	if _, err := shiftEnd(req.StartAt, req.ShiftLength); err != nil {
		return rotation, err
	}

	userOrderJSON, err := json.Marshal(req.UserOrder)
	if err != nil {
		return rotation, fmt.Errorf("failed to marshal user order: %w", err)
	}

	rotation = db.Rotation{
		ID:          uuid.New().String(),
		SchedulerID: schedulerID,
		Name:        req.Name,
		ShiftLength: req.ShiftLength,
		HandoffDay:  strings.ToLower(req.HandoffDay),
		HandoffTime: req.HandoffTime,
		StartAt:     req.StartAt.UTC(),
		EndAt:       req.EndAt,
		UserOrder:   req.UserOrder,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		CreatedBy:   createdBy,
	}

	_, err = s.PG.Exec(`
		INSERT INTO rotations (id, scheduler_id, name, shift_length, handoff_day, handoff_time,
		                       start_at, end_at, user_order, is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rotation.ID, rotation.SchedulerID, rotation.Name, rotation.ShiftLength, rotation.HandoffDay,
		rotation.HandoffTime, rotation.StartAt, rotation.EndAt, string(userOrderJSON),
		rotation.IsActive, rotation.CreatedAt, rotation.UpdatedAt, nullIfEmpty(rotation.CreatedBy))
	if err != nil {
		return rotation, fmt.Errorf("failed to create rotation: %w", err)
	}

	if _, err := s.RegenerateShifts(rotation.ID); err != nil {
		log.Printf("[rotation] shift generation failed for rotation %s: %v", rotation.ID, err)
	}

	return rotation, nil
}

// GetRotation returns one rotation, or nil when it does not exist.
func (s *RotationService) GetRotation(id string) (*db.Rotation, error) {
	row := s.PG.QueryRow(`
		SELECT id, scheduler_id, name, shift_length, handoff_day, handoff_time,
		       start_at, end_at, user_order::text, is_active, created_at, updated_at,
		       COALESCE(created_by::text, '')
		FROM rotations
		WHERE id = $1
	`, id)

	rotation, err := scanRotation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rotation: %w", err)
	}
	return rotation, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRotation(row rowScanner) (*db.Rotation, error) {
	var rotation db.Rotation
	var endAt sql.NullTime
	var userOrderJSON string

	err := row.Scan(&rotation.ID, &rotation.SchedulerID, &rotation.Name, &rotation.ShiftLength,
		&rotation.HandoffDay, &rotation.HandoffTime, &rotation.StartAt, &endAt, &userOrderJSON,
		&rotation.IsActive, &rotation.CreatedAt, &rotation.UpdatedAt, &rotation.CreatedBy)
	if err != nil {
		return nil, err
	}
	if endAt.Valid {
		rotation.EndAt = &endAt.Time
	}
	if err := json.Unmarshal([]byte(userOrderJSON), &rotation.UserOrder); err != nil {
		return nil, fmt.Errorf("failed to parse user order: %w", err)
	}
	return &rotation, nil
}

// ListRotations returns all active rotations of a scheduler.
func (s *RotationService) ListRotations(schedulerID string) ([]db.Rotation, error) {
	rows, err := s.PG.Query(`
		SELECT id, scheduler_id, name, shift_length, handoff_day, handoff_time,
		       start_at, end_at, user_order::text, is_active, created_at, updated_at,
		       COALESCE(created_by::text, '')
		FROM rotations
		WHERE scheduler_id = $1 AND is_active = true
		ORDER BY created_at ASC
	`, schedulerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rotations: %w", err)
	}
	defer rows.Close()

	rotations := make([]db.Rotation, 0)
	for rows.Next() {
		rotation, err := scanRotation(rows)
		if err != nil {
			log.Printf("[rotation] error scanning rotation: %v", err)
			continue
		}
		rotations = append(rotations, *rotation)
	}
	return rotations, nil
}

// UpdateRotation applies partial updates and regenerates future shifts when
// any expansion input changed.
func (s *RotationService) UpdateRotation(id string, req db.UpdateRotationRequest) (*db.Rotation, error) {
	rotation, err := s.GetRotation(id)
	if err != nil {
		return nil, err
	}
	if rotation == nil {
		return nil, apperr.New(apperr.KindNotFound, "rotation not found")
	}

	expansionChanged := false
	if req.Name != nil {
		rotation.Name = *req.Name
	}
	if req.ShiftLength != nil {
		if _, err := shiftEnd(rotation.StartAt, *req.ShiftLength); err != nil {
			return nil, err
		}
		rotation.ShiftLength = *req.ShiftLength
		expansionChanged = true
	}
	if req.HandoffDay != nil {
		if _, err := parseHandoffDay(*req.HandoffDay); err != nil {
			return nil, err
		}
		rotation.HandoffDay = strings.ToLower(*req.HandoffDay)
		expansionChanged = true
	}
	if req.HandoffTime != nil {
		if _, _, err := parseHandoffTime(*req.HandoffTime); err != nil {
			return nil, err
		}
		rotation.HandoffTime = *req.HandoffTime
		expansionChanged = true
	}
	if req.StartAt != nil {
		rotation.StartAt = req.StartAt.UTC()
		expansionChanged = true
	}
	if req.EndAt != nil {
		rotation.EndAt = req.EndAt
		expansionChanged = true
	}
	if req.UserOrder != nil {
		rotation.UserOrder = req.UserOrder
		expansionChanged = true
	}
	if req.IsActive != nil {
		rotation.IsActive = *req.IsActive
	}

	if rotation.EndAt != nil && !rotation.EndAt.After(rotation.StartAt) {
		return nil, apperr.New(apperr.KindValidation, "end_at must be after start_at")
	}

	userOrderJSON, err := json.Marshal(rotation.UserOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user order: %w", err)
	}

	rotation.UpdatedAt = time.Now()
	_, err = s.PG.Exec(`
		UPDATE rotations
		SET name = $2, shift_length = $3, handoff_day = $4, handoff_time = $5,
		    start_at = $6, end_at = $7, user_order = $8, is_active = $9, updated_at = $10
		WHERE id = $1
	`, rotation.ID, rotation.Name, rotation.ShiftLength, rotation.HandoffDay, rotation.HandoffTime,
		rotation.StartAt, rotation.EndAt, string(userOrderJSON), rotation.IsActive, rotation.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update rotation: %w", err)
	}

	if expansionChanged {
		if err := s.dropFutureShifts(rotation.ID); err != nil {
			return nil, err
		}
		if _, err := s.RegenerateShifts(rotation.ID); err != nil {
			log.Printf("[rotation] shift regeneration failed for rotation %s: %v", rotation.ID, err)
		}
	}

	return rotation, nil
}

// DeleteRotation deactivates the rotation and its future shifts. Past and
// in-progress shifts stay untouched.
func (s *RotationService) DeleteRotation(id string) error {
	tx, err := s.PG.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE rotations SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rotation: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "rotation not found")
	}

	_, err = tx.Exec(`
		UPDATE shifts SET is_active = false, updated_at = NOW()
		WHERE rotation_id = $1 AND start_time > NOW()
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate future shifts: %w", err)
	}

	return tx.Commit()
}

func (s *RotationService) dropFutureShifts(rotationID string) error {
	_, err := s.PG.Exec(`
		UPDATE shifts SET is_active = false, updated_at = NOW()
		WHERE rotation_id = $1 AND start_time > NOW()
	`, rotationID)
	if err != nil {
		return fmt.Errorf("failed to drop future shifts: %w", err)
	}
	return nil
}

// RegenerateShifts expands the rotation and inserts only the shifts that do
// not exist yet, keyed by (rotation_id, start_time). Existing rows are left
// untouched so regeneration is idempotent. Returns the number of new shifts.
func (s *RotationService) RegenerateShifts(rotationID string) (int, error) {
	rotation, err := s.GetRotation(rotationID)
	if err != nil {
		return 0, err
	}
	if rotation == nil {
		return 0, apperr.New(apperr.KindNotFound, "rotation not found")
	}
	if !rotation.IsActive {
		return 0, nil
	}

	var groupID, orgID string
	err = s.PG.QueryRow(`
		SELECT group_id, COALESCE(organization_id::text, '') FROM schedulers WHERE id = $1
	`, rotation.SchedulerID).Scan(&groupID, &orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve scheduler for rotation: %w", err)
	}

	generated, err := s.ExpandRotation(*rotation, time.Now())
	if err != nil {
		return 0, err
	}
	if len(generated) == 0 {
		return 0, nil
	}

	existing := make(map[int64]bool)
	rows, err := s.PG.Query(`
		SELECT start_time FROM shifts WHERE rotation_id = $1 AND is_active = true
	`, rotationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load existing shifts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var startTime time.Time
		if err := rows.Scan(&startTime); err != nil {
			continue
		}
		existing[startTime.Unix()] = true
	}

	var newShifts []GeneratedShift
	for _, shift := range generated {
		if !existing[shift.StartTime.Unix()] {
			newShifts = append(newShifts, shift)
		}
	}
	if len(newShifts) == 0 {
		return 0, nil
	}

	// Batch insert with one multi-VALUES statement
	valueStrings := make([]string, 0, len(newShifts))
	args := make([]interface{}, 0, len(newShifts)*4)
	argIndex := 1
	for _, shift := range newShifts {
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, true, NOW(), NOW())",
			argIndex, argIndex+1, argIndex+2, argIndex+3, argIndex+4, argIndex+5, argIndex+6))
		args = append(args,
			uuid.New().String(), rotation.SchedulerID, rotationID, groupID,
			shift.UserID, shift.StartTime, shift.EndTime)
		argIndex += 7
	}

	query := fmt.Sprintf(`
		INSERT INTO shifts (id, scheduler_id, rotation_id, group_id, user_id, start_time, end_time, is_active, created_at, updated_at)
		VALUES %s
	`, strings.Join(valueStrings, ", "))

	if _, err := s.PG.Exec(query, args...); err != nil {
		return 0, fmt.Errorf("failed to insert shifts: %w", err)
	}

	log.Printf("[rotation] generated %d shifts for rotation %s (%s)", len(newShifts), rotation.Name, rotationID)
	return len(newShifts), nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
