package services

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

// 2025-01-06 is a Monday.
var rotationStart = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func weeklyRotation(users ...string) db.Rotation {
	return db.Rotation{
		ID:          "rot-1",
		SchedulerID: "sched-1",
		Name:        "primary",
		ShiftLength: db.ShiftLengthOneWeek,
		HandoffDay:  "monday",
		HandoffTime: "09:00",
		StartAt:     rotationStart,
		UserOrder:   users,
		IsActive:    true,
	}
}

func TestExpandRotation_WeeklyRoundRobin(t *testing.T) {
	svc := &RotationService{HorizonDays: 28}
	rotation := weeklyRotation("u1", "u2", "u3")

	shifts, err := svc.ExpandRotation(rotation, rotationStart)
	require.NoError(t, err)
	require.Len(t, shifts, 4)

	for i, shift := range shifts {
		assert.Equal(t, rotationStart.AddDate(0, 0, 7*i), shift.StartTime, "shift %d start", i)
		assert.Equal(t, rotationStart.AddDate(0, 0, 7*(i+1)), shift.EndTime, "shift %d end", i)
	}
	assert.Equal(t, "u1", shifts[0].UserID)
	assert.Equal(t, "u2", shifts[1].UserID)
	assert.Equal(t, "u3", shifts[2].UserID)
	assert.Equal(t, "u1", shifts[3].UserID, "order wraps around")
}

func TestExpandRotation_Deterministic(t *testing.T) {
	svc := &RotationService{HorizonDays: 28}
	rotation := weeklyRotation("u1", "u2")

	first, err := svc.ExpandRotation(rotation, rotationStart)
	require.NoError(t, err)
	second, err := svc.ExpandRotation(rotation, rotationStart)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExpandRotation_MisalignedStartSnapsToHandoff(t *testing.T) {
	svc := &RotationService{HorizonDays: 28}
	rotation := weeklyRotation("u1", "u2")
	// Wednesday afternoon, off the monday 09:00 boundary
	rotation.StartAt = time.Date(2025, 1, 8, 15, 30, 0, 0, time.UTC)

	shifts, err := svc.ExpandRotation(rotation, rotation.StartAt)
	require.NoError(t, err)
	require.True(t, len(shifts) >= 2)

	// The first shift keeps its ragged start
	assert.Equal(t, rotation.StartAt, shifts[0].StartTime)
	assert.Equal(t, rotation.StartAt.AddDate(0, 0, 7), shifts[0].EndTime)

	// Every later shift starts on the handoff boundary
	second := shifts[1].StartTime
	assert.Equal(t, time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC), second)
	assert.Equal(t, time.Monday, second.Weekday())
}

func TestExpandRotation_EndAtCapsWindow(t *testing.T) {
	svc := &RotationService{HorizonDays: 90}
	rotation := weeklyRotation("u1", "u2", "u3")
	endAt := rotationStart.AddDate(0, 0, 14)
	rotation.EndAt = &endAt

	shifts, err := svc.ExpandRotation(rotation, rotationStart)
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	assert.Equal(t, "u1", shifts[0].UserID)
	assert.Equal(t, "u2", shifts[1].UserID)
}

func TestExpandRotation_EmptyUserOrder(t *testing.T) {
	svc := &RotationService{HorizonDays: 28}
	rotation := weeklyRotation()

	shifts, err := svc.ExpandRotation(rotation, rotationStart)
	assert.NoError(t, err)
	assert.Nil(t, shifts)
}

func TestExpandRotation_InvalidInputs(t *testing.T) {
	svc := &RotationService{HorizonDays: 28}

	tests := []struct {
		name   string
		mutate func(*db.Rotation)
	}{
		{"bad handoff day", func(r *db.Rotation) { r.HandoffDay = "someday" }},
		{"bad handoff time", func(r *db.Rotation) { r.HandoffTime = "9am" }},
		{"hour out of range", func(r *db.Rotation) { r.HandoffTime = "25:00" }},
		{"minute out of range", func(r *db.Rotation) { r.HandoffTime = "09:61" }},
		{"bad shift length", func(r *db.Rotation) { r.ShiftLength = "fortnightly" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rotation := weeklyRotation("u1")
			tt.mutate(&rotation)

			_, err := svc.ExpandRotation(rotation, rotationStart)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestShiftEnd(t *testing.T) {
	start := rotationStart

	tests := []struct {
		length string
		want   time.Time
	}{
		{db.ShiftLengthOneDay, start.AddDate(0, 0, 1)},
		{db.ShiftLengthOneWeek, start.AddDate(0, 0, 7)},
		{db.ShiftLengthTwoWeeks, start.AddDate(0, 0, 14)},
		{db.ShiftLengthOneMonth, time.Date(2025, 2, 6, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := shiftEnd(start, tt.length)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.length)
	}

	// Calendar-month arithmetic normalizes per AddDate: Jan 31 + 1 month
	// overflows February.
	jan31 := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	got, err := shiftEnd(jan31, db.ShiftLengthOneMonth)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), got)
}

func TestNextHandoff(t *testing.T) {
	monday9 := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"exact boundary returns itself", monday9, monday9},
		{"earlier same day", time.Date(2025, 1, 6, 3, 0, 0, 0, time.UTC), monday9},
		{"later same day rolls a week", time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC), monday9.AddDate(0, 0, 7)},
		{"mid week", time.Date(2025, 1, 9, 18, 45, 0, 0, time.UTC), monday9.AddDate(0, 0, 7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextHandoff(tt.from, time.Monday, 9, 0)
			assert.Equal(t, tt.want, got)
		})
	}
}

func rotationColumns() []string {
	return []string{"id", "scheduler_id", "name", "shift_length", "handoff_day", "handoff_time",
		"start_at", "end_at", "user_order", "is_active", "created_at", "updated_at", "created_by"}
}

func TestRegenerateShifts_Idempotent(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewRotationService(pg, 90)
	endAt := rotationStart.AddDate(0, 0, 14)

	mock.ExpectQuery(regexp.QuoteMeta("FROM rotations")).
		WithArgs("rot-1").
		WillReturnRows(sqlmock.NewRows(rotationColumns()).
			AddRow("rot-1", "sched-1", "primary", db.ShiftLengthOneWeek, "monday", "09:00",
				rotationStart, endAt, `["u1","u2"]`, true, rotationStart, rotationStart, ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedulers")).
		WithArgs("sched-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "organization_id"}).AddRow("g1", "org1"))
	// Both generated shifts already exist, so nothing is inserted
	mock.ExpectQuery(regexp.QuoteMeta("SELECT start_time FROM shifts")).
		WithArgs("rot-1").
		WillReturnRows(sqlmock.NewRows([]string{"start_time"}).
			AddRow(rotationStart).
			AddRow(rotationStart.AddDate(0, 0, 7)))

	count, err := svc.RegenerateShifts("rot-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegenerateShifts_InsertsMissing(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewRotationService(pg, 90)
	endAt := rotationStart.AddDate(0, 0, 14)

	mock.ExpectQuery(regexp.QuoteMeta("FROM rotations")).
		WithArgs("rot-1").
		WillReturnRows(sqlmock.NewRows(rotationColumns()).
			AddRow("rot-1", "sched-1", "primary", db.ShiftLengthOneWeek, "monday", "09:00",
				rotationStart, endAt, `["u1","u2"]`, true, rotationStart, rotationStart, ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedulers")).
		WithArgs("sched-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "organization_id"}).AddRow("g1", "org1"))
	// The first shift exists, the second is new
	mock.ExpectQuery(regexp.QuoteMeta("SELECT start_time FROM shifts")).
		WithArgs("rot-1").
		WillReturnRows(sqlmock.NewRows([]string{"start_time"}).AddRow(rotationStart))
	mock.ExpectExec("INSERT INTO shifts").
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := svc.RegenerateShifts("rot-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegenerateShifts_InactiveRotation(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewRotationService(pg, 90)

	mock.ExpectQuery(regexp.QuoteMeta("FROM rotations")).
		WithArgs("rot-1").
		WillReturnRows(sqlmock.NewRows(rotationColumns()).
			AddRow("rot-1", "sched-1", "primary", db.ShiftLengthOneWeek, "monday", "09:00",
				rotationStart, nil, `["u1"]`, false, rotationStart, rotationStart, ""))

	count, err := svc.RegenerateShifts("rot-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
