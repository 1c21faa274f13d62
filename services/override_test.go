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

var (
	shiftStartTime = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	shiftEndTime   = time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC)
)

func expectShiftLookup(mock sqlmock.Sqlmock, scheduledUser string) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM shifts")).
		WithArgs("shift-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "user_id", "start_time", "end_time"}).
			AddRow("g1", scheduledUser, shiftStartTime, shiftEndTime))
}

func TestCreateOverride_WholeShift(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewOverrideService(pg)

	expectShiftLookup(mock, "scheduled-user")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_overrides")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("cover-user").
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).AddRow("Cover", "cover@example.com"))

	override, err := svc.CreateOverride(db.CreateOverrideRequest{
		ShiftID:        "shift-1",
		OverrideUserID: "cover-user",
	}, "creator")
	require.NoError(t, err)
	assert.Equal(t, "g1", override.GroupID)
	assert.Nil(t, override.OverrideStartTime, "nil window covers the whole shift")
	assert.Equal(t, "Cover", override.OverrideUserName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOverride_PartialWindow(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewOverrideService(pg)

	expectShiftLookup(mock, "scheduled-user")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_overrides")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).AddRow("Cover", "cover@example.com"))

	start := shiftStartTime.Add(24 * time.Hour)
	end := shiftStartTime.Add(48 * time.Hour)
	_, err = svc.CreateOverride(db.CreateOverrideRequest{
		ShiftID:           "shift-1",
		OverrideUserID:    "cover-user",
		OverrideStartTime: &start,
		OverrideEndTime:   &end,
	}, "creator")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOverride_OneSidedWindow(t *testing.T) {
	pg, _, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewOverrideService(pg)

	start := shiftStartTime.Add(24 * time.Hour)
	_, err = svc.CreateOverride(db.CreateOverrideRequest{
		ShiftID:           "shift-1",
		OverrideUserID:    "cover-user",
		OverrideStartTime: &start,
	}, "creator")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateOverride_ShiftNotFound(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewOverrideService(pg)

	mock.ExpectQuery(regexp.QuoteMeta("FROM shifts")).
		WithArgs("shift-1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "user_id", "start_time", "end_time"}))

	_, err = svc.CreateOverride(db.CreateOverrideRequest{
		ShiftID:        "shift-1",
		OverrideUserID: "cover-user",
	}, "creator")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateOverride_SameUserRejected(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewOverrideService(pg)

	expectShiftLookup(mock, "cover-user")

	_, err = svc.CreateOverride(db.CreateOverrideRequest{
		ShiftID:        "shift-1",
		OverrideUserID: "cover-user",
	}, "creator")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateOverride_WindowValidation(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"end before start", shiftStartTime.Add(48 * time.Hour), shiftStartTime.Add(24 * time.Hour)},
		{"zero length", shiftStartTime.Add(24 * time.Hour), shiftStartTime.Add(24 * time.Hour)},
		{"starts before shift", shiftStartTime.Add(-time.Hour), shiftStartTime.Add(24 * time.Hour)},
		{"ends after shift", shiftStartTime.Add(24 * time.Hour), shiftEndTime.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer pg.Close()

			svc := NewOverrideService(pg)
			expectShiftLookup(mock, "scheduled-user")

			start, end := tt.start, tt.end
			_, err = svc.CreateOverride(db.CreateOverrideRequest{
				ShiftID:           "shift-1",
				OverrideUserID:    "cover-user",
				OverrideStartTime: &start,
				OverrideEndTime:   &end,
			}, "creator")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestDeleteOverride_NotFound(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewOverrideService(pg)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedule_overrides")).
		WithArgs("ov-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = svc.DeleteOverride("ov-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
