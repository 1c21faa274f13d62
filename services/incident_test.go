package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

func TestNextIncidentStatus(t *testing.T) {
	tests := []struct {
		current string
		event   string
		want    string
		wantErr bool
	}{
		{db.IncidentStatusTriggered, TransitionAcknowledge, db.IncidentStatusAcknowledged, false},
		{db.IncidentStatusTriggered, TransitionResolve, db.IncidentStatusResolved, false},
		{db.IncidentStatusTriggered, TransitionTrigger, "", true},
		{db.IncidentStatusAcknowledged, TransitionResolve, db.IncidentStatusResolved, false},
		{db.IncidentStatusAcknowledged, TransitionAcknowledge, "", true},
		{db.IncidentStatusResolved, TransitionAcknowledge, "", true},
		{db.IncidentStatusResolved, TransitionResolve, "", true},
		{"garbage", TransitionAcknowledge, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.current+"_"+tt.event, func(t *testing.T) {
			got, err := NextIncidentStatus(tt.current, tt.event)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindConflict))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain error")))
	assert.False(t, isUniqueViolation(nil))
}

func newWebhookIncident() *db.Incident {
	return &db.Incident{
		Title:          "High CPU",
		Severity:       "critical",
		Source:         "webhook",
		Fingerprint:    "fp-1",
		OrganizationID: "org-1",
	}
}

func TestCreateIncident_Insert(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incidents")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incident_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, deduped, err := svc.CreateIncident(context.Background(), newWebhookIncident())
	require.NoError(t, err)
	assert.False(t, deduped)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, db.IncidentStatusTriggered, created.Status)
	assert.Equal(t, db.IncidentUrgencyHigh, created.Urgency)
	assert.Equal(t, 1, created.AlertCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIncident_DedupAbsorbsDuplicate(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incidents")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE incidents")).
		WithArgs("org-1", "", "fp-1", db.IncidentStatusResolved).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "status", "urgency", "priority", "fingerprint",
			"alert_count", "assigned_to", "created_at", "updated_at",
		}).AddRow("inc-1", "High CPU", db.IncidentStatusTriggered, db.IncidentUrgencyHigh,
			"P1", "fp-1", 3, "u1", rotationStart, rotationStart))

	created, deduped, err := svc.CreateIncident(context.Background(), newWebhookIncident())
	require.NoError(t, err)
	assert.True(t, deduped)
	assert.Equal(t, "inc-1", created.ID)
	assert.Equal(t, 3, created.AlertCount)
	assert.Equal(t, "u1", created.AssignedTo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The open incident resolving between our insert and the absorb update makes
// both attempts miss; creation then fails instead of looping forever.
func TestCreateIncident_DedupRetryExhausted(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incidents")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()
		mock.ExpectQuery(regexp.QuoteMeta("UPDATE incidents")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}

	_, _, err = svc.CreateIncident(context.Background(), newWebhookIncident())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup retry exhausted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIncident_NonUniqueErrorPropagates(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO incidents")).
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	_, _, err = svc.CreateIncident(context.Background(), newWebhookIncident())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Webhook processing runs under a request deadline; once it expires no new
// transaction may start.
func TestCreateIncident_ContextCanceled(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = svc.CreateIncident(ctx, newWebhookIncident())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledgeIncident_AlreadyResolved(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM incidents")).
		WithArgs("inc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(db.IncidentStatusResolved))

	err = svc.AcknowledgeIncident(context.Background(), "inc-1", "u1", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A resolve signal for an already-resolved incident is a conflict, not a
// second resolution.
func TestAutoResolveIncident_AlreadyResolved(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM incidents")).
		WithArgs("inc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(db.IncidentStatusResolved))

	err = svc.AutoResolveIncident(context.Background(), "inc-1", db.SystemUserPrometheus)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Every incident read is tenant scoped: the organization id is bound into the
// query, so rows from another org can never come back.
func TestGetIncident_TenantScoped(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE i.id = $1 AND i.organization_id = $2")).
		WithArgs("inc-1", "org-b").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = svc.GetIncident("inc-1", db.NewTenantFilter("org-b", ""))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListIncidents_TenantScoped(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	svc := NewIncidentService(pg)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE i.organization_id = $2")).
		WithArgs("u1", "org-a", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	incidents, err := svc.ListIncidents("u1", db.NewTenantFilter("org-a", ""), IncidentListOptions{})
	require.NoError(t, err)
	assert.Empty(t, incidents)
	assert.NoError(t, mock.ExpectationsWereMet())
}
