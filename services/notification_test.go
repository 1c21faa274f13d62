package services

import (
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLightweightSender_EnqueuesToQueue(t *testing.T) {
	tests := []struct {
		name         string
		send         func(*LightweightNotificationSender) error
		wantType     string
		wantPriority string
		wantChannels []interface{}
	}{
		{
			name:         "assigned pages on all channels",
			send:         func(s *LightweightNotificationSender) error { return s.SendIncidentAssignedNotification("u1", "inc-1") },
			wantType:     "assigned",
			wantPriority: "high",
			wantChannels: []interface{}{"slack", "push"},
		},
		{
			name:         "escalated pages on all channels",
			send:         func(s *LightweightNotificationSender) error { return s.SendIncidentEscalatedNotification("u1", "inc-1") },
			wantType:     "escalated",
			wantPriority: "high",
			wantChannels: []interface{}{"slack", "push"},
		},
		{
			name:         "acknowledged is informational",
			send:         func(s *LightweightNotificationSender) error { return s.SendIncidentAcknowledgedNotification("u1", "inc-1") },
			wantType:     "acknowledged",
			wantPriority: "medium",
			wantChannels: []interface{}{"slack"},
		},
		{
			name:         "resolved is informational",
			send:         func(s *LightweightNotificationSender) error { return s.SendIncidentResolvedNotification("u1", "inc-1") },
			wantType:     "resolved",
			wantPriority: "medium",
			wantChannels: []interface{}{"slack"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer pg.Close()

			var payload string
			mock.ExpectExec(regexp.QuoteMeta("SELECT pgmq.send($1, $2)")).
				WithArgs(NotificationQueue, captureArg(&payload)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			sender := NewLightweightNotificationSender(pg)
			require.NoError(t, tt.send(sender))
			require.NoError(t, mock.ExpectationsWereMet())

			var msg map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(payload), &msg))
			assert.Equal(t, tt.wantType, msg["type"])
			assert.Equal(t, "u1", msg["user_id"])
			assert.Equal(t, "inc-1", msg["incident_id"])
			assert.Equal(t, tt.wantPriority, msg["priority"])
			assert.Equal(t, tt.wantChannels, msg["channels"].([]interface{}))
			assert.Equal(t, float64(0), msg["retry_count"])
		})
	}
}

// captureArg records the matched driver value so the test can decode it.
func captureArg(dst *string) sqlmock.Argument {
	return argCapture{dst}
}

type argCapture struct {
	dst *string
}

func (a argCapture) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	*a.dst = s
	return true
}
