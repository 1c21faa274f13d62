package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSystemUserBySource(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"prometheus", SystemUserPrometheus},
		{"datadog", SystemUserDatadog},
		{"grafana", SystemUserGrafana},
		{"aws", SystemUserAWS},
		{"cloudwatch", SystemUserAWS},
		{"pagerduty", SystemUserPagerDuty},
		{"coralogix", SystemUserCoralogix},
		{"webhook", SystemUserWebhook},
		{"api", SystemUserAPI},
		{"something-else", SystemUserWebhook},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, GetSystemUserBySource(tt.source))
		})
	}
}

// incidents.resolved_by and acknowledged_by reference users, so every system
// user id this package hands out must be seeded by the schema.
func TestSystemUsersSeededByMigration(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "migrations", "0009_system_users.sql"))
	require.NoError(t, err)

	seed := string(data)
	for _, id := range []string{
		SystemUserPrometheus, SystemUserDatadog, SystemUserGrafana,
		SystemUserAWS, SystemUserWebhook, SystemUserAPI,
		SystemUserPagerDuty, SystemUserCoralogix,
	} {
		assert.Contains(t, seed, id)
		assert.True(t, IsSystemUser(id))
	}
}
