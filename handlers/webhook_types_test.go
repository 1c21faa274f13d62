package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusNormalize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    NormalizedAlert
	}{
		{
			name: "firing alert with fingerprint",
			payload: `{
				"status": "firing",
				"labels": {"alertname": "HighCPU", "severity": "critical", "instance": "web-1", "job": "node"},
				"annotations": {"summary": "CPU above 90%", "description": "for 10 minutes"},
				"startsAt": "2025-01-06T09:00:00Z",
				"fingerprint": "abc123"
			}`,
			want: NormalizedAlert{
				Name:        "HighCPU",
				Severity:    "critical",
				Status:      "firing",
				Summary:     "CPU above 90%",
				Description: "for 10 minutes",
				Fingerprint: "abc123",
				Priority:    "P1",
			},
		},
		{
			name: "missing fingerprint falls back to label triple",
			payload: `{
				"status": "firing",
				"labels": {"alertname": "DiskFull", "instance": "db-1", "job": "node"}
			}`,
			want: NormalizedAlert{
				Name:        "DiskFull",
				Severity:    "warning",
				Status:      "firing",
				Fingerprint: "DiskFull-db-1-node",
				Priority:    "P3",
			},
		},
		{
			name:    "empty labels get defaults",
			payload: `{"status": "resolved", "labels": {}}`,
			want: NormalizedAlert{
				Name:        "unknown",
				Severity:    "warning",
				Status:      "resolved",
				Fingerprint: "--",
				Priority:    "P3",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var alert PrometheusAlert
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &alert))

			got := alert.Normalize()
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Severity, got.Severity)
			assert.Equal(t, tt.want.Status, got.Status)
			assert.Equal(t, tt.want.Summary, got.Summary)
			assert.Equal(t, tt.want.Description, got.Description)
			assert.Equal(t, tt.want.Fingerprint, got.Fingerprint)
			assert.Equal(t, tt.want.Priority, got.Priority)
		})
	}
}

func TestDatadogNormalize(t *testing.T) {
	payload := `{
		"id": "evt-1",
		"title": "CPU spike on web-1",
		"body": "monitor body",
		"alert_priority": "P1",
		"transition": "Triggered",
		"date": "1736154000000",
		"aggregate": "agg-key-1",
		"org": {"id": "1", "name": "acme"}
	}`

	var webhook DatadogWebhook
	require.NoError(t, json.Unmarshal([]byte(payload), &webhook))

	got := webhook.Normalize()
	assert.Equal(t, "CPU spike on web-1", got.Name)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "firing", got.Status)
	assert.Equal(t, "P1", got.Priority)
	assert.Equal(t, "agg-key-1", got.Fingerprint)
	// Millisecond epoch string
	assert.Equal(t, time.Unix(0, 1736154000000*int64(time.Millisecond)), got.StartsAt)
}

func TestDatadogNormalize_Recovered(t *testing.T) {
	var webhook DatadogWebhook
	require.NoError(t, json.Unmarshal([]byte(`{
		"title": "CPU spike on web-1",
		"alert_priority": "P2",
		"transition": "Recovered"
	}`), &webhook))

	got := webhook.Normalize()
	assert.Equal(t, "resolved", got.Status)
	assert.Equal(t, "info", got.Severity, "recovered events downgrade severity")
}

func TestDatadogPrioritySeverity(t *testing.T) {
	tests := []struct {
		priority string
		want     string
	}{
		{"P1", "critical"},
		{"p1", "critical"},
		{"P2", "high"},
		{"P3", "warning"},
		{"P4", "low"},
		{"P5", "info"},
		{"", "warning"},
		{"P9", "warning"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, datadogPrioritySeverity(tt.priority), tt.priority)
	}
}

func TestGrafanaNormalize(t *testing.T) {
	payload := `{
		"title": "[Alerting] High latency",
		"state": "alerting",
		"message": "p99 above 2s",
		"ruleName": "HighLatency",
		"ruleUrl": "https://grafana.example.com/d/abc",
		"commonLabels": {"service": "checkout"}
	}`

	var webhook GrafanaWebhook
	require.NoError(t, json.Unmarshal([]byte(payload), &webhook))

	got := webhook.Normalize()
	assert.Equal(t, "HighLatency", got.Name)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "firing", got.Status)
	assert.Equal(t, "p99 above 2s", got.Summary)
	assert.Equal(t, "checkout", got.Labels["service"])
	assert.Equal(t, "P1", got.Priority)

	webhook.State = "ok"
	got = webhook.Normalize()
	assert.Equal(t, "resolved", got.Status)
	assert.Equal(t, "info", got.Severity)
}

func TestCloudWatchNormalize(t *testing.T) {
	payload := `{
		"AlarmName": "rds-cpu-high",
		"AlarmDescription": "RDS CPU above threshold",
		"NewStateValue": "ALARM",
		"NewStateReason": "Threshold crossed",
		"Region": "us-east-1",
		"AlarmArn": "arn:aws:cloudwatch:us-east-1:123:alarm:rds-cpu-high",
		"Trigger": {
			"Namespace": "AWS/RDS",
			"Dimensions": [{"name": "DBInstanceIdentifier", "value": "prod-db"}]
		}
	}`

	var alarm CloudWatchAlarm
	require.NoError(t, json.Unmarshal([]byte(payload), &alarm))

	got := alarm.Normalize()
	assert.Equal(t, "rds-cpu-high", got.Name)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "firing", got.Status)
	assert.Equal(t, "arn:aws:cloudwatch:us-east-1:123:alarm:rds-cpu-high", got.Fingerprint)
	assert.Equal(t, "prod-db", got.Labels["DBInstanceIdentifier"])
	assert.Equal(t, "AWS/RDS", got.Labels["namespace"])

	alarm.NewStateValue = "OK"
	got = alarm.Normalize()
	assert.Equal(t, "resolved", got.Status)
	assert.Equal(t, "info", got.Severity)
}

func TestPagerDutyNormalize(t *testing.T) {
	payload := `{
		"event": {
			"event_type": "incident.triggered",
			"data": {
				"id": "PD123",
				"title": "Checkout errors",
				"status": "triggered",
				"incident_key": "key-1",
				"urgency": "high",
				"service": {"name": "checkout"},
				"custom_details": {"region": "us-east-1"}
			}
		}
	}`

	var webhook PagerDutyWebhook
	require.NoError(t, json.Unmarshal([]byte(payload), &webhook))

	got := webhook.Normalize()
	assert.Equal(t, "Checkout errors", got.Name)
	assert.Equal(t, "high", got.Severity)
	assert.Equal(t, "firing", got.Status)
	assert.Equal(t, "key-1", got.Fingerprint)
	assert.Equal(t, "checkout", got.Labels["service_name"])
	assert.Contains(t, got.Description, "region: us-east-1")
}

func TestPagerDutyNormalize_Resolved(t *testing.T) {
	var webhook PagerDutyWebhook
	require.NoError(t, json.Unmarshal([]byte(`{
		"event": {
			"event_type": "incident.resolved",
			"data": {"id": "PD123", "title": "Checkout errors", "status": "resolved"}
		}
	}`), &webhook))

	got := webhook.Normalize()
	assert.Equal(t, "resolved", got.Status)
	assert.Equal(t, "PD123", got.Fingerprint, "incident id when no incident key")
}

func TestCoralogixNormalize(t *testing.T) {
	payload := `{
		"alert_id": "cx-1",
		"alert_name": "ErrorRateHigh",
		"alert_severity": "Critical",
		"alert_action": "trigger",
		"application": "payments",
		"subsystem": "api",
		"timestamp": "2025-01-06T09:00:00Z",
		"meta_labels": {"team": "core"}
	}`

	var webhook CoralogixWebhook
	require.NoError(t, json.Unmarshal([]byte(payload), &webhook))

	got := webhook.Normalize()
	assert.Equal(t, "ErrorRateHigh", got.Name)
	assert.Equal(t, "critical", got.Severity)
	assert.Equal(t, "firing", got.Status)
	assert.Equal(t, "cx-1", got.Fingerprint)
	assert.Equal(t, "core", got.Labels["meta_team"])
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), got.StartsAt.UTC())

	webhook.AlertAction = "resolve"
	webhook.AlertID = ""
	got = webhook.Normalize()
	assert.Equal(t, "resolved", got.Status)
	assert.Equal(t, "coralogix-ErrorRateHigh-payments-api", got.Fingerprint)
}

func TestSeverityToPriority(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"critical", "P1"},
		{"high", "P2"},
		{"error", "P2"},
		{"warning", "P3"},
		{"low", "P4"},
		{"info", "P5"},
		{"unknown", "P3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, severityToPriority(tt.severity), tt.severity)
	}
}
