package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resqhq/resq/db"
)

func testIntegration() *db.Integration {
	return &db.Integration{
		ID:             "int-1",
		Type:           "prometheus",
		OrganizationID: "org-1",
		IsActive:       true,
	}
}

func TestMatchesRoutingConditions(t *testing.T) {
	alert := NormalizedAlert{
		Name:     "HighCPU",
		Severity: "critical",
		Labels: map[string]interface{}{
			"env":  "prod",
			"team": "payments",
		},
	}

	tests := []struct {
		name       string
		conditions map[string]interface{}
		want       bool
	}{
		{"nil conditions match everything", nil, true},
		{"empty conditions match everything", map[string]interface{}{}, true},
		{"severity hit", map[string]interface{}{
			"severity": []interface{}{"critical", "high"},
		}, true},
		{"severity miss", map[string]interface{}{
			"severity": []interface{}{"info", "warning"},
		}, false},
		{"alertname hit", map[string]interface{}{
			"alertname": []interface{}{"HighCPU"},
		}, true},
		{"alertname wildcard", map[string]interface{}{
			"alertname": []interface{}{"*"},
		}, true},
		{"alertname miss", map[string]interface{}{
			"alertname": []interface{}{"DiskFull"},
		}, false},
		{"label hit", map[string]interface{}{
			"labels": map[string]interface{}{"env": "prod"},
		}, true},
		{"label value mismatch", map[string]interface{}{
			"labels": map[string]interface{}{"env": "staging"},
		}, false},
		{"label key missing", map[string]interface{}{
			"labels": map[string]interface{}{"region": "us-east-1"},
		}, false},
		{"conditions AND together", map[string]interface{}{
			"severity":  []interface{}{"critical"},
			"alertname": []interface{}{"HighCPU"},
			"labels":    map[string]interface{}{"team": "payments"},
		}, true},
		{"one failing condition sinks the match", map[string]interface{}{
			"severity":  []interface{}{"critical"},
			"alertname": []interface{}{"DiskFull"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesRoutingConditions(alert, tt.conditions))
		})
	}
}

func TestParseAlerts_TypedPayloads(t *testing.T) {
	prometheusBody := []byte(`{
		"version": "4",
		"status": "firing",
		"alerts": [
			{"status": "firing", "labels": {"alertname": "HighCPU", "severity": "critical"}},
			{"status": "resolved", "labels": {"alertname": "DiskFull"}}
		]
	}`)

	alerts := parseAlerts("prometheus", prometheusBody)
	require.Len(t, alerts, 2)
	assert.Equal(t, "HighCPU", alerts[0].Name)
	assert.Equal(t, "firing", alerts[0].Status)
	assert.Equal(t, "DiskFull", alerts[1].Name)
	assert.Equal(t, "resolved", alerts[1].Status)
}

func TestParseAlerts_FallsBackToGeneric(t *testing.T) {
	// Not a Prometheus shape, but still a valid generic alert
	body := []byte(`{"alert_name": "custom-check", "severity": "high", "status": "firing"}`)

	alerts := parseAlerts("prometheus", body)
	require.Len(t, alerts, 1)
	assert.Equal(t, "custom-check", alerts[0].Name)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestParseAlerts_GenericDefaults(t *testing.T) {
	alerts := parseAlerts("webhook", []byte(`{}`))
	require.Len(t, alerts, 1)
	assert.Equal(t, "generic-alert", alerts[0].Name)
	assert.Equal(t, "warning", alerts[0].Severity)
	assert.Equal(t, "firing", alerts[0].Status)
	assert.Equal(t, "P3", alerts[0].Priority)
}

func TestParseAlerts_DatadogCompoundTransition(t *testing.T) {
	body := []byte(`{"title": "CPU high", "alert_priority": "P1", "alert_transition": "Triggered->Recovered"}`)

	alerts := parseAlerts("datadog", body)
	require.Len(t, alerts, 1)
	assert.Equal(t, "CPU high", alerts[0].Name)
	assert.Equal(t, "resolved", alerts[0].Status)
	assert.Equal(t, "info", alerts[0].Severity)
}

func TestDatadogTransitionStatus(t *testing.T) {
	tests := []struct {
		transition string
		want       string
	}{
		{"Triggered", "firing"},
		{"Recovered", "resolved"},
		{"Triggered->Recovered", "resolved"},
		{"Warn->Recovered", "resolved"},
		{"ok", "resolved"},
		{"", "firing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, datadogTransitionStatus(tt.transition), tt.transition)
	}
}

// Datadog webhook templates can emit a numeric event id, which the typed
// adapter rejects. The legacy decoder still reads the transition.
func TestParseAlerts_DatadogLegacyDecode(t *testing.T) {
	body := []byte(`{"id": 123, "title": "CPU high", "alert_priority": "P2", "alert_transition": "Triggered->Recovered"}`)

	alerts := parseAlerts("datadog", body)
	require.Len(t, alerts, 1)
	assert.Equal(t, "CPU high", alerts[0].Name)
	assert.Equal(t, "resolved", alerts[0].Status)
	assert.Equal(t, "info", alerts[0].Severity)
	assert.Equal(t, "datadog", alerts[0].Labels["source"])
	assert.Equal(t, "Triggered->Recovered", alerts[0].Labels["transition"])
}

func TestParseAlerts_PrometheusLegacyDecode(t *testing.T) {
	// startsAt is not RFC3339, so the typed adapter cannot unmarshal it.
	body := []byte(`{
		"alerts": [
			{"status": "firing", "startsAt": "yesterday",
			 "labels": {"alertname": "HighCPU", "severity": "critical", "instance": "web-1", "job": "node"}}
		]
	}`)

	alerts := parseAlerts("prometheus", body)
	require.Len(t, alerts, 1)
	assert.Equal(t, "HighCPU", alerts[0].Name)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, "firing", alerts[0].Status)
	assert.Equal(t, "HighCPU-web-1-node", alerts[0].Fingerprint)
}

func TestParseAlerts_PagerDutyFlatPayload(t *testing.T) {
	// Posted incident directly, without the v3 event envelope.
	body := []byte(`{"title": "DB down", "status": "resolved", "urgency": "high", "incident_key": "k1"}`)

	alerts := parseAlerts("pagerduty", body)
	require.Len(t, alerts, 1)
	assert.Equal(t, "DB down", alerts[0].Name)
	assert.Equal(t, "resolved", alerts[0].Status)
	assert.Equal(t, "k1", alerts[0].Fingerprint)
}

func TestBuildIncident(t *testing.T) {
	integration := testIntegration()
	alert := NormalizedAlert{
		Name:        "HighCPU",
		Severity:    "critical",
		Status:      "firing",
		Fingerprint: "fp-1",
		Labels:      map[string]interface{}{"env": "prod"},
	}

	incident := buildIncident(integration, alert, &matchedRoute{})
	assert.Equal(t, "HighCPU", incident.Title)
	assert.Equal(t, "webhook", incident.Source)
	assert.Equal(t, integration.OrganizationID, incident.OrganizationID)
	assert.Equal(t, "high", incident.Urgency)
	assert.Equal(t, "fp-1", incident.Fingerprint)
	assert.Equal(t, "fp-1", incident.Labels["fingerprint"])
}

func TestBuildIncident_LowSeverityLowUrgency(t *testing.T) {
	integration := testIntegration()

	for _, severity := range []string{"info", "warning"} {
		incident := buildIncident(integration, NormalizedAlert{Name: "a", Severity: severity}, &matchedRoute{})
		assert.Equal(t, "low", incident.Urgency, severity)
	}
}
