package handlers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Legacy map-driven decoders. Monitoring sources drift from their published
// payload shapes (custom webhook templates, older agent versions), so when the
// typed adapter rejects a payload we retry against the raw map before giving
// up and treating it as generic.

func parseLegacyAlerts(integrationType string, payload map[string]interface{}) []NormalizedAlert {
	switch integrationType {
	case "prometheus":
		return legacyPrometheusAlerts(payload)
	case "datadog":
		return legacyDatadogAlerts(payload)
	case "grafana":
		return legacyGrafanaAlerts(payload)
	case "aws":
		return legacyAWSAlerts(payload)
	case "pagerduty":
		return legacyPagerDutyAlerts(payload)
	case "coralogix":
		return legacyCoralogixAlerts(payload)
	}
	return nil
}

func legacyPrometheusAlerts(payload map[string]interface{}) []NormalizedAlert {
	alertsData, ok := payload["alerts"].([]interface{})
	if !ok || len(alertsData) == 0 {
		return nil
	}

	var alerts []NormalizedAlert
	for _, alertData := range alertsData {
		alertMap, ok := alertData.(map[string]interface{})
		if !ok {
			continue
		}

		alert := NormalizedAlert{
			Name:        mapString(alertMap, "labels.alertname", "unknown"),
			Severity:    mapString(alertMap, "labels.severity", "warning"),
			Status:      mapString(alertMap, "status", alertStatusFiring),
			Summary:     mapString(alertMap, "annotations.summary", ""),
			Description: mapString(alertMap, "annotations.description", ""),
			Labels:      subMap(alertMap, "labels"),
			Annotations: subMap(alertMap, "annotations"),
			Fingerprint: mapString(alertMap, "fingerprint", ""),
			StartsAt:    time.Now(),
		}
		if alert.Fingerprint == "" {
			alert.Fingerprint = fmt.Sprintf("%s-%s-%s",
				alert.Name,
				mapString(alertMap, "labels.instance", ""),
				mapString(alertMap, "labels.job", ""))
		}
		if startsAt := mapString(alertMap, "startsAt", ""); startsAt != "" {
			if t, err := time.Parse(time.RFC3339, startsAt); err == nil {
				alert.StartsAt = t
			}
		}
		if endsAt := mapString(alertMap, "endsAt", ""); endsAt != "" {
			if t, err := time.Parse(time.RFC3339, endsAt); err == nil && !t.IsZero() {
				alert.EndsAt = &t
			}
		}
		alert.Priority = severityToPriority(alert.Severity)
		alerts = append(alerts, alert)
	}
	return alerts
}

func legacyDatadogAlerts(payload map[string]interface{}) []NormalizedAlert {
	title := mapString(payload, "title", "")
	if title == "" {
		return nil
	}

	transition := mapString(payload, "alert_transition", "")
	if transition == "" {
		transition = mapString(payload, "transition", "")
	}
	priority := mapString(payload, "alert_priority", "")

	severity := datadogPrioritySeverity(priority)
	if strings.Contains(strings.ToLower(transition), "recovered") {
		severity = "info"
	}

	alert := NormalizedAlert{
		Name:        title,
		Severity:    severity,
		Status:      datadogTransitionStatus(transition),
		Summary:     title,
		Description: mapString(payload, "body", ""),
		Priority:    stringOr(priority, severityToPriority(severity)),
		Fingerprint: mapString(payload, "aggregate", ""),
		Labels: map[string]interface{}{
			"source":         "datadog",
			"event_id":       mapString(payload, "id", ""),
			"event_type":     mapString(payload, "event_type", ""),
			"alert_priority": priority,
			"transition":     transition,
		},
		Annotations: map[string]interface{}{
			"org_id":       mapString(payload, "org.id", ""),
			"org_name":     mapString(payload, "org.name", ""),
			"last_updated": mapString(payload, "last_updated", ""),
		},
		StartsAt: datadogTimestamp(mapString(payload, "date", ""), mapString(payload, "last_updated", "")),
	}
	return []NormalizedAlert{alert}
}

func legacyGrafanaAlerts(payload map[string]interface{}) []NormalizedAlert {
	ruleName := mapString(payload, "ruleName", "")
	if ruleName == "" {
		return nil
	}

	state := mapString(payload, "state", "alerting")
	alert := NormalizedAlert{
		Name:        ruleName,
		Severity:    grafanaStateSeverity(state),
		Status:      grafanaStateStatus(state),
		Summary:     mapString(payload, "message", ""),
		Description: mapString(payload, "title", ""),
		Labels: map[string]interface{}{
			"source":    "grafana",
			"dashboard": payload["dashboardId"],
			"panel":     payload["panelId"],
		},
		Annotations: map[string]interface{}{
			"grafana_url": mapString(payload, "ruleUrl", ""),
			"image_url":   mapString(payload, "imageUrl", ""),
		},
		StartsAt: time.Now(),
	}
	alert.Priority = severityToPriority(alert.Severity)
	return []NormalizedAlert{alert}
}

func legacyAWSAlerts(payload map[string]interface{}) []NormalizedAlert {
	// SNS wraps the CloudWatch alarm in Message as a JSON string.
	if message := mapString(payload, "Message", ""); message != "" {
		var inner map[string]interface{}
		if err := json.Unmarshal([]byte(message), &inner); err == nil {
			payload = inner
		}
	}

	alarmName := mapString(payload, "AlarmName", "")
	if alarmName == "" {
		return nil
	}

	state := mapString(payload, "NewStateValue", "ALARM")
	alert := NormalizedAlert{
		Name:        alarmName,
		Severity:    awsStateSeverity(state),
		Status:      awsStateStatus(state),
		Summary:     mapString(payload, "AlarmDescription", ""),
		Description: mapString(payload, "NewStateReason", ""),
		Fingerprint: mapString(payload, "AlarmArn", ""),
		Labels: map[string]interface{}{
			"source":    "aws",
			"region":    mapString(payload, "Region", ""),
			"namespace": mapString(payload, "Trigger.Namespace", ""),
		},
		Annotations: map[string]interface{}{
			"account_id": mapString(payload, "AWSAccountId", ""),
			"timestamp":  mapString(payload, "StateChangeTime", ""),
		},
		StartsAt: time.Now(),
	}
	if alert.Fingerprint == "" {
		alert.Fingerprint = fmt.Sprintf("%s-%s-", alarmName, mapString(payload, "Region", ""))
	}
	alert.Priority = severityToPriority(alert.Severity)
	return []NormalizedAlert{alert}
}

func legacyPagerDutyAlerts(payload map[string]interface{}) []NormalizedAlert {
	// v3 nests data under event; older deliveries post the incident directly.
	event, _ := payload["event"].(map[string]interface{})
	if event == nil {
		event = payload
	}
	data, _ := event["data"].(map[string]interface{})
	if data == nil {
		data = event
	}

	title := mapString(data, "title", "")
	if title == "" {
		return nil
	}

	status := alertStatusFiring
	if strings.EqualFold(mapString(data, "status", ""), "resolved") {
		status = alertStatusResolved
	}
	severity := pagerDutyUrgencySeverity(mapString(data, "urgency", "high"))
	incidentKey := mapString(data, "incident_key", "")

	alert := NormalizedAlert{
		Name:        title,
		Severity:    severity,
		Status:      status,
		Summary:     title,
		Description: mapString(data, "description", ""),
		Fingerprint: stringOr(incidentKey, mapString(data, "id", "")),
		Priority:    severityToPriority(severity),
		Labels: map[string]interface{}{
			"source":       "pagerduty",
			"incident_key": incidentKey,
			"urgency":      mapString(data, "urgency", ""),
		},
		Annotations: map[string]interface{}{
			"html_url": mapString(data, "html_url", ""),
		},
		StartsAt: time.Now(),
	}
	return []NormalizedAlert{alert}
}

func legacyCoralogixAlerts(payload map[string]interface{}) []NormalizedAlert {
	alertName := mapString(payload, "alert_name", "")
	if alertName == "" {
		return nil
	}

	status := alertStatusFiring
	switch strings.ToLower(mapString(payload, "alert_action", "trigger")) {
	case "resolve", "resolved", "recovery", "ok":
		status = alertStatusResolved
	}
	severity := coralogixSeverity(mapString(payload, "alert_severity", "Warning"))
	application := mapString(payload, "application", "")
	subsystem := mapString(payload, "subsystem", "")

	alert := NormalizedAlert{
		Name:        alertName,
		Severity:    severity,
		Status:      status,
		Summary:     alertName,
		Description: mapString(payload, "description", ""),
		Fingerprint: mapString(payload, "alert_id", ""),
		Priority:    severityToPriority(severity),
		Labels: map[string]interface{}{
			"source":      "coralogix",
			"application": application,
			"subsystem":   subsystem,
		},
		Annotations: map[string]interface{}{
			"alert_url": mapString(payload, "alert_url", ""),
		},
		StartsAt: time.Now(),
	}
	if alert.Fingerprint == "" {
		alert.Fingerprint = fmt.Sprintf("coralogix-%s-%s-%s", alertName, application, subsystem)
	}
	return []NormalizedAlert{alert}
}

// mapString walks a dotted path of nested maps and returns the string leaf.
func mapString(m map[string]interface{}, path, fallback string) string {
	keys := strings.Split(path, ".")
	current := m
	for i, key := range keys {
		if i == len(keys)-1 {
			if s, ok := current[key].(string); ok && s != "" {
				return s
			}
			return fallback
		}
		next, ok := current[key].(map[string]interface{})
		if !ok {
			return fallback
		}
		current = next
	}
	return fallback
}

func subMap(m map[string]interface{}, key string) map[string]interface{} {
	if val, ok := m[key].(map[string]interface{}); ok {
		return val
	}
	return make(map[string]interface{})
}
