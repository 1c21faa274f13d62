package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizedAlert is the vendor-independent shape every webhook payload is
// reduced to before routing. Status is either "firing" or "resolved".
type NormalizedAlert struct {
	Name        string                 `json:"name"`
	Severity    string                 `json:"severity"`
	Status      string                 `json:"status"`
	Summary     string                 `json:"summary"`
	Description string                 `json:"description"`
	Labels      map[string]interface{} `json:"labels"`
	Annotations map[string]interface{} `json:"annotations"`
	StartsAt    time.Time              `json:"starts_at"`
	EndsAt      *time.Time             `json:"ends_at,omitempty"`
	Fingerprint string                 `json:"fingerprint"`
	Priority    string                 `json:"priority"`
}

const (
	alertStatusFiring   = "firing"
	alertStatusResolved = "resolved"
)

// Prometheus Alertmanager webhook.
// https://prometheus.io/docs/alerting/latest/configuration/#webhook_config
type PrometheusWebhook struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []PrometheusAlert `json:"alerts"`
}

type PrometheusAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

func (p PrometheusAlert) Normalize() NormalizedAlert {
	alert := NormalizedAlert{
		Name:        stringOr(p.Labels["alertname"], "unknown"),
		Severity:    stringOr(p.Labels["severity"], "warning"),
		Status:      p.Status,
		Summary:     p.Annotations["summary"],
		Description: p.Annotations["description"],
		Labels:      stringMapToInterface(p.Labels),
		Annotations: stringMapToInterface(p.Annotations),
		StartsAt:    p.StartsAt,
		Fingerprint: p.Fingerprint,
	}
	if alert.Fingerprint == "" {
		alert.Fingerprint = fmt.Sprintf("%s-%s-%s",
			p.Labels["alertname"], p.Labels["instance"], p.Labels["job"])
	}
	if !p.EndsAt.IsZero() {
		endsAt := p.EndsAt
		alert.EndsAt = &endsAt
	}
	alert.Priority = severityToPriority(alert.Severity)
	return alert
}

// Datadog monitor webhook. Timestamps arrive as millisecond strings.
// https://docs.datadoghq.com/integrations/webhooks/
type DatadogWebhook struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	EventType     string `json:"event_type"`
	AlertType     string `json:"alert_type"`
	AlertPriority string `json:"alert_priority"` // P1..P5
	Transition    string `json:"transition"`     // Triggered, Recovered
	// Older webhook templates send the transition as alert_transition, with
	// values like "Triggered->Recovered".
	AlertTransition string     `json:"alert_transition"`
	Date            string     `json:"date"`
	LastUpdated     string     `json:"last_updated"`
	Org             DatadogOrg `json:"org"`
	Tags            string     `json:"tags"`
	Link            string     `json:"link"`
	Aggregate       string     `json:"aggregate"`
	AlertQuery      string     `json:"alert_query"`
	AlertCycleKey   string     `json:"alert_cycle_key"`
}

type DatadogOrg struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d DatadogWebhook) Normalize() NormalizedAlert {
	transition := stringOr(d.Transition, d.AlertTransition)

	severity := datadogPrioritySeverity(d.AlertPriority)
	if strings.Contains(strings.ToLower(transition), "recovered") {
		severity = "info"
	}

	alert := NormalizedAlert{
		Name:        d.Title,
		Severity:    severity,
		Status:      datadogTransitionStatus(transition),
		Summary:     d.Title,
		Description: d.Body,
		Priority:    d.AlertPriority,
		Fingerprint: d.Aggregate,
		Labels: map[string]interface{}{
			"source":          "datadog",
			"event_id":        d.ID,
			"event_type":      d.EventType,
			"alert_priority":  d.AlertPriority,
			"aggregate":       d.Aggregate,
			"alert_query":     d.AlertQuery,
			"alert_cycle_key": d.AlertCycleKey,
			"transition":      transition,
		},
		Annotations: map[string]interface{}{
			"org_id":       d.Org.ID,
			"org_name":     d.Org.Name,
			"last_updated": d.LastUpdated,
			"link":         d.Link,
		},
		StartsAt: datadogTimestamp(d.Date, d.LastUpdated),
	}
	if d.Tags != "" {
		alert.Labels["tags"] = d.Tags
	}
	return alert
}

// Grafana legacy alerting webhook.
type GrafanaWebhook struct {
	Title             string            `json:"title"`
	State             string            `json:"state"` // alerting, pending, ok
	Message           string            `json:"message"`
	RuleName          string            `json:"ruleName"`
	RuleURL           string            `json:"ruleUrl"`
	DashboardID       int64             `json:"dashboardId"`
	PanelID           int64             `json:"panelId"`
	ImageURL          string            `json:"imageUrl"`
	OrgID             int64             `json:"orgId"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
}

func (g GrafanaWebhook) Normalize() NormalizedAlert {
	alert := NormalizedAlert{
		Name:        stringOr(g.RuleName, "grafana-alert"),
		Severity:    grafanaStateSeverity(g.State),
		Status:      grafanaStateStatus(g.State),
		Summary:     g.Message,
		Description: g.Title,
		Labels: map[string]interface{}{
			"source":    "grafana",
			"dashboard": g.DashboardID,
			"panel":     g.PanelID,
		},
		Annotations: map[string]interface{}{
			"grafana_url": g.RuleURL,
			"image_url":   g.ImageURL,
		},
		StartsAt: time.Now(),
	}
	for k, v := range g.CommonLabels {
		alert.Labels[k] = v
	}
	for k, v := range g.CommonAnnotations {
		alert.Annotations[k] = v
	}
	alert.Priority = severityToPriority(alert.Severity)
	return alert
}

// AWSWebhook is the SNS envelope; the CloudWatch alarm rides inside Message
// as a JSON string.
type AWSWebhook struct {
	Type      string `json:"Type"`
	MessageId string `json:"MessageId"`
	TopicArn  string `json:"TopicArn"`
	Subject   string `json:"Subject"`
	Message   string `json:"Message"`
	Timestamp string `json:"Timestamp"`
}

type CloudWatchAlarm struct {
	AlarmName        string            `json:"AlarmName"`
	AlarmDescription string            `json:"AlarmDescription"`
	AWSAccountID     string            `json:"AWSAccountId"`
	NewStateValue    string            `json:"NewStateValue"` // ALARM, OK, INSUFFICIENT_DATA
	NewStateReason   string            `json:"NewStateReason"`
	StateChangeTime  string            `json:"StateChangeTime"`
	Region           string            `json:"Region"`
	AlarmArn         string            `json:"AlarmArn"`
	Trigger          CloudWatchTrigger `json:"Trigger"`
}

type CloudWatchTrigger struct {
	MetricName string                `json:"MetricName"`
	Namespace  string                `json:"Namespace"`
	Dimensions []CloudWatchDimension `json:"Dimensions"`
	Threshold  float64               `json:"Threshold"`
}

type CloudWatchDimension struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (a CloudWatchAlarm) Normalize() NormalizedAlert {
	alert := NormalizedAlert{
		Name:        stringOr(a.AlarmName, "aws-alarm"),
		Severity:    awsStateSeverity(a.NewStateValue),
		Status:      awsStateStatus(a.NewStateValue),
		Summary:     a.AlarmDescription,
		Description: a.NewStateReason,
		Fingerprint: a.AlarmArn,
		Labels: map[string]interface{}{
			"source":    "aws",
			"region":    a.Region,
			"namespace": a.Trigger.Namespace,
		},
		Annotations: map[string]interface{}{
			"account_id": a.AWSAccountID,
			"timestamp":  a.StateChangeTime,
			"alarm_arn":  a.AlarmArn,
		},
		StartsAt: time.Now(),
	}
	for _, dim := range a.Trigger.Dimensions {
		alert.Labels[dim.Name] = dim.Value
	}
	if alert.Fingerprint == "" {
		alert.Fingerprint = fmt.Sprintf("%s-%s-", a.AlarmName, a.Region)
	}
	alert.Priority = severityToPriority(alert.Severity)
	return alert
}

// PagerDuty v3 webhook.
// https://developer.pagerduty.com/docs/webhooks/v3-overview/
type PagerDutyWebhook struct {
	Event PagerDutyEvent `json:"event"`
}

type PagerDutyEvent struct {
	ID         string                `json:"id"`
	EventType  string                `json:"event_type"` // incident.triggered, incident.resolved, ...
	OccurredAt time.Time             `json:"occurred_at"`
	Agent      PagerDutyAgent        `json:"agent"`
	Data       PagerDutyIncidentData `json:"data"`
}

type PagerDutyAgent struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PagerDutyIncidentData struct {
	ID            string                 `json:"id"`
	Number        int                    `json:"number"`
	Status        string                 `json:"status"` // triggered, acknowledged, resolved
	IncidentKey   string                 `json:"incident_key"`
	CreatedAt     time.Time              `json:"created_at"`
	Title         string                 `json:"title"`
	HTMLURL       string                 `json:"html_url"`
	Service       PagerDutyRef           `json:"service"`
	Priority      *PagerDutyRef          `json:"priority"`
	Urgency       string                 `json:"urgency"` // high, low
	Description   string                 `json:"description"`
	ResolveReason string                 `json:"resolve_reason"`
	CustomDetails map[string]interface{} `json:"custom_details"`
}

type PagerDutyRef struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

func (p PagerDutyWebhook) Normalize() NormalizedAlert {
	data := p.Event.Data

	status := alertStatusFiring
	eventType := strings.ToLower(p.Event.EventType)
	if strings.Contains(eventType, "resolved") || strings.EqualFold(data.Status, "resolved") {
		status = alertStatusResolved
	}

	severity := pagerDutyUrgencySeverity(data.Urgency)
	priority := "P3"
	if data.Priority != nil && data.Priority.Name != "" {
		severity = datadogPrioritySeverity(data.Priority.Name)
		priority = data.Priority.Name
	}

	fingerprint := data.IncidentKey
	if fingerprint == "" {
		fingerprint = data.ID
	}

	description := data.Description
	if len(data.CustomDetails) > 0 {
		var sb strings.Builder
		sb.WriteString(description)
		for key, value := range data.CustomDetails {
			sb.WriteString(fmt.Sprintf("\n%s: %v", key, value))
		}
		description = strings.TrimSpace(sb.String())
	}

	alert := NormalizedAlert{
		Name:        data.Title,
		Severity:    severity,
		Status:      status,
		Summary:     data.Title,
		Description: description,
		Fingerprint: fingerprint,
		Priority:    priority,
		Labels: map[string]interface{}{
			"source":          "pagerduty",
			"incident_id":     data.ID,
			"incident_number": data.Number,
			"incident_key":    data.IncidentKey,
			"service_name":    data.Service.Name,
			"urgency":         data.Urgency,
			"event_type":      p.Event.EventType,
		},
		Annotations: map[string]interface{}{
			"html_url":       data.HTMLURL,
			"resolve_reason": data.ResolveReason,
		},
		StartsAt: data.CreatedAt,
	}
	if p.Event.Agent.Name != "" {
		alert.Labels["agent_name"] = p.Event.Agent.Name
	}
	return alert
}

// Coralogix alert webhook.
type CoralogixWebhook struct {
	UUID          string            `json:"uuid"`
	AlertID       string            `json:"alert_id"`
	AlertName     string            `json:"alert_name"`
	AlertURL      string            `json:"alert_url"`
	AlertSeverity string            `json:"alert_severity"` // Info, Warning, Error, Critical
	AlertAction   string            `json:"alert_action"`   // trigger, resolve
	Application   string            `json:"application"`
	Subsystem     string            `json:"subsystem"`
	Computer      string            `json:"computer"`
	Timestamp     string            `json:"timestamp"`
	HitCount      int               `json:"hit_count"`
	MetaLabels    map[string]string `json:"meta_labels"`
	LogText       string            `json:"log_text"`
	Description   string            `json:"description"`
}

func (c CoralogixWebhook) Normalize() NormalizedAlert {
	status := alertStatusFiring
	switch strings.ToLower(c.AlertAction) {
	case "resolve", "resolved", "recovery", "ok":
		status = alertStatusResolved
	}

	severity := coralogixSeverity(c.AlertSeverity)

	startsAt := time.Now()
	if c.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, c.Timestamp); err == nil {
			startsAt = t
		}
	}

	description := c.Description
	if description == "" {
		description = c.LogText
	}

	fingerprint := c.AlertID
	if fingerprint == "" {
		fingerprint = fmt.Sprintf("coralogix-%s-%s-%s", c.AlertName, c.Application, c.Subsystem)
	}

	alert := NormalizedAlert{
		Name:        stringOr(c.AlertName, "coralogix-alert"),
		Severity:    severity,
		Status:      status,
		Summary:     c.AlertName,
		Description: description,
		Fingerprint: fingerprint,
		Priority:    severityToPriority(severity),
		Labels: map[string]interface{}{
			"source":      "coralogix",
			"alert_id":    c.AlertID,
			"application": c.Application,
			"subsystem":   c.Subsystem,
			"computer":    c.Computer,
			"hit_count":   c.HitCount,
		},
		Annotations: map[string]interface{}{
			"alert_url": c.AlertURL,
			"uuid":      c.UUID,
		},
		StartsAt: startsAt,
	}
	for k, v := range c.MetaLabels {
		alert.Labels["meta_"+k] = v
	}
	return alert
}

// GenericWebhook is the shape custom integrations post directly.
type GenericWebhook struct {
	AlertName   string                 `json:"alert_name"`
	Severity    string                 `json:"severity"`
	Status      string                 `json:"status"`
	Summary     string                 `json:"summary"`
	Description string                 `json:"description"`
	Labels      map[string]interface{} `json:"labels"`
	Annotations map[string]interface{} `json:"annotations"`
	StartsAt    *time.Time             `json:"starts_at,omitempty"`
	EndsAt      *time.Time             `json:"ends_at,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
}

func (g GenericWebhook) Normalize() NormalizedAlert {
	alert := NormalizedAlert{
		Name:        stringOr(g.AlertName, "generic-alert"),
		Severity:    stringOr(g.Severity, "warning"),
		Status:      stringOr(g.Status, alertStatusFiring),
		Summary:     g.Summary,
		Description: g.Description,
		Labels:      g.Labels,
		Annotations: g.Annotations,
		Fingerprint: g.Fingerprint,
		EndsAt:      g.EndsAt,
		StartsAt:    time.Now(),
	}
	if g.StartsAt != nil {
		alert.StartsAt = *g.StartsAt
	}
	if alert.Labels == nil {
		alert.Labels = make(map[string]interface{})
	}
	alert.Priority = severityToPriority(alert.Severity)
	return alert
}

// Vendor severity and state mappings.

func datadogPrioritySeverity(priority string) string {
	switch strings.ToUpper(priority) {
	case "P1":
		return "critical"
	case "P2":
		return "high"
	case "P3":
		return "warning"
	case "P4":
		return "low"
	case "P5":
		return "info"
	default:
		return "warning"
	}
}

// datadogTransitionStatus maps a monitor transition to an alert status. Legacy
// templates send compound values ("Triggered->Recovered"); the final state wins.
func datadogTransitionStatus(transition string) string {
	t := strings.ToLower(transition)
	switch {
	case strings.Contains(t, "recovered"), t == "ok", t == "info":
		return alertStatusResolved
	default:
		return alertStatusFiring
	}
}

func datadogTimestamp(date, lastUpdated string) time.Time {
	raw := date
	if raw == "" {
		raw = lastUpdated
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(0, ms*int64(time.Millisecond))
	}
	return time.Now()
}

func grafanaStateSeverity(state string) string {
	switch strings.ToLower(state) {
	case "alerting":
		return "critical"
	case "pending":
		return "warning"
	case "ok":
		return "info"
	default:
		return "warning"
	}
}

func grafanaStateStatus(state string) string {
	if strings.EqualFold(state, "ok") {
		return alertStatusResolved
	}
	return alertStatusFiring
}

func awsStateSeverity(state string) string {
	switch strings.ToUpper(state) {
	case "ALARM":
		return "critical"
	case "INSUFFICIENT_DATA":
		return "warning"
	case "OK":
		return "info"
	default:
		return "warning"
	}
}

func awsStateStatus(state string) string {
	if strings.EqualFold(state, "OK") {
		return alertStatusResolved
	}
	return alertStatusFiring
}

func pagerDutyUrgencySeverity(urgency string) string {
	switch strings.ToLower(urgency) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "warning"
	}
}

func coralogixSeverity(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "critical"
	case "error":
		return "high"
	case "info":
		return "info"
	default:
		return "warning"
	}
}

// severityToPriority maps a severity onto the P1..P5 scale.
func severityToPriority(severity string) string {
	switch strings.ToLower(severity) {
	case "critical", "crit":
		return "P1"
	case "high", "error":
		return "P2"
	case "warning", "warn", "medium":
		return "P3"
	case "low":
		return "P4"
	case "info", "informational":
		return "P5"
	default:
		return "P3"
	}
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func stringMapToInterface(m map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
