package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/config"
)

// SlackService delivers incident notifications as Slack DMs or channel
// messages. Without a bot token it degrades to a no-op sink.
type SlackService struct {
	PG     *sql.DB
	client *slack.Client
}

// UserNotificationConfig holds per-user delivery preferences.
type UserNotificationConfig struct {
	UserID         string `json:"user_id"`
	SlackUserID    string `json:"slack_user_id"`
	SlackChannelID string `json:"slack_channel_id"`
	SlackEnabled   bool   `json:"slack_enabled"`
	EmailEnabled   bool   `json:"email_enabled"`
	PushEnabled    bool   `json:"push_enabled"`
	Timezone       string `json:"timezone"`
}

func NewSlackService(pg *sql.DB) *SlackService {
	token := config.App.SlackBotToken
	if token == "" {
		log.Println("[slack] SLACK_BOT_TOKEN not set, Slack notifications disabled")
		return &SlackService{PG: pg}
	}
	return &SlackService{
		PG: pg,
		client: slack.New(token, slack.OptionHTTPClient(&http.Client{
			Timeout: 30 * time.Second,
		})),
	}
}

// IsConfigured reports whether a bot token was provided.
func (s *SlackService) IsConfigured() bool {
	return s.client != nil
}

// SendIncidentNotification posts the incident to the user's Slack. Respects
// the per-user config and records the attempt in notification_logs.
func (s *SlackService) SendIncidentNotification(userID, incidentID, notificationType string) error {
	if s.client == nil {
		return nil
	}

	cfg, err := s.getUserNotificationConfig(userID)
	if err != nil {
		return fmt.Errorf("failed to get user notification config: %w", err)
	}
	if !cfg.SlackEnabled || cfg.SlackUserID == "" {
		log.Printf("[slack] notifications disabled or unmapped for user %s", userID)
		return nil
	}

	incident, err := s.getIncidentDetails(incidentID)
	if err != nil {
		return fmt.Errorf("failed to get incident details: %w", err)
	}
	user, err := s.getUserDetails(userID)
	if err != nil {
		return fmt.Errorf("failed to get user details: %w", err)
	}

	text, attachment := buildIncidentSlackMessage(incident, user, notificationType)

	channel := cfg.SlackUserID
	if cfg.SlackChannelID != "" {
		channel = cfg.SlackChannelID
	}

	_, _, err = s.client.PostMessage(channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAttachments(attachment),
		slack.MsgOptionUsername("Resq Bot"),
		slack.MsgOptionIconEmoji(":rotating_light:"),
	)
	if err != nil {
		s.logNotification(userID, incidentID, notificationType, "slack", channel, text, "failed", err.Error(), nil)
		return fmt.Errorf("failed to post Slack message: %w", err)
	}

	sentAt := time.Now()
	s.logNotification(userID, incidentID, notificationType, "slack", channel, text, "sent", "", &sentAt)
	log.Printf("[slack] sent %s notification to %s for incident %s", notificationType, user.Name, incident.ID)
	return nil
}

func buildIncidentSlackMessage(incident *db.Incident, user *db.User, notificationType string) (string, slack.Attachment) {
	var text, title, color string

	switch notificationType {
	case "assigned":
		text = "[ALERT] Incident assigned to you"
		title = fmt.Sprintf("Incident Assigned: %s", incident.Title)
		color = "warning"
	case "escalated":
		text = "[ESCALATED] Incident escalated to you"
		title = fmt.Sprintf("Incident Escalated: %s", incident.Title)
		color = "danger"
	case "acknowledged":
		text = "[ACK] Incident acknowledged"
		title = fmt.Sprintf("Incident Acknowledged: %s", incident.Title)
		color = "warning"
	case "resolved":
		text = "[RESOLVED] Incident resolved"
		title = fmt.Sprintf("Incident Resolved: %s", incident.Title)
		color = "good"
	default:
		text = "[NOTIFICATION] Incident notification"
		title = fmt.Sprintf("Incident: %s", incident.Title)
		color = "warning"
	}

	if incident.Severity == "critical" {
		color = "danger"
	}

	attachment := slack.Attachment{
		Color: color,
		Title: title,
		Fields: []slack.AttachmentField{
			{Title: "Severity", Value: incident.Severity, Short: true},
			{Title: "Status", Value: incident.Status, Short: true},
			{Title: "Urgency", Value: incident.Urgency, Short: true},
			{Title: "Assigned To", Value: user.Name, Short: true},
			{Title: "Description", Value: incident.Description, Short: false},
		},
		Footer: "Resq Incident Management",
		Ts:     json.Number(fmt.Sprintf("%d", incident.CreatedAt.Unix())),
	}
	return text, attachment
}

func (s *SlackService) getUserNotificationConfig(userID string) (*UserNotificationConfig, error) {
	var cfg UserNotificationConfig
	var slackUserID, slackChannelID, timezone sql.NullString

	err := s.PG.QueryRow(`
		SELECT user_id, slack_user_id, slack_channel_id, slack_enabled,
		       email_enabled, push_enabled, notification_timezone
		FROM user_notification_configs
		WHERE user_id = $1
	`, userID).Scan(
		&cfg.UserID, &slackUserID, &slackChannelID, &cfg.SlackEnabled,
		&cfg.EmailEnabled, &cfg.PushEnabled, &timezone,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.createDefaultNotificationConfig(userID)
		}
		return nil, err
	}

	cfg.SlackUserID = slackUserID.String
	cfg.SlackChannelID = slackChannelID.String
	cfg.Timezone = timezone.String
	return &cfg, nil
}

func (s *SlackService) createDefaultNotificationConfig(userID string) (*UserNotificationConfig, error) {
	cfg := &UserNotificationConfig{
		UserID:       userID,
		SlackEnabled: true,
		EmailEnabled: true,
		PushEnabled:  true,
		Timezone:     "UTC",
	}
	err := s.PG.QueryRow(`
		INSERT INTO user_notification_configs (user_id, slack_enabled, email_enabled, push_enabled)
		VALUES ($1, true, true, true)
		RETURNING user_id, slack_enabled, email_enabled, push_enabled
	`, userID).Scan(&cfg.UserID, &cfg.SlackEnabled, &cfg.EmailEnabled, &cfg.PushEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to create default notification config: %w", err)
	}
	return cfg, nil
}

// UpdateUserNotificationConfig upserts delivery preferences for a user.
func (s *SlackService) UpdateUserNotificationConfig(userID, slackUserID, slackChannelID string,
	slackEnabled, emailEnabled, pushEnabled bool, timezone string) error {
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := s.PG.Exec(`
		INSERT INTO user_notification_configs (user_id, slack_user_id, slack_channel_id,
			slack_enabled, email_enabled, push_enabled, notification_timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET slack_user_id = EXCLUDED.slack_user_id,
		    slack_channel_id = EXCLUDED.slack_channel_id,
		    slack_enabled = EXCLUDED.slack_enabled,
		    email_enabled = EXCLUDED.email_enabled,
		    push_enabled = EXCLUDED.push_enabled,
		    notification_timezone = EXCLUDED.notification_timezone,
		    updated_at = NOW()
	`, userID, nullIfEmpty(slackUserID), nullIfEmpty(slackChannelID),
		slackEnabled, emailEnabled, pushEnabled, timezone)
	if err != nil {
		return fmt.Errorf("failed to update notification config: %w", err)
	}
	return nil
}

// GetUserNotificationConfig returns the user's preferences, creating the
// default row on first access.
func (s *SlackService) GetUserNotificationConfig(userID string) (*UserNotificationConfig, error) {
	return s.getUserNotificationConfig(userID)
}

func (s *SlackService) getIncidentDetails(incidentID string) (*db.Incident, error) {
	var incident db.Incident
	err := s.PG.QueryRow(`
		SELECT id, title, COALESCE(description, ''), status, urgency,
		       COALESCE(severity, ''), source, created_at, updated_at
		FROM incidents
		WHERE id = $1
	`, incidentID).Scan(
		&incident.ID, &incident.Title, &incident.Description, &incident.Status,
		&incident.Urgency, &incident.Severity, &incident.Source,
		&incident.CreatedAt, &incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

func (s *SlackService) getUserDetails(userID string) (*db.User, error) {
	var user db.User
	err := s.PG.QueryRow(`
		SELECT id, name, email, COALESCE(role, ''), COALESCE(team, '')
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.Team)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SlackService) logNotification(userID, incidentID, notificationType, channel, recipient, message, status, errorMsg string, sentAt *time.Time) {
	var sentAtParam interface{}
	if sentAt != nil {
		sentAtParam = *sentAt
	}
	_, err := s.PG.Exec(`
		INSERT INTO notification_logs (user_id, incident_id, notification_type,
			channel, recipient, message, status, error_message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, userID, incidentID, notificationType, channel, recipient, message, status, errorMsg, sentAtParam)
	if err != nil {
		log.Printf("[slack] failed to log notification: %v", err)
	}
}
