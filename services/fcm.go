package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/resqhq/resq/internal/config"
)

// DefaultNotificationSound plays on mobile until per-user sounds exist.
const DefaultNotificationSound = "alert.caf"

// FCMService delivers push notifications. It prefers the cloud relay when
// configured (self-hosted instances without Firebase credentials) and falls
// back to direct FCM through the Admin SDK.
type FCMService struct {
	PG     *sql.DB
	client *messaging.Client
	relay  *CloudRelayService
}

func NewFCMService(pg *sql.DB, relay *CloudRelayService) (*FCMService, error) {
	service := &FCMService{PG: pg, relay: relay}

	if relay != nil && relay.IsConfigured() {
		log.Printf("[fcm] cloud relay configured, push goes through the gateway")
	}

	credentialsFile := config.App.FirebaseCredentialsFile
	if credentialsFile == "" {
		log.Println("[fcm] FIREBASE_CREDENTIALS_FILE not set, direct FCM disabled")
		return service, nil
	}

	app, err := firebase.NewApp(context.Background(), nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		log.Printf("[fcm] firebase app not initialized: %v", err)
		return service, nil
	}
	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("[fcm] firebase messaging client not initialized: %v", err)
		return service, nil
	}

	service.client = client
	log.Println("[fcm] direct Firebase messaging initialized")
	return service, nil
}

// IsConfigured reports whether any push path is available.
func (s *FCMService) IsConfigured() bool {
	return s.client != nil || (s.relay != nil && s.relay.IsConfigured())
}

// SendIncidentNotification pushes an incident notification to the user's
// registered device.
func (s *FCMService) SendIncidentNotification(userID, incidentID, notificationType string) error {
	if !s.IsConfigured() {
		log.Println("[fcm] no push path configured, skipping notification")
		return nil
	}

	var title, severity, status string
	err := s.PG.QueryRow(`
		SELECT title, COALESCE(severity, ''), status FROM incidents WHERE id = $1
	`, incidentID).Scan(&title, &severity, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("failed to load incident for push: %w", err)
	}

	notifTitle := pushTitle(notificationType, severity)
	data := map[string]string{
		"incident_id": incidentID,
		"type":        notificationType,
		"severity":    severity,
		"status":      status,
	}

	if s.relay != nil && s.relay.IsConfigured() {
		return s.relay.SendNotification(userID, notifTitle, title, data, pushPriority(severity))
	}
	return s.sendDirect(userID, notifTitle, title, severity, data)
}

func (s *FCMService) sendDirect(userID, notifTitle, body, severity string, data map[string]string) error {
	var fcmToken, userName string
	err := s.PG.QueryRow(`
		SELECT fcm_token, name FROM users
		WHERE id = $1 AND fcm_token IS NOT NULL AND fcm_token != ''
	`, userID).Scan(&fcmToken, &userName)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Printf("[fcm] no token registered for user %s", userID)
			return nil
		}
		return fmt.Errorf("failed to load FCM token: %w", err)
	}

	message := &messaging.Message{
		Token: fcmToken,
		Notification: &messaging.Notification{
			Title: notifTitle,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Icon:         "ic_notification",
				Color:        severityColor(severity),
				Sound:        "default",
				ChannelID:    "high_importance_channel",
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: notifTitle,
						Body:  body,
					},
					Badge:      intPtr(1),
					Sound:      DefaultNotificationSound,
					CustomData: map[string]interface{}{"incident_id": data["incident_id"], "type": data["type"]},
				},
			},
		},
	}

	response, err := s.client.Send(context.Background(), message)
	if err != nil {
		return fmt.Errorf("failed to send FCM message to %s: %w", userName, err)
	}
	log.Printf("[fcm] sent push to %s: %s", userName, response)
	return nil
}

// UpdateUserFCMToken stores the device token registered through the mobile
// pairing flow.
func (s *FCMService) UpdateUserFCMToken(userID, fcmToken string) error {
	_, err := s.PG.Exec(`UPDATE users SET fcm_token = $1, updated_at = NOW() WHERE id = $2`, fcmToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update FCM token: %w", err)
	}
	return nil
}

func pushTitle(notificationType, severity string) string {
	switch notificationType {
	case "assigned":
		return fmt.Sprintf("[%s] Incident assigned to you", strings.ToUpper(orDefault(severity, "alert")))
	case "escalated":
		return fmt.Sprintf("[%s] Incident escalated to you", strings.ToUpper(orDefault(severity, "alert")))
	case "acknowledged":
		return "Incident acknowledged"
	case "resolved":
		return "Incident resolved"
	default:
		return "Incident notification"
	}
}

func pushPriority(severity string) string {
	switch severity {
	case "critical", "high":
		return "high"
	default:
		return "normal"
	}
}

func severityColor(severity string) string {
	switch severity {
	case "critical":
		return "#FF0000"
	case "high":
		return "#FF8C00"
	case "medium":
		return "#FFD700"
	case "low":
		return "#32CD32"
	default:
		return "#2196F3"
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func intPtr(i int) *int {
	return &i
}
