package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationQueue is the PGMQ queue incident notifications flow through.
const NotificationQueue = "incident_notifications"

// NotificationSender enqueues incident notifications. The API server uses the
// lightweight PGMQ producer; the worker process consumes and delivers.
type NotificationSender interface {
	SendIncidentAssignedNotification(userID, incidentID string) error
	SendIncidentEscalatedNotification(userID, incidentID string) error
	SendIncidentAcknowledgedNotification(userID, incidentID string) error
	SendIncidentResolvedNotification(userID, incidentID string) error
}

// LightweightNotificationSender writes notification messages to PGMQ without
// processing them, so API requests never block on delivery.
type LightweightNotificationSender struct {
	PG *sql.DB
}

func NewLightweightNotificationSender(pg *sql.DB) *LightweightNotificationSender {
	return &LightweightNotificationSender{PG: pg}
}

// execer lets enqueueNotification run against either the pool or an open
// transaction, so incident creation can make the enqueue part of its commit.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func enqueueNotification(ctx context.Context, e execer, notifType, userID, incidentID, priority string, channels []string) error {
	notification := map[string]interface{}{
		"type":        notifType,
		"user_id":     userID,
		"incident_id": incidentID,
		"channels":    channels,
		"priority":    priority,
		"created_at":  time.Now(),
		"retry_count": 0,
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	_, err = e.ExecContext(ctx, `SELECT pgmq.send($1, $2)`, NotificationQueue, string(payload))
	if err != nil {
		return fmt.Errorf("failed to send notification to queue: %w", err)
	}
	return nil
}

// The sender interface carries no context; callers are fire-and-forget
// goroutines and the escalation worker loop.
func (l *LightweightNotificationSender) enqueue(notifType, userID, incidentID, priority string, channels []string) error {
	return enqueueNotification(context.Background(), l.PG, notifType, userID, incidentID, priority, channels)
}

// Assignment and escalation page people, so they go out on every channel with
// high priority. Acknowledge/resolve are informational.

func (l *LightweightNotificationSender) SendIncidentAssignedNotification(userID, incidentID string) error {
	return l.enqueue("assigned", userID, incidentID, "high", []string{"slack", "push"})
}

func (l *LightweightNotificationSender) SendIncidentEscalatedNotification(userID, incidentID string) error {
	return l.enqueue("escalated", userID, incidentID, "high", []string{"slack", "push"})
}

func (l *LightweightNotificationSender) SendIncidentAcknowledgedNotification(userID, incidentID string) error {
	return l.enqueue("acknowledged", userID, incidentID, "medium", []string{"slack"})
}

func (l *LightweightNotificationSender) SendIncidentResolvedNotification(userID, incidentID string) error {
	return l.enqueue("resolved", userID, incidentID, "medium", []string{"slack"})
}
