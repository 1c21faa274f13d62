package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/resqhq/resq/services"
)

const (
	notificationBatchSize     = 5
	notificationVisibilitySec = 30
	maxDeliveryAttempts       = 5
	retryBaseDelay            = 1 * time.Second
	retryMaxDelay             = 60 * time.Second
)

// NotificationWorker drains the PGMQ notification queue and dispatches to the
// Slack and push sinks. Failed deliveries are re-enqueued with exponential
// backoff and logged permanently after the attempt budget runs out.
type NotificationWorker struct {
	PG    *sql.DB
	Slack *services.SlackService
	FCM   *services.FCMService
}

// NotificationMessage is the queue payload produced by the API side.
type NotificationMessage struct {
	UserID      string     `json:"user_id"`
	IncidentID  string     `json:"incident_id"`
	Type        string     `json:"type"`     // assigned, escalated, acknowledged, resolved
	Priority    string     `json:"priority"` // high, medium, low
	Channels    []string   `json:"channels"` // slack, push
	RetryCount  int        `json:"retry_count"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// pgmqMessage is one row from pgmq.read.
type pgmqMessage struct {
	MsgID   int64
	ReadCT  int
	Message json.RawMessage
}

func NewNotificationWorker(pg *sql.DB, slack *services.SlackService, fcm *services.FCMService) *NotificationWorker {
	return &NotificationWorker{PG: pg, Slack: slack, FCM: fcm}
}

// Start runs the consumer loop until the context is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) {
	log.Println("[notification] worker started, consuming from PGMQ")

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[notification] worker stopped")
			return
		case <-ticker.C:
			w.processQueue(services.NotificationQueue)
		}
	}
}

func (w *NotificationWorker) processQueue(queueName string) {
	rows, err := w.PG.Query(`
		SELECT msg_id, read_ct, message
		FROM pgmq.read($1, $2, $3)
	`, queueName, notificationVisibilitySec, notificationBatchSize)
	if err != nil {
		log.Printf("[notification] failed to read from queue %s: %v", queueName, err)
		return
	}
	defer rows.Close()

	var messages []pgmqMessage
	for rows.Next() {
		var msg pgmqMessage
		var raw []byte
		if err := rows.Scan(&msg.MsgID, &msg.ReadCT, &raw); err != nil {
			log.Printf("[notification] failed to scan message: %v", err)
			continue
		}
		msg.Message = json.RawMessage(raw)
		messages = append(messages, msg)
	}
	rows.Close()

	for _, msg := range messages {
		w.processMessage(queueName, msg)
	}
}

func (w *NotificationWorker) processMessage(queueName string, msg pgmqMessage) {
	var notification NotificationMessage
	if err := json.Unmarshal(msg.Message, &notification); err != nil {
		log.Printf("[notification] dropping malformed message %d: %v", msg.MsgID, err)
		w.deleteMessage(queueName, msg.MsgID)
		return
	}

	if err := w.dispatch(&notification); err != nil {
		w.handleFailure(queueName, msg.MsgID, &notification, err)
		return
	}

	w.deleteMessage(queueName, msg.MsgID)
}

// dispatch fans out to every requested channel. One failing channel fails the
// whole message so the retry covers it; sinks are idempotent enough for the
// duplicate delivery this can cause on the other channel.
func (w *NotificationWorker) dispatch(notification *NotificationMessage) error {
	var firstErr error
	for _, channel := range notification.Channels {
		var err error
		switch channel {
		case "slack":
			if w.Slack != nil {
				err = w.Slack.SendIncidentNotification(notification.UserID, notification.IncidentID, notification.Type)
			}
		case "push":
			if w.FCM != nil {
				err = w.FCM.SendIncidentNotification(notification.UserID, notification.IncidentID, notification.Type)
			}
		default:
			log.Printf("[notification] unknown channel %q, skipping", channel)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s delivery failed: %w", channel, err)
		}
	}
	return firstErr
}

func (w *NotificationWorker) handleFailure(queueName string, msgID int64, notification *NotificationMessage, deliveryErr error) {
	notification.RetryCount++
	if notification.RetryCount >= maxDeliveryAttempts {
		log.Printf("[notification] giving up on incident %s after %d attempts: %v",
			notification.IncidentID, notification.RetryCount, deliveryErr)
		w.logFailedNotification(notification, deliveryErr)
		w.deleteMessage(queueName, msgID)
		return
	}

	delay := backoffDelay(notification.RetryCount)
	log.Printf("[notification] retry %d/%d for incident %s in %s: %v",
		notification.RetryCount, maxDeliveryAttempts, notification.IncidentID, delay, deliveryErr)

	scheduledAt := time.Now().Add(delay)
	notification.ScheduledAt = &scheduledAt

	payload, err := json.Marshal(notification)
	if err != nil {
		log.Printf("[notification] failed to marshal retry message: %v", err)
		w.deleteMessage(queueName, msgID)
		return
	}

	_, err = w.PG.Exec(`SELECT pgmq.send($1, $2, $3::int)`,
		queueName, string(payload), int(delay.Seconds()))
	if err != nil {
		// Leave the original message; visibility timeout will redeliver it.
		log.Printf("[notification] failed to re-enqueue message %d: %v", msgID, err)
		return
	}
	w.deleteMessage(queueName, msgID)
}

// backoffDelay doubles per attempt from the base and caps at retryMaxDelay.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

func (w *NotificationWorker) deleteMessage(queueName string, msgID int64) {
	_, err := w.PG.Exec(`SELECT pgmq.delete($1, $2::bigint)`, queueName, msgID)
	if err != nil {
		log.Printf("[notification] failed to delete message %d from %s: %v", msgID, queueName, err)
	}
}

func (w *NotificationWorker) logFailedNotification(notification *NotificationMessage, deliveryErr error) {
	channelsJSON, _ := json.Marshal(notification.Channels)

	_, err := w.PG.Exec(`
		INSERT INTO notification_logs (user_id, incident_id, notification_type,
			channel, recipient, message, status, error_message, retry_count)
		VALUES ($1, $2, $3, $4, '', '', 'failed', $5, $6)
	`, notification.UserID, notification.IncidentID, notification.Type,
		string(channelsJSON), deliveryErr.Error(), notification.RetryCount)
	if err != nil {
		log.Printf("[notification] failed to log failed notification: %v", err)
	}
}

// GetQueueStats reads pgmq.metrics for the health endpoint.
func (w *NotificationWorker) GetQueueStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var queueLength, totalMessages sql.NullInt64
	err := w.PG.QueryRow(`
		SELECT queue_length, total_messages FROM pgmq.metrics($1)
	`, services.NotificationQueue).Scan(&queueLength, &totalMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue metrics: %w", err)
	}

	stats[services.NotificationQueue] = map[string]interface{}{
		"queue_length":   queueLength.Int64,
		"total_messages": totalMessages.Int64,
	}
	return stats, nil
}
