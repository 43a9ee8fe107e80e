package services

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/incidentflow/api/db"
)

// Notification kinds dispatched by the workflow engine and the SLA scanner.
const (
	NotificationKindCreated   = "created"
	NotificationKindSLABreach = "sla_breach"
)

// Notification is the subject-context handed to the notification sink. The
// sink owns delivery and retry; callers treat dispatch as best-effort.
type Notification struct {
	Kind          string              `json:"kind"`
	Recipient     string              `json:"recipient"` // email address
	UserID        string              `json:"user_id,omitempty"`
	IncidentID    string              `json:"incident_id"`
	IncidentTitle string              `json:"incident_title"`
	Severity      db.IncidentSeverity `json:"severity"`
}

// NotificationSender enqueues incident notifications for delivery.
type NotificationSender interface {
	Send(n Notification) error
}

// QueueNotificationSender implements NotificationSender for processes that
// only enqueue (API server, SLA scanner). Messages land in the durable
// notification_queue table and are drained by workers.NotificationWorker.
type QueueNotificationSender struct {
	PG *sql.DB
}

func NewQueueNotificationSender(pg *sql.DB) *QueueNotificationSender {
	return &QueueNotificationSender{PG: pg}
}

// Send inserts the notification into the queue, due immediately.
func (q *QueueNotificationSender) Send(n Notification) error {
	_, err := q.PG.Exec(`
		INSERT INTO notification_queue (id, kind, recipient, user_id, incident_id, incident_title, severity, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW())`,
		uuid.NewString(), n.Kind, n.Recipient, nullableString(n.UserID), n.IncidentID, n.IncidentTitle, string(n.Severity))
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
