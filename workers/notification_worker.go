package workers

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/Songmu/retry"

	"github.com/incidentflow/api/internal/config"
	"github.com/incidentflow/api/services"
)

// NotificationWorker drains the durable notification_queue table and
// delivers each message by email and, when the user has a device token,
// mobile push. Rows are claimed with FOR UPDATE SKIP LOCKED so multiple
// worker replicas can drain the same queue without double delivery.
//
// Delivery failures reschedule the row with exponential backoff. After
// MaxAttempts the row moves to notification_logs as failed.
type NotificationWorker struct {
	PG    *sql.DB
	Email *services.EmailService
	FCM   *services.FCMService
	Users *services.UserService
	Cfg   config.NotifyConfig
}

func NewNotificationWorker(pg *sql.DB, email *services.EmailService, fcm *services.FCMService, users *services.UserService, cfg config.NotifyConfig) *NotificationWorker {
	return &NotificationWorker{PG: pg, Email: email, FCM: fcm, Users: users, Cfg: cfg}
}

// Start runs the drain loop until the context is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) {
	interval := time.Duration(w.Cfg.PollIntervalSeconds) * time.Second
	log.Printf("NotificationWorker: polling every %s, batch size %d, max attempts %d",
		interval, w.Cfg.BatchSize, w.Cfg.MaxAttempts)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("NotificationWorker: stopping")
			return
		case <-ticker.C:
			if err := w.DrainOnce(); err != nil {
				log.Printf("NotificationWorker: drain failed: %v", err)
			}
		}
	}
}

// queuedNotification is one claimed row of the queue.
type queuedNotification struct {
	ID       string
	Attempts int
	services.Notification
}

// DrainOnce claims one batch of due notifications and delivers them.
func (w *NotificationWorker) DrainOnce() error {
	batch, err := w.claimBatch()
	if err != nil {
		return err
	}
	for _, qn := range batch {
		w.deliver(qn)
	}
	return nil
}

// claimBatch picks due rows and bumps their attempt counter in one
// transaction. The bump reschedules the row into the future immediately, so
// a worker crash mid-delivery means a delayed retry, never a lost message.
func (w *NotificationWorker) claimBatch() ([]queuedNotification, error) {
	tx, err := w.PG.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, kind, recipient, user_id, incident_id, incident_title, severity, attempts
		FROM notification_queue
		WHERE next_attempt_at <= NOW()
		ORDER BY next_attempt_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, w.Cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}

	var batch []queuedNotification
	for rows.Next() {
		var qn queuedNotification
		var userID sql.NullString
		if err := rows.Scan(&qn.ID, &qn.Kind, &qn.Recipient, &userID, &qn.IncidentID,
			&qn.IncidentTitle, &qn.Severity, &qn.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan queued notification: %w", err)
		}
		qn.UserID = userID.String
		batch = append(batch, qn)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}

	for _, qn := range batch {
		backoff := backoffDelay(qn.Attempts + 1)
		_, err := tx.Exec(`
			UPDATE notification_queue
			SET attempts = attempts + 1, next_attempt_at = NOW() + $1::interval
			WHERE id = $2`, fmt.Sprintf("%d seconds", int(backoff.Seconds())), qn.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to bump attempts for %s: %w", qn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return batch, nil
}

// deliver attempts email and push for one message, with a short in-process
// retry around the send. A success removes the row and logs the delivery; a
// final failure moves it to notification_logs.
func (w *NotificationWorker) deliver(qn queuedNotification) {
	err := retry.Retry(3, time.Second, func() error {
		return w.sendChannels(qn)
	})
	if err == nil {
		w.finish(qn, "delivered", "")
		return
	}

	// Attempts was already bumped when the row was claimed.
	if qn.Attempts+1 >= w.Cfg.MaxAttempts {
		log.Printf("NotificationWorker: giving up on notification %s after %d attempts: %v", qn.ID, qn.Attempts+1, err)
		w.finish(qn, "failed", err.Error())
		return
	}
	log.Printf("NotificationWorker: delivery of %s failed (attempt %d/%d), will retry: %v",
		qn.ID, qn.Attempts+1, w.Cfg.MaxAttempts, err)
}

func (w *NotificationWorker) sendChannels(qn queuedNotification) error {
	if err := w.Email.SendNotificationEmail(qn.Notification); err != nil {
		return err
	}
	// Push is opportunistic: no token or no FCM setup is not a failure.
	if w.FCM != nil && w.FCM.Enabled() && qn.UserID != "" {
		user, err := w.Users.GetUser(qn.UserID, w.orgForUser(qn))
		if err == nil && user.FCMToken != "" {
			if err := w.FCM.SendIncidentPush(user.FCMToken, qn.Notification); err != nil {
				log.Printf("NotificationWorker: push for %s failed: %v", qn.ID, err)
			}
		}
	}
	return nil
}

// orgForUser resolves the organization for the push lookup from the
// incident the notification is about.
func (w *NotificationWorker) orgForUser(qn queuedNotification) string {
	var orgID string
	err := w.PG.QueryRow(`SELECT organization_id FROM incidents WHERE id = $1`, qn.IncidentID).Scan(&orgID)
	if err != nil {
		return ""
	}
	return orgID
}

// finish removes the queue row and records the outcome.
func (w *NotificationWorker) finish(qn queuedNotification, status, errorMessage string) {
	tx, err := w.PG.Begin()
	if err != nil {
		log.Printf("NotificationWorker: failed to begin finish transaction for %s: %v", qn.ID, err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM notification_queue WHERE id = $1`, qn.ID); err != nil {
		log.Printf("NotificationWorker: failed to dequeue %s: %v", qn.ID, err)
		return
	}
	_, err = tx.Exec(`
		INSERT INTO notification_logs (id, kind, recipient, incident_id, status, attempts, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		qn.ID, qn.Kind, qn.Recipient, qn.IncidentID, status, qn.Attempts+1, nullableError(errorMessage))
	if err != nil {
		log.Printf("NotificationWorker: failed to log outcome for %s: %v", qn.ID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("NotificationWorker: failed to commit finish for %s: %v", qn.ID, err)
	}
}

// backoffDelay grows exponentially from 30s, capped at 30 minutes.
func backoffDelay(attempt int) time.Duration {
	delay := 30 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return delay
}

func nullableError(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
