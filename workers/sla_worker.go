package workers

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/incidentflow/api/db"
	"github.com/incidentflow/api/internal/config"
	"github.com/incidentflow/api/services"
)

const slaScanLockKey = "sla_scanner:lock"

// SLAWorker periodically scans for DETECTED incidents that have exceeded
// their acknowledgement deadline. Each breach escalates the incident to
// ESCALATED and writes one SLA_BREACH audit event (system actor), then fans
// a notification out to the incident owner and the organization's admins.
//
// Scans never overlap: an in-process mutex guards against a slow scan
// outlasting the tick, and a Redis lease guards against concurrent scans
// from other replicas. A busy tick is skipped, not queued.
type SLAWorker struct {
	PG       *sql.DB
	Redis    *redis.Client
	Users    *services.UserService
	Sender   services.NotificationSender
	SLA      config.SLAConfig
	scanning sync.Mutex
}

func NewSLAWorker(pg *sql.DB, rdb *redis.Client, users *services.UserService, sender services.NotificationSender, sla config.SLAConfig) *SLAWorker {
	return &SLAWorker{
		PG:     pg,
		Redis:  rdb,
		Users:  users,
		Sender: sender,
		SLA:    sla,
	}
}

// Start runs the scan loop until the context is cancelled.
func (w *SLAWorker) Start(ctx context.Context) {
	interval := w.SLA.ScanInterval()
	log.Printf("SLAWorker: scanning every %s (SEV1=%dm SEV2=%dm SEV3=%dm SEV4=%dm)",
		interval, w.SLA.Sev1Minutes, w.SLA.Sev2Minutes, w.SLA.Sev3Minutes, w.SLA.Sev4Minutes)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("SLAWorker: stopping")
			return
		case <-ticker.C:
			if !w.scanning.TryLock() {
				log.Println("SLAWorker: previous scan still running, skipping tick")
				continue
			}
			if err := w.ScanOnce(ctx); err != nil {
				log.Printf("SLAWorker: scan failed: %v", err)
			}
			w.scanning.Unlock()
		}
	}
}

// ScanOnce performs a single breach scan across all organizations. All
// escalations for the batch commit in one transaction, so a crash mid-scan
// leaves no incident half-escalated; missed ones are picked up next tick.
func (w *SLAWorker) ScanOnce(ctx context.Context) error {
	release, acquired := w.acquireLease(ctx)
	if !acquired {
		log.Println("SLAWorker: another replica holds the scan lease, skipping")
		return nil
	}
	defer release()

	breaches, err := w.markBreaches()
	if err != nil {
		return err
	}
	if len(breaches) == 0 {
		return nil
	}
	log.Printf("SLAWorker: escalated %d incidents past their SLA", len(breaches))

	// Notifications go out after the commit. A delivery failure must not
	// undo the breach events; the queue sink retries on its own.
	for _, b := range breaches {
		w.notifyBreach(b)
	}
	return nil
}

// breachedIncident is the slice of incident state the scanner carries from
// the marking transaction to the notification fan-out.
type breachedIncident struct {
	ID             string
	Title          string
	Severity       db.IncidentSeverity
	OwnerID        string
	OrganizationID string
}

// markBreaches locks candidate rows, filters for expired deadlines, then
// escalates each breached incident and writes its SLA_BREACH event. Only
// DETECTED incidents are candidates, so an escalated incident drops out of
// the next scan and is never double-escalated.
func (w *SLAWorker) markBreaches() ([]breachedIncident, error) {
	tx, err := w.PG.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin scan transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT i.id, i.title, i.severity, i.owner_id, i.organization_id, i.created_at
		FROM incidents i
		WHERE i.status = $1
		ORDER BY i.created_at ASC
		FOR UPDATE OF i`, string(db.IncidentStatusDetected))
	if err != nil {
		return nil, fmt.Errorf("failed to query detected incidents: %w", err)
	}

	now := time.Now().UTC()
	var breaches []breachedIncident
	for rows.Next() {
		var b breachedIncident
		var ownerID sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&b.ID, &b.Title, &b.Severity, &ownerID, &b.OrganizationID, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		b.OwnerID = ownerID.String
		if now.Sub(createdAt) >= w.SLA.Threshold(b.Severity) {
			breaches = append(breaches, b)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}

	for _, b := range breaches {
		_, err := tx.Exec(`
			UPDATE incidents SET status = $1, updated_at = NOW()
			WHERE id = $2 AND organization_id = $3`,
			string(db.IncidentStatusEscalated), b.ID, b.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("failed to escalate incident %s: %w", b.ID, err)
		}

		// actor_id NULL: the escalation is a system action, not a user's.
		comment := fmt.Sprintf("Auto-escalated: no acknowledgement within %d minutes (%s)",
			int(w.SLA.Threshold(b.Severity).Minutes()), b.Severity)
		_, err = tx.Exec(`
			INSERT INTO incident_events (id, incident_id, actor_id, event_type, old_value, new_value, comment, organization_id, created_at)
			VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, NOW())`,
			uuid.NewString(), b.ID, string(db.EventSLABreach),
			string(db.IncidentStatusDetected), string(db.IncidentStatusEscalated),
			comment, b.OrganizationID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert breach event for incident %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit breach scan: %w", err)
	}
	return breaches, nil
}

// notifyBreach fans one breach out to the owner and the org admins,
// deduplicated by user id.
func (w *SLAWorker) notifyBreach(b breachedIncident) {
	recipients := make(map[string]string) // user id -> email
	if b.OwnerID != "" {
		if owner, err := w.Users.GetUser(b.OwnerID, b.OrganizationID); err == nil {
			recipients[owner.ID] = owner.Email
		} else {
			log.Printf("SLAWorker: failed to resolve owner %s: %v", b.OwnerID, err)
		}
	}
	admins, err := w.Users.ListOrgAdmins(b.OrganizationID)
	if err != nil {
		log.Printf("SLAWorker: failed to list admins for org %s: %v", b.OrganizationID, err)
	}
	for _, admin := range admins {
		recipients[admin.ID] = admin.Email
	}

	for userID, email := range recipients {
		err := w.Sender.Send(services.Notification{
			Kind:          services.NotificationKindSLABreach,
			Recipient:     email,
			UserID:        userID,
			IncidentID:    b.ID,
			IncidentTitle: b.Title,
			Severity:      b.Severity,
		})
		if err != nil {
			log.Printf("SLAWorker: failed to queue breach notification for incident %s to %s: %v", b.ID, email, err)
		}
	}
}

// acquireLease takes the cross-replica scan lease. Without Redis the
// in-process mutex is the only guard, which is fine for single-replica
// deployments.
func (w *SLAWorker) acquireLease(ctx context.Context) (release func(), acquired bool) {
	if w.Redis == nil {
		return func() {}, true
	}
	ok, err := w.Redis.SetNX(ctx, slaScanLockKey, "1", w.SLA.ScanInterval()).Result()
	if err != nil {
		log.Printf("SLAWorker: redis lease unavailable, proceeding with local lock only: %v", err)
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}
	return func() {
		if err := w.Redis.Del(ctx, slaScanLockKey).Err(); err != nil {
			log.Printf("SLAWorker: failed to release scan lease: %v", err)
		}
	}, true
}
