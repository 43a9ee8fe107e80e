package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/incidentflow/api/db"
)

// IncidentService is the workflow engine. Every mutation runs as one
// transaction: the incident row change and its audit event commit or roll
// back together, and the affected row is locked so the FSM check is
// evaluated against committed state rather than a stale read.
type IncidentService struct {
	PG                 *sql.DB
	NotificationSender NotificationSender // best-effort, never blocks a mutation
}

func NewIncidentService(pg *sql.DB) *IncidentService {
	return &IncidentService{PG: pg}
}

// SetNotificationSender wires the notification sink. Optional; without it
// workflow operations still succeed and simply skip dispatch.
func (s *IncidentService) SetNotificationSender(sender NotificationSender) {
	s.NotificationSender = sender
}

// CreateIncident declares a new incident in DETECTED state. The owner
// defaults to the requester; assigning someone else requires MANAGER or
// ADMIN capability. A CREATION audit event is written in the same
// transaction, and a new-incident notification is queued for the owner.
func (s *IncidentService) CreateIncident(req db.CreateIncidentRequest, actor db.Actor, orgID string) (*db.Incident, error) {
	severity, ok := db.ParseIncidentSeverity(req.Severity)
	if !ok {
		return nil, &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown value %q", req.Severity)}
	}

	ownerID := actor.UserID
	if req.OwnerID != "" && req.OwnerID != actor.UserID {
		if !actor.Role.CanAssignOthers() {
			return nil, ErrPermissionDenied
		}
		ownerID = req.OwnerID
	}

	tx, err := s.PG.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	incidentID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO incidents (id, title, description, severity, status, owner_id, organization_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		incidentID, req.Title, req.Description, string(severity), string(db.IncidentStatusDetected), ownerID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert incident: %w", err)
	}

	comment := fmt.Sprintf("Incident declared by %s", s.actorNameTx(tx, actor))
	if ownerID != actor.UserID {
		comment += fmt.Sprintf(" (Assigned to %s)", ownerID)
	}
	if err := insertEventTx(tx, &db.IncidentEvent{
		IncidentID:     incidentID,
		ActorID:        actor.UserID,
		EventType:      db.EventCreation,
		NewValue:       string(db.IncidentStatusDetected),
		Comment:        comment,
		OrganizationID: orgID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit incident creation: %w", err)
	}

	created, err := s.GetIncident(incidentID, orgID)
	if err != nil {
		return nil, err
	}

	// New-incident alert to the owner. Dispatch failures are logged, never
	// propagated: the incident is already committed.
	s.notifyOwner(created)

	return created, nil
}

// TransitionIncident moves an incident to a new status if the state machine
// allows it. Entering RESOLVED or CLOSED stamps resolved_at (once); entering
// INVESTIGATING clears it (reopen). A STATUS_CHANGE event is written in the
// same transaction.
func (s *IncidentService) TransitionIncident(incidentID string, req db.TransitionIncidentRequest, actor db.Actor, orgID string) (*db.Incident, error) {
	newStatus, ok := db.ParseIncidentStatus(req.NewState)
	if !ok {
		return nil, &ValidationError{Field: "new_state", Reason: fmt.Sprintf("unknown value %q", req.NewState)}
	}

	tx, err := s.PG.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Row lock: the FSM check below must see the committed status, not a
	// snapshot that a concurrent transition could have invalidated.
	var currentStatus string
	var resolvedAt sql.NullTime
	err = tx.QueryRow(`
		SELECT status, resolved_at FROM incidents
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE`, incidentID, orgID).Scan(&currentStatus, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock incident: %w", err)
	}

	current := db.IncidentStatus(currentStatus)
	if !CanTransition(current, newStatus) {
		return nil, &InvalidTransitionError{From: current, To: newStatus}
	}

	var newResolvedAt interface{}
	if resolvedAt.Valid {
		newResolvedAt = resolvedAt.Time
	}
	switch newStatus {
	case db.IncidentStatusResolved, db.IncidentStatusClosed:
		if !resolvedAt.Valid {
			newResolvedAt = time.Now().UTC()
		}
	case db.IncidentStatusInvestigating:
		// Reopen: the resolution timestamp no longer holds.
		newResolvedAt = nil
	}

	_, err = tx.Exec(`
		UPDATE incidents SET status = $1, resolved_at = $2, updated_at = NOW()
		WHERE id = $3 AND organization_id = $4`,
		string(newStatus), newResolvedAt, incidentID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to update incident status: %w", err)
	}

	comment := req.Comment
	if comment == "" {
		comment = fmt.Sprintf("State changed from %s to %s", current, newStatus)
	}
	if err := insertEventTx(tx, &db.IncidentEvent{
		IncidentID:     incidentID,
		ActorID:        actor.UserID,
		EventType:      db.EventStatusChange,
		OldValue:       string(current),
		NewValue:       string(newStatus),
		Comment:        comment,
		OrganizationID: orgID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return s.GetIncident(incidentID, orgID)
}

// UpdateIncident applies optional severity and owner changes. Each field is
// evaluated independently and produces its own audit event; a no-op request
// (new value equals current) produces none. Reassignment requires MANAGER
// or ADMIN capability. All changes and events commit atomically.
func (s *IncidentService) UpdateIncident(incidentID string, req db.UpdateIncidentRequest, actor db.Actor, orgID string) (*db.Incident, error) {
	tx, err := s.PG.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentSeverity string
	var currentOwner sql.NullString
	err = tx.QueryRow(`
		SELECT severity, owner_id FROM incidents
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE`, incidentID, orgID).Scan(&currentSeverity, &currentOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock incident: %w", err)
	}

	type change struct {
		eventType db.EventType
		oldValue  string
		newValue  string
	}
	var changes []change

	newSeverity := currentSeverity
	if req.Severity != nil {
		severity, ok := db.ParseIncidentSeverity(*req.Severity)
		if !ok {
			return nil, &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown value %q", *req.Severity)}
		}
		if string(severity) != currentSeverity {
			changes = append(changes, change{db.EventSeverityChange, currentSeverity, string(severity)})
			newSeverity = string(severity)
		}
	}

	newOwner := currentOwner.String
	if req.OwnerID != nil && *req.OwnerID != currentOwner.String {
		// Anyone may claim an incident for themselves; assigning someone
		// else needs MANAGER or ADMIN.
		if *req.OwnerID != actor.UserID && !actor.Role.CanAssignOthers() {
			return nil, ErrPermissionDenied
		}
		changes = append(changes, change{db.EventOwnerChange, currentOwner.String, *req.OwnerID})
		newOwner = *req.OwnerID
	}

	if len(changes) == 0 {
		return s.GetIncident(incidentID, orgID)
	}

	_, err = tx.Exec(`
		UPDATE incidents SET severity = $1, owner_id = $2, updated_at = NOW()
		WHERE id = $3 AND organization_id = $4`,
		newSeverity, nullableString(newOwner), incidentID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	for _, ch := range changes {
		comment := req.Comment
		if comment == "" {
			comment = fmt.Sprintf("%s from %s to %s", strings.ToLower(string(ch.eventType)), ch.oldValue, ch.newValue)
		}
		if err := insertEventTx(tx, &db.IncidentEvent{
			IncidentID:     incidentID,
			ActorID:        actor.UserID,
			EventType:      ch.eventType,
			OldValue:       ch.oldValue,
			NewValue:       ch.newValue,
			Comment:        comment,
			OrganizationID: orgID,
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return s.GetIncident(incidentID, orgID)
}

// AddComment appends a COMMENT event. No incident state is mutated.
func (s *IncidentService) AddComment(incidentID, comment string, actor db.Actor, orgID string) error {
	tx, err := s.PG.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists string
	err = tx.QueryRow(`SELECT id FROM incidents WHERE id = $1 AND organization_id = $2`, incidentID, orgID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to fetch incident: %w", err)
	}

	if err := insertEventTx(tx, &db.IncidentEvent{
		IncidentID:     incidentID,
		ActorID:        actor.UserID,
		EventType:      db.EventComment,
		Comment:        comment,
		OrganizationID: orgID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit comment: %w", err)
	}
	return nil
}

// DeleteIncident removes an incident and everything it owns: audit events
// and attachments cascade in the same transaction. ADMIN or MANAGER only.
func (s *IncidentService) DeleteIncident(incidentID string, actor db.Actor, orgID string) error {
	tx, err := s.PG.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists string
	err = tx.QueryRow(`SELECT id FROM incidents WHERE id = $1 AND organization_id = $2 FOR UPDATE`, incidentID, orgID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock incident: %w", err)
	}

	if !actor.Role.CanDeleteIncidents() {
		return ErrPermissionDenied
	}

	if _, err := tx.Exec(`DELETE FROM incident_events WHERE incident_id = $1`, incidentID); err != nil {
		return fmt.Errorf("failed to delete incident events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM incident_attachments WHERE incident_id = $1`, incidentID); err != nil {
		return fmt.Errorf("failed to delete incident attachments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM incidents WHERE id = $1 AND organization_id = $2`, incidentID, orgID); err != nil {
		return fmt.Errorf("failed to delete incident: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}
	return nil
}

// GetIncident fetches one incident within the organization scope.
func (s *IncidentService) GetIncident(incidentID, orgID string) (*db.Incident, error) {
	row := s.PG.QueryRow(`
		SELECT i.id, i.title, i.description, i.severity, i.status, i.owner_id,
		       i.organization_id, i.created_at, i.updated_at, i.resolved_at,
		       u.full_name AS owner_name, u.email AS owner_email
		FROM incidents i
		LEFT JOIN users u ON i.owner_id = u.id
		WHERE i.id = $1 AND i.organization_id = $2`, incidentID, orgID)
	return scanIncident(row)
}

// ListIncidents returns incidents in the organization, newest first.
// Status and severity filters are optional.
func (s *IncidentService) ListIncidents(orgID string, status, severity string) ([]db.Incident, error) {
	query := `
		SELECT i.id, i.title, i.description, i.severity, i.status, i.owner_id,
		       i.organization_id, i.created_at, i.updated_at, i.resolved_at,
		       u.full_name AS owner_name, u.email AS owner_email
		FROM incidents i
		LEFT JOIN users u ON i.owner_id = u.id
		WHERE i.organization_id = $1`
	args := []interface{}{orgID}
	argIndex := 2
	if status != "" {
		query += fmt.Sprintf(" AND i.status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}
	if severity != "" {
		query += fmt.Sprintf(" AND i.severity = $%d", argIndex)
		args = append(args, severity)
	}
	query += " ORDER BY i.created_at DESC"

	rows, err := s.PG.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []db.Incident
	for rows.Next() {
		incident, err := scanIncidentRow(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *incident)
	}
	return incidents, rows.Err()
}

// GetIncidentEvents returns the full audit trail for an incident, newest
// first. The incident must exist in the organization scope.
func (s *IncidentService) GetIncidentEvents(incidentID, orgID string) ([]db.IncidentEvent, error) {
	var exists string
	err := s.PG.QueryRow(`SELECT id FROM incidents WHERE id = $1 AND organization_id = $2`, incidentID, orgID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch incident: %w", err)
	}

	rows, err := s.PG.Query(`
		SELECT e.id, e.incident_id, e.actor_id, e.event_type, e.old_value, e.new_value,
		       e.comment, e.organization_id, e.created_at, u.full_name AS actor_name
		FROM incident_events e
		LEFT JOIN users u ON e.actor_id = u.id
		WHERE e.incident_id = $1
		ORDER BY e.created_at DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident events: %w", err)
	}
	defer rows.Close()

	var events []db.IncidentEvent
	for rows.Next() {
		var ev db.IncidentEvent
		var actorID, oldValue, newValue, comment, actorName sql.NullString
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &actorID, &ev.EventType, &oldValue, &newValue,
			&comment, &ev.OrganizationID, &ev.CreatedAt, &actorName); err != nil {
			return nil, fmt.Errorf("failed to scan incident event: %w", err)
		}
		ev.ActorID = actorID.String
		ev.OldValue = oldValue.String
		ev.NewValue = newValue.String
		ev.Comment = comment.String
		ev.ActorName = actorName.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// notifyOwner queues the new-incident alert for the incident owner.
func (s *IncidentService) notifyOwner(incident *db.Incident) {
	if s.NotificationSender == nil || incident.OwnerEmail == "" {
		return
	}
	err := s.NotificationSender.Send(Notification{
		Kind:          NotificationKindCreated,
		Recipient:     incident.OwnerEmail,
		UserID:        incident.OwnerID,
		IncidentID:    incident.ID,
		IncidentTitle: incident.Title,
		Severity:      incident.Severity,
	})
	if err != nil {
		log.Printf("IncidentService: failed to queue notification for incident %s: %v", incident.ID, err)
	}
}

// actorNameTx resolves a display name for audit comments. Falls back to the
// raw id when the lookup fails; never aborts the surrounding transaction.
func (s *IncidentService) actorNameTx(tx *sql.Tx, actor db.Actor) string {
	if actor.IsSystem() {
		return "system"
	}
	var name string
	if err := tx.QueryRow(`SELECT full_name FROM users WHERE id = $1`, actor.UserID).Scan(&name); err != nil {
		return actor.UserID
	}
	return name
}

// insertEventTx appends one audit event inside the caller's transaction.
// This is the only write path to incident_events; nothing in the codebase
// updates or deletes rows there (deletion only cascades with the incident).
func insertEventTx(tx *sql.Tx, ev *db.IncidentEvent) error {
	var actorID interface{}
	if ev.ActorID != "" {
		actorID = ev.ActorID
	}
	_, err := tx.Exec(`
		INSERT INTO incident_events (id, incident_id, actor_id, event_type, old_value, new_value, comment, organization_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		uuid.NewString(), ev.IncidentID, actorID, string(ev.EventType),
		nullableString(ev.OldValue), nullableString(ev.NewValue), nullableString(ev.Comment), ev.OrganizationID)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", ev.EventType, err)
	}
	return nil
}

func scanIncident(row *sql.Row) (*db.Incident, error) {
	var inc db.Incident
	var ownerID, ownerName, ownerEmail sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.Severity, &inc.Status, &ownerID,
		&inc.OrganizationID, &inc.CreatedAt, &inc.UpdatedAt, &resolvedAt, &ownerName, &ownerEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan incident: %w", err)
	}
	inc.OwnerID = ownerID.String
	inc.OwnerName = ownerName.String
	inc.OwnerEmail = ownerEmail.String
	if resolvedAt.Valid {
		inc.ResolvedAt = &resolvedAt.Time
	}
	return &inc, nil
}

func scanIncidentRow(rows *sql.Rows) (*db.Incident, error) {
	var inc db.Incident
	var ownerID, ownerName, ownerEmail sql.NullString
	var resolvedAt sql.NullTime
	err := rows.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.Severity, &inc.Status, &ownerID,
		&inc.OrganizationID, &inc.CreatedAt, &inc.UpdatedAt, &resolvedAt, &ownerName, &ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to scan incident: %w", err)
	}
	inc.OwnerID = ownerID.String
	inc.OwnerName = ownerName.String
	inc.OwnerEmail = ownerEmail.String
	if resolvedAt.Valid {
		inc.ResolvedAt = &resolvedAt.Time
	}
	return &inc, nil
}
