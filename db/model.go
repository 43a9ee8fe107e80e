package db

import "time"

// ===========================
// ENUMS
// ===========================

// IncidentStatus is the fixed set of workflow states. The transition graph
// between them lives in services/fsm.go.
type IncidentStatus string

const (
	IncidentStatusDetected      IncidentStatus = "DETECTED"
	IncidentStatusInvestigating IncidentStatus = "INVESTIGATING"
	IncidentStatusMitigated     IncidentStatus = "MITIGATED"
	IncidentStatusResolved      IncidentStatus = "RESOLVED"
	IncidentStatusPostmortem    IncidentStatus = "POSTMORTEM"
	IncidentStatusClosed        IncidentStatus = "CLOSED"
	IncidentStatusEscalated     IncidentStatus = "ESCALATED"
)

// ParseIncidentStatus validates a raw status literal.
func ParseIncidentStatus(raw string) (IncidentStatus, bool) {
	switch IncidentStatus(raw) {
	case IncidentStatusDetected, IncidentStatusInvestigating, IncidentStatusMitigated,
		IncidentStatusResolved, IncidentStatusPostmortem, IncidentStatusClosed, IncidentStatusEscalated:
		return IncidentStatus(raw), true
	}
	return "", false
}

// IncidentSeverity is ordered: SEV1 is the most severe.
type IncidentSeverity string

const (
	SeveritySev1 IncidentSeverity = "SEV1"
	SeveritySev2 IncidentSeverity = "SEV2"
	SeveritySev3 IncidentSeverity = "SEV3"
	SeveritySev4 IncidentSeverity = "SEV4"
)

// ParseIncidentSeverity validates a raw severity literal.
func ParseIncidentSeverity(raw string) (IncidentSeverity, bool) {
	switch IncidentSeverity(raw) {
	case SeveritySev1, SeveritySev2, SeveritySev3, SeveritySev4:
		return IncidentSeverity(raw), true
	}
	return "", false
}

// Rank returns the severity order, 1 being the most severe. Unknown values
// rank below SEV4.
func (s IncidentSeverity) Rank() int {
	switch s {
	case SeveritySev1:
		return 1
	case SeveritySev2:
		return 2
	case SeveritySev3:
		return 3
	case SeveritySev4:
		return 4
	}
	return 5
}

// UserRole is the resolved capability set attached to an authenticated actor.
// The core never decodes tokens; it only checks these.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleManager  UserRole = "MANAGER"
	RoleEngineer UserRole = "ENGINEER"
	RoleBot      UserRole = "BOT" // system-only, never a request actor
)

// ParseUserRole validates a raw role literal.
func ParseUserRole(raw string) (UserRole, bool) {
	switch UserRole(raw) {
	case RoleAdmin, RoleManager, RoleEngineer, RoleBot:
		return UserRole(raw), true
	}
	return "", false
}

// CanAssignOthers reports whether the role may assign or reassign incidents
// to a user other than the requester.
func (r UserRole) CanAssignOthers() bool {
	return r == RoleAdmin || r == RoleManager
}

// CanDeleteIncidents reports whether the role may delete incidents.
func (r UserRole) CanDeleteIncidents() bool {
	return r == RoleAdmin || r == RoleManager
}

// EventType classifies audit log entries.
type EventType string

const (
	EventCreation         EventType = "CREATION"
	EventStatusChange     EventType = "STATUS_CHANGE"
	EventSeverityChange   EventType = "SEVERITY_CHANGE"
	EventOwnerChange      EventType = "OWNER_CHANGE"
	EventComment          EventType = "COMMENT"
	EventSLABreach        EventType = "SLA_BREACH"
	EventAttachmentUpload EventType = "ATTACHMENT_UPLOAD"
	EventAttachmentDelete EventType = "ATTACHMENT_DELETE"
)

// ===========================
// CORE MODELS
// ===========================

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"` // e.g. "acme-corp"
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	Role           UserRole  `json:"role"`
	PhoneNumber    string    `json:"phone_number,omitempty"`
	FCMToken       string    `json:"fcm_token,omitempty"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type Incident struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Severity    IncidentSeverity `json:"severity"`
	Status      IncidentStatus   `json:"status"`
	OwnerID     string           `json:"owner_id,omitempty"`

	// Tenant isolation: every read and write is scoped by this.
	OrganizationID string `json:"organization_id"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// For API responses (populated via JOINs)
	OwnerName  string `json:"owner_name,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`
}

// IncidentEvent is one row of the append-only audit ledger. Rows are
// immutable once written; no update or delete is exposed anywhere in the
// service layer. A NULL actor means the action was taken by the system.
type IncidentEvent struct {
	ID             string    `json:"id"`
	IncidentID     string    `json:"incident_id"`
	ActorID        string    `json:"actor_id,omitempty"` // empty = system action
	EventType      EventType `json:"event_type"`
	OldValue       string    `json:"old_value,omitempty"`
	NewValue       string    `json:"new_value,omitempty"`
	Comment        string    `json:"comment,omitempty"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`

	// For API responses (populated via JOINs)
	ActorName string `json:"actor_name,omitempty"`
}

type IncidentAttachment struct {
	ID             string    `json:"id"`
	IncidentID     string    `json:"incident_id"`
	FileName       string    `json:"file_name"`
	FileKey        string    `json:"file_key"` // object storage path
	UploadedBy     string    `json:"uploaded_by"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// ===========================
// REQUEST MODELS
// ===========================

type CreateIncidentRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Severity    string `json:"severity" binding:"required"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type TransitionIncidentRequest struct {
	NewState string `json:"new_state" binding:"required"`
	Comment  string `json:"comment,omitempty"`
}

type UpdateIncidentRequest struct {
	Severity *string `json:"severity,omitempty"`
	OwnerID  *string `json:"owner_id,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

type CommentRequest struct {
	Comment string `json:"comment" binding:"required"`
}

type RegisterRequest struct {
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required,min=8"`
	FullName         string `json:"full_name" binding:"required"`
	OrganizationName string `json:"organization_name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}
