package services

import (
	"database/sql"
	"fmt"
	"time"
)

// AnalyticsService computes reporting aggregates over the incident store
// and the audit ledger. Read-only; runs outside the workflow engine.
type AnalyticsService struct {
	PG *sql.DB
}

func NewAnalyticsService(pg *sql.DB) *AnalyticsService {
	return &AnalyticsService{PG: pg}
}

// IncidentStats is the org-level summary for a reporting window.
type IncidentStats struct {
	TotalIncidents int            `json:"total_incidents"`
	OpenIncidents  int            `json:"open_incidents"`
	MTTASeconds    float64        `json:"mtta_seconds"`
	MTTRSeconds    float64        `json:"mttr_seconds"`
	SLABreachedPct float64        `json:"sla_breached_pct"`
	BySeverity     map[string]int `json:"by_severity"`
}

// VolumePoint is one day of incident volume.
type VolumePoint struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// GetIncidentStats summarizes the organization's incidents since the cutoff.
// MTTA is measured from creation to the first acknowledgement event, a
// STATUS_CHANGE or OWNER_CHANGE. MTTR is creation to resolved_at.
func (s *AnalyticsService) GetIncidentStats(orgID string, since time.Time) (*IncidentStats, error) {
	stats := &IncidentStats{BySeverity: make(map[string]int)}

	err := s.PG.QueryRow(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status NOT IN ('RESOLVED', 'CLOSED')),
		       COALESCE(AVG(EXTRACT(EPOCH FROM (resolved_at - created_at))) FILTER (WHERE resolved_at IS NOT NULL), 0)
		FROM incidents
		WHERE organization_id = $1 AND created_at >= $2`, orgID, since).
		Scan(&stats.TotalIncidents, &stats.OpenIncidents, &stats.MTTRSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to compute incident totals: %w", err)
	}

	err = s.PG.QueryRow(`
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (ack.first_ack - i.created_at))), 0)
		FROM incidents i
		JOIN (
			SELECT incident_id, MIN(created_at) AS first_ack
			FROM incident_events
			WHERE event_type IN ('STATUS_CHANGE', 'OWNER_CHANGE')
			GROUP BY incident_id
		) ack ON ack.incident_id = i.id
		WHERE i.organization_id = $1 AND i.created_at >= $2`, orgID, since).
		Scan(&stats.MTTASeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to compute mtta: %w", err)
	}

	var breached int
	err = s.PG.QueryRow(`
		SELECT COUNT(DISTINCT e.incident_id)
		FROM incident_events e
		JOIN incidents i ON i.id = e.incident_id
		WHERE e.event_type = 'SLA_BREACH' AND i.organization_id = $1 AND i.created_at >= $2`, orgID, since).
		Scan(&breached)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sla breach count: %w", err)
	}
	if stats.TotalIncidents > 0 {
		stats.SLABreachedPct = 100 * float64(breached) / float64(stats.TotalIncidents)
	}

	rows, err := s.PG.Query(`
		SELECT severity, COUNT(*)
		FROM incidents
		WHERE organization_id = $1 AND created_at >= $2
		GROUP BY severity`, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute severity breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity row: %w", err)
		}
		stats.BySeverity[severity] = count
	}
	return stats, rows.Err()
}

// GetVolumeTrend returns incidents per day since the cutoff.
func (s *AnalyticsService) GetVolumeTrend(orgID string, since time.Time) ([]VolumePoint, error) {
	rows, err := s.PG.Query(`
		SELECT DATE_TRUNC('day', created_at) AS day, COUNT(*)
		FROM incidents
		WHERE organization_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day ASC`, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query volume trend: %w", err)
	}
	defer rows.Close()

	var points []VolumePoint
	for rows.Next() {
		var p VolumePoint
		if err := rows.Scan(&p.Day, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan volume row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
