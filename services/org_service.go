package services

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/incidentflow/api/db"
)

type OrgService struct {
	PG *sql.DB
}

func NewOrgService(pg *sql.DB) *OrgService {
	return &OrgService{PG: pg}
}

// GetOrganization fetches the caller's organization.
func (s *OrgService) GetOrganization(orgID string) (*db.Organization, error) {
	var org db.Organization
	err := s.PG.QueryRow(`
		SELECT id, name, slug, created_at FROM organizations WHERE id = $1`, orgID).
		Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch organization: %w", err)
	}
	return &org, nil
}
