package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/incidentflow/api/db"
)

const userCacheTTL = 5 * time.Minute

// UserService handles user lookups within an organization. Reads go through
// a short-lived Redis cache when one is configured; writes invalidate it.
type UserService struct {
	PG    *sql.DB
	Redis *redis.Client
}

func NewUserService(pg *sql.DB, rdb *redis.Client) *UserService {
	return &UserService{PG: pg, Redis: rdb}
}

// GetUser fetches one user scoped to the organization.
func (s *UserService) GetUser(userID, orgID string) (*db.User, error) {
	if cached := s.cacheGet(userID, orgID); cached != nil {
		return cached, nil
	}

	var user db.User
	var phone, fcmToken sql.NullString
	err := s.PG.QueryRow(`
		SELECT id, email, full_name, role, phone_number, fcm_token, organization_id, created_at
		FROM users WHERE id = $1 AND organization_id = $2`, userID, orgID).
		Scan(&user.ID, &user.Email, &user.FullName, &user.Role, &phone, &fcmToken, &user.OrganizationID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	user.PhoneNumber = phone.String
	user.FCMToken = fcmToken.String

	s.cacheSet(&user)
	return &user, nil
}

// ListUsers returns all users in the organization, alphabetically.
func (s *UserService) ListUsers(orgID string) ([]db.User, error) {
	rows, err := s.PG.Query(`
		SELECT id, email, full_name, role, phone_number, fcm_token, organization_id, created_at
		FROM users WHERE organization_id = $1
		ORDER BY full_name ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ListOrgAdmins returns the organization's ADMIN users. The SLA scanner
// notifies these alongside the incident owner.
func (s *UserService) ListOrgAdmins(orgID string) ([]db.User, error) {
	rows, err := s.PG.Query(`
		SELECT id, email, full_name, role, phone_number, fcm_token, organization_id, created_at
		FROM users WHERE organization_id = $1 AND role = $2
		ORDER BY full_name ASC`, orgID, string(db.RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("failed to query org admins: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// UpdateFCMToken stores the user's mobile push token.
func (s *UserService) UpdateFCMToken(userID, orgID, token string) error {
	result, err := s.PG.Exec(`
		UPDATE users SET fcm_token = $1 WHERE id = $2 AND organization_id = $3`,
		nullableString(token), userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to update fcm token: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.cacheInvalidate(userID, orgID)
	return nil
}

// UpdateRole changes a user's role. Only admins may call this; the handler
// enforces that, this just performs the scoped write.
func (s *UserService) UpdateRole(userID, orgID string, role db.UserRole) error {
	result, err := s.PG.Exec(`
		UPDATE users SET role = $1 WHERE id = $2 AND organization_id = $3`,
		string(role), userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.cacheInvalidate(userID, orgID)
	return nil
}

func userCacheKey(userID, orgID string) string {
	return fmt.Sprintf("user:%s:%s", orgID, userID)
}

func (s *UserService) cacheGet(userID, orgID string) *db.User {
	if s.Redis == nil {
		return nil
	}
	data, err := s.Redis.Get(context.Background(), userCacheKey(userID, orgID)).Bytes()
	if err != nil {
		return nil
	}
	var user db.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil
	}
	return &user
}

func (s *UserService) cacheSet(user *db.User) {
	if s.Redis == nil {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := s.Redis.Set(context.Background(), userCacheKey(user.ID, user.OrganizationID), data, userCacheTTL).Err(); err != nil {
		log.Printf("UserService: failed to cache user %s: %v", user.ID, err)
	}
}

func (s *UserService) cacheInvalidate(userID, orgID string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Del(context.Background(), userCacheKey(userID, orgID)).Err(); err != nil {
		log.Printf("UserService: failed to invalidate user cache %s: %v", userID, err)
	}
}

func scanUsers(rows *sql.Rows) ([]db.User, error) {
	var users []db.User
	for rows.Next() {
		var user db.User
		var phone, fcmToken sql.NullString
		if err := rows.Scan(&user.ID, &user.Email, &user.FullName, &user.Role, &phone, &fcmToken,
			&user.OrganizationID, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.PhoneNumber = phone.String
		user.FCMToken = fcmToken.String
		users = append(users, user)
	}
	return users, rows.Err()
}
