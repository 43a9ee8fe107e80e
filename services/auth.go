package services

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/incidentflow/api/db"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type AuthService struct {
	PG         *sql.DB
	JWTService *JWTService
}

type LoginResponse struct {
	User  db.User `json:"user"`
	Token string  `json:"token"`
}

func NewAuthService(pg *sql.DB, jwtService *JWTService) *AuthService {
	return &AuthService{PG: pg, JWTService: jwtService}
}

// Register creates an organization and its first user in one transaction.
// The founding user becomes ADMIN. Subsequent users of an existing org are
// created through RegisterMember.
func (s *AuthService) Register(req db.RegisterRequest) (*LoginResponse, error) {
	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.PG.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	orgID := uuid.NewString()
	slug := slugify(req.OrganizationName)
	_, err = tx.Exec(`
		INSERT INTO organizations (id, name, slug, created_at)
		VALUES ($1, $2, $3, NOW())`, orgID, req.OrganizationName, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	user := db.User{
		ID:             uuid.NewString(),
		Email:          strings.ToLower(req.Email),
		FullName:       req.FullName,
		Role:           db.RoleAdmin,
		OrganizationID: orgID,
	}
	_, err = tx.Exec(`
		INSERT INTO users (id, email, full_name, role, password_hash, organization_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		user.ID, user.Email, user.FullName, string(user.Role), hash, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}

	token, err := s.JWTService.GenerateToken(&user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{User: user, Token: token}, nil
}

// RegisterMember adds a user to an existing organization. Default role is
// ENGINEER; the inviting admin can promote afterwards.
func (s *AuthService) RegisterMember(email, password, fullName, orgID string) (*db.User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := db.User{
		ID:             uuid.NewString(),
		Email:          strings.ToLower(email),
		FullName:       fullName,
		Role:           db.RoleEngineer,
		OrganizationID: orgID,
	}
	_, err = s.PG.Exec(`
		INSERT INTO users (id, email, full_name, role, password_hash, organization_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		user.ID, user.Email, user.FullName, string(user.Role), hash, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// Login verifies credentials and returns a session token. Unknown email and
// wrong password return the same error.
func (s *AuthService) Login(req db.LoginRequest) (*LoginResponse, error) {
	var user db.User
	var hash string
	err := s.PG.QueryRow(`
		SELECT id, email, full_name, role, password_hash, organization_id, created_at
		FROM users WHERE email = $1`, strings.ToLower(req.Email)).
		Scan(&user.ID, &user.Email, &user.FullName, &user.Role, &hash, &user.OrganizationID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.JWTService.GenerateToken(&user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{User: user, Token: token}, nil
}

// HashPassword creates a bcrypt hash of the password
func (s *AuthService) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
