package services

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

type UserService struct {
	PG *sql.DB
}

func NewUserService(pg *sql.DB) *UserService {
	return &UserService{PG: pg}
}

// ListUsers returns active users belonging to the organization.
func (s *UserService) ListUsers(filter db.TenantFilter) ([]db.User, error) {
	filter.MustValidate()

	rows, err := s.PG.Query(`
		SELECT u.id, u.name, u.email, COALESCE(u.phone, '') as phone, u.role, u.team,
		       COALESCE(u.fcm_token, '') as fcm_token, u.is_active, u.created_at, u.updated_at
		FROM users u
		JOIN memberships m ON m.user_id = u.id
		WHERE u.is_active = true AND m.resource_type = 'org' AND m.resource_id = $1
		ORDER BY u.name`, filter.OrgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []db.User
	for rows.Next() {
		var u db.User
		err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.Team, &u.FCMToken, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

func (s *UserService) GetUser(id string) (db.User, error) {
	var u db.User
	err := s.PG.QueryRow(`
		SELECT id, COALESCE(provider, '') as provider, COALESCE(provider_id, '') as provider_id,
		       name, email, COALESCE(phone, '') as phone, role, team,
		       COALESCE(fcm_token, '') as fcm_token, is_active, created_at, updated_at
		FROM users WHERE id = $1 OR provider_id = $1`, id).
		Scan(&u.ID, &u.Provider, &u.ProviderID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.Team, &u.FCMToken, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, apperr.New(apperr.KindNotFound, "user not found")
	}
	return u, err
}

func (s *UserService) CreateUser(user db.User) (db.User, error) {
	if user.Email == "" {
		return user, apperr.New(apperr.KindValidation, "email is required")
	}

	user.ID = uuid.New().String()
	user.IsActive = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = "engineer"
	}

	_, err := s.PG.Exec(`
		INSERT INTO users (id, name, email, phone, role, team, fcm_token, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		user.ID, user.Name, user.Email, user.Phone, user.Role, user.Team, user.FCMToken, user.IsActive, user.CreatedAt, user.UpdatedAt)
	return user, err
}

func (s *UserService) UpdateUser(id string, user db.User) (db.User, error) {
	user.ID = id
	user.UpdatedAt = time.Now()

	_, err := s.PG.Exec(`
		UPDATE users SET name=$2, email=$3, phone=$4, role=$5, team=$6, updated_at=$7
		WHERE id=$1`,
		user.ID, user.Name, user.Email, user.Phone, user.Role, user.Team, user.UpdatedAt)
	if err != nil {
		return user, err
	}
	return s.GetUser(id)
}

// DeleteUser deactivates the user. Rows are never removed so incident history
// keeps its references.
func (s *UserService) DeleteUser(id string) error {
	_, err := s.PG.Exec(`UPDATE users SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// UpdateFCMToken stores the device push token for the user.
func (s *UserService) UpdateFCMToken(userID, fcmToken string) error {
	_, err := s.PG.Exec(`UPDATE users SET fcm_token = $1, updated_at = NOW() WHERE id = $2`, fcmToken, userID)
	return err
}

// CreateUserRecord upserts a user row directly. Used by the auth middleware to
// auto-sync identities on first login.
func (s *UserService) CreateUserRecord(user db.User) error {
	_, err := s.PG.Exec(`
		INSERT INTO users (id, provider, provider_id, name, email, phone, role, team, fcm_token, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			updated_at = EXCLUDED.updated_at`,
		user.ID, user.Provider, user.ProviderID, user.Name, user.Email, user.Phone, user.Role, user.Team,
		user.FCMToken, user.IsActive, user.CreatedAt, user.UpdatedAt)
	return err
}

// SearchUsers matches name, email, role or team, excluding the given IDs.
func (s *UserService) SearchUsers(query string, excludeIDs []string, limit int) ([]db.User, error) {
	users := make([]db.User, 0)

	baseQuery := `
		SELECT id, COALESCE(name, ''), COALESCE(email, ''), COALESCE(phone, ''),
		       COALESCE(role, ''), COALESCE(team, ''), COALESCE(fcm_token, ''),
		       is_active, created_at, updated_at
		FROM users
		WHERE is_active = true`

	args := []interface{}{}
	argCount := 0

	if query != "" {
		argCount++
		baseQuery += fmt.Sprintf(` AND (
			name ILIKE $%d OR
			email ILIKE $%d OR
			role ILIKE $%d OR
			team ILIKE $%d
		)`, argCount, argCount, argCount, argCount)
		args = append(args, "%"+query+"%")
	}

	if len(excludeIDs) > 0 {
		placeholders := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			argCount++
			placeholders[i] = fmt.Sprintf("$%d", argCount)
			args = append(args, id)
		}
		baseQuery += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ","))
	}

	baseQuery += " ORDER BY name ASC"
	if limit > 0 {
		argCount++
		baseQuery += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, limit)
	}

	rows, err := s.PG.Query(baseQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var user db.User
		err := rows.Scan(
			&user.ID, &user.Name, &user.Email, &user.Phone,
			&user.Role, &user.Team, &user.FCMToken, &user.IsActive,
			&user.CreatedAt, &user.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, nil
}
