package services

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

// APIKeyPrefix marks every key this instance issues. The plaintext is shown
// once at creation; only the bcrypt hash and a short lookup prefix persist.
const APIKeyPrefix = "resq_"

type APIKeyService struct {
	PG *sql.DB
}

func NewAPIKeyService(pg *sql.DB) *APIKeyService {
	return &APIKeyService{PG: pg}
}

// generateAPIKey returns a new plaintext key: resq_ + 32 random bytes hex.
func generateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(raw), nil
}

// keyLookupPrefix is stored alongside the hash so validation can narrow the
// bcrypt comparisons to a handful of candidate rows.
func keyLookupPrefix(key string) string {
	if len(key) < 16 {
		return key
	}
	return key[:16]
}

// CreateAPIKey mints a new key bound to the user's organization and an
// optional project.
func (s *APIKeyService) CreateAPIKey(userID, orgID string, req db.CreateAPIKeyRequest) (*db.CreateAPIKeyResponse, error) {
	if orgID == "" {
		return nil, apperr.New(apperr.KindValidation, "organization context is required")
	}

	plaintext, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash api key: %w", err)
	}

	id := uuid.New().String()
	now := time.Now()

	var projectParam interface{}
	if req.ProjectID != "" {
		projectParam = req.ProjectID
	}

	_, err = s.PG.Exec(`
		INSERT INTO api_keys (id, user_id, name, description, key_prefix, key_hash,
		                      is_active, created_at, updated_at, expires_at,
		                      organization_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $7, $8, $9, $10)
	`, id, userID, req.Name, req.Description, keyLookupPrefix(plaintext), string(hash),
		now, req.ExpiresAt, orgID, projectParam)
	if err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	return &db.CreateAPIKeyResponse{
		ID:        id,
		Name:      req.Name,
		APIKey:    plaintext,
		CreatedAt: now,
		ExpiresAt: req.ExpiresAt,
		Message:   "Store this key securely. It will not be shown again.",
	}, nil
}

// ValidateAPIKey resolves a plaintext key to its record, or an
// unauthenticated error when no active key matches.
func (s *APIKeyService) ValidateAPIKey(plaintext string) (*db.APIKey, error) {
	if !strings.HasPrefix(plaintext, APIKeyPrefix) {
		return nil, apperr.New(apperr.KindUnauthenticated, "not an api key")
	}

	rows, err := s.PG.Query(`
		SELECT id, user_id, name, key_hash, is_active, last_used_at, created_at, updated_at,
		       expires_at, COALESCE(description, '') as description,
		       COALESCE(organization_id::text, '') as organization_id,
		       COALESCE(project_id::text, '') as project_id
		FROM api_keys
		WHERE key_prefix = $1 AND is_active = true
	`, keyLookupPrefix(plaintext))
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key db.APIKey
		var lastUsedAt, expiresAt sql.NullTime

		err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.APIKeyHash, &key.IsActive,
			&lastUsedAt, &key.CreatedAt, &key.UpdatedAt, &expiresAt,
			&key.Description, &key.OrganizationID, &key.ProjectID)
		if err != nil {
			log.Printf("[apikey] error scanning api key: %v", err)
			continue
		}
		if lastUsedAt.Valid {
			key.LastUsedAt = &lastUsedAt.Time
		}
		if expiresAt.Valid {
			key.ExpiresAt = &expiresAt.Time
			if time.Now().After(expiresAt.Time) {
				continue
			}
		}

		if bcrypt.CompareHashAndPassword([]byte(key.APIKeyHash), []byte(plaintext)) == nil {
			return &key, nil
		}
	}

	return nil, apperr.New(apperr.KindUnauthenticated, "invalid api key")
}

// UpdateLastUsed stamps the key's last use. Called async from the auth path.
func (s *APIKeyService) UpdateLastUsed(keyID string) error {
	_, err := s.PG.Exec(`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	return err
}

// ListAPIKeys returns the caller's keys in the current organization.
func (s *APIKeyService) ListAPIKeys(userID string, filter db.TenantFilter) ([]db.APIKey, error) {
	filter.MustValidate()

	rows, err := s.PG.Query(`
		SELECT id, user_id, name, is_active, last_used_at, created_at, updated_at,
		       expires_at, COALESCE(description, '') as description,
		       COALESCE(organization_id::text, '') as organization_id,
		       COALESCE(project_id::text, '') as project_id
		FROM api_keys
		WHERE user_id = $1 AND organization_id = $2
		ORDER BY created_at DESC
	`, userID, filter.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []db.APIKey
	for rows.Next() {
		var key db.APIKey
		var lastUsedAt, expiresAt sql.NullTime

		err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.IsActive,
			&lastUsedAt, &key.CreatedAt, &key.UpdatedAt, &expiresAt,
			&key.Description, &key.OrganizationID, &key.ProjectID)
		if err != nil {
			log.Printf("[apikey] error scanning api key: %v", err)
			continue
		}
		if lastUsedAt.Valid {
			key.LastUsedAt = &lastUsedAt.Time
		}
		if expiresAt.Valid {
			key.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// DeleteAPIKey revokes a key. Only the owner can revoke.
func (s *APIKeyService) DeleteAPIKey(keyID, userID string) error {
	result, err := s.PG.Exec(`
		UPDATE api_keys SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "api key not found")
	}
	return nil
}
