package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
	"github.com/resqhq/resq/internal/config"
)

type IntegrationService struct {
	PG *sql.DB
}

func NewIntegrationService(pg *sql.DB) *IntegrationService {
	return &IntegrationService{PG: pg}
}

var validIntegrationTypes = map[string]bool{
	"prometheus": true,
	"datadog":    true,
	"grafana":    true,
	"aws":        true,
	"pagerduty":  true,
	"coralogix":  true,
	"webhook":    true,
}

// webhookURL builds the public ingest endpoint for an integration.
func webhookURL(integrationType, integrationID string) string {
	base := config.App.PublicURL
	if base == "" {
		base = "http://localhost:8080"
	}
	return fmt.Sprintf("%s/webhook/%s/%s", base, integrationType, integrationID)
}

// CreateIntegration registers an inbound alert source and derives its webhook
// URL.
func (s *IntegrationService) CreateIntegration(req db.CreateIntegrationRequest, createdBy string) (db.Integration, error) {
	integration := db.Integration{
		ID:                uuid.New().String(),
		Name:              req.Name,
		Type:              req.Type,
		Description:       req.Description,
		Config:            req.Config,
		IsActive:          true,
		HeartbeatInterval: req.HeartbeatInterval,
		HealthStatus:      db.HealthStatusUnknown,
		OrganizationID:    req.OrganizationID,
		ProjectID:         req.ProjectID,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
		CreatedBy:         createdBy,
	}

	if !validIntegrationTypes[integration.Type] {
		return integration, apperr.Newf(apperr.KindValidation, "invalid integration type: %s", req.Type)
	}
	if integration.HeartbeatInterval == 0 {
		integration.HeartbeatInterval = 300
	}
	integration.WebhookURL = webhookURL(integration.Type, integration.ID)

	configJSON, err := json.Marshal(integration.Config)
	if err != nil {
		return integration, fmt.Errorf("failed to marshal integration config: %w", err)
	}

	_, err = s.PG.Exec(`
		INSERT INTO integrations (id, name, type, description, config, webhook_url,
			is_active, heartbeat_interval, health_status,
			organization_id, project_id, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, integration.ID, integration.Name, integration.Type, integration.Description,
		string(configJSON), integration.WebhookURL, integration.IsActive,
		integration.HeartbeatInterval, integration.HealthStatus,
		nullIfEmpty(integration.OrganizationID), nullIfEmpty(integration.ProjectID),
		integration.CreatedAt, integration.UpdatedAt, nullIfEmpty(createdBy))
	if err != nil {
		return integration, fmt.Errorf("failed to create integration: %w", err)
	}

	return integration, nil
}

// GetIntegration returns one integration, or nil when it does not exist.
func (s *IntegrationService) GetIntegration(id string) (*db.Integration, error) {
	var integration db.Integration
	var configJSON string
	var lastHeartbeat sql.NullTime

	err := s.PG.QueryRow(`
		SELECT id, name, type, COALESCE(description, '') as description,
		       COALESCE(config::text, '{}') as config, COALESCE(webhook_url, '') as webhook_url,
		       is_active, last_heartbeat, heartbeat_interval,
		       COALESCE(health_status, 'unknown') as health_status,
		       COALESCE(organization_id::text, '') as organization_id,
		       COALESCE(project_id::text, '') as project_id,
		       created_at, updated_at, COALESCE(created_by::text, '') as created_by
		FROM integrations
		WHERE id = $1
	`, id).Scan(
		&integration.ID, &integration.Name, &integration.Type, &integration.Description,
		&configJSON, &integration.WebhookURL,
		&integration.IsActive, &lastHeartbeat, &integration.HeartbeatInterval,
		&integration.HealthStatus, &integration.OrganizationID, &integration.ProjectID,
		&integration.CreatedAt, &integration.UpdatedAt, &integration.CreatedBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	if lastHeartbeat.Valid {
		integration.LastHeartbeat = &lastHeartbeat.Time
	}
	if err := json.Unmarshal([]byte(configJSON), &integration.Config); err != nil {
		integration.Config = nil
	}
	return &integration, nil
}

// ListIntegrations returns the organization's integrations.
func (s *IntegrationService) ListIntegrations(filter db.TenantFilter, integrationType string) ([]db.Integration, error) {
	filter.MustValidate()

	query := `
		SELECT i.id, i.name, i.type, COALESCE(i.description, '') as description,
		       COALESCE(i.config::text, '{}') as config, COALESCE(i.webhook_url, '') as webhook_url,
		       i.is_active, i.last_heartbeat, i.heartbeat_interval,
		       COALESCE(i.health_status, 'unknown') as health_status,
		       COALESCE(i.organization_id::text, '') as organization_id,
		       COALESCE(i.project_id::text, '') as project_id,
		       i.created_at, i.updated_at, COALESCE(i.created_by::text, '') as created_by,
		       COALESCE(sc.services_count, 0) as services_count
		FROM integrations i
		LEFT JOIN (
			SELECT integration_id, COUNT(*) as services_count
			FROM service_integrations
			WHERE is_active = true
			GROUP BY integration_id
		) sc ON i.id = sc.integration_id
		WHERE i.organization_id = $1`

	args := []interface{}{filter.OrgID}
	argIndex := 2
	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND i.project_id = $%d", argIndex)
		args = append(args, filter.ProjectID)
		argIndex++
	}
	if integrationType != "" {
		query += fmt.Sprintf(" AND i.type = $%d", argIndex)
		args = append(args, integrationType)
		argIndex++
	}
	query += " ORDER BY i.created_at DESC"

	rows, err := s.PG.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer rows.Close()

	integrations := make([]db.Integration, 0)
	for rows.Next() {
		var integration db.Integration
		var configJSON string
		var lastHeartbeat sql.NullTime

		err := rows.Scan(
			&integration.ID, &integration.Name, &integration.Type, &integration.Description,
			&configJSON, &integration.WebhookURL,
			&integration.IsActive, &lastHeartbeat, &integration.HeartbeatInterval,
			&integration.HealthStatus, &integration.OrganizationID, &integration.ProjectID,
			&integration.CreatedAt, &integration.UpdatedAt, &integration.CreatedBy,
			&integration.ServicesCount,
		)
		if err != nil {
			log.Printf("[integration] error scanning integration: %v", err)
			continue
		}
		if lastHeartbeat.Valid {
			integration.LastHeartbeat = &lastHeartbeat.Time
		}
		if err := json.Unmarshal([]byte(configJSON), &integration.Config); err != nil {
			integration.Config = nil
		}
		integrations = append(integrations, integration)
	}
	return integrations, nil
}

func (s *IntegrationService) UpdateIntegration(id string, req db.UpdateIntegrationRequest) (*db.Integration, error) {
	integration, err := s.GetIntegration(id)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, apperr.New(apperr.KindNotFound, "integration not found")
	}

	if req.Name != nil {
		integration.Name = *req.Name
	}
	if req.Description != nil {
		integration.Description = *req.Description
	}
	if req.Config != nil {
		integration.Config = req.Config
	}
	if req.IsActive != nil {
		integration.IsActive = *req.IsActive
	}
	if req.HeartbeatInterval != nil {
		integration.HeartbeatInterval = *req.HeartbeatInterval
	}
	integration.UpdatedAt = time.Now()

	configJSON, err := json.Marshal(integration.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal integration config: %w", err)
	}

	_, err = s.PG.Exec(`
		UPDATE integrations
		SET name = $2, description = $3, config = $4, is_active = $5,
		    heartbeat_interval = $6, updated_at = $7
		WHERE id = $1
	`, id, integration.Name, integration.Description, string(configJSON),
		integration.IsActive, integration.HeartbeatInterval, integration.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update integration: %w", err)
	}

	return integration, nil
}

// DeleteIntegration removes an integration. Refuses while service mappings
// still reference it.
func (s *IntegrationService) DeleteIntegration(id string) error {
	var mappingCount int
	err := s.PG.QueryRow(`
		SELECT COUNT(*) FROM service_integrations
		WHERE integration_id = $1 AND is_active = true
	`, id).Scan(&mappingCount)
	if err != nil {
		return fmt.Errorf("failed to check integration usage: %w", err)
	}
	if mappingCount > 0 {
		return apperr.Newf(apperr.KindConflict, "integration is mapped to %d active service(s)", mappingCount)
	}

	result, err := s.PG.Exec(`UPDATE integrations SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "integration not found")
	}
	return nil
}

// UpdateHeartbeat records an inbound heartbeat and marks the source healthy.
func (s *IntegrationService) UpdateHeartbeat(id string) error {
	_, err := s.PG.Exec(`
		UPDATE integrations
		SET last_heartbeat = NOW(), health_status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, db.HealthStatusHealthy)
	return err
}

// MarkStaleIntegrations flags integrations whose heartbeat is overdue by more
// than twice their interval. Called periodically by the worker.
func (s *IntegrationService) MarkStaleIntegrations() (int, error) {
	result, err := s.PG.Exec(`
		UPDATE integrations
		SET health_status = $1, updated_at = NOW()
		WHERE is_active = true
		  AND heartbeat_interval > 0
		  AND last_heartbeat IS NOT NULL
		  AND last_heartbeat < NOW() - make_interval(secs => heartbeat_interval * 2)
		  AND health_status != $1
	`, db.HealthStatusUnhealthy)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale integrations: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	return int(rowsAffected), nil
}
