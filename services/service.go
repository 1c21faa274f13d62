package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/apperr"
)

type ServiceService struct {
	PG *sql.DB
}

func NewServiceService(pg *sql.DB) *ServiceService {
	return &ServiceService{PG: pg}
}

// CreateService registers a routable service in the group. routing_key is
// unique per organization.
func (s *ServiceService) CreateService(groupID string, req db.CreateServiceRequest, createdBy string) (db.Service, error) {
	service := db.Service{
		ID:             uuid.New().String(),
		GroupID:        groupID,
		Name:           req.Name,
		Description:    req.Description,
		RoutingKey:     req.RoutingKey,
		IsActive:       true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		CreatedBy:      createdBy,
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
	}
	if req.EscalationPolicyID != nil {
		service.EscalationPolicyID = *req.EscalationPolicyID
	}

	_, err := s.PG.Exec(`
		INSERT INTO services (id, group_id, name, description, routing_key, escalation_policy_id,
			is_active, created_at, updated_at, created_by, organization_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, service.ID, service.GroupID, service.Name, service.Description, service.RoutingKey,
		nullIfEmpty(service.EscalationPolicyID), service.IsActive, service.CreatedAt, service.UpdatedAt,
		nullIfEmpty(service.CreatedBy), nullIfEmpty(service.OrganizationID), nullIfEmpty(service.ProjectID))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return service, apperr.Newf(apperr.KindConflict, "routing key %q already exists", req.RoutingKey)
		}
		return service, fmt.Errorf("failed to create service: %w", err)
	}

	return service, nil
}

func (s *ServiceService) GetService(id string) (db.Service, error) {
	var service db.Service
	err := s.PG.QueryRow(`
		SELECT sv.id, sv.group_id, sv.name, COALESCE(sv.description, '') as description,
		       sv.routing_key, COALESCE(sv.escalation_policy_id::text, '') as escalation_policy_id,
		       sv.is_active, sv.created_at, sv.updated_at, COALESCE(sv.created_by::text, '') as created_by,
		       COALESCE(sv.organization_id::text, '') as organization_id,
		       COALESCE(sv.project_id::text, '') as project_id,
		       g.name as group_name,
		       COALESCE(ep.name, '') as escalation_policy_name
		FROM services sv
		JOIN groups g ON sv.group_id = g.id
		LEFT JOIN escalation_policies ep ON sv.escalation_policy_id = ep.id
		WHERE sv.id = $1
	`, id).Scan(
		&service.ID, &service.GroupID, &service.Name, &service.Description,
		&service.RoutingKey, &service.EscalationPolicyID,
		&service.IsActive, &service.CreatedAt, &service.UpdatedAt, &service.CreatedBy,
		&service.OrganizationID, &service.ProjectID,
		&service.GroupName, &service.EscalationPolicyName,
	)
	if err == sql.ErrNoRows {
		return service, apperr.New(apperr.KindNotFound, "service not found")
	}
	return service, err
}

// ListServices returns the organization's services, optionally scoped to a
// group.
func (s *ServiceService) ListServices(filter db.TenantFilter, groupID string) ([]db.Service, error) {
	filter.MustValidate()

	query := `
		SELECT sv.id, sv.group_id, sv.name, COALESCE(sv.description, '') as description,
		       sv.routing_key, COALESCE(sv.escalation_policy_id::text, '') as escalation_policy_id,
		       sv.is_active, sv.created_at, sv.updated_at, COALESCE(sv.created_by::text, '') as created_by,
		       COALESCE(sv.organization_id::text, '') as organization_id,
		       COALESCE(sv.project_id::text, '') as project_id,
		       g.name as group_name,
		       COALESCE(ep.name, '') as escalation_policy_name
		FROM services sv
		JOIN groups g ON sv.group_id = g.id
		LEFT JOIN escalation_policies ep ON sv.escalation_policy_id = ep.id
		WHERE sv.is_active = true AND sv.organization_id = $1`

	args := []interface{}{filter.OrgID}
	argIndex := 2
	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND sv.project_id = $%d", argIndex)
		args = append(args, filter.ProjectID)
		argIndex++
	}
	if groupID != "" {
		query += fmt.Sprintf(" AND sv.group_id = $%d", argIndex)
		args = append(args, groupID)
		argIndex++
	}
	query += " ORDER BY sv.name ASC"

	rows, err := s.PG.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	services := make([]db.Service, 0)
	for rows.Next() {
		var service db.Service
		err := rows.Scan(
			&service.ID, &service.GroupID, &service.Name, &service.Description,
			&service.RoutingKey, &service.EscalationPolicyID,
			&service.IsActive, &service.CreatedAt, &service.UpdatedAt, &service.CreatedBy,
			&service.OrganizationID, &service.ProjectID,
			&service.GroupName, &service.EscalationPolicyName,
		)
		if err != nil {
			log.Printf("[service] error scanning service: %v", err)
			continue
		}
		services = append(services, service)
	}
	return services, nil
}

func (s *ServiceService) UpdateService(id string, req db.UpdateServiceRequest) (db.Service, error) {
	service, err := s.GetService(id)
	if err != nil {
		return service, err
	}

	if req.Name != nil {
		service.Name = *req.Name
	}
	if req.Description != nil {
		service.Description = *req.Description
	}
	if req.RoutingKey != nil {
		service.RoutingKey = *req.RoutingKey
	}
	if req.EscalationPolicyID != nil {
		service.EscalationPolicyID = *req.EscalationPolicyID
	}
	if req.IsActive != nil {
		service.IsActive = *req.IsActive
	}
	service.UpdatedAt = time.Now()

	_, err = s.PG.Exec(`
		UPDATE services
		SET name = $2, description = $3, routing_key = $4, escalation_policy_id = $5,
		    is_active = $6, updated_at = $7
		WHERE id = $1
	`, id, service.Name, service.Description, service.RoutingKey,
		nullIfEmpty(service.EscalationPolicyID), service.IsActive, service.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return service, apperr.Newf(apperr.KindConflict, "routing key %q already exists", service.RoutingKey)
		}
		return service, fmt.Errorf("failed to update service: %w", err)
	}
	return service, nil
}

func (s *ServiceService) DeleteService(id string) error {
	result, err := s.PG.Exec(`UPDATE services SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "service not found")
	}
	return nil
}

// SERVICE-INTEGRATION MAPPINGS

// AddServiceIntegration links an integration to the service with routing
// conditions. Lower priority numbers are evaluated first.
func (s *ServiceService) AddServiceIntegration(serviceID string, req db.CreateServiceIntegrationRequest, createdBy string) (db.ServiceIntegration, error) {
	mapping := db.ServiceIntegration{
		ID:                uuid.New().String(),
		ServiceID:         serviceID,
		IntegrationID:     req.IntegrationID,
		RoutingConditions: req.RoutingConditions,
		Priority:          req.Priority,
		IsActive:          true,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
		CreatedBy:         createdBy,
	}
	if mapping.Priority == 0 {
		err := s.PG.QueryRow(`
			SELECT COALESCE(MAX(priority), 0) + 1
			FROM service_integrations WHERE service_id = $1 AND is_active = true
		`, serviceID).Scan(&mapping.Priority)
		if err != nil {
			return mapping, fmt.Errorf("failed to compute mapping priority: %w", err)
		}
	}

	conditionsJSON, err := json.Marshal(mapping.RoutingConditions)
	if err != nil {
		return mapping, fmt.Errorf("failed to marshal routing conditions: %w", err)
	}

	_, err = s.PG.Exec(`
		INSERT INTO service_integrations (id, service_id, integration_id, routing_conditions,
			priority, is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, mapping.ID, mapping.ServiceID, mapping.IntegrationID, string(conditionsJSON),
		mapping.Priority, mapping.IsActive, mapping.CreatedAt, mapping.UpdatedAt, nullIfEmpty(createdBy))
	if err != nil {
		return mapping, fmt.Errorf("failed to create service integration: %w", err)
	}

	return mapping, nil
}

// ListServiceIntegrations returns a service's integration mappings in
// evaluation order.
func (s *ServiceService) ListServiceIntegrations(serviceID string) ([]db.ServiceIntegration, error) {
	rows, err := s.PG.Query(`
		SELECT si.id, si.service_id, si.integration_id, si.routing_conditions::text,
		       si.priority, si.is_active, si.created_at, si.updated_at,
		       COALESCE(si.created_by::text, '') as created_by,
		       sv.name as service_name, i.name as integration_name, i.type as integration_type
		FROM service_integrations si
		JOIN services sv ON si.service_id = sv.id
		JOIN integrations i ON si.integration_id = i.id
		WHERE si.service_id = $1 AND si.is_active = true
		ORDER BY si.priority ASC, si.created_at ASC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query service integrations: %w", err)
	}
	defer rows.Close()

	return scanServiceIntegrations(rows)
}

// ListIntegrationMappings returns the mappings of an integration across its
// services, in evaluation order. This is the set the webhook router walks.
func (s *ServiceService) ListIntegrationMappings(integrationID string) ([]db.ServiceIntegration, error) {
	rows, err := s.PG.Query(`
		SELECT si.id, si.service_id, si.integration_id, si.routing_conditions::text,
		       si.priority, si.is_active, si.created_at, si.updated_at,
		       COALESCE(si.created_by::text, '') as created_by,
		       sv.name as service_name, i.name as integration_name, i.type as integration_type
		FROM service_integrations si
		JOIN services sv ON si.service_id = sv.id
		JOIN integrations i ON si.integration_id = i.id
		WHERE si.integration_id = $1 AND si.is_active = true AND sv.is_active = true
		ORDER BY si.priority ASC, si.created_at ASC
	`, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query integration mappings: %w", err)
	}
	defer rows.Close()

	return scanServiceIntegrations(rows)
}

func scanServiceIntegrations(rows *sql.Rows) ([]db.ServiceIntegration, error) {
	mappings := make([]db.ServiceIntegration, 0)
	for rows.Next() {
		var mapping db.ServiceIntegration
		var conditionsJSON string
		err := rows.Scan(
			&mapping.ID, &mapping.ServiceID, &mapping.IntegrationID, &conditionsJSON,
			&mapping.Priority, &mapping.IsActive, &mapping.CreatedAt, &mapping.UpdatedAt,
			&mapping.CreatedBy,
			&mapping.ServiceName, &mapping.IntegrationName, &mapping.IntegrationType,
		)
		if err != nil {
			log.Printf("[service] error scanning service integration: %v", err)
			continue
		}
		if err := json.Unmarshal([]byte(conditionsJSON), &mapping.RoutingConditions); err != nil {
			mapping.RoutingConditions = nil
		}
		mappings = append(mappings, mapping)
	}
	return mappings, nil
}

func (s *ServiceService) UpdateServiceIntegration(mappingID string, req db.UpdateServiceIntegrationRequest) error {
	if req.RoutingConditions != nil {
		conditionsJSON, err := json.Marshal(req.RoutingConditions)
		if err != nil {
			return fmt.Errorf("failed to marshal routing conditions: %w", err)
		}
		_, err = s.PG.Exec(`
			UPDATE service_integrations SET routing_conditions = $2, updated_at = NOW() WHERE id = $1
		`, mappingID, string(conditionsJSON))
		if err != nil {
			return fmt.Errorf("failed to update routing conditions: %w", err)
		}
	}
	if req.Priority != nil {
		_, err := s.PG.Exec(`
			UPDATE service_integrations SET priority = $2, updated_at = NOW() WHERE id = $1
		`, mappingID, *req.Priority)
		if err != nil {
			return fmt.Errorf("failed to update mapping priority: %w", err)
		}
	}
	if req.IsActive != nil {
		_, err := s.PG.Exec(`
			UPDATE service_integrations SET is_active = $2, updated_at = NOW() WHERE id = $1
		`, mappingID, *req.IsActive)
		if err != nil {
			return fmt.Errorf("failed to update mapping state: %w", err)
		}
	}
	return nil
}

func (s *ServiceService) RemoveServiceIntegration(mappingID string) error {
	result, err := s.PG.Exec(`
		UPDATE service_integrations SET is_active = false, updated_at = NOW() WHERE id = $1
	`, mappingID)
	if err != nil {
		return fmt.Errorf("failed to remove service integration: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "service integration not found")
	}
	return nil
}
