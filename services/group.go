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
)

type GroupService struct {
	PG *sql.DB
}

func NewGroupService(pg *sql.DB) *GroupService {
	return &GroupService{PG: pg}
}

// ListGroups returns the organization's groups, optionally filtered by type
// and project.
func (s *GroupService) ListGroups(filter db.TenantFilter, groupType string) ([]db.Group, error) {
	filter.MustValidate()

	query := `
		SELECT g.id, g.name, COALESCE(g.description, '') as description, g.type, g.is_active,
		       g.created_at, g.updated_at, COALESCE(g.created_by::text, '') as created_by,
		       COALESCE(g.organization_id::text, '') as organization_id,
		       COALESCE(g.project_id::text, '') as project_id,
		       COALESCE(mc.member_count, 0) as member_count
		FROM groups g
		LEFT JOIN (
			SELECT group_id, COUNT(*) as member_count
			FROM group_members
			WHERE is_active = true
			GROUP BY group_id
		) mc ON g.id = mc.group_id
		WHERE g.is_active = true AND g.organization_id = $1`

	args := []interface{}{filter.OrgID}
	argIndex := 2

	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND g.project_id = $%d", argIndex)
		args = append(args, filter.ProjectID)
		argIndex++
	}
	if groupType != "" {
		query += fmt.Sprintf(" AND g.type = $%d", argIndex)
		args = append(args, groupType)
		argIndex++
	}
	query += " ORDER BY g.name ASC"

	rows, err := s.PG.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	groups := make([]db.Group, 0)
	for rows.Next() {
		var g db.Group
		err := rows.Scan(
			&g.ID, &g.Name, &g.Description, &g.Type, &g.IsActive,
			&g.CreatedAt, &g.UpdatedAt, &g.CreatedBy,
			&g.OrganizationID, &g.ProjectID, &g.MemberCount,
		)
		if err != nil {
			log.Printf("[group] error scanning group: %v", err)
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *GroupService) GetGroup(id string) (db.Group, error) {
	var g db.Group
	err := s.PG.QueryRow(`
		SELECT g.id, g.name, COALESCE(g.description, '') as description, g.type, g.is_active,
		       g.created_at, g.updated_at, COALESCE(g.created_by::text, '') as created_by,
		       COALESCE(g.organization_id::text, '') as organization_id,
		       COALESCE(g.project_id::text, '') as project_id,
		       COALESCE(mc.member_count, 0) as member_count
		FROM groups g
		LEFT JOIN (
			SELECT group_id, COUNT(*) as member_count
			FROM group_members
			WHERE is_active = true
			GROUP BY group_id
		) mc ON g.id = mc.group_id
		WHERE g.id = $1
	`, id).Scan(
		&g.ID, &g.Name, &g.Description, &g.Type, &g.IsActive,
		&g.CreatedAt, &g.UpdatedAt, &g.CreatedBy,
		&g.OrganizationID, &g.ProjectID, &g.MemberCount,
	)
	if err == sql.ErrNoRows {
		return g, apperr.New(apperr.KindNotFound, "group not found")
	}
	return g, err
}

func (s *GroupService) GetGroupWithMembers(id string) (db.GroupWithMembers, error) {
	group, err := s.GetGroup(id)
	if err != nil {
		return db.GroupWithMembers{}, err
	}
	members, err := s.GetGroupMembers(id)
	if err != nil {
		return db.GroupWithMembers{}, err
	}
	return db.GroupWithMembers{Group: group, Members: members}, nil
}

// CreateGroup creates the group and adds the creator as its first admin.
func (s *GroupService) CreateGroup(req db.CreateGroupRequest, createdBy string) (db.Group, error) {
	group := db.Group{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Description:    req.Description,
		Type:           req.Type,
		IsActive:       true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		CreatedBy:      createdBy,
		OrganizationID: req.OrganizationID,
		ProjectID:      req.ProjectID,
	}
	if group.Type == "" {
		group.Type = db.GroupTypeEscalation
	}

	tx, err := s.PG.Begin()
	if err != nil {
		return group, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO groups (id, name, description, type, is_active, created_at, updated_at, created_by, organization_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, group.ID, group.Name, group.Description, group.Type, group.IsActive,
		group.CreatedAt, group.UpdatedAt, nullIfEmpty(group.CreatedBy),
		nullIfEmpty(group.OrganizationID), nullIfEmpty(group.ProjectID))
	if err != nil {
		return group, err
	}

	if createdBy != "" {
		_, err = tx.Exec(`
			INSERT INTO group_members (id, group_id, user_id, role, escalation_order, is_active, added_at, added_by)
			VALUES ($1, $2, $3, 'admin', 1, true, $4, $3)
		`, uuid.New().String(), group.ID, createdBy, group.CreatedAt)
		if err != nil {
			return group, err
		}
	}

	err = tx.Commit()
	return group, err
}

func (s *GroupService) UpdateGroup(id string, req db.UpdateGroupRequest) (db.Group, error) {
	group, err := s.GetGroup(id)
	if err != nil {
		return group, err
	}

	if req.Name != nil {
		group.Name = *req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Type != nil {
		group.Type = *req.Type
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}
	group.UpdatedAt = time.Now()

	_, err = s.PG.Exec(`
		UPDATE groups
		SET name = $2, description = $3, type = $4, is_active = $5, updated_at = $6
		WHERE id = $1
	`, id, group.Name, group.Description, group.Type, group.IsActive, group.UpdatedAt)
	return group, err
}

func (s *GroupService) DeleteGroup(id string) error {
	_, err := s.PG.Exec(`UPDATE groups SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// GetGroupMembers returns active members ordered for sequential escalation.
func (s *GroupService) GetGroupMembers(groupID string) ([]db.GroupMember, error) {
	rows, err := s.PG.Query(`
		SELECT gm.id, gm.group_id, gm.user_id, gm.role, gm.escalation_order, gm.is_active,
		       COALESCE(gm.notification_preferences::text, '{}') as notification_preferences,
		       gm.added_at, COALESCE(gm.added_by::text, '') as added_by,
		       u.name as user_name, u.email as user_email, COALESCE(u.team, '') as user_team
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1 AND gm.is_active = true
		ORDER BY gm.escalation_order ASC, gm.added_at ASC
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]db.GroupMember, 0)
	for rows.Next() {
		var m db.GroupMember
		var prefsJSON string
		err := rows.Scan(
			&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.EscalationOrder, &m.IsActive,
			&prefsJSON, &m.AddedAt, &m.AddedBy,
			&m.UserName, &m.UserEmail, &m.UserTeam,
		)
		if err != nil {
			log.Printf("[group] error scanning member: %v", err)
			continue
		}
		if err := json.Unmarshal([]byte(prefsJSON), &m.NotificationPreferences); err != nil {
			m.NotificationPreferences = nil
		}
		members = append(members, m)
	}
	return members, nil
}

func (s *GroupService) GetGroupMember(groupID, userID string) (db.GroupMember, error) {
	var m db.GroupMember
	var prefsJSON string
	err := s.PG.QueryRow(`
		SELECT gm.id, gm.group_id, gm.user_id, gm.role, gm.escalation_order, gm.is_active,
		       COALESCE(gm.notification_preferences::text, '{}') as notification_preferences,
		       gm.added_at, COALESCE(gm.added_by::text, '') as added_by,
		       u.name as user_name, u.email as user_email, COALESCE(u.team, '') as user_team
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1 AND gm.user_id = $2 AND gm.is_active = true
	`, groupID, userID).Scan(
		&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.EscalationOrder, &m.IsActive,
		&prefsJSON, &m.AddedAt, &m.AddedBy,
		&m.UserName, &m.UserEmail, &m.UserTeam,
	)
	if err == sql.ErrNoRows {
		return m, apperr.New(apperr.KindNotFound, "group member not found")
	}
	if err == nil {
		if jerr := json.Unmarshal([]byte(prefsJSON), &m.NotificationPreferences); jerr != nil {
			m.NotificationPreferences = nil
		}
	}
	return m, err
}

// AddGroupMember adds a user. Escalation order defaults to the end of the
// current sequence.
func (s *GroupService) AddGroupMember(groupID string, req db.AddGroupMemberRequest, addedBy string) (db.GroupMember, error) {
	now := time.Now()
	member := db.GroupMember{
		ID:              uuid.New().String(),
		GroupID:         groupID,
		UserID:          req.UserID,
		Role:            req.Role,
		EscalationOrder: req.EscalationOrder,
		IsActive:        true,
		AddedAt:         now,
		AddedBy:         addedBy,
	}
	if member.Role == "" {
		member.Role = db.GroupMemberRoleMember
	}

	if member.EscalationOrder == 0 {
		err := s.PG.QueryRow(`
			SELECT COALESCE(MAX(escalation_order), 0) + 1
			FROM group_members WHERE group_id = $1 AND is_active = true
		`, groupID).Scan(&member.EscalationOrder)
		if err != nil {
			return member, fmt.Errorf("failed to compute escalation order: %w", err)
		}
	}

	prefsJSON, err := json.Marshal(req.NotificationPreferences)
	if err != nil {
		return member, fmt.Errorf("failed to marshal notification preferences: %w", err)
	}

	_, err = s.PG.Exec(`
		INSERT INTO group_members (id, group_id, user_id, role, escalation_order,
		                           notification_preferences, is_active, added_at, added_by)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8)
	`, member.ID, groupID, member.UserID, member.Role, member.EscalationOrder,
		string(prefsJSON), now, nullIfEmpty(addedBy))
	if err != nil {
		return member, err
	}

	return s.GetGroupMember(groupID, req.UserID)
}

func (s *GroupService) UpdateGroupMember(groupID, userID string, req db.UpdateGroupMemberRequest) (db.GroupMember, error) {
	member, err := s.GetGroupMember(groupID, userID)
	if err != nil {
		return member, err
	}

	if req.Role != nil {
		member.Role = *req.Role
	}
	if req.EscalationOrder != nil {
		member.EscalationOrder = *req.EscalationOrder
	}
	if req.IsActive != nil {
		member.IsActive = *req.IsActive
	}

	_, err = s.PG.Exec(`
		UPDATE group_members
		SET role = $3, escalation_order = $4, is_active = $5
		WHERE group_id = $1 AND user_id = $2
	`, groupID, userID, member.Role, member.EscalationOrder, member.IsActive)
	return member, err
}

func (s *GroupService) RemoveGroupMember(groupID, userID string) error {
	_, err := s.PG.Exec(`
		UPDATE group_members SET is_active = false
		WHERE group_id = $1 AND user_id = $2
	`, groupID, userID)
	return err
}

// GetUserGroups returns the active groups a user belongs to.
func (s *GroupService) GetUserGroups(userID string) ([]db.Group, error) {
	rows, err := s.PG.Query(`
		SELECT g.id, g.name, COALESCE(g.description, '') as description, g.type, g.is_active,
		       g.created_at, g.updated_at, COALESCE(g.created_by::text, '') as created_by,
		       COALESCE(g.organization_id::text, '') as organization_id,
		       COALESCE(g.project_id::text, '') as project_id
		FROM groups g
		JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1 AND gm.is_active = true AND g.is_active = true
		ORDER BY g.name ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]db.Group, 0)
	for rows.Next() {
		var g db.Group
		err := rows.Scan(
			&g.ID, &g.Name, &g.Description, &g.Type, &g.IsActive,
			&g.CreatedAt, &g.UpdatedAt, &g.CreatedBy,
			&g.OrganizationID, &g.ProjectID,
		)
		if err != nil {
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *GroupService) IsUserInGroup(groupID, userID string) (bool, error) {
	var count int
	err := s.PG.QueryRow(`
		SELECT COUNT(*) FROM group_members
		WHERE group_id = $1 AND user_id = $2 AND is_active = true
	`, groupID, userID).Scan(&count)
	return count > 0, err
}
