package db

import "time"

// ===========================
// INTEGRATION MODELS
// ===========================

// Integration represents an external monitoring integration
type Integration struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type"` // prometheus, datadog, grafana, aws, pagerduty, coralogix, webhook
	Description string                 `json:"description"`
	Config      map[string]interface{} `json:"config"`
	WebhookURL  string                 `json:"webhook_url"` // Auto-generated webhook URL

	// Health monitoring
	IsActive          bool       `json:"is_active"`
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
	HeartbeatInterval int        `json:"heartbeat_interval"` // seconds
	HealthStatus      string     `json:"health_status,omitempty"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	// Metadata
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`

	// For API responses
	ServicesCount int `json:"services_count,omitempty"`
}

// ServiceIntegration links a service to an integration with routing conditions
type ServiceIntegration struct {
	ID                string                 `json:"id"`
	ServiceID         string                 `json:"service_id"`
	IntegrationID     string                 `json:"integration_id"`
	RoutingConditions map[string]interface{} `json:"routing_conditions"` // severity/alertname/labels matchers
	Priority          int                    `json:"priority"`           // Lower number = higher priority
	IsActive          bool                   `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`

	// For API responses (populated via JOINs)
	ServiceName     string `json:"service_name,omitempty"`
	IntegrationName string `json:"integration_name,omitempty"`
	IntegrationType string `json:"integration_type,omitempty"`
}

type CreateIntegrationRequest struct {
	Name              string                 `json:"name" binding:"required"`
	Type              string                 `json:"type" binding:"required"`
	Description       string                 `json:"description"`
	Config            map[string]interface{} `json:"config"`
	HeartbeatInterval int                    `json:"heartbeat_interval,omitempty"`
	OrganizationID    string                 `json:"organization_id,omitempty"`
	ProjectID         string                 `json:"project_id,omitempty"`
}

type UpdateIntegrationRequest struct {
	Name              *string                `json:"name,omitempty"`
	Description       *string                `json:"description,omitempty"`
	Config            map[string]interface{} `json:"config,omitempty"`
	IsActive          *bool                  `json:"is_active,omitempty"`
	HeartbeatInterval *int                   `json:"heartbeat_interval,omitempty"`
}

type CreateServiceIntegrationRequest struct {
	ServiceID         string                 `json:"service_id,omitempty"`
	IntegrationID     string                 `json:"integration_id" binding:"required"`
	RoutingConditions map[string]interface{} `json:"routing_conditions"`
	Priority          int                    `json:"priority,omitempty"`
}

type UpdateServiceIntegrationRequest struct {
	RoutingConditions map[string]interface{} `json:"routing_conditions,omitempty"`
	Priority          *int                   `json:"priority,omitempty"`
	IsActive          *bool                  `json:"is_active,omitempty"`
}

// ===========================
// USER MODELS
// ===========================

type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Role       string    `json:"role"` // admin, engineer, manager
	Team       string    `json:"team"`
	FCMToken   string    `json:"fcm_token,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Provider   string    `json:"provider"`
	ProviderID string    `json:"provider_id"`
}

// ===========================
// GROUP MODELS
// ===========================

// Group represents an on-call unit owning schedulers, services and policies
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        string    `json:"type"` // escalation, notification, approval
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
	MemberCount int       `json:"member_count"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

type GroupWithMembers struct {
	Group
	Members []GroupMember `json:"members"`
}

// GroupMember represents a user's membership in a group
type GroupMember struct {
	ID                      string                 `json:"id"`
	GroupID                 string                 `json:"group_id"`
	UserID                  string                 `json:"user_id"`
	Role                    string                 `json:"role"`             // admin, member
	EscalationOrder         int                    `json:"escalation_order"` // For sequential escalation
	IsActive                bool                   `json:"is_active"`
	NotificationPreferences map[string]interface{} `json:"notification_preferences,omitempty"`
	AddedAt                 time.Time              `json:"added_at"`
	AddedBy                 string                 `json:"added_by,omitempty"`
	// User info (for display)
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	UserTeam  string `json:"user_team,omitempty"`
}

type CreateGroupRequest struct {
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	Type           string `json:"type" binding:"required,oneof=escalation notification approval"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

type UpdateGroupRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Type        *string `json:"type,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type AddGroupMemberRequest struct {
	UserID                  string                 `json:"user_id" binding:"required"`
	Role                    string                 `json:"role,omitempty"`
	EscalationOrder         int                    `json:"escalation_order,omitempty"`
	NotificationPreferences map[string]interface{} `json:"notification_preferences,omitempty"`
}

type UpdateGroupMemberRequest struct {
	Role            *string `json:"role,omitempty"`
	EscalationOrder *int    `json:"escalation_order,omitempty"`
	IsActive        *bool   `json:"is_active,omitempty"`
}

// ===========================
// SERVICE MODELS
// ===========================

// Service represents a routable service within a group
type Service struct {
	ID                 string    `json:"id"`
	GroupID            string    `json:"group_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	RoutingKey         string    `json:"routing_key"` // Unique webhook key for this service
	EscalationPolicyID string    `json:"escalation_policy_id,omitempty"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	CreatedBy          string    `json:"created_by,omitempty"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	// Display info (for API responses)
	GroupName            string `json:"group_name,omitempty"`
	EscalationPolicyName string `json:"escalation_policy_name,omitempty"`
	IncidentCount        int    `json:"incident_count,omitempty"`
}

type CreateServiceRequest struct {
	Name               string  `json:"name" binding:"required"`
	Description        string  `json:"description"`
	RoutingKey         string  `json:"routing_key" binding:"required"`
	EscalationPolicyID *string `json:"escalation_policy_id,omitempty"`
	OrganizationID     string  `json:"organization_id,omitempty"`
	ProjectID          string  `json:"project_id,omitempty"`
}

type UpdateServiceRequest struct {
	Name               *string `json:"name,omitempty"`
	Description        *string `json:"description,omitempty"`
	RoutingKey         *string `json:"routing_key,omitempty"`
	EscalationPolicyID *string `json:"escalation_policy_id,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
}

// ===========================
// ESCALATION MODELS
// ===========================

// EscalationPolicy defines an escalation policy with ordered levels
type EscalationPolicy struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	IsActive             bool      `json:"is_active"`
	RepeatMaxTimes       int       `json:"repeat_max_times"`
	EscalateAfterMinutes int       `json:"escalate_after_minutes"` // Default timeout (overridable per level)
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	GroupID              string    `json:"group_id"`
	CreatedBy            string    `json:"created_by,omitempty"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`

	// Nested levels (populated when needed)
	Levels []EscalationLevel `json:"levels,omitempty"`
}

// EscalationLevel defines a single step in the escalation chain
type EscalationLevel struct {
	ID                  string    `json:"id"`
	PolicyID            string    `json:"policy_id"`
	LevelNumber         int       `json:"level_number"`
	TargetType          string    `json:"target_type"`         // current_schedule, scheduler, user, group, external
	TargetID            string    `json:"target_id,omitempty"` // user_id, scheduler_id, group_id, webhook_url
	TimeoutMinutes      int       `json:"timeout_minutes"`     // 0 = use policy default
	NotificationMethods []string  `json:"notification_methods"`
	MessageTemplate     string    `json:"message_template"`
	CreatedAt           time.Time `json:"created_at"`

	// Display info (populated when needed)
	TargetName string `json:"target_name,omitempty"`
}

// GetEffectiveTimeout returns the level timeout, falling back to the policy
// default when the level does not set one.
func (el *EscalationLevel) GetEffectiveTimeout(policyDefault int) int {
	if el.TimeoutMinutes > 0 {
		return el.TimeoutMinutes
	}
	return policyDefault
}

type EscalationPolicyWithLevels struct {
	EscalationPolicy
	Levels []EscalationLevel `json:"levels"`
}

type CreateEscalationPolicyRequest struct {
	Name                 string                         `json:"name" binding:"required"`
	Description          string                         `json:"description"`
	RepeatMaxTimes       int                            `json:"repeat_max_times"`
	EscalateAfterMinutes int                            `json:"escalate_after_minutes" binding:"min=0,max=1440"`
	Levels               []CreateEscalationLevelRequest `json:"levels" binding:"required,min=1,dive"`
}

type UpdateEscalationPolicyRequest struct {
	Name                 *string                        `json:"name,omitempty"`
	Description          *string                        `json:"description,omitempty"`
	IsActive             *bool                          `json:"is_active,omitempty"`
	RepeatMaxTimes       *int                           `json:"repeat_max_times,omitempty"`
	EscalateAfterMinutes *int                           `json:"escalate_after_minutes,omitempty"`
	Levels               []CreateEscalationLevelRequest `json:"levels,omitempty"`
}

type CreateEscalationLevelRequest struct {
	LevelNumber         int      `json:"level_number" binding:"required,min=1"`
	TargetType          string   `json:"target_type" binding:"required,oneof=scheduler user group external current_schedule"`
	TargetID            string   `json:"target_id,omitempty"`
	TimeoutMinutes      int      `json:"timeout_minutes" binding:"min=0,max=1440"`
	NotificationMethods []string `json:"notification_methods"`
	MessageTemplate     string   `json:"message_template"`
}

// ===========================
// SCHEDULER MODELS
// ===========================

// Scheduler owns rotations and their expanded shifts for a group
type Scheduler struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	GroupID     string    `json:"group_id"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`

	// Nested (populated when needed)
	Rotations []Rotation `json:"rotations,omitempty"`
	Shifts    []Shift    `json:"shifts,omitempty"`
}

// Rotation is a recurring template over an ordered user list. Expansion into
// shifts happens in Go, bounded by the configured horizon.
type Rotation struct {
	ID          string     `json:"id"`
	SchedulerID string     `json:"scheduler_id"`
	Name        string     `json:"name"`
	ShiftLength string     `json:"shift_length"` // one_day, one_week, two_weeks, one_month
	HandoffDay  string     `json:"handoff_day"`  // monday..sunday
	HandoffTime string     `json:"handoff_time"` // "HH:MM", UTC
	StartAt     time.Time  `json:"start_at"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	UserOrder   []string   `json:"user_order"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedBy   string     `json:"created_by,omitempty"`

	// Member info for display
	Members []RotationMember `json:"members,omitempty"`
}

type RotationMember struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	Order     int    `json:"order"`
}

// Shift is one concrete on-call window produced by expanding a rotation
type Shift struct {
	ID          string    `json:"id"`
	SchedulerID string    `json:"scheduler_id"`
	RotationID  *string   `json:"rotation_id,omitempty"`
	GroupID     string    `json:"group_id"`
	UserID      string    `json:"user_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`

	// Tenant isolation
	OrganizationID string `json:"organization_id,omitempty"`

	// Override information (from schedule_overrides join).
	// user_id above always reflects the EFFECTIVE on-call user; the
	// original_* fields carry the scheduled user when overridden.
	IsOverridden      bool       `json:"is_overridden"`
	OverrideID        *string    `json:"override_id,omitempty"`
	OverrideReason    *string    `json:"override_reason,omitempty"`
	OverrideStartTime *time.Time `json:"override_start_time,omitempty"`
	OverrideEndTime   *time.Time `json:"override_end_time,omitempty"`

	// User info (effective user)
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`

	// Original user info (if overridden)
	OriginalUserID    *string `json:"original_user_id,omitempty"`
	OriginalUserName  *string `json:"original_user_name,omitempty"`
	OriginalUserEmail *string `json:"original_user_email,omitempty"`

	// Scheduler info (populated when needed)
	SchedulerName string `json:"scheduler_name,omitempty"`
}

// ScheduleOverride replaces the on-call user for part or all of one shift
type ScheduleOverride struct {
	ID                string     `json:"id"`
	ShiftID           string     `json:"shift_id"`
	GroupID           string     `json:"group_id"`
	OverrideUserID    string     `json:"override_user_id"`
	OverrideReason    *string    `json:"override_reason,omitempty"`
	OverrideStartTime *time.Time `json:"override_start_time,omitempty"` // nil = whole shift
	OverrideEndTime   *time.Time `json:"override_end_time,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CreatedBy         string     `json:"created_by"`

	// User info for display
	OverrideUserName  string `json:"override_user_name,omitempty"`
	OverrideUserEmail string `json:"override_user_email,omitempty"`
}

type CreateSchedulerRequest struct {
	Name           string `json:"name" binding:"required"`
	DisplayName    string `json:"display_name"`
	Description    string `json:"description"`
	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

type CreateRotationRequest struct {
	Name        string     `json:"name" binding:"required"`
	ShiftLength string     `json:"shift_length" binding:"required,oneof=one_day one_week two_weeks one_month"`
	HandoffDay  string     `json:"handoff_day" binding:"required"`
	HandoffTime string     `json:"handoff_time" binding:"required"` // "HH:MM"
	StartAt     time.Time  `json:"start_at" binding:"required"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	UserOrder   []string   `json:"user_order" binding:"required"`
}

type UpdateRotationRequest struct {
	Name        *string    `json:"name,omitempty"`
	ShiftLength *string    `json:"shift_length,omitempty"`
	HandoffDay  *string    `json:"handoff_day,omitempty"`
	HandoffTime *string    `json:"handoff_time,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	UserOrder   []string   `json:"user_order,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
}

type CreateOverrideRequest struct {
	ShiftID           string     `json:"shift_id" binding:"required"`
	OverrideUserID    string     `json:"override_user_id" binding:"required"`
	OverrideReason    *string    `json:"override_reason,omitempty"`
	OverrideStartTime *time.Time `json:"override_start_time,omitempty"`
	OverrideEndTime   *time.Time `json:"override_end_time,omitempty"`
}

// ShiftSwapRequest swaps the users of two shifts in the same group
type ShiftSwapRequest struct {
	CurrentShiftID string `json:"current_shift_id" binding:"required"`
	TargetShiftID  string `json:"target_shift_id" binding:"required"`
	SwapMessage    string `json:"swap_message,omitempty"`
}

type ShiftSwapResponse struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	SwappedAt    time.Time `json:"swapped_at"`
	CurrentShift Shift     `json:"current_shift"`
	TargetShift  Shift     `json:"target_shift"`
}

// ===========================
// API KEY MODELS
// ===========================

type APIKey struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	APIKey         string     `json:"api_key,omitempty"` // Only shown during creation
	APIKeyHash     string     `json:"-"`                 // Never expose hash
	IsActive       bool       `json:"is_active"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Description    string     `json:"description"`
	OrganizationID string     `json:"organization_id,omitempty"`
	ProjectID      string     `json:"project_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	ProjectID   string     `json:"project_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	APIKey    string     `json:"api_key"` // Only shown once
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Message   string     `json:"message"`
}

// ===========================
// CONSTANTS
// ===========================

const (
	GroupTypeEscalation   = "escalation"
	GroupTypeNotification = "notification"
	GroupTypeApproval     = "approval"
)

const (
	GroupMemberRoleAdmin  = "admin"
	GroupMemberRoleMember = "member"
)

// Rotation shift lengths
const (
	ShiftLengthOneDay   = "one_day"
	ShiftLengthOneWeek  = "one_week"
	ShiftLengthTwoWeeks = "two_weeks"
	ShiftLengthOneMonth = "one_month"
)

// Escalation target types
const (
	EscalationTargetCurrentSchedule = "current_schedule"
	EscalationTargetScheduler       = "scheduler"
	EscalationTargetUser            = "user"
	EscalationTargetGroup           = "group"
	EscalationTargetExternal        = "external"
)

const (
	EscalationStatusNone      = "none"
	EscalationStatusPending   = "pending"
	EscalationStatusCompleted = "completed"
	EscalationStatusStopped   = "stopped"
)

const (
	NotificationMethodEmail = "email"
	NotificationMethodSMS   = "sms"
	NotificationMethodPush  = "push"
	NotificationMethodSlack = "slack"
)

// Integration health states derived from last_heartbeat
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusWarning   = "warning"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusUnknown   = "unknown"
)
