package store

import (
	"encoding/json"
	"time"
)

// Flow status values.
const (
	FlowStatusDraft    = "draft"
	FlowStatusActive   = "active"
	FlowStatusInactive = "inactive"
)

// Execution status values.
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// Step status values.
const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// Integration status values.
const (
	IntegrationStatusPending = "pending"
	IntegrationStatusActive  = "active"
	IntegrationStatusError   = "error"
)

// Trigger types for executions.
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
	TriggerDeploy   = "deploy"
)

// Organization is the tenancy boundary; every other row references one.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User belongs to exactly one organization.
type User struct {
	ID               string     `json:"id"`
	OrgID            string     `json:"org_id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	FirstName        string     `json:"first_name,omitempty"`
	LastName         string     `json:"last_name,omitempty"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
	RateLimit        int        `json:"rate_limit"`
	AllowIPWhitelist bool       `json:"allow_ip_whitelist"`
	SendErrorAlerts  bool       `json:"send_error_alerts"`
	ProfilePicture   string     `json:"profile_picture,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// PendingUser holds a signup awaiting email verification.
type PendingUser struct {
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	VerificationCode string    `json:"-"`
	LastSentAt       time.Time `json:"last_sent_at"`
}

// Flow is the org-scoped DAG template.
type Flow struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FlowVersion is an immutable snapshot of a flow graph. Versions are
// gap-free per flow, starting at 1.
type FlowVersion struct {
	ID        string          `json:"id"`
	FlowID    string          `json:"flow_id"`
	Version   int             `json:"version"`
	Graph     json.RawMessage `json:"graph"`
	Variables json.RawMessage `json:"variables,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// FlowExecution is one runtime instance of a FlowVersion.
type FlowExecution struct {
	ID              string          `json:"id"`
	FlowID          string          `json:"flow_id"`
	FlowVersion     int             `json:"flow_version"`
	Status          string          `json:"status"`
	TriggerType     string          `json:"trigger_type"`
	TriggerData     json.RawMessage `json:"trigger_data,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ExecutionTimeMs *int64          `json:"execution_time_ms,omitempty"`
}

// ExecutionStep is the per-node runtime record within an execution.
type ExecutionStep struct {
	ID              string          `json:"id"`
	ExecutionID     string          `json:"execution_id"`
	NodeID          string          `json:"node_id"`
	NodeType        string          `json:"node_type"`
	NodeKind        string          `json:"node_kind,omitempty"`
	Status          string          `json:"status"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	InputData       json.RawMessage `json:"input_data,omitempty"`
	OutputData      json.RawMessage `json:"output_data,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ExecutionTimeMs *int64          `json:"execution_time_ms,omitempty"`
	RetryCount      int             `json:"retry_count"`
}

// ExecutionLog is an append-only log line attached to an execution.
type ExecutionLog struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id,omitempty"`
	Level       string          `json:"level"`
	Message     string          `json:"message"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Integration is an org's declared external dependency and its last known
// health.
type Integration struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	TestURL     string     `json:"test_url,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Connection is an encrypted provider credential owned by a user.
type Connection struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	Provider    string    `json:"provider"`
	Env         string    `json:"env"`
	Label       string    `json:"label"`
	ConfigEnc   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is a user-visible event queued per organization.
type Notification struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RelatedID string    `json:"related_id,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// TxEvent is the rollup row recorded for every outbound provider call.
type TxEvent struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Success   bool      `json:"success"`
	LatencyMs *int64    `json:"latency_ms,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IPAllowlistEntry is one permitted source address for a user.
type IPAllowlistEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	IPAddress   string    `json:"ip_address"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	UserID     string          `json:"user_id,omitempty"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Route      string          `json:"route,omitempty"`
	Method     string          `json:"method,omitempty"`
	IP         string          `json:"ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}
