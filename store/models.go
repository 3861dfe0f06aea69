// Package store defines the persisted entities of the skill execution
// platform and the interfaces used to read and write them.
package store

import (
	"time"

	"github.com/google/uuid"
)

// AdapterType distinguishes soft (stateless/config-only) adapters from
// hard (process-bound, stateful) ones.
type AdapterType string

const (
	AdapterTypeSoft AdapterType = "soft"
	AdapterTypeHard AdapterType = "hard"
)

// AdapterConfig is the persisted record describing how to instantiate an
// adapter. adapter_id is globally unique and immutable once created.
type AdapterConfig struct {
	AdapterID    string
	Name         string
	AdapterType  AdapterType
	AdapterClass string
	Version      string
	Config       map[string]any
	Dependencies []string
	Description  string
	Author       string
	Tags         []string
	IsEnabled    bool
	Status       string
	Reentrant    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastUsedAt   *time.Time
	UsageCount   int64
}

// Clone returns a deep-enough copy safe for handing to callers outside the
// registry lock.
func (c *AdapterConfig) Clone() *AdapterConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Config = cloneAnyMap(c.Config)
	cp.Dependencies = append([]string(nil), c.Dependencies...)
	cp.Tags = append([]string(nil), c.Tags...)
	return &cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WorkflowStatus is the lifecycle state of a Workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
	WorkflowStatusDeleted  WorkflowStatus = "deleted"
)

// TriggerType is how a workflow execution is initiated.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeWebhook  TriggerType = "webhook"
)

// WorkflowNode is one node in a Workflow's graph definition.
type WorkflowNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// WorkflowEdge connects two nodes; Condition, if set, tags the edge for
// condition-node branch selection.
type WorkflowEdge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// WorkflowDefinition is the graph stored on a Workflow.
type WorkflowDefinition struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges"`
}

// Workflow is a user-owned DAG of nodes.
type Workflow struct {
	ID                   uuid.UUID
	UserID               string
	Slug                 string
	Name                 string
	Definition           WorkflowDefinition
	TriggerType          TriggerType
	TriggerConfig        map[string]any
	WorkflowStatus       WorkflowStatus
	EnvironmentVariables map[string]any
	ExecutionCount       int64
	SuccessCount         int64
	FailureCount         int64
	LastExecutedAt       *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ExecutionMode records why a workflow execution was started.
type ExecutionMode string

const (
	ExecutionModeManual    ExecutionMode = "manual"
	ExecutionModeScheduled ExecutionMode = "scheduled"
	ExecutionModeTriggered ExecutionMode = "triggered"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution. Terminal
// statuses never transition further.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
)

// IsTerminal reports whether the status is one execution never leaves.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// NodeResult is the recorded outcome of executing a single workflow node.
type NodeResult struct {
	Status    string    `json:"status"` // "success" | "failed"
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowExecution is one invocation of a workflow.
type WorkflowExecution struct {
	ID             uuid.UUID
	WorkflowID     uuid.UUID
	UserID         string
	ExecutionMode  ExecutionMode
	Status         ExecutionStatus
	InputData      map[string]any
	OutputData     map[string]any
	NodeResults    map[string]NodeResult
	StartedAt      time.Time
	CompletedAt    *time.Time
	DurationMs     int64
	ErrorMessage   string
	CancelRequested bool
}

// InstallationStatus is the lifecycle state of a SkillInstallation.
type InstallationStatus string

const (
	InstallationStatusInstalling      InstallationStatus = "installing"
	InstallationStatusInstalled       InstallationStatus = "installed"
	InstallationStatusUninstalled     InstallationStatus = "uninstalled"
	InstallationStatusFailed          InstallationStatus = "failed"
	InstallationStatusPendingApproval InstallationStatus = "pending_approval"
)

// SkillInstallation links a user, a skill package, the workflow it created,
// and the adapter it registered.
type SkillInstallation struct {
	ID                 uuid.UUID
	UserID              string
	PackageID           string
	WorkflowID          uuid.UUID
	AdapterID           string
	InstallationStatus  InstallationStatus
	Manifest            map[string]any
	InstalledAt         *time.Time
	UninstalledAt       *time.Time
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ExecutionContext is a transient, per-call record threaded unchanged
// through node execution.
type ExecutionContext struct {
	RequestID   string
	UserID      string
	SessionID   string
	ExecutionID string
	Metadata    map[string]any
}
