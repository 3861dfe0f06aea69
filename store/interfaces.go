package store

import (
	"context"

	"github.com/google/uuid"
)

// Pagination holds common pagination parameters.
type Pagination struct {
	Offset int
	Limit  int
}

// DefaultPagination returns a Pagination with sensible defaults.
func DefaultPagination() Pagination {
	return Pagination{Offset: 0, Limit: 50}
}

// --- AdapterConfigStore ---

// AdapterConfigFilter specifies criteria for listing adapter configurations.
type AdapterConfigFilter struct {
	IsEnabled  *bool
	AdapterType AdapterType
	Pagination Pagination
}

// AdapterConfigStore defines persistence operations for adapter configurations.
type AdapterConfigStore interface {
	Create(ctx context.Context, c *AdapterConfig) error
	Get(ctx context.Context, adapterID string) (*AdapterConfig, error)
	Update(ctx context.Context, c *AdapterConfig) error
	Delete(ctx context.Context, adapterID string) error
	List(ctx context.Context, f AdapterConfigFilter) ([]*AdapterConfig, error)
	// ListEnabled returns every configuration with is_enabled=true, used to
	// restore the registry on process start.
	ListEnabled(ctx context.Context) ([]*AdapterConfig, error)
}

// --- WorkflowStore ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	UserID     string
	Status     WorkflowStatus
	Slug       string
	Pagination Pagination
}

// WorkflowStore defines persistence operations for workflows.
type WorkflowStore interface {
	Create(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id uuid.UUID) (*Workflow, error)
	GetBySlug(ctx context.Context, userID, slug string) (*Workflow, error)
	Update(ctx context.Context, w *Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f WorkflowFilter) ([]*Workflow, error)
}

// --- ExecutionStore ---

// ExecutionFilter specifies criteria for listing workflow executions.
type ExecutionFilter struct {
	WorkflowID *uuid.UUID
	UserID     string
	Status     ExecutionStatus
	Pagination Pagination
}

// ExecutionStore defines persistence operations for workflow executions.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *WorkflowExecution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*WorkflowExecution, error)
	UpdateExecution(ctx context.Context, e *WorkflowExecution) error
	ListExecutions(ctx context.Context, f ExecutionFilter) ([]*WorkflowExecution, error)
}

// --- InstallationStore ---

// InstallationFilter specifies criteria for listing skill installations.
type InstallationFilter struct {
	UserID     string
	PackageID  string
	Status     InstallationStatus
	Pagination Pagination
}

// InstallationStore defines persistence operations for skill installations.
type InstallationStore interface {
	Create(ctx context.Context, in *SkillInstallation) error
	Get(ctx context.Context, id uuid.UUID) (*SkillInstallation, error)
	GetInstalled(ctx context.Context, userID, packageID string) (*SkillInstallation, error)
	Update(ctx context.Context, in *SkillInstallation) error
	List(ctx context.Context, f InstallationFilter) ([]*SkillInstallation, error)
}

// Store is the full persistence surface C1 exposes. A SessionFactory
// produces one of these per concurrency unit rather than handing out a
// single shared instance, so background executions never thread a caller's
// session into a spawned task.
type Store interface {
	AdapterConfigs() AdapterConfigStore
	Workflows() WorkflowStore
	Executions() ExecutionStore
	Installations() InstallationStore
	Close() error
}

// SessionFactory produces an independent Store session, scoped to a single
// concurrency unit (one background execution, one installer call). This is
// the mechanism mandated by the platform's design notes to prevent the
// session-threading bug where a caller's session leaks into a spawned task.
type SessionFactory func(ctx context.Context) (Store, error)
