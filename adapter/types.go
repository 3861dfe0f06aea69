// Package adapter implements the process-wide adapter registry and lifecycle
// manager: the single authoritative controller every node invocation and
// skill installation routes through.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/skillengine/store"
)

// State is an adapter registration's lifecycle state.
type State string

const (
	StateRegistered   State = "registered"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// ErrorCode classifies failures the manager returns so callers can branch on
// them without parsing messages.
type ErrorCode string

const (
	CodeAlreadyRegistered   ErrorCode = "ALREADY_REGISTERED"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeCycle               ErrorCode = "CYCLE"
	CodeDependencyViolation ErrorCode = "DEPENDENCY_VIOLATION"
	CodeNotRunning          ErrorCode = "NOT_RUNNING"
	CodeAlreadyRunning      ErrorCode = "ALREADY_RUNNING"
	CodeStartFailed         ErrorCode = "START_FAILED"
	CodeUnknownClass        ErrorCode = "UNKNOWN_ADAPTER_CLASS"
)

// Error is the typed error returned by Manager operations.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("adapter: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("adapter: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// Config is the in-memory shape of an adapter configuration, mirroring
// store.AdapterConfig but decoupled from the persistence package's field
// tags so the manager's public surface doesn't leak storage concerns.
type Config struct {
	AdapterID    string
	Name         string
	AdapterType  store.AdapterType
	AdapterClass string
	Version      string
	Config       map[string]any
	Dependencies []string
	Description  string
	Author       string
	Tags         []string
	Reentrant    bool
}

func configFromStore(c *store.AdapterConfig) Config {
	return Config{
		AdapterID:    c.AdapterID,
		Name:         c.Name,
		AdapterType:  c.AdapterType,
		AdapterClass: c.AdapterClass,
		Version:      c.Version,
		Config:       c.Config,
		Dependencies: c.Dependencies,
		Description:  c.Description,
		Author:       c.Author,
		Tags:         c.Tags,
		Reentrant:    c.Reentrant,
	}
}

func (c Config) toStore() *store.AdapterConfig {
	return &store.AdapterConfig{
		AdapterID:    c.AdapterID,
		Name:         c.Name,
		AdapterType:  c.AdapterType,
		AdapterClass: c.AdapterClass,
		Version:      c.Version,
		Config:       c.Config,
		Dependencies: c.Dependencies,
		Description:  c.Description,
		Author:       c.Author,
		Tags:         c.Tags,
		IsEnabled:    true,
		Reentrant:    c.Reentrant,
	}
}

// Registration is a read-only snapshot of an adapter's current bookkeeping,
// returned by GetAdapter. It never exposes the live Instance.
type Registration struct {
	Config     Config
	State      State
	UsageCount int64
	LastUsedAt *time.Time
}

// ExecutionResult is process_with_adapter's structured return value.
type ExecutionResult struct {
	Output     any
	Status     string // "success" | "failed"
	DurationMs int64
	Error      string
}

// HealthCheckResult is health_check's structured return value.
type HealthCheckResult struct {
	IsHealthy bool
	Status    string
	Checks    map[string]any
	Issues    []string
}

// ExecutionContext is threaded unchanged from the workflow engine down into
// Instance.Process, carrying request/session identity for logging and
// permission checks.
type ExecutionContext struct {
	RequestID   string
	UserID      string
	SessionID   string
	ExecutionID string
	Metadata    map[string]any
}

// Instance is a typed plugin: every adapter_class implements this.
type Instance interface {
	Initialize(ctx context.Context, cfg Config) error
	Start(ctx context.Context) error
	Process(ctx context.Context, input any, execCtx ExecutionContext) (any, error)
	Stop(ctx context.Context) error
	Cleanup(ctx context.Context) error
	HealthCheck(ctx context.Context) (HealthCheckResult, error)
	// Reentrant reports whether concurrent Process calls are safe. When
	// false, the manager serializes calls against this instance.
	Reentrant() bool
}
