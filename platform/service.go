// Package platform composes the Adapter Manager, Workflow Service, and
// Skill Installer behind the four operations external callers actually
// invoke: install_skill, uninstall_skill, list_installed_skills, and
// execute_skill. It is the attachment point a transport (HTTP, CLI, RPC)
// wires against; the package itself stays transport-agnostic.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/policy"
	"github.com/GoCodeAlone/skillengine/skill"
	"github.com/GoCodeAlone/skillengine/store"
	"github.com/GoCodeAlone/skillengine/workflow"
)

// ErrorCode classifies a platform-level failure.
type ErrorCode string

const (
	CodeSkillNotInstalled ErrorCode = "SKILL_NOT_INSTALLED"
	CodeWorkflowNotFound  ErrorCode = "WORKFLOW_NOT_FOUND"
)

// Error is the typed error the platform façade returns.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("platform: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("platform: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ExecuteOpts controls execute_skill's waiting behavior.
type ExecuteOpts struct {
	Wait           *bool
	WaitTimeout    time.Duration
	PollInterval   time.Duration
}

// ExecuteResult is execute_skill's shaped response.
type ExecuteResult struct {
	Result                    any
	WorkflowExecutionID       uuid.UUID
	WorkflowExecutionStatus   store.ExecutionStatus
	WorkflowErrorMessage      string
	PackageID                string
	AdapterID                string
	DurationMs                int64
}

// ListResult is list_installed_skills's shaped response.
type ListResult struct {
	Items []*store.SkillInstallation
	Total int
}

// Service is the platform façade. Every method call obtains its own store
// session from Sessions, so a Service instance is safe to share across
// concurrent callers.
type Service struct {
	sessions store.SessionFactory
	adapters *adapter.Manager
	workflows *workflow.Service
	logger   *slog.Logger
}

// NewService builds a platform façade over the given adapter manager,
// workflow service, and session factory.
func NewService(sessions store.SessionFactory, adapters *adapter.Manager, workflows *workflow.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, adapters: adapters, workflows: workflows, logger: logger.With("component", "platform.Service")}
}

// InstallSkill validates and installs a manifest for userID.
func (s *Service) InstallSkill(ctx context.Context, manifest *skill.Manifest, userID string, mode policy.InstallMode) (skill.InstallResult, error) {
	session, err := s.sessions(ctx)
	if err != nil {
		return skill.InstallResult{}, fmt.Errorf("open session for install_skill: %w", err)
	}
	defer session.Close()

	installer := skill.NewInstaller(session, s.adapters, s.logger)
	return installer.Install(ctx, manifest, userID, mode)
}

// UninstallSkill removes a user's installation of packageID.
func (s *Service) UninstallSkill(ctx context.Context, packageID, userID string) (skill.UninstallResult, error) {
	session, err := s.sessions(ctx)
	if err != nil {
		return skill.UninstallResult{}, fmt.Errorf("open session for uninstall_skill: %w", err)
	}
	defer session.Close()

	installer := skill.NewInstaller(session, s.adapters, s.logger)
	return installer.Uninstall(ctx, packageID, userID)
}

// ListInstalledSkills returns a page of a user's skill installations.
func (s *Service) ListInstalledSkills(ctx context.Context, userID string, skipRows, limit int) (ListResult, error) {
	session, err := s.sessions(ctx)
	if err != nil {
		return ListResult{}, fmt.Errorf("open session for list_installed_skills: %w", err)
	}
	defer session.Close()

	items, err := session.Installations().List(ctx, store.InstallationFilter{
		UserID:     userID,
		Status:     store.InstallationStatusInstalled,
		Pagination: store.Pagination{Offset: skipRows, Limit: limit},
	})
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: len(items)}, nil
}

const builtinPrefix = "skill.builtin."
const builtinMoodPrefix = "skill.builtin.mood."

// ExecuteSkill resolves packageID's installation — auto-installing it first
// if it is a builtin with no existing installation — and routes the payload
// through the Adapter Manager's process_with_adapter call against the
// installation's bound WorkflowAdapter, which submits the execution itself.
// ProcessWithAdapter enforces that the adapter is running before accepting
// work and records its usage_count/last_used_at bookkeeping, exactly as any
// other adapter invocation does. Optionally waits for the terminal result.
func (s *Service) ExecuteSkill(ctx context.Context, packageID string, payload map[string]any, userID string, opts ExecuteOpts) (ExecuteResult, error) {
	session, err := s.sessions(ctx)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("open session for execute_skill: %w", err)
	}
	defer session.Close()

	installer := skill.NewInstaller(session, s.adapters, s.logger)

	installation, err := session.Installations().GetInstalled(ctx, userID, packageID)
	if err != nil {
		if err != store.ErrNotFound {
			return ExecuteResult{}, err
		}
		if !strings.HasPrefix(packageID, builtinPrefix) {
			return ExecuteResult{}, &Error{Code: CodeSkillNotInstalled, Message: "no installation for " + packageID}
		}
		installation, err = installer.EnsureBuiltinInstalled(ctx, packageID, userID)
		if err != nil {
			return ExecuteResult{}, err
		}
	}

	execCtx := adapter.ExecutionContext{UserID: userID}
	processResult, err := s.adapters.ProcessWithAdapter(ctx, installation.AdapterID, payload, execCtx)
	if err != nil {
		return ExecuteResult{}, err
	}
	if processResult.Status == "failed" {
		return ExecuteResult{}, fmt.Errorf("process_with_adapter %s: %s", installation.AdapterID, processResult.Error)
	}

	ack, ok := processResult.Output.(map[string]any)
	if !ok {
		return ExecuteResult{}, fmt.Errorf("process_with_adapter %s: unexpected output shape %T", installation.AdapterID, processResult.Output)
	}
	executionIDRaw, _ := ack["workflow_execution_id"].(string)
	executionID, err := uuid.Parse(executionIDRaw)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("process_with_adapter %s: invalid workflow_execution_id %q: %w", installation.AdapterID, executionIDRaw, err)
	}

	wait := opts.Wait
	if wait == nil {
		autoWait := strings.HasPrefix(packageID, builtinMoodPrefix)
		wait = &autoWait
	}

	result := ExecuteResult{
		WorkflowExecutionID:     executionID,
		WorkflowExecutionStatus: store.ExecutionStatusPending,
		PackageID:               packageID,
		AdapterID:               installation.AdapterID,
	}

	if !*wait {
		return result, nil
	}

	timeout := opts.WaitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	final, err := s.workflows.WaitForCompletion(waitCtx, session, executionID)
	if err != nil {
		return result, err
	}

	result.WorkflowExecutionStatus = final.Status
	result.WorkflowErrorMessage = final.ErrorMessage
	result.DurationMs = final.DurationMs
	result.Result = unwrapOutput(final.OutputData)

	return result, nil
}

// unwrapOutput implements execute_skill's result-unwrapping rule: a
// "result" key in the workflow's output replaces the whole map; otherwise
// the full output map is returned as-is.
func unwrapOutput(output map[string]any) any {
	if output == nil {
		return nil
	}
	if result, ok := output["result"]; ok {
		return result
	}
	return output
}
