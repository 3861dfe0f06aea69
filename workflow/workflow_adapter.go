package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/store"
)

// AdapterClassName is the fixed adapter_class string every installed skill's
// bound adapter must use. The skill installer validates against this
// constant before registering.
const AdapterClassName = "WorkflowAdapter"

// WorkflowAdapter is the built-in adapter.Instance that bridges the Adapter
// Manager to the Workflow Service: on Process, it submits an execution and
// returns immediately with the submission acknowledgment rather than the
// workflow's eventual output — actually waiting is the caller's job via
// Service.WaitForCompletion, invoked separately from execute_skill's
// wait=true path.
type WorkflowAdapter struct {
	service    *Service
	sessions   store.SessionFactory
	workflowID uuid.UUID
	adapterID  string
}

// NewWorkflowAdapterFactory returns an adapter.Factory that builds
// WorkflowAdapter instances bound to the given service and session source.
// Registering this factory under AdapterClassName in the process's
// adapter.ClassRegistry satisfies the platform's requirement that
// WorkflowAdapter always resolve to a known code location.
func NewWorkflowAdapterFactory(service *Service, sessions store.SessionFactory) adapter.Factory {
	return func() adapter.Instance {
		return &WorkflowAdapter{service: service, sessions: sessions}
	}
}

func (w *WorkflowAdapter) Initialize(ctx context.Context, cfg adapter.Config) error {
	rawID, _ := cfg.Config["workflow_id"].(string)
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("workflow adapter config.workflow_id is not a valid UUID: %w", err)
	}
	w.workflowID = id
	w.adapterID = cfg.AdapterID
	return nil
}

func (w *WorkflowAdapter) Start(ctx context.Context) error   { return nil }
func (w *WorkflowAdapter) Stop(ctx context.Context) error    { return nil }
func (w *WorkflowAdapter) Cleanup(ctx context.Context) error { return nil }
func (w *WorkflowAdapter) Reentrant() bool                   { return true }

func (w *WorkflowAdapter) HealthCheck(ctx context.Context) (adapter.HealthCheckResult, error) {
	session, err := w.sessions(ctx)
	if err != nil {
		return adapter.HealthCheckResult{IsHealthy: false, Issues: []string{err.Error()}}, nil
	}
	defer session.Close()

	wf, err := session.Workflows().Get(ctx, w.workflowID)
	if err != nil {
		return adapter.HealthCheckResult{IsHealthy: false, Status: "unknown", Issues: []string{"workflow lookup failed: " + err.Error()}}, nil
	}
	healthy := wf.WorkflowStatus == store.WorkflowStatusActive
	result := adapter.HealthCheckResult{
		IsHealthy: healthy,
		Status:    string(wf.WorkflowStatus),
		Checks:    map[string]any{"workflow_status": string(wf.WorkflowStatus)},
	}
	if !healthy {
		result.Issues = []string{"bound workflow is not active"}
	}
	return result, nil
}

// Process submits an execution of the bound workflow and returns a
// submission acknowledgment — not the workflow's eventual output. Callers
// that need the final result call Service.WaitForCompletion against the
// returned workflow_execution_id.
func (w *WorkflowAdapter) Process(ctx context.Context, input any, execCtx adapter.ExecutionContext) (any, error) {
	session, err := w.sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session for workflow adapter process: %w", err)
	}
	defer session.Close()

	payload, _ := input.(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	execution, err := w.service.ExecuteWorkflow(ctx, session, w.workflowID, execCtx.UserID, payload, store.ExecutionModeTriggered)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"kind":                  "workflow",
		"workflow_id":           w.workflowID.String(),
		"workflow_execution_id": execution.ID.String(),
		"status":                "submitted",
		"message":               "workflow execution submitted",
	}, nil
}
