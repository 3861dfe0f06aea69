package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/skillengine/store"
)

// Service implements execute_workflow: it records the execution request
// synchronously, then spawns a background task — with its own persistence
// session, never the caller's — that drives the execution to completion.
type Service struct {
	sessions store.SessionFactory
	engine   *Engine
	logger   *slog.Logger

	// pollInterval/pollTimeout govern WaitForCompletion's default polling
	// cadence, matching the platform's synchronous-wait code path.
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewService builds a workflow Service. sessions must hand back an
// independent store.Store on every call — see store.SessionFactory's
// contract — so the background task spawned by ExecuteWorkflow never
// threads the calling request's session into its own lifetime.
func NewService(sessions store.SessionFactory, engine *Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:     sessions,
		engine:       engine,
		logger:       logger.With("component", "workflow.Service"),
		pollInterval: 50 * time.Millisecond,
		pollTimeout:  5 * time.Second,
	}
}

// ExecuteWorkflow looks up the workflow, records a pending execution, and
// returns immediately — the actual run happens in a spawned background
// task. The returned record's status is "pending"; callers wanting the
// final output should follow with WaitForCompletion.
func (s *Service) ExecuteWorkflow(ctx context.Context, session store.Store, workflowID uuid.UUID, userID string, input map[string]any, mode store.ExecutionMode) (*store.WorkflowExecution, error) {
	wf, err := session.Workflows().Get(ctx, workflowID)
	if err != nil {
		return nil, &Error{Code: CodeWorkflowNotFound, Message: "workflow not found: " + workflowID.String(), Cause: err}
	}
	if wf.WorkflowStatus != store.WorkflowStatusActive {
		return nil, &Error{Code: CodeWorkflowNotFound, Message: "workflow is not active: " + workflowID.String()}
	}

	execution := &store.WorkflowExecution{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		UserID:        userID,
		ExecutionMode: mode,
		Status:        store.ExecutionStatusPending,
		InputData:     input,
		NodeResults:   map[string]store.NodeResult{},
		StartedAt:     time.Now().UTC(),
	}
	if err := session.Executions().CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	wf.ExecutionCount++
	now := time.Now().UTC()
	wf.LastExecutedAt = &now
	if err := session.Workflows().Update(ctx, wf); err != nil {
		return nil, err
	}

	go s.runInBackground(wf, execution)

	return execution, nil
}

// runInBackground drives one execution to a terminal state. It opens its
// own store session rather than reusing the caller's — reusing a caller's
// session across a spawned goroutine is the exact session-threading defect
// this architecture is built to avoid.
func (s *Service) runInBackground(wf *store.Workflow, execution *store.WorkflowExecution) {
	ctx := context.Background()

	session, err := s.sessions(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to open background session", "execution_id", execution.ID, "error", err)
		return
	}
	defer session.Close()

	execution.Status = store.ExecutionStatusRunning
	if err := session.Executions().UpdateExecution(ctx, execution); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark execution running", "execution_id", execution.ID, "error", err)
		return
	}

	start := time.Now()
	result, execErr := s.engine.Execute(ctx, wf, execution.InputData, execution.ID.String(), ExecSeed{})
	duration := time.Since(start)

	completedAt := time.Now().UTC()
	execution.CompletedAt = &completedAt
	execution.DurationMs = duration.Milliseconds()
	execution.NodeResults = result.NodeResults

	if execErr != nil {
		execution.Status = result.Status
		if execution.Status == "" {
			execution.Status = store.ExecutionStatusFailed
		}
		execution.ErrorMessage = execErr.Error()
		wf.FailureCount++
	} else {
		execution.Status = store.ExecutionStatusCompleted
		execution.OutputData = result.Output
		wf.SuccessCount++
	}

	if err := session.Executions().UpdateExecution(ctx, execution); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist terminal execution state", "execution_id", execution.ID, "error", err)
	}
	if err := session.Workflows().Update(ctx, wf); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist workflow counters", "workflow_id", wf.ID, "error", err)
	}
}

// WaitForCompletion polls the execution record at pollInterval until its
// status is terminal or pollTimeout elapses. The caller gets back whatever
// output_data is present — null if the workflow failed before writing any
// — along with the final status.
func (s *Service) WaitForCompletion(ctx context.Context, session store.Store, executionID uuid.UUID) (*store.WorkflowExecution, error) {
	deadline := time.Now().Add(s.pollTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		execution, err := session.Executions().GetExecution(ctx, executionID)
		if err != nil {
			return nil, err
		}
		if execution.Status.IsTerminal() {
			return execution, nil
		}
		if time.Now().After(deadline) {
			execution.Status = store.ExecutionStatusTimeout
			return execution, nil
		}

		select {
		case <-ctx.Done():
			return execution, ctx.Err()
		case <-ticker.C:
		}
	}
}
