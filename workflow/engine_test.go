package workflow_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/store"
	"github.com/GoCodeAlone/skillengine/workflow"
)

type echoInstance struct{}

func (echoInstance) Initialize(ctx context.Context, cfg adapter.Config) error { return nil }
func (echoInstance) Start(ctx context.Context) error                         { return nil }
func (echoInstance) Stop(ctx context.Context) error                          { return nil }
func (echoInstance) Cleanup(ctx context.Context) error                       { return nil }
func (echoInstance) Reentrant() bool                                         { return true }
func (echoInstance) HealthCheck(ctx context.Context) (adapter.HealthCheckResult, error) {
	return adapter.HealthCheckResult{IsHealthy: true}, nil
}
func (echoInstance) Process(ctx context.Context, input any, execCtx adapter.ExecutionContext) (any, error) {
	return input, nil
}

func newTestManager(t *testing.T) *adapter.Manager {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	classes := adapter.NewClassRegistry()
	classes.RegisterClass("echo", func() adapter.Instance { return echoInstance{} })
	mgr := adapter.NewManager(db.AdapterConfigs(), classes, nil)
	require.NoError(t, mgr.Initialize(ctx))
	_, err = mgr.Register(ctx, adapter.Config{AdapterID: "echo1", AdapterClass: "echo"})
	require.NoError(t, err)
	return mgr
}

func TestEngineExecutesLinearGraph(t *testing.T) {
	mgr := newTestManager(t)
	engine, err := workflow.NewEngine(mgr)
	require.NoError(t, err)

	wf := &store.Workflow{
		ID:     uuid.New(),
		UserID: "user-1",
		Definition: store.WorkflowDefinition{
			Nodes: []store.WorkflowNode{
				{ID: "start", Type: "start"},
				{ID: "call", Type: "adapter", Config: map[string]any{
					"adapter_id":      "echo1",
					"parameters":      map[string]any{"value": "${input.greeting}"},
					"output_variable": "greeting_out",
				}},
				{ID: "end", Type: "end", Config: map[string]any{
					"output": map[string]any{"result": "${variables.greeting_out.value}"},
				}},
			},
			Edges: []store.WorkflowEdge{
				{Source: "start", Target: "call"},
				{Source: "call", Target: "end"},
			},
		},
	}

	result, err := engine.Execute(context.Background(), wf, map[string]any{"greeting": "hello"}, "exec-1", workflow.ExecSeed{})
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionStatusCompleted, result.Status)
	assert.Equal(t, "hello", result.Output["result"])
	assert.Equal(t, "success", result.NodeResults["call"].Status)
}

func TestEngineConditionBranches(t *testing.T) {
	mgr := newTestManager(t)
	engine, err := workflow.NewEngine(mgr)
	require.NoError(t, err)

	wf := &store.Workflow{
		ID: uuid.New(),
		Definition: store.WorkflowDefinition{
			Nodes: []store.WorkflowNode{
				{ID: "start", Type: "start"},
				{ID: "check", Type: "condition", Config: map[string]any{"condition": "input.amount > 100.0"}},
				{ID: "high", Type: "end", Config: map[string]any{"output": map[string]any{"tier": "high"}}},
				{ID: "low", Type: "end", Config: map[string]any{"output": map[string]any{"tier": "low"}}},
			},
			Edges: []store.WorkflowEdge{
				{Source: "start", Target: "check"},
				{Source: "check", Target: "high", Condition: "true"},
				{Source: "check", Target: "low", Condition: "false"},
			},
		},
	}

	result, err := engine.Execute(context.Background(), wf, map[string]any{"amount": 250.0}, "exec-2", workflow.ExecSeed{})
	require.NoError(t, err)
	assert.Equal(t, "high", result.Output["tier"])
}

func TestEngineRejectsMultipleStartNodes(t *testing.T) {
	mgr := newTestManager(t)
	engine, err := workflow.NewEngine(mgr)
	require.NoError(t, err)

	wf := &store.Workflow{
		ID: uuid.New(),
		Definition: store.WorkflowDefinition{
			Nodes: []store.WorkflowNode{
				{ID: "s1", Type: "start"},
				{ID: "s2", Type: "start"},
			},
		},
	}

	_, err = engine.Execute(context.Background(), wf, map[string]any{}, "exec-3", workflow.ExecSeed{})
	require.Error(t, err)
	var wfErr *workflow.Error
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.CodeInvalidDefinition, wfErr.Code)
}

func TestEngineAdapterNodeRejectsReservedWorkflowIDParam(t *testing.T) {
	mgr := newTestManager(t)
	engine, err := workflow.NewEngine(mgr)
	require.NoError(t, err)

	wf := &store.Workflow{
		ID: uuid.New(),
		Definition: store.WorkflowDefinition{
			Nodes: []store.WorkflowNode{
				{ID: "start", Type: "start"},
				{ID: "call", Type: "adapter", Config: map[string]any{
					"adapter_id": "echo1",
					"parameters": map[string]any{"workflow_id": "nope"},
				}},
			},
			Edges: []store.WorkflowEdge{{Source: "start", Target: "call"}},
		},
	}

	_, err = engine.Execute(context.Background(), wf, map[string]any{}, "exec-4", workflow.ExecSeed{})
	require.Error(t, err)
	var wfErr *workflow.Error
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.CodeInvalidDefinition, wfErr.Code)
}
