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

// sharedSession hands the fixture's single in-memory database to every
// session-factory caller. Its Close is a no-op: WorkflowAdapter and the
// background execution close each session they obtain, and closing the
// shared database would break every later call.
type sharedSession struct{ store.Store }

func (sharedSession) Close() error { return nil }

func newWorkflowAdapterFixture(t *testing.T) (store.SessionFactory, *workflow.Service, uuid.UUID) {
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

	engine, err := workflow.NewEngine(mgr)
	require.NoError(t, err)

	sessions := func(ctx context.Context) (store.Store, error) { return sharedSession{db}, nil }
	service := workflow.NewService(sessions, engine, nil)

	wf := &store.Workflow{
		ID:     uuid.New(),
		UserID: "user-1",
		Slug:   "echo-wf",
		Name:   "Echo Workflow",
		Definition: store.WorkflowDefinition{
			Nodes: []store.WorkflowNode{
				{ID: "start", Type: "start"},
				{ID: "call", Type: "adapter", Config: map[string]any{
					"adapter_id":      "echo1",
					"parameters":      map[string]any{"value": "${input.greeting}"},
					"output_variable": "greeting_out",
				}},
				{ID: "end", Type: "end", Config: map[string]any{"output": map[string]any{"result": "${variables.greeting_out}"}}},
			},
			Edges: []store.WorkflowEdge{
				{Source: "start", Target: "call"},
				{Source: "call", Target: "end"},
			},
		},
		TriggerType:    store.TriggerTypeManual,
		WorkflowStatus: store.WorkflowStatusActive,
	}
	require.NoError(t, db.Workflows().Create(ctx, wf))

	return sessions, service, wf.ID
}

func TestWorkflowAdapterProcessSubmitsExecutionAndAcknowledges(t *testing.T) {
	sessions, service, workflowID := newWorkflowAdapterFixture(t)
	ctx := context.Background()

	factory := workflow.NewWorkflowAdapterFactory(service, sessions)
	instance := factory()

	cfg := adapter.Config{
		AdapterID: "tool.workflow.echo-wf",
		Config:    map[string]any{"workflow_id": workflowID.String()},
	}
	require.NoError(t, instance.Initialize(ctx, cfg))
	require.NoError(t, instance.Start(ctx))

	output, err := instance.Process(ctx, map[string]any{"greeting": "hi"}, adapter.ExecutionContext{UserID: "user-1"})
	require.NoError(t, err)

	ack, ok := output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "workflow", ack["kind"])
	assert.Equal(t, "submitted", ack["status"])
	assert.Equal(t, workflowID.String(), ack["workflow_id"])

	executionIDRaw, _ := ack["workflow_execution_id"].(string)
	executionID, err := uuid.Parse(executionIDRaw)
	require.NoError(t, err)

	session, err := sessions(ctx)
	require.NoError(t, err)
	defer session.Close()

	final, err := service.WaitForCompletion(ctx, session, executionID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionStatusCompleted, final.Status)
}

func TestWorkflowAdapterHealthCheckReflectsWorkflowStatus(t *testing.T) {
	sessions, service, workflowID := newWorkflowAdapterFixture(t)
	ctx := context.Background()

	factory := workflow.NewWorkflowAdapterFactory(service, sessions)
	instance := factory()
	require.NoError(t, instance.Initialize(ctx, adapter.Config{
		AdapterID: "tool.workflow.echo-wf",
		Config:    map[string]any{"workflow_id": workflowID.String()},
	}))

	result, err := instance.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, result.IsHealthy)
	assert.Equal(t, string(store.WorkflowStatusActive), result.Status)
}

func TestWorkflowAdapterInitializeRejectsInvalidWorkflowID(t *testing.T) {
	sessions, service, _ := newWorkflowAdapterFixture(t)
	ctx := context.Background()

	factory := workflow.NewWorkflowAdapterFactory(service, sessions)
	instance := factory()
	err := instance.Initialize(ctx, adapter.Config{Config: map[string]any{"workflow_id": "not-a-uuid"}})
	assert.Error(t, err)
}
