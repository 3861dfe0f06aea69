package platform_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/platform"
	"github.com/GoCodeAlone/skillengine/policy"
	"github.com/GoCodeAlone/skillengine/skill"
	"github.com/GoCodeAlone/skillengine/store"
	"github.com/GoCodeAlone/skillengine/workflow"
)

type loggerInstance struct{}

func (loggerInstance) Initialize(ctx context.Context, cfg adapter.Config) error { return nil }
func (loggerInstance) Start(ctx context.Context) error                         { return nil }
func (loggerInstance) Stop(ctx context.Context) error                          { return nil }
func (loggerInstance) Cleanup(ctx context.Context) error                       { return nil }
func (loggerInstance) Reentrant() bool                                         { return true }
func (loggerInstance) HealthCheck(ctx context.Context) (adapter.HealthCheckResult, error) {
	return adapter.HealthCheckResult{IsHealthy: true}, nil
}
func (loggerInstance) Process(ctx context.Context, input any, execCtx adapter.ExecutionContext) (any, error) {
	return map[string]any{"logged": true}, nil
}

// sharedSession hands the fixture's single in-memory database to every
// session-factory caller. Its Close is a no-op: the code under test closes
// each session it obtains, and closing the shared database would break
// every later call.
type sharedSession struct{ store.Store }

func (sharedSession) Close() error { return nil }

func newPlatformFixture(t *testing.T) (*platform.Service, store.Store, *adapter.Manager) {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	classes := adapter.NewClassRegistry()
	classes.RegisterClass("logger", func() adapter.Instance { return loggerInstance{} })
	classes.RegisterClass("echo", func() adapter.Instance { return loggerInstance{} })

	mgr := adapter.NewManager(db.AdapterConfigs(), classes, nil)
	require.NoError(t, mgr.Initialize(ctx))
	_, err = mgr.Register(ctx, adapter.Config{AdapterID: "system.logger", AdapterClass: "logger"})
	require.NoError(t, err)

	engine, err := workflow.NewEngine(mgr)
	require.NoError(t, err)

	sessions := func(ctx context.Context) (store.Store, error) { return sharedSession{db}, nil }
	wfService := workflow.NewService(sessions, engine, nil)
	classes.RegisterClass(workflow.AdapterClassName, func() adapter.Instance {
		return workflow.NewWorkflowAdapterFactory(wfService, sessions)()
	})

	svc := platform.NewService(sessions, mgr, wfService, nil)
	return svc, db, mgr
}

func helloWorldManifest(packageID string) []byte {
	return []byte(`{
		"manifest_version": "0.1",
		"package_id": "` + packageID + `",
		"name": "Hello World",
		"version": "1.0.0",
		"workflow": {
			"slug": "` + packageID + `-wf",
			"name": "Hello World Workflow",
			"trigger_type": "manual",
			"trigger_config": {},
			"definition": {
				"nodes": [
					{"id": "start", "type": "start", "config": {}},
					{"id": "call", "type": "adapter", "config": {
						"adapter_id": "system.logger",
						"parameters": {},
						"output_variable": "log_out"
					}},
					{"id": "end", "type": "end", "config": {"output": {"result": "${variables.log_out}"}}}
				],
				"edges": [
					{"source": "start", "target": "call"},
					{"source": "call", "target": "end"}
				]
			}
		},
		"workflow_adapter": {
			"name": "Hello World Adapter",
			"adapter_type": "hard",
			"adapter_class": "WorkflowAdapter",
			"config": {}
		},
		"dependencies": [
			{"adapter_id": "system.logger", "required": true, "auto_start": true}
		],
		"permissions": {
			"database_access": ["workflows", "workflow_executions"],
			"file_system_access": [],
			"network_access": []
		}
	}`)
}

func TestExecuteSkillHappyPathWaitsAndUnwrapsResult(t *testing.T) {
	svc, _, _ := newPlatformFixture(t)
	ctx := context.Background()

	manifest, err := skill.ParseManifest(helloWorldManifest("skill.example.hello_world"))
	require.NoError(t, err)

	installResult, err := svc.InstallSkill(ctx, manifest, "user-1", policy.ModeStrict)
	require.NoError(t, err)
	require.True(t, installResult.Success)

	wait := true
	result, err := svc.ExecuteSkill(ctx, "skill.example.hello_world", map[string]any{}, "user-1", platform.ExecuteOpts{
		Wait:        &wait,
		WaitTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionStatusCompleted, result.WorkflowExecutionStatus)

	output, ok := result.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["logged"])
}

func TestExecuteSkillUninstalledNonBuiltinFails(t *testing.T) {
	svc, _, _ := newPlatformFixture(t)
	ctx := context.Background()

	_, err := svc.ExecuteSkill(ctx, "skill.example.never_installed", map[string]any{}, "user-1", platform.ExecuteOpts{})
	require.Error(t, err)
	var platformErr *platform.Error
	require.ErrorAs(t, err, &platformErr)
	assert.Equal(t, platform.CodeSkillNotInstalled, platformErr.Code)
}

func TestExecuteSkillAutoInstallsBuiltin(t *testing.T) {
	svc, _, mgr := newPlatformFixture(t)
	ctx := context.Background()

	_, err := mgr.Register(ctx, adapter.Config{AdapterID: "system.echo", AdapterClass: "echo"})
	require.NoError(t, err)

	wait := true
	result, err := svc.ExecuteSkill(ctx, "skill.builtin.echo", map[string]any{"greeting": "hi"}, "user-1", platform.ExecuteOpts{
		Wait:        &wait,
		WaitTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionStatusCompleted, result.WorkflowExecutionStatus)
}

func TestExecuteSkillRoutesThroughAdapterManagerAndBumpsUsage(t *testing.T) {
	svc, _, mgr := newPlatformFixture(t)
	ctx := context.Background()

	manifest, err := skill.ParseManifest(helloWorldManifest("skill.example.usage_check"))
	require.NoError(t, err)
	installResult, err := svc.InstallSkill(ctx, manifest, "user-1", policy.ModeStrict)
	require.NoError(t, err)
	require.True(t, installResult.Success)

	before, err := mgr.GetAdapter(installResult.AdapterID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), before.UsageCount)

	wait := true
	_, err = svc.ExecuteSkill(ctx, "skill.example.usage_check", map[string]any{}, "user-1", platform.ExecuteOpts{
		Wait:        &wait,
		WaitTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	after, err := mgr.GetAdapter(installResult.AdapterID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.UsageCount, "execute_skill must go through process_with_adapter so usage bookkeeping fires")
	assert.NotNil(t, after.LastUsedAt)
}

func TestExecuteSkillFailsWhenBoundAdapterIsNotRunning(t *testing.T) {
	svc, _, mgr := newPlatformFixture(t)
	ctx := context.Background()

	manifest, err := skill.ParseManifest(helloWorldManifest("skill.example.stopped_adapter"))
	require.NoError(t, err)
	installResult, err := svc.InstallSkill(ctx, manifest, "user-1", policy.ModeStrict)
	require.NoError(t, err)
	require.True(t, installResult.Success)

	_, err = mgr.Stop(ctx, installResult.AdapterID, true)
	require.NoError(t, err)

	_, err = svc.ExecuteSkill(ctx, "skill.example.stopped_adapter", map[string]any{}, "user-1", platform.ExecuteOpts{})
	require.Error(t, err)
	var adapterErr *adapter.Error
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, adapter.CodeNotRunning, adapterErr.Code)
}

func TestListInstalledSkillsReturnsOnlyInstalled(t *testing.T) {
	svc, _, _ := newPlatformFixture(t)
	ctx := context.Background()

	manifest, err := skill.ParseManifest(helloWorldManifest("skill.example.listed"))
	require.NoError(t, err)
	_, err = svc.InstallSkill(ctx, manifest, "user-1", policy.ModeStrict)
	require.NoError(t, err)

	list, err := svc.ListInstalledSkills(ctx, "user-1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "skill.example.listed", list.Items[0].PackageID)
}
