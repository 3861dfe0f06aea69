package skill_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/skill"
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

type failingStartInstance struct{}

func (failingStartInstance) Initialize(ctx context.Context, cfg adapter.Config) error { return nil }
func (failingStartInstance) Start(ctx context.Context) error {
	return assertErr("boom")
}
func (failingStartInstance) Stop(ctx context.Context) error                       { return nil }
func (failingStartInstance) Cleanup(ctx context.Context) error                    { return nil }
func (failingStartInstance) Reentrant() bool                                      { return true }
func (failingStartInstance) HealthCheck(ctx context.Context) (adapter.HealthCheckResult, error) {
	return adapter.HealthCheckResult{}, nil
}
func (failingStartInstance) Process(ctx context.Context, input any, execCtx adapter.ExecutionContext) (any, error) {
	return nil, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
func assertErr(msg string) error  { return simpleErr(msg) }

func newTestFixture(t *testing.T) (store.Store, *adapter.Manager, *workflow.Service) {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	classes := adapter.NewClassRegistry()
	classes.RegisterClass("echo", func() adapter.Instance { return echoInstance{} })
	classes.RegisterClass("failing", func() adapter.Instance { return failingStartInstance{} })

	mgr := adapter.NewManager(db.AdapterConfigs(), classes, nil)
	require.NoError(t, mgr.Initialize(ctx))

	engine, err := workflow.NewEngine(mgr)
	require.NoError(t, err)

	sessions := func(ctx context.Context) (store.Store, error) { return db, nil }
	service := workflow.NewService(sessions, engine, nil)
	classes.RegisterClass(workflow.AdapterClassName, func() adapter.Instance {
		return workflow.NewWorkflowAdapterFactory(service, sessions)()
	})

	return db, mgr, service
}

func echoManifestJSON(packageID, adapterID string) []byte {
	return []byte(`{
		"manifest_version": "0.1",
		"package_id": "` + packageID + `",
		"name": "Echo Test Skill",
		"version": "1.0.0",
		"workflow": {
			"slug": "` + packageID + `-wf",
			"name": "Echo Test Workflow",
			"trigger_type": "manual",
			"trigger_config": {},
			"definition": {
				"nodes": [
					{"id": "start", "type": "start", "config": {}},
					{"id": "call", "type": "adapter", "config": {
						"adapter_id": "` + adapterID + `",
						"parameters": {"payload": "${input}"},
						"output_variable": "out"
					}},
					{"id": "end", "type": "end", "config": {"output": {"result": "${variables.out}"}}}
				],
				"edges": [
					{"source": "start", "target": "call"},
					{"source": "call", "target": "end"}
				]
			}
		},
		"workflow_adapter": {
			"name": "Echo Test Adapter",
			"adapter_type": "hard",
			"adapter_class": "WorkflowAdapter",
			"config": {}
		},
		"dependencies": [
			{"adapter_id": "` + adapterID + `", "required": true, "auto_start": true}
		],
		"permissions": {
			"database_access": ["workflows", "workflow_executions"],
			"file_system_access": [],
			"network_access": []
		}
	}`)
}

func riskyManifestJSON(packageID string) []byte {
	return []byte(`{
		"manifest_version": "0.1",
		"package_id": "` + packageID + `",
		"name": "Risky Skill",
		"version": "1.0.0",
		"workflow": {
			"slug": "` + packageID + `-wf",
			"name": "Risky Workflow",
			"trigger_type": "manual",
			"trigger_config": {},
			"definition": {
				"nodes": [{"id": "start", "type": "start", "config": {}}, {"id": "end", "type": "end", "config": {}}],
				"edges": [{"source": "start", "target": "end"}]
			}
		},
		"workflow_adapter": {
			"name": "Risky Adapter",
			"adapter_type": "hard",
			"adapter_class": "WorkflowAdapter",
			"config": {}
		},
		"dependencies": [],
		"permissions": {
			"database_access": [],
			"file_system_access": [],
			"network_access": ["https://example.com"]
		}
	}`)
}

func TestInstallHappyPathRegistersAndStartsAdapter(t *testing.T) {
	db, mgr, _ := newTestFixture(t)
	ctx := context.Background()
	_, err := mgr.Register(ctx, adapter.Config{AdapterID: "system.echo", AdapterClass: "echo"})
	require.NoError(t, err)

	in := skill.NewInstaller(db, mgr, nil)
	manifest, err := skill.ParseManifest(echoManifestJSON("skill.test.echo", "system.echo"))
	require.NoError(t, err)

	result, err := in.Install(ctx, manifest, "user-1", skill.ModeStrict)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, skill.InstallStatusInstalled, result.Status)
	assert.NotEmpty(t, result.AdapterID)

	reg, err := mgr.GetAdapter(result.AdapterID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StateRunning, reg.State)

	installed, err := db.Installations().GetInstalled(ctx, "user-1", "skill.test.echo")
	require.NoError(t, err)
	assert.Equal(t, store.InstallationStatusInstalled, installed.InstallationStatus)
}

func TestInstallIsIdempotent(t *testing.T) {
	db, mgr, _ := newTestFixture(t)
	ctx := context.Background()
	_, err := mgr.Register(ctx, adapter.Config{AdapterID: "system.echo", AdapterClass: "echo"})
	require.NoError(t, err)

	in := skill.NewInstaller(db, mgr, nil)
	manifest, err := skill.ParseManifest(echoManifestJSON("skill.test.idempotent", "system.echo"))
	require.NoError(t, err)

	first, err := in.Install(ctx, manifest, "user-1", skill.ModeStrict)
	require.NoError(t, err)

	second, err := in.Install(ctx, manifest, "user-1", skill.ModeStrict)
	require.NoError(t, err)
	assert.Equal(t, first.AdapterID, second.AdapterID)
	assert.Equal(t, first.WorkflowID, second.WorkflowID)
}

func TestInstallStrictModeDeniesRiskyPermissions(t *testing.T) {
	db, mgr, _ := newTestFixture(t)
	ctx := context.Background()

	in := skill.NewInstaller(db, mgr, nil)
	manifest, err := skill.ParseManifest(riskyManifestJSON("skill.test.risky"))
	require.NoError(t, err)

	result, err := in.Install(ctx, manifest, "user-1", skill.ModeStrict)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, skill.InstallStatusFailed, result.Status)

	var skillErr *skill.Error
	require.ErrorAs(t, err, &skillErr)
	assert.Equal(t, skill.CodePermissionDenied, skillErr.Code)

	_, lookupErr := db.Installations().GetInstalled(ctx, "user-1", "skill.test.risky")
	assert.ErrorIs(t, lookupErr, store.ErrNotFound)

	workflows, err := db.Workflows().List(ctx, store.WorkflowFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestInstallApprovalModeRecordsPendingApproval(t *testing.T) {
	db, mgr, _ := newTestFixture(t)
	ctx := context.Background()

	in := skill.NewInstaller(db, mgr, nil)
	manifest, err := skill.ParseManifest(riskyManifestJSON("skill.test.pending"))
	require.NoError(t, err)

	result, err := in.Install(ctx, manifest, "user-1", skill.ModeAllowWithApproval)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, skill.InstallStatusPendingApproval, result.Status)

	workflows, err := db.Workflows().List(ctx, store.WorkflowFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestInstallRollsBackWorkflowOnAdapterStartFailure(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// The bound WorkflowAdapter itself fails to start (step 8), after the
	// workflow row (step 5) and the adapter registration (step 7) exist.
	classes := adapter.NewClassRegistry()
	classes.RegisterClass("echo", func() adapter.Instance { return echoInstance{} })
	classes.RegisterClass(workflow.AdapterClassName, func() adapter.Instance { return failingStartInstance{} })
	mgr := adapter.NewManager(db.AdapterConfigs(), classes, nil)
	require.NoError(t, mgr.Initialize(ctx))
	_, err = mgr.Register(ctx, adapter.Config{AdapterID: "system.echo", AdapterClass: "echo"})
	require.NoError(t, err)

	in := skill.NewInstaller(db, mgr, nil)
	manifest, err := skill.ParseManifest(echoManifestJSON("skill.test.rollback", "system.echo"))
	require.NoError(t, err)

	result, err := in.Install(ctx, manifest, "user-1", skill.ModeStrict)
	require.Error(t, err)
	assert.False(t, result.Success)
	var skillErr *skill.Error
	require.ErrorAs(t, err, &skillErr)
	assert.Equal(t, skill.CodeStartFailed, skillErr.Code)

	workflows, err := db.Workflows().List(ctx, store.WorkflowFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, workflows)

	_, lookupErr := db.Installations().GetInstalled(ctx, "user-1", "skill.test.rollback")
	assert.ErrorIs(t, lookupErr, store.ErrNotFound)
}

func TestUninstallArchivesWorkflowAndMarksUninstalled(t *testing.T) {
	db, mgr, _ := newTestFixture(t)
	ctx := context.Background()
	_, err := mgr.Register(ctx, adapter.Config{AdapterID: "system.echo", AdapterClass: "echo"})
	require.NoError(t, err)

	in := skill.NewInstaller(db, mgr, nil)
	manifest, err := skill.ParseManifest(echoManifestJSON("skill.test.uninstall", "system.echo"))
	require.NoError(t, err)

	installResult, err := in.Install(ctx, manifest, "user-1", skill.ModeStrict)
	require.NoError(t, err)

	uninstallResult, err := in.Uninstall(ctx, "skill.test.uninstall", "user-1")
	require.NoError(t, err)
	assert.True(t, uninstallResult.Success)
	assert.Equal(t, skill.UninstallStatusUninstalled, uninstallResult.Status)

	_, err = mgr.GetAdapter(installResult.AdapterID)
	assert.Error(t, err)

	wf, err := db.Workflows().Get(ctx, installResult.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowStatusArchived, wf.WorkflowStatus)
}

func TestUninstallIsIdempotentForAlreadyGonePackage(t *testing.T) {
	db, mgr, _ := newTestFixture(t)
	ctx := context.Background()
	in := skill.NewInstaller(db, mgr, nil)

	result, err := in.Uninstall(ctx, "skill.test.never-installed", "user-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestEnsureBuiltinInstalledDedupesConcurrentCallers(t *testing.T) {
	db, mgr, _ := newTestFixture(t)
	ctx := context.Background()
	_, err := mgr.Register(ctx, adapter.Config{AdapterID: "system.echo", AdapterClass: "echo"})
	require.NoError(t, err)

	in := skill.NewInstaller(db, mgr, nil)

	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		go func(idx int) {
			defer wg.Done()
			_, err := in.EnsureBuiltinInstalled(ctx, "skill.builtin.echo", "user-1")
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	installed, err := db.Installations().GetInstalled(ctx, "user-1", "skill.builtin.echo")
	require.NoError(t, err)
	assert.Equal(t, store.InstallationStatusInstalled, installed.InstallationStatus)

	workflows, err := db.Workflows().List(ctx, store.WorkflowFilter{UserID: "user-1", Slug: "builtin-echo"})
	require.NoError(t, err)
	assert.Len(t, workflows, 1)
}
