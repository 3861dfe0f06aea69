package skill

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/policy"
	"github.com/GoCodeAlone/skillengine/store"
	"github.com/GoCodeAlone/skillengine/workflow"
)

//go:embed builtin/*.json
var builtinManifests embed.FS

// InstallMode mirrors policy.InstallMode at the installer's public surface.
type InstallMode = policy.InstallMode

const (
	ModeStrict            = policy.ModeStrict
	ModeAllowWithApproval = policy.ModeAllowWithApproval
)

// InstallResultStatus is install_skill's reported outcome.
type InstallResultStatus string

const (
	InstallStatusInstalled       InstallResultStatus = "installed"
	InstallStatusPendingApproval InstallResultStatus = "pending_approval"
	InstallStatusFailed          InstallResultStatus = "failed"
)

// InstallResult is install_skill's return shape.
type InstallResult struct {
	Success      bool
	Status       InstallResultStatus
	AdapterID    string
	WorkflowID   uuid.UUID
	ErrorMessage string
	Detail       any
}

// Installer implements the transactional install/uninstall pipeline (C8)
// over a single store session and the adapter manager; the WorkflowAdapter
// class itself is resolved through the manager's class registry.
type Installer struct {
	store    store.Store
	adapters *adapter.Manager
	logger   *slog.Logger

	builtinInstall singleflight.Group
}

// NewInstaller builds an Installer bound to a single caller-scoped store
// session — the same discipline the workflow service applies to background
// tasks applies here: the installer never reaches for a session outside the
// one it's given. Callers that need per-call session isolation (e.g. the
// platform service handling concurrent requests) should obtain a fresh
// session from their SessionFactory and build a new Installer around it.
func NewInstaller(session store.Store, adapters *adapter.Manager, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		store:    session,
		adapters: adapters,
		logger:   logger.With("component", "skill.Installer"),
	}
}

// Install runs the 9-step install protocol. Any step 5-9 failure triggers a
// deterministic rollback of what that call itself created.
func (in *Installer) Install(ctx context.Context, m *Manifest, userID string, mode InstallMode) (InstallResult, error) {
	// Step 1: structural validation already happened at ParseManifest time;
	// re-validate defensively in case the caller built a Manifest by hand.
	if err := m.Validate(); err != nil {
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
	}

	// Step 2: idempotency check.
	existing, err := in.store.Installations().GetInstalled(ctx, userID, m.PackageID)
	if err == nil && existing != nil {
		return InstallResult{
			Success:    true,
			Status:     InstallStatusInstalled,
			AdapterID:  existing.AdapterID,
			WorkflowID: existing.WorkflowID,
		}, nil
	}

	// Step 3: dependency check.
	lookup := managerLookup{in.adapters}
	depResult := policy.CheckDependencies(m.ToPolicyDependencies(), lookup, func(id string) (bool, error) {
		return in.adapters.Start(ctx, id)
	})
	if !depResult.Satisfied() {
		err := &Error{Code: CodeDependencyUnsatisfied, Message: "unsatisfied dependencies", Detail: depResult}
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error(), Detail: depResult}, err
	}

	// Step 4: permission check.
	permResult := policy.CheckPermissions(m.ToPolicyPermissions())
	decision := policy.Decide(mode, permResult)
	switch decision {
	case policy.DecisionPermissionDenied:
		err := &Error{Code: CodePermissionDenied, Message: "manifest requires permissions denied under strict mode", Detail: permResult}
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error(), Detail: permResult}, err
	case policy.DecisionRequiresApproval:
		installation := &store.SkillInstallation{
			ID:                 uuid.New(),
			UserID:             userID,
			PackageID:          m.PackageID,
			InstallationStatus: store.InstallationStatusPendingApproval,
			Manifest:           manifestToMap(m),
		}
		if err := in.store.Installations().Create(ctx, installation); err != nil {
			return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
		}
		return InstallResult{Success: true, Status: InstallStatusPendingApproval, Detail: permResult}, nil
	}

	// Step 5: create workflow.
	definition, err := decodeDefinition(m.Workflow.Definition)
	if err != nil {
		err := &Error{Code: CodeInvalidManifest, Message: "workflow.definition is malformed", Cause: err}
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
	}
	wf := &store.Workflow{
		ID:                   uuid.New(),
		UserID:               userID,
		Slug:                 m.Workflow.Slug,
		Name:                 m.Workflow.Name,
		Definition:           definition,
		TriggerType:          store.TriggerType(m.Workflow.TriggerType),
		TriggerConfig:        m.Workflow.TriggerConfig,
		WorkflowStatus:       store.WorkflowStatusActive,
		EnvironmentVariables: map[string]any{},
	}
	if err := in.store.Workflows().Create(ctx, wf); err != nil {
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
	}

	// Step 6: derive adapter_id.
	adapterID := m.WorkflowAdapter.AdapterID
	if adapterID == "" {
		adapterID, err = randomAdapterID()
		if err != nil {
			in.rollbackWorkflow(ctx, wf.ID)
			return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
		}
	}

	// Step 7: register adapter.
	mergedConfig := cloneMap(m.WorkflowAdapter.Config)
	mergedConfig["workflow_id"] = wf.ID.String()
	mergedConfig["adapter_id"] = adapterID
	mergedConfig["adapter_type"] = "hard"
	mergedConfig["kind"] = "workflow"
	mergedConfig["run_mode"] = "async"

	cfg := adapter.Config{
		AdapterID:    adapterID,
		Name:         m.WorkflowAdapter.Name,
		AdapterType:  store.AdapterTypeHard,
		AdapterClass: workflow.AdapterClassName,
		Config:       mergedConfig,
		Dependencies: []string{},
	}
	if ok, err := in.adapters.Register(ctx, cfg); !ok || err != nil {
		in.rollbackWorkflow(ctx, wf.ID)
		if err == nil {
			err = fmt.Errorf("adapter registration rejected")
		}
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
	}

	// Step 8: start adapter.
	if ok, startErr := in.adapters.Start(ctx, adapterID); !ok || startErr != nil {
		diagnosis := in.adapters.Diagnose(ctx, adapterID)
		in.rollbackAdapter(ctx, adapterID)
		in.rollbackWorkflow(ctx, wf.ID)
		err := &Error{Code: CodeStartFailed, Message: "adapter failed to start: " + diagnosis, Cause: startErr}
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
	}

	// Step 9: write installation record.
	installation := &store.SkillInstallation{
		ID:                 uuid.New(),
		UserID:             userID,
		PackageID:          m.PackageID,
		WorkflowID:         wf.ID,
		AdapterID:          adapterID,
		InstallationStatus: store.InstallationStatusInstalled,
		Manifest:           manifestToMap(m),
		InstalledAt:        timePtr(time.Now().UTC()),
	}
	if err := in.store.Installations().Create(ctx, installation); err != nil {
		in.rollbackAdapter(ctx, adapterID)
		in.rollbackWorkflow(ctx, wf.ID)
		return InstallResult{Success: false, Status: InstallStatusFailed, ErrorMessage: err.Error()}, err
	}

	return InstallResult{Success: true, Status: InstallStatusInstalled, AdapterID: adapterID, WorkflowID: wf.ID}, nil
}

func (in *Installer) rollbackWorkflow(ctx context.Context, workflowID uuid.UUID) {
	if err := in.store.Workflows().Delete(ctx, workflowID); err != nil {
		in.logger.ErrorContext(ctx, "rollback: failed to delete workflow", "workflow_id", workflowID, "error", err)
	}
}

func (in *Installer) rollbackAdapter(ctx context.Context, adapterID string) {
	if _, err := in.adapters.Unregister(ctx, adapterID); err != nil {
		in.logger.ErrorContext(ctx, "rollback: failed to unregister adapter", "adapter_id", adapterID, "error", err)
	}
}

// UninstallResultStatus is uninstall_skill's reported outcome.
type UninstallResultStatus string

const (
	UninstallStatusUninstalled UninstallResultStatus = "uninstalled"
	UninstallStatusFailed      UninstallResultStatus = "failed"
)

// UninstallResult is uninstall_skill's return shape.
type UninstallResult struct {
	Success bool
	Status  UninstallResultStatus
}

// Uninstall locates the user's installation, stops and unregisters the
// bound adapter, archives the workflow, and marks the installation
// uninstalled. Every step tolerates an already-gone state.
func (in *Installer) Uninstall(ctx context.Context, packageID, userID string) (UninstallResult, error) {
	installation, err := in.store.Installations().GetInstalled(ctx, userID, packageID)
	if err != nil {
		if err == store.ErrNotFound {
			return UninstallResult{Success: true, Status: UninstallStatusUninstalled}, nil
		}
		return UninstallResult{Success: false, Status: UninstallStatusFailed}, err
	}

	if _, err := in.adapters.Unregister(ctx, installation.AdapterID); err != nil {
		var adapterErr *adapter.Error
		if !asAdapterNotFound(err, &adapterErr) {
			return UninstallResult{Success: false, Status: UninstallStatusFailed}, err
		}
	}

	if wf, err := in.store.Workflows().Get(ctx, installation.WorkflowID); err == nil {
		wf.WorkflowStatus = store.WorkflowStatusArchived
		if err := in.store.Workflows().Update(ctx, wf); err != nil {
			return UninstallResult{Success: false, Status: UninstallStatusFailed}, err
		}
	} else if err != store.ErrNotFound {
		return UninstallResult{Success: false, Status: UninstallStatusFailed}, err
	}

	now := time.Now().UTC()
	installation.InstallationStatus = store.InstallationStatusUninstalled
	installation.UninstalledAt = &now
	if err := in.store.Installations().Update(ctx, installation); err != nil {
		return UninstallResult{Success: false, Status: UninstallStatusFailed}, err
	}

	return UninstallResult{Success: true, Status: UninstallStatusUninstalled}, nil
}

func asAdapterNotFound(err error, target **adapter.Error) bool {
	adapterErr, ok := err.(*adapter.Error)
	if !ok {
		return false
	}
	*target = adapterErr
	return adapterErr.Code == adapter.CodeNotFound
}

// EnsureBuiltinInstalled implements the lazy-install fast-path: if the user
// has no installation for a skill.builtin.* package, it's loaded from the
// embedded resource directory and installed with install_mode=strict.
// Concurrent calls on the same Installer for the same user and package_id
// share one install via singleflight, so a stampede of such calls installs
// it exactly once.
func (in *Installer) EnsureBuiltinInstalled(ctx context.Context, packageID, userID string) (*store.SkillInstallation, error) {
	if existing, err := in.store.Installations().GetInstalled(ctx, userID, packageID); err == nil {
		return existing, nil
	}

	key := userID + ":" + packageID
	result, err, _ := in.builtinInstall.Do(key, func() (any, error) {
		raw, err := builtinManifests.ReadFile(path.Join("builtin", packageID+".json"))
		if err != nil {
			return nil, &Error{Code: CodeSkillNotInstalled, Message: "no builtin manifest for " + packageID, Cause: err}
		}
		manifest, err := ParseManifest(raw)
		if err != nil {
			return nil, err
		}
		installResult, err := in.Install(ctx, manifest, userID, ModeStrict)
		if err != nil {
			return nil, err
		}
		if !installResult.Success {
			return nil, &Error{Code: CodeSkillNotInstalled, Message: installResult.ErrorMessage}
		}
		return in.store.Installations().GetInstalled(ctx, userID, packageID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*store.SkillInstallation), nil
}

// managerLookup adapts adapter.Manager to policy.AdapterLookup.
type managerLookup struct {
	mgr *adapter.Manager
}

func (l managerLookup) IsRegistered(id string) bool {
	_, err := l.mgr.GetAdapter(id)
	return err == nil
}

func (l managerLookup) IsRunning(id string) bool {
	reg, err := l.mgr.GetAdapter(id)
	return err == nil && reg.State == adapter.StateRunning
}

func decodeDefinition(raw map[string]any) (store.WorkflowDefinition, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return store.WorkflowDefinition{}, err
	}
	var def store.WorkflowDefinition
	if err := json.Unmarshal(encoded, &def); err != nil {
		return store.WorkflowDefinition{}, err
	}
	return def, nil
}

func manifestToMap(m *Manifest) map[string]any {
	encoded, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(encoded, &out)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }

func randomAdapterID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate adapter id: %w", err)
	}
	return "tool.workflow." + hex.EncodeToString(buf), nil
}
