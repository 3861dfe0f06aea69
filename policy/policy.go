// Package policy implements the pure, side-effect-free checks the installer
// runs before committing a skill install: dependency satisfaction and
// permission risk classification. Nothing here touches the network, a
// database, or the clock, so every function is trivially table-testable.
package policy

import "strings"

// InstallMode controls how permission risk is handled.
type InstallMode string

const (
	ModeStrict            InstallMode = "strict"
	ModeAllowWithApproval InstallMode = "allow_with_approval"
)

// DependencyDeclaration is one entry of a manifest's dependencies list.
type DependencyDeclaration struct {
	AdapterID string
	Required  bool
	AutoStart bool
}

// AdapterLookup reports an adapter's known registration state, as seen from
// the Adapter Manager's registry, so dependency checks don't need to import
// the adapter package directly.
type AdapterLookup interface {
	// IsRegistered reports whether adapterID has any registration.
	IsRegistered(adapterID string) bool
	// IsRunning reports whether adapterID is currently running.
	IsRunning(adapterID string) bool
}

// DependencyCheckResult is the outcome of CheckDependencies.
type DependencyCheckResult struct {
	Missing     []string
	StartFailed []string
	Warnings    []string
}

// Satisfied reports whether the install can proceed: no required
// dependency missing and none that failed to auto-start.
func (r DependencyCheckResult) Satisfied() bool {
	return len(r.Missing) == 0 && len(r.StartFailed) == 0
}

// StartFn attempts to start an adapter, mirroring adapter.Manager.Start's
// signature loosely enough to avoid an import cycle.
type StartFn func(adapterID string) (bool, error)

// CheckDependencies walks a manifest's declared dependencies against the
// adapter registry. Missing required dependencies are collected as
// "missing". Present-but-stopped dependencies with auto_start=true are
// started; failures are collected as "start_failed". Any problem with a
// required=false dependency becomes a warning instead of a hard failure.
func CheckDependencies(deps []DependencyDeclaration, lookup AdapterLookup, start StartFn) DependencyCheckResult {
	var result DependencyCheckResult

	for _, dep := range deps {
		if !lookup.IsRegistered(dep.AdapterID) {
			if dep.Required {
				result.Missing = append(result.Missing, dep.AdapterID)
			} else {
				result.Warnings = append(result.Warnings, dep.AdapterID+" not registered")
			}
			continue
		}
		if lookup.IsRunning(dep.AdapterID) {
			continue
		}
		if !dep.AutoStart {
			result.Warnings = append(result.Warnings, dep.AdapterID+" registered but not running and auto_start=false")
			continue
		}
		if ok, err := start(dep.AdapterID); !ok || err != nil {
			if dep.Required {
				result.StartFailed = append(result.StartFailed, dep.AdapterID)
			} else {
				result.Warnings = append(result.Warnings, dep.AdapterID+" failed to auto-start")
			}
		}
	}

	return result
}

// Permissions mirrors a manifest's declared permission requirements.
type Permissions struct {
	NetworkAccess    []string
	FileSystemAccess []string
	DatabaseAccess   []string
}

// databaseWhitelist is the fixed set of tables a skill may declare access
// to without being flagged as a risk.
var databaseWhitelist = map[string]bool{
	"workflows":          true,
	"workflow_executions": true,
}

// PermissionCheckResult is the outcome of CheckPermissions.
type PermissionCheckResult struct {
	Risks []string
}

// HasRisk reports whether any risk was found.
func (r PermissionCheckResult) HasRisk() bool { return len(r.Risks) > 0 }

// CheckPermissions classifies a manifest's declared permissions against the
// v0 risk rules: any network access is a risk; any filesystem path outside
// /tmp is a risk; any database table outside the fixed whitelist is a risk.
func CheckPermissions(p Permissions) PermissionCheckResult {
	var result PermissionCheckResult

	if len(p.NetworkAccess) > 0 {
		result.Risks = append(result.Risks, "network_access: "+strings.Join(p.NetworkAccess, ","))
	}
	for _, path := range p.FileSystemAccess {
		if !strings.HasPrefix(path, "/tmp") {
			result.Risks = append(result.Risks, "file_system_access: "+path+" outside /tmp")
		}
	}
	for _, table := range p.DatabaseAccess {
		if !databaseWhitelist[table] {
			result.Risks = append(result.Risks, "database_access: "+table+" not in whitelist")
		}
	}

	return result
}

// Decide applies install_mode to a permission check result: no risk always
// proceeds; risk under strict mode is denied; risk under
// allow_with_approval requires a pending_approval record.
type Decision string

const (
	DecisionProceed          Decision = "proceed"
	DecisionPermissionDenied Decision = "permission_denied"
	DecisionRequiresApproval Decision = "requires_approval"
)

func Decide(mode InstallMode, perm PermissionCheckResult) Decision {
	if !perm.HasRisk() {
		return DecisionProceed
	}
	if mode == ModeAllowWithApproval {
		return DecisionRequiresApproval
	}
	return DecisionPermissionDenied
}
