package policy_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GoCodeAlone/skillengine/policy"
)

type fakeLookup struct {
	registered map[string]bool
	running    map[string]bool
}

func (f fakeLookup) IsRegistered(id string) bool { return f.registered[id] }
func (f fakeLookup) IsRunning(id string) bool    { return f.running[id] }

func TestCheckDependenciesMissingRequired(t *testing.T) {
	lookup := fakeLookup{registered: map[string]bool{}, running: map[string]bool{}}
	deps := []policy.DependencyDeclaration{{AdapterID: "db", Required: true}}

	result := policy.CheckDependencies(deps, lookup, func(string) (bool, error) { return true, nil })

	assert.False(t, result.Satisfied())
	assert.Equal(t, []string{"db"}, result.Missing)
}

func TestCheckDependenciesMissingOptionalIsWarning(t *testing.T) {
	lookup := fakeLookup{registered: map[string]bool{}, running: map[string]bool{}}
	deps := []policy.DependencyDeclaration{{AdapterID: "cache", Required: false}}

	result := policy.CheckDependencies(deps, lookup, func(string) (bool, error) { return true, nil })

	assert.True(t, result.Satisfied())
	assert.Len(t, result.Warnings, 1)
}

func TestCheckDependenciesAutoStartsStoppedDependency(t *testing.T) {
	lookup := fakeLookup{registered: map[string]bool{"db": true}, running: map[string]bool{}}
	deps := []policy.DependencyDeclaration{{AdapterID: "db", Required: true, AutoStart: true}}
	started := false

	result := policy.CheckDependencies(deps, lookup, func(id string) (bool, error) {
		started = true
		return true, nil
	})

	assert.True(t, started)
	assert.True(t, result.Satisfied())
}

func TestCheckDependenciesCollectsStartFailure(t *testing.T) {
	lookup := fakeLookup{registered: map[string]bool{"db": true}, running: map[string]bool{}}
	deps := []policy.DependencyDeclaration{{AdapterID: "db", Required: true, AutoStart: true}}

	result := policy.CheckDependencies(deps, lookup, func(string) (bool, error) {
		return false, errors.New("boom")
	})

	assert.False(t, result.Satisfied())
	assert.Equal(t, []string{"db"}, result.StartFailed)
}

func TestCheckPermissionsNoRisk(t *testing.T) {
	result := policy.CheckPermissions(policy.Permissions{
		FileSystemAccess: []string{"/tmp/skill-cache"},
		DatabaseAccess:   []string{"workflows"},
	})
	assert.False(t, result.HasRisk())
}

func TestCheckPermissionsNetworkAlwaysRisk(t *testing.T) {
	result := policy.CheckPermissions(policy.Permissions{NetworkAccess: []string{"api.example.com"}})
	assert.True(t, result.HasRisk())
}

func TestCheckPermissionsFilesystemOutsideTmp(t *testing.T) {
	result := policy.CheckPermissions(policy.Permissions{FileSystemAccess: []string{"/etc/passwd"}})
	assert.True(t, result.HasRisk())
}

func TestCheckPermissionsDatabaseOutsideWhitelist(t *testing.T) {
	result := policy.CheckPermissions(policy.Permissions{DatabaseAccess: []string{"users"}})
	assert.True(t, result.HasRisk())
}

func TestDecideProceedsWithoutRisk(t *testing.T) {
	d := policy.Decide(policy.ModeStrict, policy.PermissionCheckResult{})
	assert.Equal(t, policy.DecisionProceed, d)
}

func TestDecideStrictDeniesRisk(t *testing.T) {
	d := policy.Decide(policy.ModeStrict, policy.PermissionCheckResult{Risks: []string{"x"}})
	assert.Equal(t, policy.DecisionPermissionDenied, d)
}

func TestDecideApprovalModeRequiresApproval(t *testing.T) {
	d := policy.Decide(policy.ModeAllowWithApproval, policy.PermissionCheckResult{Risks: []string{"x"}})
	assert.Equal(t, policy.DecisionRequiresApproval, d)
}
