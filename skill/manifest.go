// Package skill implements the transactional installer that turns a
// validated manifest into a runnable skill: a workflow plus a bound
// WorkflowAdapter, installed with rollback on any step's failure.
package skill

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/GoCodeAlone/skillengine/policy"
	"github.com/GoCodeAlone/skillengine/workflow"
)

// ErrorCode classifies a manifest or install failure.
type ErrorCode string

const (
	CodeInvalidManifest       ErrorCode = "INVALID_MANIFEST"
	CodeUnsupportedVersion    ErrorCode = "UNSUPPORTED_VERSION"
	CodeDependencyUnsatisfied ErrorCode = "DEPENDENCY_UNSATISFIED"
	CodePermissionDenied      ErrorCode = "PERMISSION_DENIED"
	CodeRequiresApproval      ErrorCode = "REQUIRES_APPROVAL"
	CodeSkillNotInstalled     ErrorCode = "SKILL_NOT_INSTALLED"
	CodeRollbackIncomplete    ErrorCode = "ROLLBACK_INCOMPLETE"
	CodeStartFailed           ErrorCode = "START_FAILED"
)

// Error is the typed error returned by the skill package.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Detail  any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("skill: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("skill: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// SupportedManifestVersion is the only manifest_version this installer
// accepts.
const SupportedManifestVersion = "0.1"

var packageIDRe = regexp.MustCompile(`^skill\.[a-z0-9_]+(\.[a-z0-9_]+)*$`)
var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// WorkflowSpec is the embedded workflow description inside a manifest.
type WorkflowSpec struct {
	Slug          string         `json:"slug"`
	Name          string         `json:"name"`
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config"`
	Definition    map[string]any `json:"definition"`
}

// WorkflowAdapterSpec is the embedded adapter description inside a
// manifest.
type WorkflowAdapterSpec struct {
	AdapterID   string         `json:"adapter_id,omitempty"`
	Name        string         `json:"name"`
	AdapterType string         `json:"adapter_type"`
	AdapterClass string        `json:"adapter_class"`
	Config      map[string]any `json:"config"`
}

// DependencySpec is one entry of a manifest's dependency list.
type DependencySpec struct {
	AdapterID string `json:"adapter_id"`
	Required  bool   `json:"required"`
	AutoStart bool   `json:"auto_start"`
}

// PermissionSpec is a manifest's declared permission requirements.
type PermissionSpec struct {
	DatabaseAccess   []string `json:"database_access"`
	FileSystemAccess []string `json:"file_system_access"`
	NetworkAccess    []string `json:"network_access"`
}

// Manifest is the full, validated shape of a skill package description.
type Manifest struct {
	ManifestVersion string               `json:"manifest_version"`
	PackageID       string               `json:"package_id"`
	Name            string               `json:"name"`
	Version         string               `json:"version"`
	Description     string               `json:"description,omitempty"`
	Author          string               `json:"author,omitempty"`
	Tags            []string             `json:"tags,omitempty"`
	Workflow        WorkflowSpec         `json:"workflow"`
	WorkflowAdapter WorkflowAdapterSpec  `json:"workflow_adapter"`
	Dependencies    []DependencySpec     `json:"dependencies"`
	Permissions     PermissionSpec       `json:"permissions"`
}

// ParseManifest unmarshals and structurally validates raw JSON, returning
// INVALID_MANIFEST or UNSUPPORTED_VERSION on any violation.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &Error{Code: CodeInvalidManifest, Message: "manifest is not valid JSON", Cause: err}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every structural invariant the installer requires before
// it will act on a manifest.
func (m *Manifest) Validate() error {
	if m.ManifestVersion != SupportedManifestVersion {
		return &Error{Code: CodeUnsupportedVersion, Message: "unsupported manifest_version: " + m.ManifestVersion}
	}
	if !packageIDRe.MatchString(m.PackageID) {
		return &Error{Code: CodeInvalidManifest, Message: "package_id must match skill.<name>[.<sub>]: " + m.PackageID, Detail: "package_id"}
	}
	if m.Name == "" {
		return &Error{Code: CodeInvalidManifest, Message: "name is required", Detail: "name"}
	}
	if !semverRe.MatchString(m.Version) {
		return &Error{Code: CodeInvalidManifest, Message: "version must be semver: " + m.Version, Detail: "version"}
	}
	if m.Workflow.Slug == "" {
		return &Error{Code: CodeInvalidManifest, Message: "workflow.slug is required", Detail: "workflow.slug"}
	}
	if m.Workflow.Name == "" {
		return &Error{Code: CodeInvalidManifest, Message: "workflow.name is required", Detail: "workflow.name"}
	}
	if m.Workflow.TriggerType == "" {
		return &Error{Code: CodeInvalidManifest, Message: "workflow.trigger_type is required", Detail: "workflow.trigger_type"}
	}
	if m.WorkflowAdapter.AdapterClass != workflow.AdapterClassName {
		return &Error{Code: CodeInvalidManifest, Message: "workflow_adapter.adapter_class must be " + workflow.AdapterClassName, Detail: "workflow_adapter.adapter_class"}
	}
	if m.WorkflowAdapter.AdapterType != "hard" {
		return &Error{Code: CodeInvalidManifest, Message: "workflow_adapter.adapter_type must be hard", Detail: "workflow_adapter.adapter_type"}
	}
	if _, ok := m.WorkflowAdapter.Config["workflow_id"]; ok {
		return &Error{Code: CodeInvalidManifest, Message: "workflow_adapter.config must not set reserved key workflow_id", Detail: "workflow_adapter.config.workflow_id"}
	}
	if kind, ok := m.WorkflowAdapter.Config["kind"]; ok {
		if kindStr, _ := kind.(string); kindStr != "workflow" {
			return &Error{Code: CodeInvalidManifest, Message: "workflow_adapter.config.kind must be \"workflow\" if set", Detail: "workflow_adapter.config.kind"}
		}
	}
	if runMode, ok := m.WorkflowAdapter.Config["run_mode"]; ok {
		if runModeStr, _ := runMode.(string); runModeStr != "async" {
			return &Error{Code: CodeInvalidManifest, Message: "workflow_adapter.config.run_mode must be \"async\" if set", Detail: "workflow_adapter.config.run_mode"}
		}
	}
	return nil
}

// IsBuiltin reports whether package_id follows the platform's reserved
// built-in naming convention.
func (m *Manifest) IsBuiltin() bool {
	return strings.HasPrefix(m.PackageID, "skill.builtin.")
}

// ToPolicyDependencies converts a manifest's dependency list into the
// shape policy.CheckDependencies expects.
func (m *Manifest) ToPolicyDependencies() []policy.DependencyDeclaration {
	out := make([]policy.DependencyDeclaration, len(m.Dependencies))
	for i, d := range m.Dependencies {
		out[i] = policy.DependencyDeclaration{AdapterID: d.AdapterID, Required: d.Required, AutoStart: d.AutoStart}
	}
	return out
}

// ToPolicyPermissions converts a manifest's permission block into the shape
// policy.CheckPermissions expects.
func (m *Manifest) ToPolicyPermissions() policy.Permissions {
	return policy.Permissions{
		NetworkAccess:    m.Permissions.NetworkAccess,
		FileSystemAccess: m.Permissions.FileSystemAccess,
		DatabaseAccess:   m.Permissions.DatabaseAccess,
	}
}
