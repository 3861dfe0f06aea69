package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // embedded driver, registered under "sqlite"
)

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func timePtrToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func marshalJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalJSON[T any](s string, out *T) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}

// SQLiteStore implements Store on top of an embedded modernc.org/sqlite
// database file. It is the standalone backend cmd/skillengine opens unless
// store.driver is "postgres", and the backend the module's tests run
// against.
type SQLiteStore struct {
	db            *sql.DB
	adapterConfig *sqliteAdapterConfigStore
	workflows     *sqliteWorkflowStore
	executions    *sqliteExecutionStore
	installations *sqliteInstallationStore
}

// OpenSQLiteStore opens (creating if needed) a SQLite database file and
// runs pending migrations.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers per process

	if err := NewMigrator(db).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	return &SQLiteStore{
		db:            db,
		adapterConfig: &sqliteAdapterConfigStore{db: db},
		workflows:     &sqliteWorkflowStore{db: db},
		executions:    &sqliteExecutionStore{db: db},
		installations: &sqliteInstallationStore{db: db},
	}, nil
}

func (s *SQLiteStore) AdapterConfigs() AdapterConfigStore { return s.adapterConfig }
func (s *SQLiteStore) Workflows() WorkflowStore           { return s.workflows }
func (s *SQLiteStore) Executions() ExecutionStore         { return s.executions }
func (s *SQLiteStore) Installations() InstallationStore   { return s.installations }
func (s *SQLiteStore) Close() error                       { return s.db.Close() }

// NewSQLiteSessionFactory returns a SessionFactory that opens an independent
// connection to the same database file for every call, so background
// executions never reuse a caller's session.
func NewSQLiteSessionFactory(path string) SessionFactory {
	return func(ctx context.Context) (Store, error) {
		return OpenSQLiteStore(ctx, path)
	}
}

// --- AdapterConfigStore ---

type sqliteAdapterConfigStore struct{ db *sql.DB }

func (s *sqliteAdapterConfigStore) Create(ctx context.Context, c *AdapterConfig) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adapter_configurations
			(adapter_id, name, adapter_type, adapter_class, version, config_json,
			 dependencies_json, description, author, tags_json, is_enabled, status,
			 reentrant, created_at, updated_at, last_used_at, usage_count)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.AdapterID, c.Name, string(c.AdapterType), c.AdapterClass, c.Version, marshalJSON(c.Config),
		marshalJSON(c.Dependencies), c.Description, c.Author, marshalJSON(c.Tags), c.IsEnabled, c.Status,
		c.Reentrant, nowRFC3339(), nowRFC3339(), timePtrToNull(c.LastUsedAt), c.UsageCount)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: adapter_id %s", ErrDuplicate, c.AdapterID)
		}
		return fmt.Errorf("insert adapter config: %w", err)
	}
	return nil
}

func (s *sqliteAdapterConfigStore) scanOne(ctx context.Context, query string, args ...any) (*AdapterConfig, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanAdapterConfig(row)
}

func scanAdapterConfig(row interface{ Scan(dest ...any) error }) (*AdapterConfig, error) {
	var c AdapterConfig
	var adapterType, configJSON, depsJSON, tagsJSON string
	var lastUsedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.AdapterID, &c.Name, &adapterType, &c.AdapterClass, &c.Version, &configJSON,
		&depsJSON, &c.Description, &c.Author, &tagsJSON, &c.IsEnabled, &c.Status,
		&c.Reentrant, &createdAt, &updatedAt, &lastUsedAt, &c.UsageCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan adapter config: %w", err)
	}
	c.AdapterType = AdapterType(adapterType)
	unmarshalJSON(configJSON, &c.Config)
	unmarshalJSON(depsJSON, &c.Dependencies)
	unmarshalJSON(tagsJSON, &c.Tags)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.LastUsedAt = parseTimePtr(lastUsedAt)
	return &c, nil
}

const adapterConfigColumns = `adapter_id, name, adapter_type, adapter_class, version, config_json,
			 dependencies_json, description, author, tags_json, is_enabled, status,
			 reentrant, created_at, updated_at, last_used_at, usage_count`

func (s *sqliteAdapterConfigStore) Get(ctx context.Context, adapterID string) (*AdapterConfig, error) {
	return s.scanOne(ctx, `SELECT `+adapterConfigColumns+` FROM adapter_configurations WHERE adapter_id = ?`, adapterID)
}

func (s *sqliteAdapterConfigStore) Update(ctx context.Context, c *AdapterConfig) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE adapter_configurations SET
			name=?, adapter_type=?, adapter_class=?, version=?, config_json=?,
			dependencies_json=?, description=?, author=?, tags_json=?, is_enabled=?, status=?,
			reentrant=?, updated_at=?, last_used_at=?, usage_count=?
		WHERE adapter_id=?`,
		c.Name, string(c.AdapterType), c.AdapterClass, c.Version, marshalJSON(c.Config),
		marshalJSON(c.Dependencies), c.Description, c.Author, marshalJSON(c.Tags), c.IsEnabled, c.Status,
		c.Reentrant, nowRFC3339(), timePtrToNull(c.LastUsedAt), c.UsageCount, c.AdapterID)
	if err != nil {
		return fmt.Errorf("update adapter config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteAdapterConfigStore) Delete(ctx context.Context, adapterID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM adapter_configurations WHERE adapter_id = ?`, adapterID)
	if err != nil {
		return fmt.Errorf("delete adapter config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteAdapterConfigStore) List(ctx context.Context, f AdapterConfigFilter) ([]*AdapterConfig, error) {
	query := `SELECT ` + adapterConfigColumns + ` FROM adapter_configurations WHERE 1=1`
	var args []any
	if f.IsEnabled != nil {
		query += ` AND is_enabled = ?`
		args = append(args, *f.IsEnabled)
	}
	if f.AdapterType != "" {
		query += ` AND adapter_type = ?`
		args = append(args, string(f.AdapterType))
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY adapter_id LIMIT ? OFFSET ?`
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list adapter configs: %w", err)
	}
	defer rows.Close()

	var out []*AdapterConfig
	for rows.Next() {
		c, err := scanAdapterConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteAdapterConfigStore) ListEnabled(ctx context.Context) ([]*AdapterConfig, error) {
	enabled := true
	return s.List(ctx, AdapterConfigFilter{IsEnabled: &enabled, Pagination: Pagination{Limit: 10000}})
}

// --- WorkflowStore ---

type sqliteWorkflowStore struct{ db *sql.DB }

const workflowColumns = `id, user_id, slug, name, definition_json, trigger_type, trigger_config_json,
	workflow_status, environment_variables_json, execution_count, success_count, failure_count,
	last_executed_at, created_at, updated_at`

func (s *sqliteWorkflowStore) Create(ctx context.Context, w *Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.WorkflowStatus == "" {
		w.WorkflowStatus = WorkflowStatusDraft
	}
	if w.TriggerType == "" {
		w.TriggerType = TriggerTypeManual
	}
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID.String(), w.UserID, w.Slug, w.Name, marshalJSON(w.Definition), string(w.TriggerType),
		marshalJSON(w.TriggerConfig), string(w.WorkflowStatus), marshalJSON(w.EnvironmentVariables),
		w.ExecutionCount, w.SuccessCount, w.FailureCount, timePtrToNull(w.LastExecutedAt),
		nowRFC3339(), nowRFC3339())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: workflow slug %s for user %s", ErrDuplicate, w.Slug, w.UserID)
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func scanWorkflow(row interface{ Scan(dest ...any) error }) (*Workflow, error) {
	var w Workflow
	var id, triggerType, triggerConfigJSON, status, envJSON, defJSON string
	var lastExecutedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&id, &w.UserID, &w.Slug, &w.Name, &defJSON, &triggerType, &triggerConfigJSON,
		&status, &envJSON, &w.ExecutionCount, &w.SuccessCount, &w.FailureCount,
		&lastExecutedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	w.ID = uuid.MustParse(id)
	w.TriggerType = TriggerType(triggerType)
	w.WorkflowStatus = WorkflowStatus(status)
	unmarshalJSON(triggerConfigJSON, &w.TriggerConfig)
	unmarshalJSON(envJSON, &w.EnvironmentVariables)
	unmarshalJSON(defJSON, &w.Definition)
	w.LastExecutedAt = parseTimePtr(lastExecutedAt)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

func (s *sqliteWorkflowStore) Get(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id.String())
	return scanWorkflow(row)
}

func (s *sqliteWorkflowStore) GetBySlug(ctx context.Context, userID, slug string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE user_id = ? AND slug = ?`, userID, slug)
	return scanWorkflow(row)
}

func (s *sqliteWorkflowStore) Update(ctx context.Context, w *Workflow) error {
	w.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET
			name=?, definition_json=?, trigger_type=?, trigger_config_json=?, workflow_status=?,
			environment_variables_json=?, execution_count=?, success_count=?, failure_count=?,
			last_executed_at=?, updated_at=?
		WHERE id=?`,
		w.Name, marshalJSON(w.Definition), string(w.TriggerType), marshalJSON(w.TriggerConfig),
		string(w.WorkflowStatus), marshalJSON(w.EnvironmentVariables), w.ExecutionCount,
		w.SuccessCount, w.FailureCount, timePtrToNull(w.LastExecutedAt), nowRFC3339(), w.ID.String())
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteWorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteWorkflowStore) List(ctx context.Context, f WorkflowFilter) ([]*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		query += ` AND workflow_status = ?`
		args = append(args, string(f.Status))
	}
	if f.Slug != "" {
		query += ` AND slug = ?`
		args = append(args, f.Slug)
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- ExecutionStore ---

type sqliteExecutionStore struct{ db *sql.DB }

const executionColumns = `id, workflow_id, user_id, execution_mode, status, input_data_json,
	output_data_json, node_results_json, started_at, completed_at, duration_ms, error_message, cancel_requested`

func (s *sqliteExecutionStore) CreateExecution(ctx context.Context, e *WorkflowExecution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = ExecutionStatusPending
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	var outputJSON any
	if e.OutputData != nil {
		outputJSON = marshalJSON(e.OutputData)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID.String(), e.WorkflowID.String(), e.UserID, string(e.ExecutionMode), string(e.Status),
		marshalJSON(e.InputData), outputJSON, marshalJSON(e.NodeResults),
		e.StartedAt.UTC().Format(time.RFC3339Nano), timePtrToNull(e.CompletedAt), e.DurationMs,
		e.ErrorMessage, e.CancelRequested)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func scanExecution(row interface{ Scan(dest ...any) error }) (*WorkflowExecution, error) {
	var e WorkflowExecution
	var id, workflowID, mode, status, inputJSON, nodeResultsJSON, startedAt string
	var outputJSON sql.NullString
	var completedAt sql.NullString
	err := row.Scan(&id, &workflowID, &e.UserID, &mode, &status, &inputJSON, &outputJSON,
		&nodeResultsJSON, &startedAt, &completedAt, &e.DurationMs, &e.ErrorMessage, &e.CancelRequested)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	e.ID = uuid.MustParse(id)
	e.WorkflowID = uuid.MustParse(workflowID)
	e.ExecutionMode = ExecutionMode(mode)
	e.Status = ExecutionStatus(status)
	unmarshalJSON(inputJSON, &e.InputData)
	if outputJSON.Valid {
		unmarshalJSON(outputJSON.String, &e.OutputData)
	}
	unmarshalJSON(nodeResultsJSON, &e.NodeResults)
	e.StartedAt = parseTime(startedAt)
	e.CompletedAt = parseTimePtr(completedAt)
	return &e, nil
}

func (s *sqliteExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id.String())
	return scanExecution(row)
}

func (s *sqliteExecutionStore) UpdateExecution(ctx context.Context, e *WorkflowExecution) error {
	var outputJSON any
	if e.OutputData != nil {
		outputJSON = marshalJSON(e.OutputData)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status=?, output_data_json=?, node_results_json=?, completed_at=?,
			duration_ms=?, error_message=?, cancel_requested=?
		WHERE id=?`,
		string(e.Status), outputJSON, marshalJSON(e.NodeResults), timePtrToNull(e.CompletedAt),
		e.DurationMs, e.ErrorMessage, e.CancelRequested, e.ID.String())
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteExecutionStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]*WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE 1=1`
	var args []any
	if f.WorkflowID != nil {
		query += ` AND workflow_id = ?`
		args = append(args, f.WorkflowID.String())
	}
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- InstallationStore ---

type sqliteInstallationStore struct{ db *sql.DB }

const installationColumns = `id, user_id, package_id, workflow_id, adapter_id, installation_status,
	manifest_json, installed_at, uninstalled_at, error_message, created_at, updated_at`

func (s *sqliteInstallationStore) Create(ctx context.Context, in *SkillInstallation) error {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	in.CreatedAt = time.Now().UTC()
	in.UpdatedAt = in.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_installations (`+installationColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID.String(), in.UserID, in.PackageID, in.WorkflowID.String(), in.AdapterID,
		string(in.InstallationStatus), marshalJSON(in.Manifest), timePtrToNull(in.InstalledAt),
		timePtrToNull(in.UninstalledAt), in.ErrorMessage, nowRFC3339(), nowRFC3339())
	if err != nil {
		return fmt.Errorf("insert installation: %w", err)
	}
	return nil
}

func scanInstallation(row interface{ Scan(dest ...any) error }) (*SkillInstallation, error) {
	var in SkillInstallation
	var id, workflowID, status, manifestJSON, createdAt, updatedAt string
	var installedAt, uninstalledAt sql.NullString
	err := row.Scan(&id, &in.UserID, &in.PackageID, &workflowID, &in.AdapterID, &status,
		&manifestJSON, &installedAt, &uninstalledAt, &in.ErrorMessage, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan installation: %w", err)
	}
	in.ID = uuid.MustParse(id)
	in.WorkflowID = uuid.MustParse(workflowID)
	in.InstallationStatus = InstallationStatus(status)
	unmarshalJSON(manifestJSON, &in.Manifest)
	in.InstalledAt = parseTimePtr(installedAt)
	in.UninstalledAt = parseTimePtr(uninstalledAt)
	in.CreatedAt = parseTime(createdAt)
	in.UpdatedAt = parseTime(updatedAt)
	return &in, nil
}

func (s *sqliteInstallationStore) Get(ctx context.Context, id uuid.UUID) (*SkillInstallation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+installationColumns+` FROM skill_installations WHERE id = ?`, id.String())
	return scanInstallation(row)
}

func (s *sqliteInstallationStore) GetInstalled(ctx context.Context, userID, packageID string) (*SkillInstallation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+installationColumns+` FROM skill_installations
		WHERE user_id = ? AND package_id = ? AND installation_status = ? ORDER BY updated_at DESC LIMIT 1`,
		userID, packageID, string(InstallationStatusInstalled))
	return scanInstallation(row)
}

func (s *sqliteInstallationStore) Update(ctx context.Context, in *SkillInstallation) error {
	in.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE skill_installations SET
			installation_status=?, manifest_json=?, installed_at=?, uninstalled_at=?,
			error_message=?, updated_at=?
		WHERE id=?`,
		string(in.InstallationStatus), marshalJSON(in.Manifest), timePtrToNull(in.InstalledAt),
		timePtrToNull(in.UninstalledAt), in.ErrorMessage, nowRFC3339(), in.ID.String())
	if err != nil {
		return fmt.Errorf("update installation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteInstallationStore) List(ctx context.Context, f InstallationFilter) ([]*SkillInstallation, error) {
	query := `SELECT ` + installationColumns + ` FROM skill_installations WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.PackageID != "" {
		query += ` AND package_id = ?`
		args = append(args, f.PackageID)
	}
	if f.Status != "" {
		query += ` AND installation_status = ?`
		args = append(args, string(f.Status))
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	defer rows.Close()

	var out []*SkillInstallation
	for rows.Next() {
		in, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces SQLite's error text directly; matching on
	// substring avoids depending on its internal error code types.
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) <= len(s) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
