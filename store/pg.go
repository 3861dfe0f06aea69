package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGConfig holds PostgreSQL connection configuration for the production
// backend.
type PGConfig struct {
	URL      string `yaml:"url" json:"url"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	MinConns int32  `yaml:"min_conns" json:"min_conns"`
}

// PGStore wraps a pgxpool.Pool and implements Store against PostgreSQL. It
// mirrors the embedded SQLiteStore's schema but uses PostgreSQL's native
// jsonb and timestamptz types instead of serialized text columns.
type PGStore struct {
	pool          *pgxpool.Pool
	adapterConfig *pgAdapterConfigStore
	workflows     *pgWorkflowStore
	executions    *pgExecutionStore
	installations *pgInstallationStore
}

// NewPGStore connects to PostgreSQL, runs DDL, and returns a ready PGStore.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if err := ensurePGSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure pg schema: %w", err)
	}

	return &PGStore{
		pool:          pool,
		adapterConfig: &pgAdapterConfigStore{pool: pool},
		workflows:     &pgWorkflowStore{pool: pool},
		executions:    &pgExecutionStore{pool: pool},
		installations: &pgInstallationStore{pool: pool},
	}, nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PGStore) AdapterConfigs() AdapterConfigStore { return s.adapterConfig }
func (s *PGStore) Workflows() WorkflowStore           { return s.workflows }
func (s *PGStore) Executions() ExecutionStore         { return s.executions }
func (s *PGStore) Installations() InstallationStore   { return s.installations }
func (s *PGStore) Close() error                       { s.pool.Close(); return nil }

// NewPGSessionFactory returns a SessionFactory that opens a fresh connection
// pool against the same database for every call. Each background execution
// therefore gets its own session, never the installer's or caller's.
func NewPGSessionFactory(cfg PGConfig) SessionFactory {
	return func(ctx context.Context) (Store, error) {
		return NewPGStore(ctx, cfg)
	}
}

func ensurePGSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS adapter_configurations (
			adapter_id    TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			adapter_type  TEXT NOT NULL,
			adapter_class TEXT NOT NULL,
			version       TEXT NOT NULL,
			config        JSONB NOT NULL DEFAULT '{}',
			dependencies  JSONB NOT NULL DEFAULT '[]',
			description   TEXT NOT NULL DEFAULT '',
			author        TEXT NOT NULL DEFAULT '',
			tags          JSONB NOT NULL DEFAULT '[]',
			is_enabled    BOOLEAN NOT NULL DEFAULT TRUE,
			status        TEXT NOT NULL DEFAULT '',
			reentrant     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used_at  TIMESTAMPTZ,
			usage_count   BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS workflows (
			id              UUID PRIMARY KEY,
			user_id         TEXT NOT NULL,
			slug            TEXT NOT NULL,
			name            TEXT NOT NULL,
			definition      JSONB NOT NULL DEFAULT '{}',
			trigger_type    TEXT NOT NULL DEFAULT 'manual',
			trigger_config  JSONB NOT NULL DEFAULT '{}',
			workflow_status TEXT NOT NULL DEFAULT 'draft',
			environment_variables JSONB NOT NULL DEFAULT '{}',
			execution_count BIGINT NOT NULL DEFAULT 0,
			success_count   BIGINT NOT NULL DEFAULT 0,
			failure_count   BIGINT NOT NULL DEFAULT 0,
			last_executed_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, slug)
		);
		CREATE TABLE IF NOT EXISTS workflow_executions (
			id              UUID PRIMARY KEY,
			workflow_id     UUID NOT NULL,
			user_id         TEXT NOT NULL,
			execution_mode  TEXT NOT NULL,
			status          TEXT NOT NULL,
			input_data      JSONB NOT NULL DEFAULT '{}',
			output_data     JSONB,
			node_results    JSONB NOT NULL DEFAULT '{}',
			started_at      TIMESTAMPTZ NOT NULL,
			completed_at    TIMESTAMPTZ,
			duration_ms     BIGINT NOT NULL DEFAULT 0,
			error_message   TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_pg_workflow_executions_workflow ON workflow_executions(workflow_id);
		CREATE TABLE IF NOT EXISTS skill_installations (
			id                  UUID PRIMARY KEY,
			user_id             TEXT NOT NULL,
			package_id          TEXT NOT NULL,
			workflow_id         UUID NOT NULL,
			adapter_id          TEXT NOT NULL,
			installation_status TEXT NOT NULL,
			manifest            JSONB NOT NULL DEFAULT '{}',
			installed_at        TIMESTAMPTZ,
			uninstalled_at      TIMESTAMPTZ,
			error_message       TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_pg_skill_installations_user_pkg ON skill_installations(user_id, package_id);
	`)
	return err
}

func isDuplicateError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}

// --- pgAdapterConfigStore ---

type pgAdapterConfigStore struct{ pool *pgxpool.Pool }

func (s *pgAdapterConfigStore) Create(ctx context.Context, c *AdapterConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO adapter_configurations
			(adapter_id, name, adapter_type, adapter_class, version, config, dependencies,
			 description, author, tags, is_enabled, status, reentrant, created_at, updated_at,
			 last_used_at, usage_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW(),$14,$15)`,
		c.AdapterID, c.Name, string(c.AdapterType), c.AdapterClass, c.Version, jsonbOf(c.Config),
		jsonbOf(c.Dependencies), c.Description, c.Author, jsonbOf(c.Tags), c.IsEnabled, c.Status,
		c.Reentrant, c.LastUsedAt, c.UsageCount)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: adapter_id %s", ErrDuplicate, c.AdapterID)
		}
		return fmt.Errorf("insert adapter config: %w", err)
	}
	return nil
}

func jsonbOf(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func (s *pgAdapterConfigStore) scanOne(ctx context.Context, query string, args ...any) (*AdapterConfig, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query adapter config: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanPGAdapterConfig(rows)
}

func scanPGAdapterConfig(rows pgx.Rows) (*AdapterConfig, error) {
	var c AdapterConfig
	var adapterType string
	var config, deps, tags []byte
	if err := rows.Scan(&c.AdapterID, &c.Name, &adapterType, &c.AdapterClass, &c.Version, &config,
		&deps, &c.Description, &c.Author, &tags, &c.IsEnabled, &c.Status, &c.Reentrant,
		&c.CreatedAt, &c.UpdatedAt, &c.LastUsedAt, &c.UsageCount); err != nil {
		return nil, fmt.Errorf("scan adapter config: %w", err)
	}
	c.AdapterType = AdapterType(adapterType)
	_ = json.Unmarshal(config, &c.Config)
	_ = json.Unmarshal(deps, &c.Dependencies)
	_ = json.Unmarshal(tags, &c.Tags)
	return &c, nil
}

const pgAdapterConfigColumns = `adapter_id, name, adapter_type, adapter_class, version, config,
	dependencies, description, author, tags, is_enabled, status, reentrant, created_at, updated_at,
	last_used_at, usage_count`

func (s *pgAdapterConfigStore) Get(ctx context.Context, adapterID string) (*AdapterConfig, error) {
	return s.scanOne(ctx, `SELECT `+pgAdapterConfigColumns+` FROM adapter_configurations WHERE adapter_id = $1`, adapterID)
}

func (s *pgAdapterConfigStore) Update(ctx context.Context, c *AdapterConfig) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE adapter_configurations SET
			name=$2, adapter_type=$3, adapter_class=$4, version=$5, config=$6, dependencies=$7,
			description=$8, author=$9, tags=$10, is_enabled=$11, status=$12, reentrant=$13,
			updated_at=NOW(), last_used_at=$14, usage_count=$15
		WHERE adapter_id=$1`,
		c.AdapterID, c.Name, string(c.AdapterType), c.AdapterClass, c.Version, jsonbOf(c.Config),
		jsonbOf(c.Dependencies), c.Description, c.Author, jsonbOf(c.Tags), c.IsEnabled, c.Status,
		c.Reentrant, c.LastUsedAt, c.UsageCount)
	if err != nil {
		return fmt.Errorf("update adapter config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAdapterConfigStore) Delete(ctx context.Context, adapterID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM adapter_configurations WHERE adapter_id = $1`, adapterID)
	if err != nil {
		return fmt.Errorf("delete adapter config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAdapterConfigStore) List(ctx context.Context, f AdapterConfigFilter) ([]*AdapterConfig, error) {
	query := `SELECT ` + pgAdapterConfigColumns + ` FROM adapter_configurations WHERE 1=1`
	var args []any
	idx := 1
	if f.IsEnabled != nil {
		query += fmt.Sprintf(` AND is_enabled = $%d`, idx)
		args = append(args, *f.IsEnabled)
		idx++
	}
	if f.AdapterType != "" {
		query += fmt.Sprintf(` AND adapter_type = $%d`, idx)
		args = append(args, string(f.AdapterType))
		idx++
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` ORDER BY adapter_id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list adapter configs: %w", err)
	}
	defer rows.Close()

	var out []*AdapterConfig
	for rows.Next() {
		c, err := scanPGAdapterConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgAdapterConfigStore) ListEnabled(ctx context.Context) ([]*AdapterConfig, error) {
	enabled := true
	return s.List(ctx, AdapterConfigFilter{IsEnabled: &enabled, Pagination: Pagination{Limit: 10000}})
}

// --- pgWorkflowStore ---

type pgWorkflowStore struct{ pool *pgxpool.Pool }

const pgWorkflowColumns = `id, user_id, slug, name, definition, trigger_type, trigger_config,
	workflow_status, environment_variables, execution_count, success_count, failure_count,
	last_executed_at, created_at, updated_at`

func (s *pgWorkflowStore) Create(ctx context.Context, w *Workflow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.WorkflowStatus == "" {
		w.WorkflowStatus = WorkflowStatusDraft
	}
	if w.TriggerType == "" {
		w.TriggerType = TriggerTypeManual
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflows (id, user_id, slug, name, definition, trigger_type, trigger_config,
			workflow_status, environment_variables, execution_count, success_count, failure_count,
			last_executed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())`,
		w.ID, w.UserID, w.Slug, w.Name, jsonbOf(w.Definition), string(w.TriggerType),
		jsonbOf(w.TriggerConfig), string(w.WorkflowStatus), jsonbOf(w.EnvironmentVariables),
		w.ExecutionCount, w.SuccessCount, w.FailureCount, w.LastExecutedAt)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: workflow slug %s for user %s", ErrDuplicate, w.Slug, w.UserID)
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func scanPGWorkflow(rows pgx.Rows) (*Workflow, error) {
	var w Workflow
	var triggerType, status string
	var definition, triggerConfig, env []byte
	if err := rows.Scan(&w.ID, &w.UserID, &w.Slug, &w.Name, &definition, &triggerType, &triggerConfig,
		&status, &env, &w.ExecutionCount, &w.SuccessCount, &w.FailureCount, &w.LastExecutedAt,
		&w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	w.TriggerType = TriggerType(triggerType)
	w.WorkflowStatus = WorkflowStatus(status)
	_ = json.Unmarshal(definition, &w.Definition)
	_ = json.Unmarshal(triggerConfig, &w.TriggerConfig)
	_ = json.Unmarshal(env, &w.EnvironmentVariables)
	return &w, nil
}

func (s *pgWorkflowStore) queryOne(ctx context.Context, query string, args ...any) (*Workflow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanPGWorkflow(rows)
}

func (s *pgWorkflowStore) Get(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	return s.queryOne(ctx, `SELECT `+pgWorkflowColumns+` FROM workflows WHERE id = $1`, id)
}

func (s *pgWorkflowStore) GetBySlug(ctx context.Context, userID, slug string) (*Workflow, error) {
	return s.queryOne(ctx, `SELECT `+pgWorkflowColumns+` FROM workflows WHERE user_id = $1 AND slug = $2`, userID, slug)
}

func (s *pgWorkflowStore) Update(ctx context.Context, w *Workflow) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET name=$2, definition=$3, trigger_type=$4, trigger_config=$5,
			workflow_status=$6, environment_variables=$7, execution_count=$8, success_count=$9,
			failure_count=$10, last_executed_at=$11, updated_at=NOW()
		WHERE id=$1`,
		w.ID, w.Name, jsonbOf(w.Definition), string(w.TriggerType), jsonbOf(w.TriggerConfig),
		string(w.WorkflowStatus), jsonbOf(w.EnvironmentVariables), w.ExecutionCount, w.SuccessCount,
		w.FailureCount, w.LastExecutedAt)
	if err != nil {
		if isDuplicateError(err) {
			return fmt.Errorf("%w: workflow slug %s", ErrDuplicate, w.Slug)
		}
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgWorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgWorkflowStore) List(ctx context.Context, f WorkflowFilter) ([]*Workflow, error) {
	query := `SELECT ` + pgWorkflowColumns + ` FROM workflows WHERE 1=1`
	var args []any
	idx := 1
	if f.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, idx)
		args = append(args, f.UserID)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND workflow_status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.Slug != "" {
		query += fmt.Sprintf(` AND slug = $%d`, idx)
		args = append(args, f.Slug)
		idx++
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		w, err := scanPGWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- pgExecutionStore ---

type pgExecutionStore struct{ pool *pgxpool.Pool }

const pgExecutionColumns = `id, workflow_id, user_id, execution_mode, status, input_data,
	output_data, node_results, started_at, completed_at, duration_ms, error_message, cancel_requested`

func (s *pgExecutionStore) CreateExecution(ctx context.Context, e *WorkflowExecution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = ExecutionStatusPending
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	var output any
	if e.OutputData != nil {
		output = jsonbOf(e.OutputData)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, user_id, execution_mode, status,
			input_data, output_data, node_results, started_at, completed_at, duration_ms,
			error_message, cancel_requested)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		e.ID, e.WorkflowID, e.UserID, string(e.ExecutionMode), string(e.Status), jsonbOf(e.InputData),
		output, jsonbOf(e.NodeResults), e.StartedAt, e.CompletedAt, e.DurationMs, e.ErrorMessage,
		e.CancelRequested)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func scanPGExecution(rows pgx.Rows) (*WorkflowExecution, error) {
	var e WorkflowExecution
	var mode, status string
	var input, output, nodeResults []byte
	if err := rows.Scan(&e.ID, &e.WorkflowID, &e.UserID, &mode, &status, &input, &output,
		&nodeResults, &e.StartedAt, &e.CompletedAt, &e.DurationMs, &e.ErrorMessage,
		&e.CancelRequested); err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	e.ExecutionMode = ExecutionMode(mode)
	e.Status = ExecutionStatus(status)
	_ = json.Unmarshal(input, &e.InputData)
	if output != nil {
		_ = json.Unmarshal(output, &e.OutputData)
	}
	_ = json.Unmarshal(nodeResults, &e.NodeResults)
	return &e, nil
}

func (s *pgExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*WorkflowExecution, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgExecutionColumns+` FROM workflow_executions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanPGExecution(rows)
}

func (s *pgExecutionStore) UpdateExecution(ctx context.Context, e *WorkflowExecution) error {
	var output any
	if e.OutputData != nil {
		output = jsonbOf(e.OutputData)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_executions SET status=$2, output_data=$3, node_results=$4,
			completed_at=$5, duration_ms=$6, error_message=$7, cancel_requested=$8
		WHERE id=$1`,
		e.ID, string(e.Status), output, jsonbOf(e.NodeResults), e.CompletedAt, e.DurationMs,
		e.ErrorMessage, e.CancelRequested)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgExecutionStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]*WorkflowExecution, error) {
	query := `SELECT ` + pgExecutionColumns + ` FROM workflow_executions WHERE 1=1`
	var args []any
	idx := 1
	if f.WorkflowID != nil {
		query += fmt.Sprintf(` AND workflow_id = $%d`, idx)
		args = append(args, *f.WorkflowID)
		idx++
	}
	if f.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, idx)
		args = append(args, f.UserID)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowExecution
	for rows.Next() {
		e, err := scanPGExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- pgInstallationStore ---

type pgInstallationStore struct{ pool *pgxpool.Pool }

const pgInstallationColumns = `id, user_id, package_id, workflow_id, adapter_id, installation_status,
	manifest, installed_at, uninstalled_at, error_message, created_at, updated_at`

func (s *pgInstallationStore) Create(ctx context.Context, in *SkillInstallation) error {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO skill_installations (id, user_id, package_id, workflow_id, adapter_id,
			installation_status, manifest, installed_at, uninstalled_at, error_message,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())`,
		in.ID, in.UserID, in.PackageID, in.WorkflowID, in.AdapterID, string(in.InstallationStatus),
		jsonbOf(in.Manifest), in.InstalledAt, in.UninstalledAt, in.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert installation: %w", err)
	}
	return nil
}

func scanPGInstallation(rows pgx.Rows) (*SkillInstallation, error) {
	var in SkillInstallation
	var status string
	var manifest []byte
	if err := rows.Scan(&in.ID, &in.UserID, &in.PackageID, &in.WorkflowID, &in.AdapterID, &status,
		&manifest, &in.InstalledAt, &in.UninstalledAt, &in.ErrorMessage, &in.CreatedAt,
		&in.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan installation: %w", err)
	}
	in.InstallationStatus = InstallationStatus(status)
	_ = json.Unmarshal(manifest, &in.Manifest)
	return &in, nil
}

func (s *pgInstallationStore) Get(ctx context.Context, id uuid.UUID) (*SkillInstallation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgInstallationColumns+` FROM skill_installations WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query installation: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanPGInstallation(rows)
}

func (s *pgInstallationStore) GetInstalled(ctx context.Context, userID, packageID string) (*SkillInstallation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgInstallationColumns+` FROM skill_installations
		WHERE user_id = $1 AND package_id = $2 AND installation_status = $3
		ORDER BY updated_at DESC LIMIT 1`, userID, packageID, string(InstallationStatusInstalled))
	if err != nil {
		return nil, fmt.Errorf("query installation: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanPGInstallation(rows)
}

func (s *pgInstallationStore) Update(ctx context.Context, in *SkillInstallation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE skill_installations SET installation_status=$2, manifest=$3, installed_at=$4,
			uninstalled_at=$5, error_message=$6, updated_at=NOW()
		WHERE id=$1`,
		in.ID, string(in.InstallationStatus), jsonbOf(in.Manifest), in.InstalledAt,
		in.UninstalledAt, in.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update installation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgInstallationStore) List(ctx context.Context, f InstallationFilter) ([]*SkillInstallation, error) {
	query := `SELECT ` + pgInstallationColumns + ` FROM skill_installations WHERE 1=1`
	var args []any
	idx := 1
	if f.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, idx)
		args = append(args, f.UserID)
		idx++
	}
	if f.PackageID != "" {
		query += fmt.Sprintf(` AND package_id = $%d`, idx)
		args = append(args, f.PackageID)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND installation_status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	limit := f.Pagination.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, f.Pagination.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	defer rows.Close()

	var out []*SkillInstallation
	for rows.Next() {
		in, err := scanPGInstallation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
