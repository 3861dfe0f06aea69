package workflow

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/skillengine/store"
)

// Scheduler drives trigger_type=schedule workflows: each active scheduled
// workflow's trigger_config.cron_expression is registered as a cron entry
// that invokes the workflow service on a fresh session.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	sessions store.SessionFactory
	logger   *slog.Logger

	entries map[uuid.UUID]cron.EntryID
}

// NewScheduler builds a Scheduler. It does not load any workflows until
// Sync is called.
func NewScheduler(service *Service, sessions store.SessionFactory, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		service:  service,
		sessions: sessions,
		logger:   logger.With("component", "workflow.Scheduler"),
		entries:  make(map[uuid.UUID]cron.EntryID),
	}
}

// Start begins running scheduled entries in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to return.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// Sync reconciles the scheduler's cron entries against every active
// schedule-triggered workflow in the store, adding, updating, and removing
// entries as needed. Call it after any change to a scheduled workflow.
func (s *Scheduler) Sync(ctx context.Context, session store.Store) error {
	active := store.WorkflowStatusActive
	workflows, err := session.Workflows().List(ctx, store.WorkflowFilter{
		Status:     active,
		Pagination: store.Pagination{Limit: 10000},
	})
	if err != nil {
		return err
	}

	seen := make(map[uuid.UUID]bool, len(workflows))
	for _, wf := range workflows {
		if wf.TriggerType != store.TriggerTypeSchedule {
			continue
		}
		expr, _ := wf.TriggerConfig["cron_expression"].(string)
		if expr == "" {
			continue
		}
		seen[wf.ID] = true

		if entryID, ok := s.entries[wf.ID]; ok {
			s.cron.Remove(entryID)
		}

		workflowID := wf.ID
		entryID, err := s.cron.AddFunc(expr, func() { s.runScheduled(workflowID) })
		if err != nil {
			s.logger.Error("invalid cron expression for scheduled workflow", "workflow_id", workflowID, "expression", expr, "error", err)
			continue
		}
		s.entries[wf.ID] = entryID
	}

	for id, entryID := range s.entries {
		if !seen[id] {
			s.cron.Remove(entryID)
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *Scheduler) runScheduled(workflowID uuid.UUID) {
	ctx := context.Background()
	session, err := s.sessions(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to open session for scheduled run", "workflow_id", workflowID, "error", err)
		return
	}
	defer session.Close()

	wf, err := session.Workflows().Get(ctx, workflowID)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled workflow no longer exists", "workflow_id", workflowID, "error", err)
		return
	}

	if _, err := s.service.ExecuteWorkflow(ctx, session, workflowID, wf.UserID, map[string]any{}, store.ExecutionModeScheduled); err != nil {
		s.logger.ErrorContext(ctx, "scheduled execution failed to start", "workflow_id", workflowID, "error", err)
	}
}
