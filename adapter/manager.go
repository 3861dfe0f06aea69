package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/GoCodeAlone/skillengine/store"
)

// Manager is the single authoritative lifecycle controller for every
// adapter in the process (C4 over C2). All public operations are
// concurrency-safe: reads take a shared lock, state mutations take an
// exclusive one, and process_with_adapter releases the registry lock before
// calling into the instance so long-running processing never blocks
// registry reads.
type Manager struct {
	mu sync.RWMutex

	configs   map[string]Config
	states    map[string]State
	instances map[string]Instance

	usageCount map[string]int64
	lastUsedAt map[string]*time.Time

	// instanceLocks serializes process_with_adapter calls against adapters
	// that declare themselves non-reentrant. Entries are created lazily and
	// never removed, so locking them never races with map mutation.
	instanceLocks   map[string]*sync.Mutex
	instanceLocksMu sync.Mutex

	classes     *ClassRegistry
	configStore store.AdapterConfigStore
	logger      *slog.Logger

	// startBackoff governs retries of each Initialize+Start attempt made by
	// Start, for the target adapter and every dependency it brings up,
	// guarding against transient failures (a dependency whose own backing
	// resource is still warming up).
	startBackoff func() backoff.BackOff
}

// NewManager builds a Manager backed by the given adapter configuration
// store and class registry.
func NewManager(configStore store.AdapterConfigStore, classes *ClassRegistry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configs:       make(map[string]Config),
		states:        make(map[string]State),
		instances:     make(map[string]Instance),
		usageCount:    make(map[string]int64),
		lastUsedAt:    make(map[string]*time.Time),
		instanceLocks: make(map[string]*sync.Mutex),
		classes:       classes,
		configStore:   configStore,
		logger:        logger.With("component", "adapter.Manager"),
		startBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 250 * time.Millisecond
			return backoff.WithMaxRetries(b, 2)
		},
	}
}

// Initialize loads every enabled configuration from the store and places it
// in the registered state. No adapters are started; Start pulls them in on
// first demand.
func (m *Manager) Initialize(ctx context.Context) error {
	cfgs, err := m.configStore.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load enabled adapter configs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cfgs {
		cfg := configFromStore(c)
		m.configs[cfg.AdapterID] = cfg
		m.states[cfg.AdapterID] = StateRegistered
	}
	m.logger.InfoContext(ctx, "restored adapter configurations", "count", len(cfgs))
	return nil
}

// IsRunning reports whether the manager has any running adapters at all —
// a coarse process-health signal, not a per-adapter check.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.states {
		if s == StateRunning {
			return true
		}
	}
	return false
}

// Register adds a configuration to the in-memory registry and persists it.
// Re-registering the same adapter_id is idempotent only when the incoming
// configuration is identical to the existing one. A changed adapter_class
// forces a stop+unregister of the stale registration first, handling the
// restart-with-stale-record case. Any other conflicting re-registration
// (same adapter_id, same class, different configuration) fails with
// ALREADY_REGISTERED rather than silently overwriting it.
func (m *Manager) Register(ctx context.Context, cfg Config) (bool, error) {
	m.mu.Lock()
	if existing, ok := m.configs[cfg.AdapterID]; ok {
		if reflect.DeepEqual(existing, cfg) {
			m.mu.Unlock()
			return true, nil
		}
		if existing.AdapterClass != cfg.AdapterClass {
			m.mu.Unlock()
			if _, err := m.stop(ctx, cfg.AdapterID, true); err != nil {
				return false, err
			}
			if _, err := m.Unregister(ctx, cfg.AdapterID); err != nil {
				return false, err
			}
			m.mu.Lock()
		} else {
			m.mu.Unlock()
			return false, newErr(CodeAlreadyRegistered, cfg.AdapterID+" is already registered with a different configuration", nil)
		}
	}

	union := make(map[string][]string, len(m.configs)+1)
	for id, c := range m.configs {
		union[id] = c.Dependencies
	}
	union[cfg.AdapterID] = cfg.Dependencies
	if hasCycle(union) {
		m.mu.Unlock()
		return false, newErr(CodeCycle, "registering "+cfg.AdapterID+" would introduce a dependency cycle", nil)
	}

	m.configs[cfg.AdapterID] = cfg
	m.states[cfg.AdapterID] = StateRegistered
	m.mu.Unlock()

	if err := m.configStore.Create(ctx, cfg.toStore()); err != nil {
		m.mu.Lock()
		delete(m.configs, cfg.AdapterID)
		delete(m.states, cfg.AdapterID)
		m.mu.Unlock()
		return false, fmt.Errorf("persist adapter config: %w", err)
	}
	return true, nil
}

// Unregister stops the instance if running, removes it from the registry,
// and deletes the persisted row. Fails with DEPENDENCY_VIOLATION if another
// running adapter declares this one as a required dependency.
func (m *Manager) Unregister(ctx context.Context, adapterID string) (bool, error) {
	m.mu.RLock()
	for id, c := range m.configs {
		if id == adapterID {
			continue
		}
		if m.states[id] != StateRunning {
			continue
		}
		for _, dep := range c.Dependencies {
			if dep == adapterID {
				m.mu.RUnlock()
				return false, newErr(CodeDependencyViolation,
					fmt.Sprintf("adapter %s is a running dependency of %s", adapterID, id), nil)
			}
		}
	}
	state := m.states[adapterID]
	m.mu.RUnlock()

	if state == StateRunning {
		if _, err := m.stop(ctx, adapterID, false); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	delete(m.configs, adapterID)
	delete(m.states, adapterID)
	delete(m.instances, adapterID)
	delete(m.usageCount, adapterID)
	delete(m.lastUsedAt, adapterID)
	m.mu.Unlock()

	if err := m.configStore.Delete(ctx, adapterID); err != nil {
		return false, fmt.Errorf("delete adapter config: %w", err)
	}
	return true, nil
}

// GetAdapter returns a read-only snapshot. It never triggers a start.
func (m *Manager) GetAdapter(adapterID string) (*Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[adapterID]
	if !ok {
		return nil, newErr(CodeNotFound, "adapter not registered: "+adapterID, nil)
	}
	return &Registration{
		Config:     cfg,
		State:      m.states[adapterID],
		UsageCount: m.usageCount[adapterID],
		LastUsedAt: m.lastUsedAt[adapterID],
	}, nil
}

// Start brings adapterID to the running state, recursively starting its
// required dependencies first in topological order. Every dependency
// started by this call (not ones found already running) is tracked in a
// call-scoped set so a later failure can roll them back in reverse order.
func (m *Manager) Start(ctx context.Context, adapterID string) (bool, error) {
	order, err := m.resolveStartOrder(adapterID)
	if err != nil {
		return false, err
	}

	var startedByThisCall []string
	for _, id := range order {
		m.mu.RLock()
		state := m.states[id]
		m.mu.RUnlock()
		if state == StateRunning {
			continue
		}
		if err := m.startOne(ctx, id); err != nil {
			for i := len(startedByThisCall) - 1; i >= 0; i-- {
				_, _ = m.stop(ctx, startedByThisCall[i], true)
			}
			return false, err
		}
		startedByThisCall = append(startedByThisCall, id)
	}
	return true, nil
}

func (m *Manager) resolveStartOrder(adapterID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.configs[adapterID]; !ok {
		return nil, newErr(CodeNotFound, "adapter not registered: "+adapterID, nil)
	}
	if m.states[adapterID] == StateRunning {
		return nil, newErr(CodeAlreadyRunning, adapterID+" is already running", nil)
	}

	var order []string
	visited := map[string]bool{}
	inStack := map[string]bool{}

	var visit func(id string) error
	visit = func(id string) error {
		if inStack[id] {
			return newErr(CodeCycle, "dependency cycle detected at "+id, nil)
		}
		if visited[id] {
			return nil
		}
		cfg, ok := m.configs[id]
		if !ok {
			return newErr(CodeNotFound, "dependency not registered: "+id, nil)
		}
		inStack[id] = true
		for _, dep := range cfg.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		inStack[id] = false
		visited[id] = true
		order = append(order, id)
		return nil
	}

	if err := visit(adapterID); err != nil {
		return nil, err
	}
	return order, nil
}

func hasCycle(deps map[string][]string) bool {
	visited := map[string]bool{}
	inStack := map[string]bool{}
	var visit func(id string) bool
	visit = func(id string) bool {
		if inStack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		inStack[id] = true
		for _, dep := range deps[id] {
			if visit(dep) {
				return true
			}
		}
		inStack[id] = false
		visited[id] = true
		return false
	}
	for id := range deps {
		if visit(id) {
			return true
		}
	}
	return false
}

func (m *Manager) startOne(ctx context.Context, adapterID string) error {
	m.mu.Lock()
	cfg, ok := m.configs[adapterID]
	if !ok {
		m.mu.Unlock()
		return newErr(CodeNotFound, "adapter not registered: "+adapterID, nil)
	}
	m.states[adapterID] = StateInitializing
	m.mu.Unlock()

	instance, err := m.classes.New(cfg.AdapterClass)
	if err != nil {
		m.setState(adapterID, StateFailed)
		return err
	}

	op := func() error {
		if err := instance.Initialize(ctx, cfg); err != nil {
			return err
		}
		return instance.Start(ctx)
	}

	if err := backoff.Retry(op, m.startBackoff()); err != nil {
		_ = instance.Cleanup(ctx)
		m.setState(adapterID, StateFailed)
		return newErr(CodeStartFailed, "failed to start "+adapterID, err)
	}

	m.mu.Lock()
	m.instances[adapterID] = instance
	m.states[adapterID] = StateRunning
	m.mu.Unlock()
	return nil
}

func (m *Manager) setState(adapterID string, s State) {
	m.mu.Lock()
	m.states[adapterID] = s
	m.mu.Unlock()
}

// Stop stops and cleans up the instance. Dependents still running cause it
// to fail unless force is set.
func (m *Manager) Stop(ctx context.Context, adapterID string, force bool) (bool, error) {
	return m.stop(ctx, adapterID, force)
}

func (m *Manager) stop(ctx context.Context, adapterID string, force bool) (bool, error) {
	if !force {
		m.mu.RLock()
		for id, c := range m.configs {
			if id == adapterID {
				continue
			}
			if m.states[id] != StateRunning {
				continue
			}
			for _, dep := range c.Dependencies {
				if dep == adapterID {
					m.mu.RUnlock()
					return false, newErr(CodeDependencyViolation,
						fmt.Sprintf("adapter %s still depended on by running adapter %s", adapterID, id), nil)
				}
			}
		}
		m.mu.RUnlock()
	}

	m.mu.Lock()
	instance, ok := m.instances[adapterID]
	if !ok {
		if m.states[adapterID] == StateRegistered || m.states[adapterID] == "" {
			m.mu.Unlock()
			return true, nil
		}
		m.mu.Unlock()
		return false, newErr(CodeNotFound, "adapter not running: "+adapterID, nil)
	}
	m.states[adapterID] = StateStopping
	m.mu.Unlock()

	stopErr := instance.Stop(ctx)
	cleanupErr := instance.Cleanup(ctx)

	m.mu.Lock()
	delete(m.instances, adapterID)
	m.states[adapterID] = StateStopped
	m.mu.Unlock()

	if stopErr != nil {
		return false, fmt.Errorf("stop %s: %w", adapterID, stopErr)
	}
	if cleanupErr != nil {
		return false, fmt.Errorf("cleanup %s: %w", adapterID, cleanupErr)
	}
	return true, nil
}

func (m *Manager) instanceLock(adapterID string) *sync.Mutex {
	m.instanceLocksMu.Lock()
	defer m.instanceLocksMu.Unlock()
	l, ok := m.instanceLocks[adapterID]
	if !ok {
		l = &sync.Mutex{}
		m.instanceLocks[adapterID] = l
	}
	return l
}

// ProcessWithAdapter is the hot path: adapterID must be running. The
// registry lock is released before calling into the instance so long-running
// processing never blocks registry reads. Calls against a non-reentrant
// instance are serialized via a per-adapter mutex.
func (m *Manager) ProcessWithAdapter(ctx context.Context, adapterID string, input any, execCtx ExecutionContext) (ExecutionResult, error) {
	m.mu.RLock()
	state, ok := m.states[adapterID]
	instance := m.instances[adapterID]
	m.mu.RUnlock()
	if !ok {
		return ExecutionResult{}, newErr(CodeNotFound, "adapter not registered: "+adapterID, nil)
	}
	if state != StateRunning || instance == nil {
		return ExecutionResult{}, newErr(CodeNotRunning, adapterID+" is not running", nil)
	}

	if !instance.Reentrant() {
		lock := m.instanceLock(adapterID)
		lock.Lock()
		defer lock.Unlock()
	}

	start := time.Now()
	output, procErr := instance.Process(ctx, input, execCtx)
	duration := time.Since(start)

	now := time.Now().UTC()
	m.mu.Lock()
	m.usageCount[adapterID]++
	m.lastUsedAt[adapterID] = &now
	m.mu.Unlock()

	result := ExecutionResult{
		Output:     output,
		DurationMs: duration.Milliseconds(),
	}
	if procErr != nil {
		result.Status = "failed"
		result.Error = procErr.Error()
		return result, nil
	}
	result.Status = "success"
	return result, nil
}

// Diagnose is a best-effort synchronous reproduction of Start: it
// constructs a throwaway instance and runs the full lifecycle without
// touching registry state, returning the first failure's description. If
// the lifecycle runs clean, it additionally records the throwaway
// instance's health_check() output, so a caller can tell "ran clean, but
// health_check already reports unhealthy" apart from "ran clean, manager
// bookkeeping bug" — both would otherwise just say "manual start
// succeeded", since the real Start call failed despite this reproduction
// working.
func (m *Manager) Diagnose(ctx context.Context, adapterID string) string {
	m.mu.RLock()
	cfg, ok := m.configs[adapterID]
	m.mu.RUnlock()
	if !ok {
		return "NOT_FOUND: adapter not registered: " + adapterID
	}

	instance, err := m.classes.New(cfg.AdapterClass)
	if err != nil {
		return fmt.Sprintf("%s: %v", CodeUnknownClass, err)
	}
	defer func() { _ = instance.Cleanup(ctx) }()

	if err := instance.Initialize(ctx, cfg); err != nil {
		return fmt.Sprintf("initialize failed: %v", err)
	}
	if err := instance.Start(ctx); err != nil {
		return fmt.Sprintf("start failed: %v", err)
	}

	health, healthErr := instance.HealthCheck(ctx)

	if err := instance.Stop(ctx); err != nil {
		return fmt.Sprintf("stop failed: %v", err)
	}

	if healthErr != nil {
		return fmt.Sprintf("manual start succeeded; health_check errored: %v", healthErr)
	}
	if !health.IsHealthy {
		return fmt.Sprintf("manual start succeeded; health_check reports unhealthy: %v", health.Issues)
	}
	return fmt.Sprintf("manual start succeeded; health_check reports healthy (status=%s)", health.Status)
}

// HealthCheck forwards to the running instance.
func (m *Manager) HealthCheck(ctx context.Context, adapterID string) (HealthCheckResult, error) {
	m.mu.RLock()
	instance, ok := m.instances[adapterID]
	state := m.states[adapterID]
	m.mu.RUnlock()
	if !ok {
		return HealthCheckResult{}, newErr(CodeNotFound, "adapter not running: "+adapterID, nil)
	}
	res, err := instance.HealthCheck(ctx)
	if err != nil {
		return HealthCheckResult{
			IsHealthy: false,
			Status:    string(state),
			Issues:    []string{err.Error()},
		}, nil
	}
	return res, nil
}
