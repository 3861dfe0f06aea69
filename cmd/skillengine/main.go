// Command skillengine wires the adapter manager, workflow engine/service,
// scheduler, and skill installer into a runnable process: it boots the
// configured store backend, registers the built-in adapter classes, starts
// the cron scheduler, and serves a minimal admin HTTP endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/skillengine/adapter"
	"github.com/GoCodeAlone/skillengine/config"
	"github.com/GoCodeAlone/skillengine/platform"
	"github.com/GoCodeAlone/skillengine/store"
	"github.com/GoCodeAlone/skillengine/workflow"
)

var configFile = flag.String("config", "", "Path to skillengine config YAML file")

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadOrDefault(*configFile)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	configureLogging(cfg.Logging)

	sessions, closeStore, err := openSessionFactory(context.Background(), cfg.Store)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer closeStore()

	bootSession, err := sessions(context.Background())
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer bootSession.Close()

	classes := adapter.NewClassRegistry()
	registerBuiltinClasses(classes)

	adapters := adapter.NewManager(bootSession.AdapterConfigs(), classes, logger)
	if err := adapters.Initialize(context.Background()); err != nil {
		log.Fatalf("adapter manager init error: %v", err)
	}

	engine, err := workflow.NewEngine(adapters)
	if err != nil {
		log.Fatalf("workflow engine init error: %v", err)
	}
	wfService := workflow.NewService(sessions, engine, logger)

	classes.RegisterClass(workflow.AdapterClassName, func() adapter.Instance {
		return workflow.NewWorkflowAdapterFactory(wfService, sessions)()
	})

	svc := platform.NewService(sessions, adapters, wfService, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	var scheduler *workflow.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = workflow.NewScheduler(wfService, sessions, logger)
		if err := scheduler.Sync(ctx, bootSession); err != nil {
			logger.Warn("scheduler sync failed", "error", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: adminMux(svc)}
	go func() {
		logger.Info("admin endpoint listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
}

// registerBuiltinClasses registers the fixed set of adapter classes the
// platform ships with, independent of any installed skill. Deployments
// that need more adapter classes register them here before Initialize.
func registerBuiltinClasses(classes *adapter.ClassRegistry) {
	classes.RegisterClass("system.echo", func() adapter.Instance { return &echoAdapter{} })
}

// echoAdapter is the built-in adapter the bundled skill.builtin.echo
// manifest depends on: it returns its input unchanged.
type echoAdapter struct{}

func (a *echoAdapter) Initialize(ctx context.Context, cfg adapter.Config) error { return nil }
func (a *echoAdapter) Start(ctx context.Context) error                         { return nil }
func (a *echoAdapter) Stop(ctx context.Context) error                          { return nil }
func (a *echoAdapter) Cleanup(ctx context.Context) error                       { return nil }
func (a *echoAdapter) Reentrant() bool                                         { return true }
func (a *echoAdapter) HealthCheck(ctx context.Context) (adapter.HealthCheckResult, error) {
	return adapter.HealthCheckResult{IsHealthy: true}, nil
}
func (a *echoAdapter) Process(ctx context.Context, input any, execCtx adapter.ExecutionContext) (any, error) {
	return input, nil
}

// openSessionFactory builds a store.SessionFactory for the configured
// backend and returns a function that releases any process-lifetime
// resources (e.g. the PostgreSQL connection pool).
func openSessionFactory(ctx context.Context, cfg config.StoreConfig) (store.SessionFactory, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pgCfg := store.PGConfig{URL: cfg.Postgres.URL, MaxConns: cfg.Postgres.MaxConns, MinConns: cfg.Postgres.MinConns}
		boot, err := store.NewPGStore(ctx, pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		// boot runs the schema setup and stays open until the process
		// exits; the bootstrap session, every background task and every
		// request handler each get their own pool via factory.
		factory := store.NewPGSessionFactory(pgCfg)
		return factory, func() { _ = boot.Close() }, nil
	default:
		path := cfg.SQLite.Path
		if path == "" {
			path = "skillengine.db"
		}
		boot, err := store.OpenSQLiteStore(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		factory := store.NewSQLiteSessionFactory(path)
		return factory, func() { _ = boot.Close() }, nil
	}
}

func configureLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

const defaultShutdownTimeout = 10 * time.Second

// adminMux serves list_installed_skills only — the admin surface
// SPEC_FULL.md scopes in, everything else stays behind platform.Service's
// direct Go method boundary.
func adminMux(svc *platform.Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/skills", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, `{"error":"user_id is required"}`, http.StatusBadRequest)
			return
		}
		result, err := svc.ListInstalledSkills(r.Context(), userID, 0, 100)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})
	return mux
}
