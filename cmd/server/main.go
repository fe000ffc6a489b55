package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-quest/internal/curriculum"
	"github.com/p-n-ai/pai-quest/internal/graph"
	"github.com/p-n-ai/pai-quest/internal/notify"
	"github.com/p-n-ai/pai-quest/internal/platform/cache"
	"github.com/p-n-ai/pai-quest/internal/platform/config"
	"github.com/p-n-ai/pai-quest/internal/platform/database"
	"github.com/p-n-ai/pai-quest/internal/progress"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// run serves until ctx is cancelled. A failed snapshot load leaves the engine
// unloaded: the server keeps answering, with 503 on readiness and mutations.
func run(ctx context.Context, cfg *config.Config) error {
	zones, err := loadCurriculum(cfg.CurriculumPath)
	if err != nil {
		return err
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	gateway := notify.NewGateway()
	var hub *notify.Hub
	if cfg.Server.WebSocket {
		hub = notify.NewHub()
		hub.OriginPatterns = cfg.Server.AllowedOrigins
		gateway.Register("websocket", hub)
	}

	engine := progress.NewEngine(progress.EngineConfig{
		Store:        backend.store,
		Events:       backend.events,
		Notifier:     gateway,
		DefaultZones: zones,
		SaveDebounce: cfg.Quest.SaveDebounce,
	})

	s := &server{engine: engine, checks: backend.checks}
	if hub != nil {
		s.ws = hub
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newMux(s),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := engine.Load(gctx); err != nil {
			slog.Error("failed to load progress", "store", cfg.Quest.Store, "error", err)
			return nil
		}
		if err := engine.Activate(gctx); err != nil {
			slog.Warn("failed to activate session", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Quest.Store, "learner_id", cfg.Quest.LearnerID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := gateway.StopAll(); err != nil {
			slog.Warn("stopping notification channels", "error", err)
		}
		err := srv.Shutdown(shutdownCtx)
		engine.Close(shutdownCtx)
		if status := engine.SaveStatus(); status.LastError != "" {
			slog.Warn("last snapshot save failed", "error", status.LastError)
		}
		return err
	})

	return g.Wait()
}

func loadCurriculum(path string) ([]graph.Zone, error) {
	var (
		loader *curriculum.Loader
		err    error
	)
	if path == "" {
		loader, err = curriculum.Default()
	} else {
		loader, err = curriculum.NewLoader(path)
	}
	if err != nil {
		return nil, err
	}
	return loader.Zones(), nil
}

// backend bundles the persistence pieces selected by LEARN_QUEST_STORE.
type backend struct {
	store  progress.Store
	events progress.EventLogger
	checks []readinessCheck
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{events: progress.NopEventLogger{}, close: func() {}}

	switch cfg.Quest.Store {
	case config.StoreMemory:
		b.store = progress.NewMemoryStore()

	case config.StoreFile:
		b.store = progress.NewFileStore(cfg.Quest.File)

	case config.StorePostgres:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connecting database: %w", err)
		}
		store, err := progress.NewPostgresStore(ctx, db.Pool, cfg.Quest.LearnerID)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.store = store
		b.events = progress.NewPostgresEventLogger(db.Pool, cfg.Quest.LearnerID)
		b.checks = append(b.checks, readinessCheck{name: "database", check: db.HealthCheck})
		b.close = db.Close

	case config.StoreRedis:
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting cache: %w", err)
		}
		store, err := progress.NewRedisStore(c.Client, cfg.Quest.LearnerID)
		if err != nil {
			c.Close()
			return nil, err
		}
		b.store = store
		b.checks = append(b.checks, readinessCheck{name: "cache", check: c.HealthCheck})
		b.close = func() { c.Close() }

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Quest.Store)
	}

	return b, nil
}
