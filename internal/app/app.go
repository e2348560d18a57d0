package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"appforge/internal/auth"
	"appforge/internal/chat"
	"appforge/internal/config"
	"appforge/internal/db"
	"appforge/internal/engine"
	"appforge/internal/events"
	"appforge/internal/logging"
	"appforge/internal/migrate"
	"appforge/internal/queue"
	"appforge/internal/repo"
	"appforge/internal/storage"
)

// App is the wired set of services one process works with.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	DB         *sql.DB
	Medium     storage.Medium
	Repo       *repo.Repo
	Events     events.Writer
	Engine     *engine.Engine
	Chat       chat.Assistant
	Session    *auth.Session
	Dispatcher *queue.Dispatcher
}

// Open opens the workspace database, runs migrations and builds the services
// selected by cfg. The session starts signed in as the configured local user.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrDiscard(logger)
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, DB: conn, Events: events.Writer{DB: conn}}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		a.Medium = storage.NewMemory(cfg.Storage.MemoryLimitBytes)
	case config.BackendRedis:
		a.Medium, err = storage.OpenRedis(ctx, storage.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
	default:
		a.Medium = storage.NewSQLite(conn)
	}
	a.Repo = repo.New(a.Medium, cfg.Storage.Key, logger.With("component", "repo"))

	opts := engine.Options{StepDelay: cfg.Generation.StepDelay, Logger: logger.With("component", "engine")}
	if cfg.Generation.Dispatch == config.DispatchAsynq {
		a.Dispatcher = queue.NewDispatcher(cfg.Generation.Queue, logger.With("component", "queue"))
		opts.Dispatcher = a.Dispatcher
	}
	a.Engine = engine.New(a.Repo, a.Events, opts)
	a.Chat = chat.New(cfg.Chat.ThinkDelay, cfg.Chat.CharDelay)

	a.Session = auth.NewSession()
	if err := a.Session.SignIn(auth.User{ID: cfg.Auth.LocalUserID, Email: cfg.Auth.LocalEmail}); err != nil {
		a.Close()
		return nil, fmt.Errorf("local user: %w", err)
	}
	return a, nil
}

// CurrentUserID returns the signed-in user's id.
func (a *App) CurrentUserID(ctx context.Context) (string, error) {
	u, err := a.Session.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// Close stops in-process generation and releases every resource.
func (a *App) Close() error {
	var errs []error
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.Dispatcher != nil {
		errs = append(errs, a.Dispatcher.Close())
	}
	if a.Medium != nil {
		errs = append(errs, a.Medium.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
