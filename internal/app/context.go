// Package app opens a workspace: its config, database and the engine wired
// to both.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"submitline/internal/config"
	"submitline/internal/db"
	"submitline/internal/engine"
	"submitline/internal/migrate"
	"submitline/internal/notify"
	"submitline/internal/repo"
	"submitline/internal/rules"
)

type Workspace struct {
	Dir    string
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Engine *engine.Engine

	redis *redis.Client
}

// Init creates the workspace directory, writes a default config if none
// exists and applies migrations. It reports whether the config was created.
func Init(ctx context.Context, dir string) (bool, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return false, fmt.Errorf("ensure workspace: %w", err)
	}
	created := false
	path := config.Path(dir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
			return false, fmt.Errorf("write config: %w", err)
		}
		created = true
	} else if err != nil {
		return false, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return false, fmt.Errorf("open db: %w", err)
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return false, fmt.Errorf("migrate: %w", err)
	}
	return created, nil
}

// Open loads the workspace config, falling back to defaults when the file
// is missing, migrates the database and builds the engine. The deferred
// rule worker is not started.
func Open(ctx context.Context, dir string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: dir, BusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	w := &Workspace{Dir: dir, Config: cfg, DB: conn, Repo: repo.Repo{DB: conn}}

	publisher, client, err := Publishers(cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	w.redis = client

	reg := rules.NewRegistry()
	limits := cfg.Callbacks.Limits
	actions := rules.Actions{
		Titles: w.Repo,
		Limits: rules.SizeLimits{
			CompressedPackageMax:   limits.CompressedPackage,
			UncompressedPackageMax: limits.UncompressedPackage,
			PreviewMax:             limits.Preview,
		},
	}
	if err := rules.RegisterDefaults(reg, actions); err != nil {
		w.Close()
		return nil, fmt.Errorf("register rules: %w", err)
	}
	w.Engine = engine.New(w.Repo, engine.Options{
		Rules:     reg,
		Publisher: publisher,
		Logger:    logger,
		Callbacks: cfg.Callbacks.Enabled,
		Legacy:    cfg.Legacy.Enabled,
		Workers:   cfg.Callbacks.DeferredWorkers,
		QueueSize: cfg.Callbacks.QueueSize,
	})
	return w, nil
}

// Publishers builds the publisher set named by cfg. The Redis client, if
// any, is returned so the caller can close it.
func Publishers(cfg *config.Config, logger *slog.Logger) (notify.Publisher, *redis.Client, error) {
	var pubs notify.Multi
	if cfg.Notify.Log {
		pubs = append(pubs, notify.Log{Logger: logger})
	}
	var client *redis.Client
	if addr := cfg.Notify.Redis.Addr; addr != "" {
		c, err := notify.Connect(addr)
		if err != nil {
			return nil, nil, err
		}
		client = c
		pubs = append(pubs, notify.RedisStream{Client: c, Stream: cfg.Notify.Redis.Stream, MaxLen: cfg.Notify.Redis.MaxLen})
	}
	if len(pubs) == 0 {
		return nil, client, nil
	}
	return pubs, client, nil
}

// Close stops the worker and releases the database and Redis client.
func (w *Workspace) Close() error {
	if w.Engine != nil && w.Engine.Worker != nil {
		w.Engine.Worker.Stop()
	}
	var errs []error
	if w.redis != nil {
		errs = append(errs, w.redis.Close())
	}
	if w.DB != nil {
		errs = append(errs, w.DB.Close())
	}
	return errors.Join(errs...)
}
