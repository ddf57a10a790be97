package app

import (
	"context"
	"database/sql"
	"fmt"

	"gyroscope/internal/config"
	"gyroscope/internal/db"
	"gyroscope/internal/engine"
	"gyroscope/internal/migrate"
)

// Workspace is an opened, migrated workspace.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// OpenWorkspace opens the workspace database, applies pending migrations and
// loads gyroscope.yml, falling back to defaults when the file is absent.
// A configOverride path, when set, replaces the workspace config file.
func OpenWorkspace(ctx context.Context, dir, configOverride string) (*Workspace, error) {
	cfg, err := ResolveConfig(dir, configOverride)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{Dir: dir, DB: conn, Config: cfg, Engine: engine.New(conn, cfg)}, nil
}

// ResolveConfig loads the config that applies to dir.
func ResolveConfig(dir, configOverride string) (*config.Config, error) {
	if configOverride != "" {
		cfg, err := config.FromFile(configOverride)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", configOverride, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(dir)
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
