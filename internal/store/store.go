// Package store opens the configured storage backend.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/erpimport/internal/config"
	"github.com/JonMunkholm/erpimport/internal/core"
	"github.com/JonMunkholm/erpimport/internal/store/postgres"
	"github.com/JonMunkholm/erpimport/internal/store/sqlite"
)

// Backend is a core.Store that owns its connections.
type Backend interface {
	core.Store
	EnsureSchema(ctx context.Context) error
	Close()
}

// Open connects to the backend named by cfg.Driver and, when enabled,
// creates missing tables.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		backend, err = openPostgres(ctx, cfg)
	case "sqlite":
		backend, err = sqlite.Open(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.EnsureSchema {
		if err := backend.EnsureSchema(ctx); err != nil {
			backend.Close()
			return nil, err
		}
	}

	slog.Info("connected to database", "driver", cfg.Driver)
	return backend, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	pool, err := postgres.Connect(ctx, cfg.URL, postgres.PoolOptions{
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	return postgres.New(pool), nil
}
