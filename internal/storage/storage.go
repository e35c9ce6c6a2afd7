// Package storage holds the durable MemoryStore and Cache backends.
package storage

import (
	"context"
	"fmt"

	"presence-agent/internal/core/ports"
)

// Backend is a MemoryStore and Cache sharing one database.
type Backend interface {
	ports.MemoryStore
	ports.Cache
	Close() error
}

// Open selects a backend by driver name: json (default), sqlite or postgres.
func Open(ctx context.Context, driver, path, dsn string) (Backend, error) {
	switch driver {
	case "", "json":
		if path == "" {
			path = "data/storage.json"
		}
		return NewJSONStorage(path)
	case "sqlite":
		if path == "" {
			path = "data/presence.db"
		}
		return NewSQLiteStorage(ctx, path)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("storage.dsn is required for postgres")
		}
		return NewPostgresStorage(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
