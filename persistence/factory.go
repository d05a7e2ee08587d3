package persistence

import (
	"context"
	"fmt"
)

// FactoryConfig selects and configures a snapshot store backend.
type FactoryConfig struct {
	Type       StoreType
	Redis      RedisStoreConfig
	SQLitePath string
}

// NewStore creates the configured snapshot store. An empty type defaults
// to the in-memory backend.
func NewStore(ctx context.Context, cfg FactoryConfig) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case StoreTypeSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "convoloop.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}
