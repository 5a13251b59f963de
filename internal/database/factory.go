package database

import (
	"fmt"
	"path/filepath"

	"stories-go/internal/config"
	"stories-go/internal/stories"
)

// StoreFileName is the database file created under data_dir.
const StoreFileName = "stories.db"

// NewStoreFromConfig creates a LocalStore implementation based on the database config type.
// The store is not opened until first use.
func NewStoreFromConfig(cfg config.DatabaseConfig, clock stories.Clock) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, StoreFileName), clock), nil
	case "memory":
		return NewSQLiteStore(":memory:", clock), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
