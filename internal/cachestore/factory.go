package cachestore

import (
	"fmt"

	"stories-go/internal/config"
)

// NewStorageFromConfig creates a Storage implementation based on the cache config type.
func NewStorageFromConfig(cfg config.CacheConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem cache requires dir to be set")
		}
		return NewFileSystemStorage(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
