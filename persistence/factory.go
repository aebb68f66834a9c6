package persistence

import "fmt"

// NewStore creates a storage backend from the given configuration.
// An empty type defaults to the memory backend.
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(config)
	case StoreTypeRedis:
		return NewRedisStore(config)
	case StoreTypeSQLite:
		return NewSQLStore(config)
	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}
