package storage

import (
	"fmt"

	"gemchat/internal/config"
	"gemchat/internal/redis"
)

// OpenBackend opens the KV backend selected by basic_config.store_backend.
// The returned closer releases the underlying connection.
func OpenBackend(cfg *config.Config) (KV, func() error, error) {
	backend := cfg.BasicConfig.StoreBackend
	switch backend {
	case "redis":
		docs, err := redis.Dial(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis client: %w", err)
		}
		return NewRedisKV(docs), docs.Close, nil
	case "sqlite3", "sqlite", "mysql":
		db, err := Open(backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := Migrate(db, backend); err != nil {
			db.Close()
			return nil, nil, err
		}
		return NewSQLKV(db, backend), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}
