package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/storage/badger"
	"github.com/ternarybob/harvester/internal/storage/filesystem"
)

// NewCacheStore creates the cache store selected by storage.type
func NewCacheStore(logger arbor.ILogger, config *common.Config) (interfaces.CacheStore, error) {
	switch config.Storage.Type {
	case "badger", "":
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", config.Storage.Badger.Path).Msg("Badger cache store initialized")
		return badger.NewCacheStorage(db, logger), nil

	case "filesystem":
		store, err := filesystem.NewCacheStorage(logger, &config.Storage.Filesystem)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("dir", config.Storage.Filesystem.Dir).Msg("Filesystem cache store initialized")
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'badger' or 'filesystem')", config.Storage.Type)
	}
}
