package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// cacheRecord is the stored form of one cache entry. The entry itself is kept
// as JSON so its layout can evolve without gob type registration.
type cacheRecord struct {
	Identity  string
	Payload   []byte
	FetchedAt time.Time
	UpdatedAt time.Time
}

// CacheStorage implements interfaces.CacheStore on Badger
type CacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

var _ interfaces.CacheStore = (*CacheStorage)(nil)

// NewCacheStorage creates a cache store over db
func NewCacheStorage(db *BadgerDB, logger arbor.ILogger) *CacheStorage {
	return &CacheStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock used by IsFresh
func (s *CacheStorage) WithClock(now func() time.Time) *CacheStorage {
	s.now = now
	return s
}

func normalizeKey(identity string) string {
	return strings.TrimSpace(identity)
}

// Get returns the entry for identity. Missing and unreadable entries both report false.
func (s *CacheStorage) Get(ctx context.Context, identity string) (*models.CacheEntry, bool) {
	key := normalizeKey(identity)

	var record cacheRecord
	err := s.db.Store().Get(key, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", key).Msg("Unreadable cache record - treating as miss")
		return nil, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(record.Payload, &entry); err != nil {
		s.logger.Warn().Err(err).Str("identity", key).Msg("Corrupt cache entry - treating as miss")
		return nil, false
	}

	return &entry, true
}

// Put replaces the entry stored for identity
func (s *CacheStorage) Put(ctx context.Context, identity string, entry *models.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("nil cache entry for %s", identity)
	}
	key := normalizeKey(identity)

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	record := cacheRecord{
		Identity:  key,
		Payload:   payload,
		FetchedAt: entry.Series.FetchedAt,
		UpdatedAt: s.now().UTC(),
	}

	if err := s.db.Store().Upsert(key, &record); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	s.logger.Debug().
		Str("identity", key).
		Int("points", len(entry.Series.Points)).
		Msg("Cache entry stored")

	return nil
}

// IsFresh reports whether entry was fetched less than maxAge ago
func (s *CacheStorage) IsFresh(entry *models.CacheEntry, maxAge time.Duration) bool {
	if entry == nil {
		return false
	}
	return common.IsFresh(entry.Series.FetchedAt, s.now(), maxAge)
}

// List returns every stored identity
func (s *CacheStorage) List(ctx context.Context) ([]string, error) {
	var records []cacheRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	identities := make([]string, 0, len(records))
	for _, r := range records {
		identities = append(identities, r.Identity)
	}
	return identities, nil
}

// Close closes the underlying database
func (s *CacheStorage) Close() error {
	return s.db.Close()
}
