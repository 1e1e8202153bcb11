// Package filesystem stores cache entries as one JSON file per instrument.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

const entryExt = ".json"

// CacheStorage implements interfaces.CacheStore on a directory
type CacheStorage struct {
	dir    string
	logger arbor.ILogger
	now    func() time.Time
	mu     sync.Mutex
}

var _ interfaces.CacheStore = (*CacheStorage)(nil)

// NewCacheStorage creates the cache directory if needed
func NewCacheStorage(logger arbor.ILogger, config *common.FilesystemConfig) (*CacheStorage, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("filesystem cache directory not configured")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	logger.Debug().Str("dir", config.Dir).Msg("Filesystem cache initialized")

	return &CacheStorage{
		dir:    config.Dir,
		logger: logger,
		now:    time.Now,
	}, nil
}

// WithClock overrides the clock used by IsFresh
func (s *CacheStorage) WithClock(now func() time.Time) *CacheStorage {
	s.now = now
	return s
}

// FileName maps an identity to a safe file name
func FileName(identity string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(identity) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_"
	}
	return name + entryExt
}

func (s *CacheStorage) path(identity string) string {
	return filepath.Join(s.dir, FileName(identity))
}

// Get returns the entry for identity. Missing and unreadable files both report false.
func (s *CacheStorage) Get(ctx context.Context, identity string) (*models.CacheEntry, bool) {
	path := s.path(identity)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Unreadable cache file - treating as miss")
		return nil, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Corrupt cache file - treating as miss")
		return nil, false
	}
	if entry.Identity != "" && entry.Identity != strings.TrimSpace(identity) {
		s.logger.Warn().
			Str("path", path).
			Str("stored", entry.Identity).
			Str("requested", identity).
			Msg("Cache file belongs to another identity - treating as miss")
		return nil, false
	}

	return &entry, true
}

// Put replaces the file for identity atomically
func (s *CacheStorage) Put(ctx context.Context, identity string, entry *models.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("nil cache entry for %s", identity)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(identity)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	s.logger.Debug().
		Str("identity", identity).
		Int("points", len(entry.Series.Points)).
		Msg("Cache file written")

	return nil
}

// IsFresh reports whether entry was fetched less than maxAge ago
func (s *CacheStorage) IsFresh(entry *models.CacheEntry, maxAge time.Duration) bool {
	if entry == nil {
		return false
	}
	return common.IsFresh(entry.Series.FetchedAt, s.now(), maxAge)
}

// List returns the identities of readable entries
func (s *CacheStorage) List(ctx context.Context) ([]string, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var identities []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entryExt) || strings.HasPrefix(f.Name(), ".tmp-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			continue
		}
		var entry models.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil || entry.Identity == "" {
			continue
		}
		identities = append(identities, entry.Identity)
	}
	return identities, nil
}

// Close is a no-op
func (s *CacheStorage) Close() error {
	return nil
}
