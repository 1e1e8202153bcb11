// Package badger stores price series in an embedded Badger database
// through badgerhold.
package badger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvester/internal/common"
)

// badgerLogger routes Badger's internal messages to arbor. Info chatter
// from compactions goes to trace.
type badgerLogger struct {
	logger arbor.ILogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Trace().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerDB owns the cache database handle
type BadgerDB struct {
	store     *badgerhold.Store
	path      string
	logger    arbor.ILogger
	closeOnce sync.Once
	closeErr  error
}

// NewBadgerDB opens the cache database at config.Path, wiping it first
// when reset_on_startup is set
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}

	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Info().Str("path", config.Path).Msg("Discarding cached price series (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				return nil, fmt.Errorf("failed to reset cache database: %w", err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = badgerLogger{logger: logger}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database opened")

	return &BadgerDB{
		store:  store,
		path:   config.Path,
		logger: logger,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Path returns the database directory
func (b *BadgerDB) Path() string {
	return b.path
}

// Close closes the database. Later calls return the first result.
func (b *BadgerDB) Close() error {
	b.closeOnce.Do(func() {
		if b.store != nil {
			b.closeErr = b.store.Close()
		}
	})
	return b.closeErr
}
