package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/harvester/internal/models"
)

// ListingParser enumerates the instruments shown on the portal listing view.
type ListingParser interface {
	FetchInstrumentList(ctx context.Context, session PageSession) ([]models.InstrumentMetadata, error)
}

// HistoryFetcher retrieves the full price history of one instrument.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, session PageSession, instrument models.InstrumentMetadata, onProgress models.ProgressFunc) (*models.PriceSeries, error)
}

// CacheStore is a keyed store of previously fetched price series. It holds
// no fetch-skipping policy; callers decide with IsFresh.
type CacheStore interface {
	// Get returns the entry for identity. Unreadable entries are reported as absent.
	Get(ctx context.Context, identity string) (*models.CacheEntry, bool)

	// Put replaces any existing entry for identity wholesale
	Put(ctx context.Context, identity string, entry *models.CacheEntry) error

	// IsFresh reports whether entry was fetched less than maxAge ago
	IsFresh(entry *models.CacheEntry, maxAge time.Duration) bool

	// List returns every stored identity
	List(ctx context.Context) ([]string, error)

	Close() error
}
