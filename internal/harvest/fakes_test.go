package harvest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

type fakeSession struct {
	mu         sync.Mutex
	closeCount int
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error { return nil }
func (s *fakeSession) RunInPage(ctx context.Context, spec interfaces.ExtractSpec) (string, error) {
	return "", nil
}
func (s *fakeSession) PerformAction(ctx context.Context, action interfaces.Action) error { return nil }
func (s *fakeSession) Settle(ctx context.Context) error                                  { return nil }
func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

func (s *fakeSession) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

type mockListing struct {
	mock.Mock
}

func (m *mockListing) FetchInstrumentList(ctx context.Context, session interfaces.PageSession) ([]models.InstrumentMetadata, error) {
	args := m.Called(ctx, session)
	list, _ := args.Get(0).([]models.InstrumentMetadata)
	return list, args.Error(1)
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) FetchHistory(ctx context.Context, session interfaces.PageSession, instrument models.InstrumentMetadata, onProgress models.ProgressFunc) (*models.PriceSeries, error) {
	args := m.Called(ctx, session, instrument, onProgress)
	series, _ := args.Get(0).(*models.PriceSeries)
	return series, args.Error(1)
}

// memoryCache is an in-memory CacheStore with a fixed clock
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	puts    int
	putErr  error
	now     time.Time
}

func newMemoryCache(now time.Time) *memoryCache {
	return &memoryCache{entries: make(map[string]*models.CacheEntry), now: now}
}

func (c *memoryCache) Get(ctx context.Context, identity string) (*models.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identity]
	if !ok {
		return nil, false
	}
	clone := *e
	clone.Series.Points = append([]models.PricePoint(nil), e.Series.Points...)
	return &clone, true
}

func (c *memoryCache) Put(ctx context.Context, identity string, entry *models.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	c.entries[identity] = entry
	return nil
}

func (c *memoryCache) IsFresh(entry *models.CacheEntry, maxAge time.Duration) bool {
	return common.IsFresh(entry.Series.FetchedAt, c.now, maxAge)
}

func (c *memoryCache) List(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *memoryCache) Close() error { return nil }

var errPortalDown = errors.New("portal down")

func identityIs(id string) interface{} {
	return mock.MatchedBy(func(inst models.InstrumentMetadata) bool { return inst.Identity == id })
}
