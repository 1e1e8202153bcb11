package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

func newTestStorage(t *testing.T) *CacheStorage {
	t.Helper()
	s, err := NewCacheStorage(arbor.NewLogger(), &common.FilesystemConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func entryFor(identity string, fetchedAt time.Time) *models.CacheEntry {
	inst := models.InstrumentMetadata{
		Identity:      identity,
		ExercisePrice: decimal.RequireFromString("777.17"),
		GrantDate:     models.MustParseDate("2015-09-24"),
	}
	return models.NewCacheEntry(inst, models.PriceSeries{
		Identity: identity,
		Points: []models.PricePoint{
			{Date: "2024-01-01", Price: decimal.NewFromInt(10)},
			{Date: "2015-09-24", Price: decimal.NewFromInt(5)},
			{Date: "2010-01-01", Price: decimal.NewFromInt(1)},
		},
		FetchedAt: fetchedAt,
	})
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "A.json", FileName("A"))
	assert.Equal(t, "a_b_c.json", FileName("a/b c"))
	assert.Equal(t, "_.json", FileName(".."))
	assert.Equal(t, "_.json", FileName(""))
}

func TestCacheStorage_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	entry := entryFor("A", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))

	require.NoError(t, s.Put(ctx, "A", entry))

	got, ok := s.Get(ctx, "A")
	require.True(t, ok)
	require.Len(t, got.Series.Points, 3)
	for i, p := range entry.Series.Points {
		assert.Equal(t, p.Date, got.Series.Points[i].Date)
		assert.True(t, p.Price.Equal(got.Series.Points[i].Price))
	}
	_, ok = got.Series.FindByDate("2015-09-24")
	assert.True(t, ok)

	files, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	require.Len(t, files, 1, "no temp files left behind")
	assert.Equal(t, "A.json", files[0].Name())
}

func TestCacheStorage_CorruptFileIsMiss(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "A.json"), []byte("{\"identity\": "), 0644))

	_, ok := s.Get(ctx, "A")
	assert.False(t, ok)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCacheStorage_SanitizedCollisionIsMiss(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a/b", entryFor("a/b", time.Now())))

	_, ok := s.Get(ctx, "a_b")
	assert.False(t, ok, "a different identity mapping to the same file is not a hit")

	got, ok := s.Get(ctx, "a/b")
	require.True(t, ok)
	assert.Equal(t, "a/b", got.Identity)
}

func TestCacheStorage_ListAndFresh(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newTestStorage(t).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "A", entryFor("A", now.Add(-30*time.Minute))))
	require.NoError(t, s.Put(ctx, "B", entryFor("B", now.Add(-3*time.Hour))))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, ids)

	a, _ := s.Get(ctx, "A")
	b, _ := s.Get(ctx, "B")
	assert.True(t, s.IsFresh(a, time.Hour))
	assert.False(t, s.IsFresh(b, time.Hour))
}
