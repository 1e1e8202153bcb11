package portal

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/browser/browsertest"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

const detailURL = "https://portal.example.com/detail?fund=A1"

// historyPage renders a detail view holding rows, with or without a load-more button.
func historyPage(rows [][2]string, loadMore bool) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="history"><tr><th>Date</th><th>Price</th></tr>`)
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>", r[0], r[1])
	}
	b.WriteString(`</table>`)
	if loadMore {
		b.WriteString(`<button id="load_more">More</button>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func testInstrument() models.InstrumentMetadata {
	return models.InstrumentMetadata{
		Identity:      "A",
		DisplayName:   "ACME Plan 2015",
		GrantDate:     models.MustParseDate("2015-09-24"),
		ExercisePrice: decimal.RequireFromString("777.17"),
		DetailURL:     detailURL,
	}
}

func newFetcher(maxPages int) *HistoryFetcher {
	config := common.NewDefaultConfig().History
	config.MaxPages = maxPages
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewHistoryFetcher(config, arbor.NewLogger()).WithClock(func() time.Time { return fixed })
}

func TestFetchHistory_SinglePage(t *testing.T) {
	driver := browsertest.New().AddPage(detailURL, historyPage([][2]string{
		{"2024-01-01", "10"},
		{"2015-09-24", "5"},
		{"2010-01-01", "1"},
	}, false))

	series, err := newFetcher(10).FetchHistory(context.Background(), newSession(driver), testInstrument(), nil)

	require.NoError(t, err)
	assert.Equal(t, "A", series.Identity)
	require.Len(t, series.Points, 3)
	p, ok := series.FindByDate("2015-09-24")
	require.True(t, ok)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), series.FetchedAt)
}

func TestFetchHistory_LoadMoreUntilNoNewPoints(t *testing.T) {
	batches := [][][2]string{
		{{"2024-01-03", "12"}, {"2024-01-02 17:35", "11"}},
		{{"2024-01-01", "10"}, {"2023-12-29", "9,5"}},
	}
	shown := append([][2]string{}, batches[0]...)
	clicks := 0

	driver := browsertest.New().AddPage(detailURL, historyPage(shown, true))
	driver.OnAction(interfaces.ActionClick, "#load_more", func(d *browsertest.Driver, a interfaces.Action) error {
		clicks++
		if clicks < len(batches) {
			shown = append(shown, batches[clicks]...)
		}
		d.SetContent(historyPage(shown, true))
		return nil
	})

	var progress []models.Progress
	series, err := newFetcher(50).FetchHistory(context.Background(), newSession(driver), testInstrument(), func(p models.Progress) {
		progress = append(progress, p)
	})

	require.NoError(t, err)
	require.Len(t, series.Points, 4)
	assert.Equal(t, "2024-01-02 17:35", series.Points[1].Date)
	assert.True(t, series.Points[3].Price.Equal(decimal.RequireFromString("9.5")))
	assert.Equal(t, 2, clicks, "third pass adds nothing and stops the loop")
	assert.False(t, series.Truncated)
	require.NotEmpty(t, progress)
	assert.Equal(t, float64(100), progress[len(progress)-1].Percentage)
}

func TestFetchHistory_MissingLoadMoreEnds(t *testing.T) {
	driver := browsertest.New().AddPage(detailURL, historyPage([][2]string{{"2024-01-01", "10"}}, false))

	series, err := newFetcher(50).FetchHistory(context.Background(), newSession(driver), testInstrument(), nil)

	require.NoError(t, err)
	assert.Len(t, series.Points, 1)
	assert.False(t, series.Truncated)
	require.Len(t, driver.Actions(), 1)
	assert.Equal(t, "#load_more", driver.Actions()[0].Selector)
}

func TestFetchHistory_PageCap(t *testing.T) {
	day := 0
	rows := [][2]string{{"2024-01-01", "1"}}
	driver := browsertest.New().AddPage(detailURL, historyPage(rows, true))
	driver.OnAction(interfaces.ActionClick, "#load_more", func(d *browsertest.Driver, a interfaces.Action) error {
		day++
		rows = append(rows, [2]string{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day).Format("2006-01-02"), "1"})
		d.SetContent(historyPage(rows, true))
		return nil
	})

	series, err := newFetcher(3).FetchHistory(context.Background(), newSession(driver), testInstrument(), nil)

	require.NoError(t, err)
	assert.Len(t, series.Points, 3)
	assert.True(t, series.Truncated, "pages were still adding points at the limit")
}

func TestFetchHistory_NoPoints(t *testing.T) {
	driver := browsertest.New().AddPage(detailURL, historyPage(nil, true))

	_, err := newFetcher(10).FetchHistory(context.Background(), newSession(driver), testInstrument(), nil)

	var histErr *interfaces.HistoryExtractionError
	require.ErrorAs(t, err, &histErr)
	assert.Equal(t, "A", histErr.Identity)
	assert.Equal(t, 1, histErr.Pages)
}

func TestFetchHistory_NoTable(t *testing.T) {
	driver := browsertest.New().AddPage(detailURL, `<html><body>Session expired</body></html>`)

	_, err := newFetcher(10).FetchHistory(context.Background(), newSession(driver), testInstrument(), nil)

	var histErr *interfaces.HistoryExtractionError
	require.ErrorAs(t, err, &histErr)
	assert.Zero(t, histErr.Pages)
}

func TestFetchHistory_NavigationError(t *testing.T) {
	driver := browsertest.New()

	_, err := newFetcher(10).FetchHistory(context.Background(), newSession(driver), testInstrument(), nil)

	var navErr *interfaces.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, 404, navErr.StatusCode)
}

func TestParseHistory_SkipsBadRows(t *testing.T) {
	html := `<table>
<tr><th>Date</th><th>Price</th></tr>
<tr><td>2024-01-01</td><td>10</td></tr>
<tr><td>Total</td><td>99</td></tr>
<tr><td>2024-01-02</td><td>-</td></tr>
<tr><td>2024-01-03</td></tr>
<tr><td> 2024-01-04 09:00 </td><td>1 000,25</td></tr>
<tr><td>2024-01-05</td><td>-12.50</td></tr>
<tr><td>2024-01-06</td><td>0,00</td></tr>
</table>`

	points := ParseHistory(html, 0, 1)

	require.Len(t, points, 2)
	assert.Equal(t, "2024-01-01", points[0].Date)
	assert.Equal(t, "2024-01-04 09:00", points[1].Date)
	assert.True(t, points[1].Price.Equal(decimal.RequireFromString("1000.25")))
}
