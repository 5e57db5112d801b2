package inflation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

type fakeFetcher struct {
	rows  map[int]map[string]float64
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context) (map[int]map[string]float64, error) {
	f.calls++
	return f.rows, f.err
}

func newTestCache(t *testing.T, f Fetcher) *Cache {
	t.Helper()
	return NewCache(filepath.Join(t.TempDir(), "inflation.json"), "test-source", 30*24*time.Hour, f)
}

func TestLoadAbsentFileIsEmptyTable(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)

	table, err := c.Load()
	require.NoError(t, err)
	assert.Empty(t, table.Rows)
	assert.False(t, table.Stale)
}

func TestAnnualRateMeansAvailableMonths(t *testing.T) {
	t.Parallel()
	table := Table{Rows: map[int]map[string]float64{
		2023: {"Jan": 6.4, "Feb": 6.0, "Mar": 5.0},
	}}

	rate, ok := table.AnnualRate(2023)
	require.True(t, ok)
	assert.InDelta(t, 5.8, rate, 1e-9)

	_, ok = table.AnnualRate(1999)
	assert.False(t, ok)
}

func TestCumulativeCompoundsWithAssumedFallback(t *testing.T) {
	t.Parallel()
	table := Table{Rows: map[int]map[string]float64{
		2019: {"Jan": 10.0},
	}}

	// 2019 at 10%, 2020 missing so the assumed 3% applies.
	got := table.Cumulative(2019, 2021, 3.0)
	assert.InDelta(t, 1.10*1.03-1, got, 1e-9)
}

func TestAdjustRoundsToCents(t *testing.T) {
	t.Parallel()
	table := Table{Rows: map[int]map[string]float64{
		2019: {"Jan": 10.0},
	}}

	assert.InDelta(t, 110.00, table.Adjust(100, 2019, 2020), 1e-9)
	// Same year: no adjustment.
	assert.InDelta(t, 100.00, table.Adjust(100, 2019, 2019), 1e-9)
}

func TestSummaryMarksAssumedYearsAndStaleness(t *testing.T) {
	t.Parallel()
	table := Table{
		Source: "test-source",
		Stale:  true,
		Rows:   map[int]map[string]float64{2019: {"Jan": 10.0}},
	}

	out := table.Summary(2019, 2021)
	assert.Contains(t, out, "Inflation from 2019 to 2021:")
	assert.Contains(t, out, "2019: 10.00%")
	assert.Contains(t, out, "2020: 3.00% (assumed)")
	assert.Contains(t, out, "Source: test-source (cached)")
	assert.Contains(t, out, "figures may be stale")
}

func TestRefreshFetchesAndPersists(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: map[int]map[string]float64{2023: {"Jan": 6.4}}}
	c := newTestCache(t, f)

	table, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, []int{2023}, table.Years())
	assert.Equal(t, "test-source", table.Source)

	// A second cache over the same path sees the persisted document.
	reloaded, err := NewCache(c.Path, c.Source, c.MaxAge, nil).Load()
	require.NoError(t, err)
	assert.InDelta(t, 6.4, reloaded.Rows[2023]["Jan"], 1e-9)
	assert.False(t, reloaded.FetchedAt.IsZero())
}

func TestRefreshSkipsWhenFresh(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: map[int]map[string]float64{2023: {"Jan": 6.4}}}
	c := newTestCache(t, f)

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)

	// force bypasses the freshness check.
	_, err = c.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestRefreshAfterMaxAge(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: map[int]map[string]float64{2023: {"Jan": 6.4}}}
	c := newTestCache(t, f)

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(c.MaxAge + time.Hour) }
	_, err = c.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestRefreshOnNewCalendarYear(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: map[int]map[string]float64{2023: {"Jan": 6.4}}}
	c := newTestCache(t, f)
	c.MaxAge = 365 * 24 * time.Hour

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)

	// Within MaxAge but the calendar year rolled over.
	c.now = func() time.Time { return time.Now().AddDate(1, 0, 0) }
	_, err = c.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestRefreshMergeNeverShrinks(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: map[int]map[string]float64{2019: {"Jan": 1.5}}}
	c := newTestCache(t, f)

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)

	// The source dropped 2019 and now carries only 2024.
	f.rows = map[int]map[string]float64{2024: {"Jan": 3.1}}
	table, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []int{2019, 2024}, table.Years())
	assert.InDelta(t, 1.5, table.Rows[2019]["Jan"], 1e-9)
}

func TestRefreshFailureServesCachedWithStaleMarker(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: map[int]map[string]float64{2019: {"Jan": 1.5}}}
	c := newTestCache(t, f)

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)

	f.err = errors.New("source down")
	table, err := c.Refresh(context.Background(), true)
	assert.ErrorIs(t, err, domain.ErrInflationRefresh)
	assert.True(t, table.Stale)
	assert.InDelta(t, 1.5, table.Rows[2019]["Jan"], 1e-9)

	// The persisted document survives the failed refresh.
	reloaded, err := c.Load()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, reloaded.Rows[2019]["Jan"], 1e-9)
}

func TestRefreshEmptyFetchIsAFailure(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{rows: map[int]map[string]float64{}}
	c := newTestCache(t, f)

	table, err := c.Refresh(context.Background(), true)
	assert.ErrorIs(t, err, domain.ErrInflationRefresh)
	assert.True(t, table.Stale)
}

func TestRefreshWithoutFetcher(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)

	table, err := c.Refresh(context.Background(), false)
	assert.ErrorIs(t, err, domain.ErrInflationRefresh)
	assert.True(t, table.Stale)
	assert.Empty(t, table.Rows)
}

func TestLoadCorruptFileErrors(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, nil)
	require.NoError(t, os.WriteFile(c.Path, []byte("{not json"), 0o644))

	_, err := c.Load()
	assert.Error(t, err)
}
