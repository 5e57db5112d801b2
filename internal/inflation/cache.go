// Package inflation maintains the persisted reference table of historical US
// inflation rates and the derived helpers injected into model prompts.
//
// The table is a single JSON document refreshed by scraping a reference
// source; it is append-mostly and must never shrink. A failed refresh serves
// the previously cached table with a stale marker instead of failing callers.
package inflation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-data-analyst/internal/domain"
)

// DefaultAssumedRate is the annual percentage assumed for years with no data.
const DefaultAssumedRate = 3.0

// monthOrder is the canonical month-abbreviation order of the source table.
var monthOrder = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// Table is the in-memory inflation table. Rows map year -> month abbreviation
// -> annual-change percentage (4.70 means 4.70 percent). Monthly entries may
// be sparse for the current year.
type Table struct {
	FetchedAt time.Time
	Source    string
	Rows      map[int]map[string]float64
	// Stale is set when a refresh failed and the cached table was served.
	Stale bool
}

// Years returns the years present, ascending.
func (t Table) Years() []int {
	ys := make([]int, 0, len(t.Rows))
	for y := range t.Rows {
		ys = append(ys, y)
	}
	sort.Ints(ys)
	return ys
}

// AnnualRate is the mean of the available monthly percentages for a year.
// ok is false when the year has no monthly data; callers supply a fallback.
func (t Table) AnnualRate(year int) (rate float64, ok bool) {
	months := t.Rows[year]
	if len(months) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range months {
		sum += v
	}
	return sum / float64(len(months)), true
}

// Cumulative compounds annual rates over [startYear, endYear) and returns the
// unitless multiplier minus one. Years without data contribute assumedRate.
func (t Table) Cumulative(startYear, endYear int, assumedRate float64) float64 {
	cum := 1.0
	for y := startYear; y < endYear; y++ {
		rate, ok := t.AnnualRate(y)
		if !ok {
			rate = assumedRate
		}
		cum *= 1 + rate/100
	}
	return cum - 1
}

// Summary renders a human-readable inflation block for a year range, suitable
// for injection into a model prompt.
func (t Table) Summary(startYear, endYear int) string {
	var b strings.Builder
	cum := t.Cumulative(startYear, endYear, DefaultAssumedRate)
	fmt.Fprintf(&b, "Inflation from %d to %d:\n", startYear, endYear)
	fmt.Fprintf(&b, "Cumulative rate: %.2f%%\n", cum*100)
	source := t.Source
	if source == "" {
		source = "no reference source; assumed rates"
	}
	fmt.Fprintf(&b, "Source: %s (cached)\n", source)
	if t.Stale {
		b.WriteString("Note: latest refresh failed; figures may be stale.\n")
	}
	b.WriteString("Yearly breakdown:\n")
	for y := startYear; y < endYear; y++ {
		if rate, ok := t.AnnualRate(y); ok {
			fmt.Fprintf(&b, "  %d: %.2f%%\n", y, rate)
		} else {
			fmt.Fprintf(&b, "  %d: %.2f%% (assumed)\n", y, DefaultAssumedRate)
		}
	}
	return b.String()
}

// Adjust converts an amount from startYear dollars to endYear dollars.
func (t Table) Adjust(amount float64, startYear, endYear int) float64 {
	factor := 1 + t.Cumulative(startYear, endYear, DefaultAssumedRate)
	return math.Round(amount*factor*100) / 100
}

// Fetcher obtains a fresh table from the reference source.
type Fetcher interface {
	Fetch(ctx context.Context) (map[int]map[string]float64, error)
}

// Cache owns the persisted table under one well-known path.
type Cache struct {
	Path    string
	Source  string
	MaxAge  time.Duration
	Fetcher Fetcher

	mu  sync.Mutex
	now func() time.Time
}

// NewCache constructs a Cache. fetcher may be nil, in which case Refresh only
// ever serves the persisted table.
func NewCache(path, source string, maxAge time.Duration, fetcher Fetcher) *Cache {
	return &Cache{Path: path, Source: source, MaxAge: maxAge, Fetcher: fetcher, now: time.Now}
}

// persisted is the on-disk document shape. Years are string keys for
// stability; missing months are omitted rather than nulled.
type persisted struct {
	FetchedAt time.Time                     `json:"fetched_at"`
	Source    string                        `json:"source_identifier,omitempty"`
	Data      map[string]map[string]float64 `json:"data"`
}

// Load reads the persisted table; an absent file yields an empty table.
func (c *Cache) Load() (Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Cache) loadLocked() (Table, error) {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Table{Rows: map[int]map[string]float64{}}, nil
		}
		return Table{}, fmt.Errorf("op=inflation.load: %w", err)
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return Table{}, fmt.Errorf("op=inflation.load: %w", err)
	}
	t := Table{FetchedAt: p.FetchedAt, Source: p.Source, Rows: map[int]map[string]float64{}}
	for ys, months := range p.Data {
		y, err := strconv.Atoi(ys)
		if err != nil {
			continue
		}
		t.Rows[y] = months
	}
	return t, nil
}

// Refresh returns the current table, fetching from the reference source when
// the persisted file is missing, older than MaxAge, or from a previous
// calendar year (or when force is set). Fetch and parse failures never lose
// data: the cached table is returned with Stale set and an error wrapping
// domain.ErrInflationRefresh that callers may log and ignore.
func (c *Cache) Refresh(ctx context.Context, force bool) (Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, err := c.loadLocked()
	if err != nil {
		// Unreadable cache file is treated like an absent one; the fetch
		// below rebuilds it without overwriting until it succeeds.
		cached = Table{Rows: map[int]map[string]float64{}}
	}
	if !force && !c.shouldRefresh(cached) {
		return cached, nil
	}
	if c.Fetcher == nil {
		cached.Stale = true
		return cached, fmt.Errorf("op=inflation.refresh: no fetcher configured: %w", domain.ErrInflationRefresh)
	}

	fresh, err := c.Fetcher.Fetch(ctx)
	if err != nil || len(fresh) == 0 {
		cached.Stale = true
		if err == nil {
			err = fmt.Errorf("source returned no rows")
		}
		return cached, fmt.Errorf("op=inflation.refresh: %v: %w", err, domain.ErrInflationRefresh)
	}

	// Merge onto the existing table: new rows overwrite, old years are
	// preserved so the table never shrinks.
	merged := Table{FetchedAt: c.now().UTC(), Source: c.Source, Rows: map[int]map[string]float64{}}
	for y, months := range cached.Rows {
		merged.Rows[y] = months
	}
	for y, months := range fresh {
		merged.Rows[y] = months
	}
	if err := c.store(merged); err != nil {
		merged.Stale = true
		return merged, fmt.Errorf("op=inflation.refresh: %v: %w", err, domain.ErrInflationRefresh)
	}
	return merged, nil
}

func (c *Cache) shouldRefresh(t Table) bool {
	if len(t.Rows) == 0 || t.FetchedAt.IsZero() {
		return true
	}
	now := c.now()
	if now.Sub(t.FetchedAt) > c.MaxAge {
		return true
	}
	return now.Year() > t.FetchedAt.Year()
}

// store atomically replaces the persisted document via write-temp-then-rename
// so concurrent readers always see a consistent table.
func (c *Cache) store(t Table) error {
	p := persisted{FetchedAt: t.FetchedAt, Source: t.Source, Data: map[string]map[string]float64{}}
	for y, months := range t.Rows {
		p.Data[strconv.Itoa(y)] = months
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".inflation-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.Path)
}
