package inflation

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// HTTPFetcher scrapes the historical-rates table from the reference source.
// The page carries one HTML table: a header row of month abbreviations and
// one row per year. Cells with "-" or empty text are months not yet published.
type HTTPFetcher struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPFetcher constructs a fetcher with a bounded request timeout.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{URL: url, Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

// Fetch downloads and parses the source table.
func (f *HTTPFetcher) Fetch(ctx context.Context) (map[int]map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("op=inflation.fetch: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=inflation.fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=inflation.fetch: status %d", resp.StatusCode)
	}
	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("op=inflation.fetch: %w", err)
	}
	table := findFirstTable(doc)
	if table == nil {
		return nil, fmt.Errorf("op=inflation.fetch: no table in document")
	}
	return parseRateTable(table)
}

func findFirstTable(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "table" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findFirstTable(c); t != nil {
			return t
		}
	}
	return nil
}

func parseRateTable(table *html.Node) (map[int]map[string]float64, error) {
	rows := collectRows(table)
	if len(rows) < 2 {
		return nil, fmt.Errorf("op=inflation.parse: table has no data rows")
	}

	headers := cellTexts(rows[0])
	out := map[int]map[string]float64{}
	monthSet := map[string]bool{}
	for _, m := range monthOrder {
		monthSet[m] = true
	}

	for _, row := range rows[1:] {
		cells := cellTexts(row)
		if len(cells) < 2 {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(cells[0]))
		if err != nil {
			// Repeated header or average rows; skip.
			continue
		}
		months := map[string]float64{}
		for i := 1; i < len(cells) && i < len(headers); i++ {
			month := strings.TrimSpace(headers[i])
			if !monthSet[month] {
				continue
			}
			text := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cells[i]), "%"))
			if text == "" || text == "-" {
				continue
			}
			rate, err := strconv.ParseFloat(text, 64)
			if err != nil {
				continue
			}
			months[month] = rate
		}
		if len(months) > 0 {
			out[year] = months
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("op=inflation.parse: no year rows parsed")
	}
	return out, nil
}

func collectRows(n *html.Node) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return rows
}

func cellTexts(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, nodeText(c))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
