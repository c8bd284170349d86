package eastmoney

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/aristath/navwatch/internal/domain"
	"golang.org/x/net/html"
)

// maxHoldings is the number of disclosed top positions
const maxHoldings = 10

// ParseHoldingsTable parses the first table of the holdings fragment.
// Column 1 holds the security code, column 2 the name, and the first later column
// containing '%' the weight. Later tables hold older quarters and are ignored.
func ParseHoldingsTable(fragment string) ([]domain.Holding, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	holdings := make([]domain.Holding, 0, maxHoldings)
	table := findFirst(doc, "table")
	if table == nil {
		return holdings, nil
	}

	rows := findAll(table, "tr")
	// First row is the header
	for i := 1; i < len(rows) && len(holdings) < maxHoldings; i++ {
		cols := children(rows[i], "td")
		if len(cols) < 3 {
			continue
		}

		code := strings.TrimSpace(textContent(cols[1]))
		name := strings.TrimSpace(textContent(cols[2]))

		weightText := ""
		for j := 3; j < len(cols); j++ {
			if text := textContent(cols[j]); strings.Contains(text, "%") {
				weightText = text
				break
			}
		}
		if code == "" || weightText == "" {
			continue
		}

		percent, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(weightText, "%", "")), 64)
		if err != nil {
			continue
		}
		holdings = append(holdings, domain.Holding{SecurityID: code, Name: name, Weight: percent / 100})
	}

	return holdings, nil
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// children returns the direct element children with the given tag
func children(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
		}
	}
	return out
}

func textContent(n *html.Node) string {
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
	return b.String()
}

// extractTrends reads both trends from the script globals. Missing or malformed
// series yield empty trends.
func extractTrends(doc map[string]any) domain.FundTrends {
	trends := domain.FundTrends{
		Nav:         make([]domain.NavPoint, 0),
		EquityRatio: make([]domain.RatioPoint, 0),
	}

	for _, item := range selectAll("$."+varNetWorthTrend+"[*]", doc) {
		x, okX := toFloat(jsonField(item, "x"))
		y, okY := toFloat(jsonField(item, "y"))
		if okX && okY {
			trends.Nav = append(trends.Nav, domain.NavPoint{Timestamp: int64(x), Nav: y})
		}
	}

	// Each point is [timestamp, ratioPercent]
	for _, item := range selectAll("$."+varSharePositions+"[*]", doc) {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		ts, okTs := toFloat(pair[0])
		ratio, okRatio := toFloat(pair[1])
		if okTs && okRatio {
			trends.EquityRatio = append(trends.EquityRatio, domain.RatioPoint{Timestamp: int64(ts), Ratio: ratio})
		}
	}

	return trends
}

// selectAll evaluates a wildcard path and returns the matches
func selectAll(path string, doc any) []any {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil
	}
	// jsonpath returns a list for wildcard paths, but be lenient about a single match
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func jsonField(obj any, name string) any {
	m, ok := obj.(map[string]any)
	if !ok {
		return nil
	}
	return m[name]
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
