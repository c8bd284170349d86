// Package tencent fetches real-time stock quotes from qt.gtimg.cn.
package tencent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/scriptvars"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// minFields is the field count below which a quote line is treated as empty
const minFields = 30

// Client for the Tencent quote API
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
	now     func() time.Time
}

// NewClient creates a quote client. baseURL is the query prefix, e.g. https://qt.gtimg.cn/q=
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "tencent").Logger(),
		now:     time.Now,
	}
}

// FormatCode adds the exchange prefix the quote API expects.
// Six-digit codes starting with 6 trade in Shanghai, 8 or 4 in Beijing, the rest in
// Shenzhen; five-digit codes are Hong Kong listings. Anything else passes through.
func FormatCode(id string) string {
	if !isDigits(id) {
		return id
	}
	switch len(id) {
	case 6:
		switch id[0] {
		case '6':
			return "sh" + id
		case '8', '4':
			return "bj" + id
		default:
			return "sz" + id
		}
	case 5:
		return "hk" + id
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FetchQuotes returns quotes keyed by the ids as given. Ids without a usable quote are absent.
func (c *Client) FetchQuotes(ctx context.Context, ids []string) (map[string]domain.PriceQuote, error) {
	quotes := make(map[string]domain.PriceQuote, len(ids))
	if len(ids) == 0 {
		return quotes, nil
	}

	// formatted code -> raw ids requesting it
	byCode := make(map[string][]string, len(ids))
	codes := make([]string, 0, len(ids))
	for _, id := range ids {
		code := FormatCode(id)
		if _, seen := byCode[code]; !seen {
			codes = append(codes, code)
		}
		byCode[code] = append(byCode[code], id)
	}

	url := fmt.Sprintf("%s%s&t=%d", c.baseURL, strings.Join(codes, ","), c.now().UnixMilli())
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	vars := scriptvars.Parse(body)
	for _, code := range codes {
		raw, ok := vars["v_"+code].(string)
		if !ok {
			continue
		}
		quote, ok := parseQuote(raw)
		if !ok {
			continue
		}
		for _, id := range byCode[code] {
			q := quote
			q.SecurityID = id
			quotes[id] = q
		}
	}

	c.log.Debug().Int("requested", len(codes)).Int("quoted", len(quotes)).Msg("Fetched quotes")
	return quotes, nil
}

// parseQuote reads one '~' separated quote line: name [1], current [3], prev close [4].
func parseQuote(raw string) (domain.PriceQuote, bool) {
	parts := strings.Split(raw, "~")
	if len(parts) <= minFields {
		return domain.PriceQuote{}, false
	}

	current, _ := strconv.ParseFloat(parts[3], 64)
	prevClose, _ := strconv.ParseFloat(parts[4], 64)

	price := current
	if price <= 0 {
		price = prevClose
	}

	var percent float64
	if prevClose > 0 {
		percent = (price - prevClose) / prevClose * 100
	}

	return domain.PriceQuote{
		Name:          parts[1],
		Price:         price,
		PrevClose:     prevClose,
		PercentChange: percent,
	}, true
}

// get performs the request and decodes the GBK body
func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(simplifiedchinese.GBK.NewDecoder().Reader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return string(body), nil
}
