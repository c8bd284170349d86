// Package timor fetches the official China holiday calendar from timor.tech.
package timor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/rs/zerolog"
)

// Client for the timor.tech holiday API
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a holiday client. baseURL is the year endpoint without the year,
// e.g. https://timor.tech/api/holiday/year
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "timor").Logger(),
	}
}

// yearResponse mirrors GET /api/holiday/year/{year}
type yearResponse struct {
	Code    int                   `json:"code"`
	Holiday map[string]dayPayload `json:"holiday"`
}

type dayPayload struct {
	Holiday bool   `json:"holiday"`
	Name    string `json:"name"`
	Wage    int    `json:"wage"`
	Date    string `json:"date"`
}

// FetchYear returns every holiday and make-up workday of year, sorted by date.
func (c *Client) FetchYear(ctx context.Context, year int) ([]domain.HolidayRecord, error) {
	url := fmt.Sprintf("%s/%d", c.baseURL, year)
	c.log.Debug().Str("url", url).Msg("Fetching holidays")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	// The API rejects requests without a browser-like user agent
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; navwatch)")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result yearResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("API returned code %d", result.Code)
	}

	records := make([]domain.HolidayRecord, 0, len(result.Holiday))
	for monthDay, day := range result.Holiday {
		date := day.Date
		if date == "" {
			date = fmt.Sprintf("%04d-%s", year, monthDay)
		}
		records = append(records, domain.HolidayRecord{
			Date:      date,
			IsHoliday: day.Holiday,
			Name:      day.Name,
			Wage:      day.Wage,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })

	c.log.Info().Int("year", year).Int("days", len(records)).Msg("Fetched holidays")
	return records, nil
}
