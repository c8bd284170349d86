// Package eastmoney fetches fund data published by Eastmoney.
//
// Basic info comes from the fundgz JSONP endpoint and is independent of shared state.
// Holdings and trends are scripts that assign globals (apidata, Data_netWorthTrend,
// Data_fundSharesPositions) into the shared script namespace, so LoadHoldings and
// LoadTrends must only be called through the fetch serializer.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/navwatch/internal/domain"
	"github.com/aristath/navwatch/internal/scriptvars"
	"github.com/rs/zerolog"
)

// Script globals read by this client
const (
	varHoldings       = "apidata"
	varNetWorthTrend  = "Data_netWorthTrend"
	varSharePositions = "Data_fundSharesPositions"
)

// Config holds the endpoint base URLs
type Config struct {
	FundgzURL    string // e.g. https://fundgz.1234567.com.cn/js
	HoldingsURL  string // e.g. https://fundf10.eastmoney.com/FundArchivesDatas.aspx
	PingzhongURL string // e.g. https://fund.eastmoney.com/pingzhongdata
}

// Client for the Eastmoney fund endpoints
type Client struct {
	cfg    Config
	client *http.Client
	loader *scriptvars.Loader
	log    zerolog.Logger
	now    func() time.Time
}

// NewClient creates a client. Script payloads are loaded through loader.
func NewClient(cfg Config, loader *scriptvars.Loader, log zerolog.Logger) *Client {
	cfg.FundgzURL = strings.TrimRight(cfg.FundgzURL, "/")
	cfg.PingzhongURL = strings.TrimRight(cfg.PingzhongURL, "/")
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		loader: loader,
		log:    log.With().Str("client", "eastmoney").Logger(),
		now:    time.Now,
	}
}

// fundgzPayload is the object passed to jsonpgz(...)
type fundgzPayload struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	NavDate  string `json:"jzrq"`
	Nav      string `json:"dwjz"`
}

// FetchBasicInfo returns the fund name, prior NAV and its date.
// Failures are never returned: the result degrades to the placeholder name without a NAV.
func (c *Client) FetchBasicInfo(ctx context.Context, code string) (domain.BasicInfo, error) {
	fallback := domain.BasicInfo{Name: domain.PlaceholderFundName(code)}

	u := fmt.Sprintf("%s/%s.js?rt=%d", c.cfg.FundgzURL, code, c.now().UnixMilli())
	body, err := c.get(ctx, u)
	if err != nil {
		c.log.Warn().Err(err).Str("fund", code).Msg("Basic info unavailable")
		return fallback, nil
	}

	start := strings.IndexByte(body, '(')
	end := strings.LastIndexByte(body, ')')
	if start < 0 || end <= start {
		c.log.Warn().Str("fund", code).Msg("Basic info payload is not a JSONP call")
		return fallback, nil
	}
	inner := strings.TrimSpace(body[start+1 : end])
	if inner == "" {
		return fallback, nil
	}

	var payload fundgzPayload
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		c.log.Warn().Err(err).Str("fund", code).Msg("Failed to parse basic info")
		return fallback, nil
	}

	info := domain.BasicInfo{Name: payload.Name, AsOf: payload.NavDate}
	if info.Name == "" {
		info.Name = fallback.Name
	}
	if nav, err := strconv.ParseFloat(payload.Nav, 64); err == nil && nav > 0 {
		info.PriorNav = domain.Float64Ptr(nav)
	}
	return info, nil
}

// LoadHoldings loads the top-ten holdings script and parses its first table.
func (c *Client) LoadHoldings(ctx context.Context, code string) ([]domain.Holding, error) {
	ns := c.loader.Namespace()
	ns.Reset(varHoldings)

	q := url.Values{}
	q.Set("type", "jjcc")
	q.Set("code", code)
	q.Set("topline", "10")
	q.Set("year", "")
	q.Set("month", "")
	q.Set("rt", strconv.FormatInt(c.now().UnixMilli(), 10))

	if _, err := c.loader.Load(ctx, c.cfg.HoldingsURL+"?"+q.Encode()); err != nil {
		return nil, fmt.Errorf("failed to load holdings for %s: %w", code, err)
	}

	apidata, ok := ns.Get(varHoldings)
	if !ok {
		return nil, fmt.Errorf("holdings script for %s did not define %s", code, varHoldings)
	}
	content, _ := scriptvars.Field(apidata, "content")
	html, _ := content.(string)
	if html == "" {
		return []domain.Holding{}, nil
	}

	holdings, err := ParseHoldingsTable(html)
	if err != nil {
		return nil, fmt.Errorf("failed to parse holdings for %s: %w", code, err)
	}

	c.log.Debug().Str("fund", code).Int("holdings", len(holdings)).Msg("Loaded holdings")
	return holdings, nil
}

// LoadTrends loads the pingzhongdata script and extracts the NAV and equity ratio trends.
func (c *Client) LoadTrends(ctx context.Context, code string) (domain.FundTrends, error) {
	ns := c.loader.Namespace()
	ns.Reset(varNetWorthTrend, varSharePositions)

	if _, err := c.loader.Load(ctx, fmt.Sprintf("%s/%s.js", c.cfg.PingzhongURL, code)); err != nil {
		return domain.FundTrends{}, fmt.Errorf("failed to load trends for %s: %w", code, err)
	}

	doc := make(map[string]any, 2)
	for _, name := range []string{varNetWorthTrend, varSharePositions} {
		if v, ok := ns.Get(name); ok {
			doc[name] = v
		}
	}

	trends := extractTrends(doc)
	c.log.Debug().
		Str("fund", code).
		Int("nav_points", len(trends.Nav)).
		Int("ratio_points", len(trends.EquityRatio)).
		Msg("Loaded trends")
	return trends, nil
}

// get performs a GET and returns the body
func (c *Client) get(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Referer", "https://fund.eastmoney.com/")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}
