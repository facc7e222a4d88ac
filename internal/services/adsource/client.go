package adsource

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

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultBaseURL = "https://api.scrapecreators.com"

	companySearchPath = "/v1/facebook/adLibrary/search/companies"
	companyAdsPath    = "/v1/facebook/adLibrary/company/ads"
	adSearchPath      = "/v1/facebook/adLibrary/search/ads"

	defaultAdsLimit = 50
	// The API serves at most 1500 ads per page request.
	maxPageSize = 1500
	// Pagination stops after this many requests even when a cursor remains.
	maxPageRequests = 10

	// Each company lookup costs API credits, so resolved platform IDs are
	// memoised for the process lifetime.
	platformIDCacheSize = 256
)

// Config configures the ad library client.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client queries the ad library API. Safe for concurrent use.
type Client struct {
	cfg         Config
	platformIDs *lru.Cache[string, map[string]string]
}

// New builds an ad library client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ad library api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	cache, err := lru.New[string, map[string]string](platformIDCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build platform id cache: %w", err)
	}
	return &Client{cfg: cfg, platformIDs: cache}, nil
}

// ResolvePlatformIDs maps page names matching brand to their Meta platform
// IDs. Results are memoised per brand; repeated lookups cost no credits.
func (c *Client) ResolvePlatformIDs(ctx context.Context, brand string) (map[string]string, error) {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return nil, fmt.Errorf("brand name is required")
	}
	if cached, ok := c.platformIDs.Get(brand); ok {
		return cached, nil
	}

	query := url.Values{"query": {brand}}
	var payload struct {
		SearchResults []struct {
			Name   string `json:"name"`
			PageID string `json:"page_id"`
		} `json:"searchResults"`
	}
	if err := c.getJSON(ctx, companySearchPath, query, &payload); err != nil {
		return nil, fmt.Errorf("search companies for %q: %w", brand, err)
	}

	ids := make(map[string]string, len(payload.SearchResults))
	for _, result := range payload.SearchResults {
		if result.Name != "" && result.PageID != "" {
			ids[result.Name] = result.PageID
		}
	}
	c.platformIDs.Add(brand, ids)
	return ids, nil
}

// CompanyAds lists ads run by one platform ID, following cursors until the
// limit is reached, a page comes back empty, or the request budget runs out.
func (c *Client) CompanyAds(ctx context.Context, pageID string, opts AdsOptions) ([]Ad, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return nil, fmt.Errorf("platform id is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultAdsLimit
	}

	query := url.Values{
		"pageId": {pageID},
		"limit":  {strconv.Itoa(min(limit, maxPageSize))},
		"trim":   {trimParam(opts)},
	}
	if country := strings.TrimSpace(opts.Country); country != "" {
		query.Set("country", strings.ToUpper(country))
	}

	ads, err := c.pagedAds(ctx, companyAdsPath, query, limit, "results", !opts.IncludeInactive)
	if err != nil {
		return nil, fmt.Errorf("list ads for page %s: %w", pageID, err)
	}
	return ads, nil
}

// SearchAds finds active ads matching a keyword query across all pages.
func (c *Client) SearchAds(ctx context.Context, keyword string, opts AdsOptions) ([]Ad, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("search query is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultAdsLimit
	}

	activeStatus := "ACTIVE"
	if opts.IncludeInactive {
		activeStatus = "ALL"
	}
	query := url.Values{
		"query":         {keyword},
		"limit":         {strconv.Itoa(min(limit, maxPageSize))},
		"ad_type":       {"ALL"},
		"media_type":    {"ALL"},
		"active_status": {activeStatus},
		"trim":          {trimParam(opts)},
	}
	if country := strings.TrimSpace(opts.Country); country != "" {
		query.Set("country", strings.ToUpper(country))
	}

	// The search endpoint already filters by active_status, so parsed ads
	// are not re-filtered by end date.
	ads, err := c.pagedAds(ctx, adSearchPath, query, limit, "searchResults", false)
	if err != nil {
		return nil, fmt.Errorf("search ads for %q: %w", keyword, err)
	}
	return ads, nil
}

func trimParam(opts AdsOptions) string {
	if opts.Untrimmed {
		return "false"
	}
	return "true"
}

func (c *Client) pagedAds(ctx context.Context, path string, query url.Values, limit int, resultsField string, filterInactive bool) ([]Ad, error) {
	var ads []Ad
	cursor := ""
	for requests := 0; len(ads) < limit && requests < maxPageRequests; requests++ {
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var payload struct {
			Results       []json.RawMessage `json:"results"`
			SearchResults []json.RawMessage `json:"searchResults"`
			Cursor        string            `json:"cursor"`
		}
		if err := c.getJSON(ctx, path, query, &payload); err != nil {
			return nil, err
		}

		raw := payload.Results
		if resultsField == "searchResults" {
			raw = payload.SearchResults
		}
		page := parseAds(raw, filterInactive)
		if len(page) == 0 {
			break
		}
		ads = append(ads, page...)

		cursor = payload.Cursor
		if cursor == "" {
			break
		}
	}
	if len(ads) > limit {
		ads = ads[:limit]
	}
	return ads, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if err := checkCreditStatus(res); err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("read error body: %w", readErr)
		}
		return fmt.Errorf("request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkCreditStatus maps credit and throttling responses to typed errors
// before generic status handling.
func checkCreditStatus(res *http.Response) error {
	switch res.StatusCode {
	case http.StatusPaymentRequired:
		return ErrCreditsExhausted
	case http.StatusTooManyRequests:
		rate := &RateLimitError{}
		if header := res.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
				rate.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		return rate
	case http.StatusForbidden:
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return fmt.Errorf("read error body: %w", err)
		}
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "credit") || strings.Contains(lower, "quota") {
			return ErrCreditsExhausted
		}
		return fmt.Errorf("request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
