// Package domain defines the MCP tool schemas and handlers for the ad
// intelligence server.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/internal/services/adsource"
)

const adLibraryCallTimeout = 2 * time.Minute

// PlatformIDInput requests platform IDs for one or more brand names.
type PlatformIDInput struct {
	BrandNames []string `json:"brand_names" jsonschema:"brand or company names to look up"`
}

// PlatformIDResult maps each requested brand to its matching pages.
type PlatformIDResult struct {
	// Results maps brand name to page name to platform ID.
	Results map[string]map[string]string `json:"results" jsonschema:"brand name to page name to platform id"`
}

// PlatformIDTool defines the MCP tool schema for platform ID lookup.
func PlatformIDTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_meta_platform_id",
		Description: "Resolves Meta Ad Library platform IDs for brand names",
	}
}

// PlatformIDHandler resolves brand names through the ad library API.
func PlatformIDHandler(ads *adsource.Client) mcp.ToolHandlerFor[PlatformIDInput, PlatformIDResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PlatformIDInput) (*mcp.CallToolResult, PlatformIDResult, error) {
		if len(input.BrandNames) == 0 {
			return nil, PlatformIDResult{}, fmt.Errorf("at least one brand name is required")
		}

		callCtx, cancel := context.WithTimeout(ctx, adLibraryCallTimeout)
		defer cancel()

		results := make(map[string]map[string]string, len(input.BrandNames))
		for _, brand := range input.BrandNames {
			if _, done := results[brand]; done {
				continue
			}
			ids, err := ads.ResolvePlatformIDs(callCtx, brand)
			if err != nil {
				if errors.Is(err, adsource.ErrCreditsExhausted) || errors.Is(err, adsource.ErrRateLimited) {
					return nil, PlatformIDResult{}, err
				}
				log.Printf("mcp: resolve platform ids for %q: %v", brand, err)
				results[brand] = map[string]string{}
				continue
			}
			results[brand] = ids
		}
		return nil, PlatformIDResult{Results: results}, nil
	}
}

// CompanyAdsInput requests ads for one or more platform IDs.
type CompanyAdsInput struct {
	PlatformIDs []string `json:"platform_ids" jsonschema:"Meta platform ids of the pages to list ads for"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of ads to return per platform id, default 50"`
	Country     string   `json:"country,omitempty" jsonschema:"optional two-letter country filter"`
}

// AdsResult lists ads returned by the ad library.
type AdsResult struct {
	Ads   []adsource.Ad `json:"ads" jsonschema:"matching ads"`
	Count int           `json:"count" jsonschema:"number of ads returned"`
}

// CompanyAdsTool defines the MCP tool schema for listing pages' ads.
func CompanyAdsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_meta_ads",
		Description: "Lists Meta Ad Library ads for one or more platform IDs",
	}
}

// CompanyAdsHandler lists ads for each requested platform ID. Credit and
// rate-limit errors abort the call; any other per-platform failure degrades
// to an empty contribution from that platform.
func CompanyAdsHandler(ads *adsource.Client) mcp.ToolHandlerFor[CompanyAdsInput, AdsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CompanyAdsInput) (*mcp.CallToolResult, AdsResult, error) {
		platformIDs := dedupeIDs(input.PlatformIDs)
		if len(platformIDs) == 0 {
			return nil, AdsResult{}, fmt.Errorf("at least one platform id is required")
		}

		callCtx, cancel := context.WithTimeout(ctx, adLibraryCallTimeout)
		defer cancel()

		var all []adsource.Ad
		for _, platformID := range platformIDs {
			found, err := ads.CompanyAds(callCtx, platformID, adsource.AdsOptions{
				Limit:   input.Limit,
				Country: input.Country,
			})
			if err != nil {
				if errors.Is(err, adsource.ErrCreditsExhausted) || errors.Is(err, adsource.ErrRateLimited) {
					return nil, AdsResult{}, err
				}
				log.Printf("mcp: list ads for platform %s: %v", platformID, err)
				continue
			}
			all = append(all, found...)
		}
		return nil, AdsResult{Ads: all, Count: len(all)}, nil
	}
}

func dedupeIDs(ids []string) []string {
	var unique []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique
}

// maxExternalFetchLimit caps how many ads one platform scan may pull while
// hunting for external landing pages.
const maxExternalFetchLimit = 500

// ExternalAdsInput requests ads whose destinations leave Meta and Google.
type ExternalAdsInput struct {
	PlatformIDs []string `json:"platform_ids" jsonschema:"Meta platform ids of the pages to scan"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of external ads to return per platform id, default 50, max 500"`
	Country     string   `json:"country,omitempty" jsonschema:"optional two-letter country filter"`
	MinResults  int      `json:"min_results,omitempty" jsonschema:"scan more ads when fewer external ads than this are found"`
}

// UTMAnalysis summarises tracking parameters across the returned ads.
type UTMAnalysis struct {
	AdsWithUTM      int               `json:"ads_with_utm" jsonschema:"ads carrying at least one utm parameter"`
	ParametersFound []string          `json:"parameters_found,omitempty" jsonschema:"utm parameter names seen across all ads"`
	Summary         map[string]string `json:"summary,omitempty" jsonschema:"last observed value per utm parameter"`
}

// ExternalAdsResult lists ads with external landing pages plus link analysis.
type ExternalAdsResult struct {
	Ads             []adsource.Ad `json:"ads" jsonschema:"ads with external destination urls, tracking parameters intact"`
	Count           int           `json:"count" jsonschema:"number of external ads returned"`
	TotalAdsScanned int           `json:"total_ads_scanned" jsonschema:"total ads scanned to find them"`
	Domains         []string      `json:"domains,omitempty" jsonschema:"external domains found, sorted"`
	UTM             UTMAnalysis   `json:"utm_analysis" jsonschema:"tracking parameter summary"`
}

// ExternalAdsTool defines the MCP tool schema for external-destination ads.
func ExternalAdsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_meta_ads_external_only",
		Description: "Lists Meta Ad Library ads that lead to external websites, with full UTM parameters, domain and tracking summaries",
	}
}

// ExternalAdsHandler scans each platform's ads and keeps only those whose
// destination URLs leave Meta and Google properties.
func ExternalAdsHandler(ads *adsource.Client) mcp.ToolHandlerFor[ExternalAdsInput, ExternalAdsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ExternalAdsInput) (*mcp.CallToolResult, ExternalAdsResult, error) {
		platformIDs := dedupeIDs(input.PlatformIDs)
		if len(platformIDs) == 0 {
			return nil, ExternalAdsResult{}, fmt.Errorf("at least one platform id is required")
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		limit = min(limit, maxExternalFetchLimit)
		fetchLimit := limit
		if input.MinResults > fetchLimit {
			fetchLimit = min(input.MinResults*2, maxExternalFetchLimit)
		}

		callCtx, cancel := context.WithTimeout(ctx, adLibraryCallTimeout)
		defer cancel()

		result := ExternalAdsResult{}
		for _, platformID := range platformIDs {
			scanned, external, err := scanExternalAds(callCtx, ads, platformID, fetchLimit, input.Country, input.MinResults)
			if err != nil {
				if errors.Is(err, adsource.ErrCreditsExhausted) || errors.Is(err, adsource.ErrRateLimited) {
					return nil, ExternalAdsResult{}, err
				}
				log.Printf("mcp: scan external ads for platform %s: %v", platformID, err)
				continue
			}
			result.TotalAdsScanned += scanned
			if len(external) > limit {
				external = external[:limit]
			}
			result.Ads = append(result.Ads, external...)
		}
		result.Count = len(result.Ads)

		domains := make(map[string]bool)
		utmSummary := make(map[string]string)
		for _, ad := range result.Ads {
			adHasUTM := false
			for _, link := range ad.Links {
				if link.Domain != "" && !link.Internal {
					domains[link.Domain] = true
				}
				for key, value := range link.UTMParams {
					utmSummary[key] = value
					adHasUTM = true
				}
			}
			if adHasUTM {
				result.UTM.AdsWithUTM++
			}
		}
		for domain := range domains {
			result.Domains = append(result.Domains, domain)
		}
		sort.Strings(result.Domains)
		if len(utmSummary) > 0 {
			result.UTM.Summary = utmSummary
			for key := range utmSummary {
				result.UTM.ParametersFound = append(result.UTM.ParametersFound, key)
			}
			sort.Strings(result.UTM.ParametersFound)
		}
		return nil, result, nil
	}
}

// scanExternalAds fetches one platform's ads untrimmed and filters to those
// with external links, widening the scan once when the first pass comes up
// short of minResults.
func scanExternalAds(ctx context.Context, ads *adsource.Client, platformID string, fetchLimit int, country string, minResults int) (int, []adsource.Ad, error) {
	opts := adsource.AdsOptions{Limit: fetchLimit, Country: country, Untrimmed: true}
	all, err := ads.CompanyAds(ctx, platformID, opts)
	if err != nil {
		return 0, nil, err
	}
	external := filterExternal(all)

	if minResults > 0 && len(external) < minResults && len(all) == fetchLimit && fetchLimit < maxExternalFetchLimit {
		opts.Limit = min(fetchLimit*2, maxExternalFetchLimit)
		wider, err := ads.CompanyAds(ctx, platformID, opts)
		if err != nil {
			return len(all), external, nil
		}
		return len(wider), filterExternal(wider), nil
	}
	return len(all), external, nil
}

func filterExternal(ads []adsource.Ad) []adsource.Ad {
	var external []adsource.Ad
	for _, ad := range ads {
		if ad.HasExternalLinks() {
			external = append(external, ad)
		}
	}
	return external
}

// SearchAdsInput requests a keyword ad search.
type SearchAdsInput struct {
	Query   string `json:"query" jsonschema:"keywords to search ads for"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of ads to return, default 50"`
	Country string `json:"country,omitempty" jsonschema:"optional two-letter country filter"`
}

// SearchAdsTool defines the MCP tool schema for keyword ad search.
func SearchAdsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_ads",
		Description: "Searches active Meta Ad Library ads by keyword",
	}
}

// SearchAdsHandler searches ads by keyword.
func SearchAdsHandler(ads *adsource.Client) mcp.ToolHandlerFor[SearchAdsInput, AdsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchAdsInput) (*mcp.CallToolResult, AdsResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, adLibraryCallTimeout)
		defer cancel()

		found, err := ads.SearchAds(callCtx, input.Query, adsource.AdsOptions{
			Limit:   input.Limit,
			Country: input.Country,
		})
		if err != nil {
			return nil, AdsResult{}, err
		}
		return nil, AdsResult{Ads: found, Count: len(found)}, nil
	}
}
