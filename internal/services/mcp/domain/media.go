package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/internal/services/analysis"
	"github.com/adscope/adscope/internal/services/fetch"
	"github.com/adscope/adscope/internal/services/mediacache"
	mediaanalysis "github.com/adscope/adscope/internal/services/mediacache/analysis"
	"github.com/adscope/adscope/internal/services/mediacache/service"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
)

const (
	imageAnalysisTimeout = 5 * time.Minute
	videoAnalysisTimeout = 10 * time.Minute

	fetchConcurrency = 4

	defaultImagePrompt = "Analyze this ad creative. Respond with JSON using the keys " +
		`"summary", "people_description", "colors" (with "dominant_colors" and "background") ` +
		`and "text_elements" (text grouped by category such as headline or cta).`
	defaultVideoPrompt = "Analyze this video ad. Respond with JSON using the keys " +
		`"summary", "people_description", "colors" (with "dominant_colors" and "background") ` +
		`and "text_elements" (on-screen text grouped by category such as headline or cta).`
)

// MediaFetcher downloads media bytes for cache misses.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
	FetchAll(ctx context.Context, urls []string, limit int) []fetch.Result
}

// VisionClient analyzes media through the vision API.
type VisionClient interface {
	AnalyzeImage(ctx context.Context, data []byte, contentType, prompt string) (*mediaanalysis.Payload, error)
	UploadVideo(ctx context.Context, data []byte, contentType string) (analysis.FileHandle, error)
	AnalyzeVideo(ctx context.Context, handle analysis.FileHandle, prompt string) (*mediaanalysis.Payload, error)
	DeleteFile(ctx context.Context, handle analysis.FileHandle) error
}

// MediaAnalysisResult is the per-URL outcome of an analyze tool.
type MediaAnalysisResult struct {
	URL      string                 `json:"url" jsonschema:"media url this result belongs to"`
	Cached   bool                   `json:"cached" jsonschema:"whether the analysis came from the cache"`
	Analysis *mediaanalysis.Payload `json:"analysis,omitempty" jsonschema:"structured analysis payload"`
	Error    string                 `json:"error,omitempty" jsonschema:"failure reason for this url"`
}

// ImageAnalysisInput requests analysis of one or more ad images.
type ImageAnalysisInput struct {
	ImageURLs []string `json:"image_urls" jsonschema:"image urls to analyze"`
	Prompt    string   `json:"prompt,omitempty" jsonschema:"optional analysis prompt override"`
	BrandName string   `json:"brand_name,omitempty" jsonschema:"brand the images belong to"`
	AdID      string   `json:"ad_id,omitempty" jsonschema:"ad archive id the images belong to"`
}

// ImageAnalysisOutput carries one result per requested image URL.
type ImageAnalysisOutput struct {
	Results []MediaAnalysisResult `json:"results" jsonschema:"per-url analysis results"`
}

// AnalyzeImageTool defines the MCP tool schema for image analysis.
func AnalyzeImageTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "analyze_ad_image",
		Description: "Analyzes ad images with the vision model, serving repeats from the media cache",
	}
}

// AnalyzeImageHandler analyzes ad images, using the cache to skip repeated
// downloads and repeated vision calls.
func AnalyzeImageHandler(cache *service.Cache, fetcher MediaFetcher, vision VisionClient) mcp.ToolHandlerFor[ImageAnalysisInput, ImageAnalysisOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ImageAnalysisInput) (*mcp.CallToolResult, ImageAnalysisOutput, error) {
		if len(input.ImageURLs) == 0 {
			return nil, ImageAnalysisOutput{}, fmt.Errorf("at least one image url is required")
		}
		prompt := input.Prompt
		if prompt == "" {
			prompt = defaultImagePrompt
		}

		callCtx, cancel := context.WithTimeout(ctx, imageAnalysisTimeout)
		defer cancel()

		cached, err := cache.GetCachedBatch(callCtx, input.ImageURLs, mediacache.KindImage)
		if err != nil {
			return nil, ImageAnalysisOutput{}, fmt.Errorf("batch cache lookup: %w", err)
		}

		// Bytes for URLs the cache cannot serve are downloaded concurrently
		// before the sequential vision calls.
		var missing []string
		seen := make(map[string]bool, len(input.ImageURLs))
		for _, url := range input.ImageURLs {
			if seen[url] {
				continue
			}
			seen[url] = true
			if cached[url] == nil {
				missing = append(missing, url)
			}
		}
		fetched := make(map[string]fetch.Result, len(missing))
		for _, result := range fetcher.FetchAll(callCtx, missing, fetchConcurrency) {
			fetched[result.URL] = result
		}

		results := make([]MediaAnalysisResult, 0, len(input.ImageURLs))
		analyzed := make(map[string]MediaAnalysisResult, len(input.ImageURLs))
		for _, url := range input.ImageURLs {
			if done, ok := analyzed[url]; ok {
				results = append(results, done)
				continue
			}
			result := analyzeOneImage(callCtx, cache, vision, url, prompt, input.BrandName, input.AdID, cached[url], fetched)
			analyzed[url] = result
			results = append(results, result)
		}
		return nil, ImageAnalysisOutput{Results: results}, nil
	}
}

func analyzeOneImage(ctx context.Context, cache *service.Cache, vision VisionClient, url, prompt, brandName, adID string, entry *storage.Entry, fetched map[string]fetch.Result) MediaAnalysisResult {
	result := MediaAnalysisResult{URL: url}

	// A cached analysis short-circuits the network entirely.
	if entry != nil && entry.Analysis != nil {
		result.Cached = true
		result.Analysis = entry.Analysis
		return result
	}

	var data []byte
	var contentType string
	switch {
	case entry != nil:
		blobData, err := cache.ReadBlob(*entry)
		if err != nil {
			result.Error = fmt.Sprintf("read cached image: %v", err)
			return result
		}
		data, contentType = blobData, entry.ContentType
	default:
		download, ok := fetched[url]
		if !ok || download.Err != nil {
			if download.Err != nil {
				result.Error = fmt.Sprintf("download image: %v", download.Err)
			} else {
				result.Error = "download image: no result"
			}
			return result
		}
		if !fetch.IsImage(download.ContentType) {
			result.Error = fmt.Sprintf("url is not an image (content type %q)", download.ContentType)
			return result
		}
		data, contentType = download.Data, download.ContentType
		if _, err := cache.Put(ctx, service.PutRequest{
			URL:         url,
			Data:        data,
			ContentType: contentType,
			Kind:        mediacache.KindImage,
			BrandName:   brandName,
			AdID:        adID,
		}); err != nil {
			result.Error = fmt.Sprintf("cache image: %v", err)
			return result
		}
	}

	payload, err := vision.AnalyzeImage(ctx, data, contentType, prompt)
	if err != nil {
		result.Error = fmt.Sprintf("analyze image: %v", err)
		return result
	}
	if err := cache.AttachAnalysis(ctx, url, payload); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("mcp: attach image analysis for %s: %v", url, err)
	}
	result.Analysis = payload
	return result
}

// VideoAnalysisInput requests analysis of one ad video.
type VideoAnalysisInput struct {
	VideoURL  string `json:"video_url" jsonschema:"video url to analyze"`
	Prompt    string `json:"prompt,omitempty" jsonschema:"optional analysis prompt override"`
	BrandName string `json:"brand_name,omitempty" jsonschema:"brand the video belongs to"`
	AdID      string `json:"ad_id,omitempty" jsonschema:"ad archive id the video belongs to"`
}

// VideoAnalysisOutput is the result of analyzing one video.
type VideoAnalysisOutput struct {
	Result MediaAnalysisResult `json:"result" jsonschema:"analysis result for the video"`
}

// AnalyzeVideoTool defines the MCP tool schema for single-video analysis.
func AnalyzeVideoTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "analyze_ad_video",
		Description: "Analyzes one video ad through the vision file API, serving repeats from the media cache",
	}
}

// AnalyzeVideoHandler analyzes one video ad.
func AnalyzeVideoHandler(cache *service.Cache, fetcher MediaFetcher, vision VisionClient) mcp.ToolHandlerFor[VideoAnalysisInput, VideoAnalysisOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VideoAnalysisInput) (*mcp.CallToolResult, VideoAnalysisOutput, error) {
		if input.VideoURL == "" {
			return nil, VideoAnalysisOutput{}, fmt.Errorf("video url is required")
		}
		prompt := input.Prompt
		if prompt == "" {
			prompt = defaultVideoPrompt
		}

		callCtx, cancel := context.WithTimeout(ctx, videoAnalysisTimeout)
		defer cancel()

		var handles []analysis.FileHandle
		defer func() { cleanupHandles(vision, handles) }()

		result := analyzeOneVideo(callCtx, cache, fetcher, vision, input.VideoURL, prompt, input.BrandName, input.AdID, &handles)
		return nil, VideoAnalysisOutput{Result: result}, nil
	}
}

// VideoBatchInput requests analysis of several ad videos in one call.
type VideoBatchInput struct {
	VideoURLs []string `json:"video_urls" jsonschema:"video urls to analyze"`
	Prompt    string   `json:"prompt,omitempty" jsonschema:"optional analysis prompt override"`
	BrandName string   `json:"brand_name,omitempty" jsonschema:"brand the videos belong to"`
	AdID      string   `json:"ad_id,omitempty" jsonschema:"ad archive id the videos belong to"`
}

// VideoBatchOutput carries one result per requested video URL.
type VideoBatchOutput struct {
	Results []MediaAnalysisResult `json:"results" jsonschema:"per-url analysis results"`
}

// AnalyzeVideosBatchTool defines the MCP tool schema for batch video analysis.
func AnalyzeVideosBatchTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "analyze_ad_videos_batch",
		Description: "Analyzes several video ads, sharing uploads and cleanup across the batch",
	}
}

// AnalyzeVideosBatchHandler analyzes many videos with shared file cleanup.
func AnalyzeVideosBatchHandler(cache *service.Cache, fetcher MediaFetcher, vision VisionClient) mcp.ToolHandlerFor[VideoBatchInput, VideoBatchOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VideoBatchInput) (*mcp.CallToolResult, VideoBatchOutput, error) {
		if len(input.VideoURLs) == 0 {
			return nil, VideoBatchOutput{}, fmt.Errorf("at least one video url is required")
		}
		prompt := input.Prompt
		if prompt == "" {
			prompt = defaultVideoPrompt
		}

		callCtx, cancel := context.WithTimeout(ctx, videoAnalysisTimeout)
		defer cancel()

		var handles []analysis.FileHandle
		defer func() { cleanupHandles(vision, handles) }()

		results := make([]MediaAnalysisResult, 0, len(input.VideoURLs))
		analyzed := make(map[string]MediaAnalysisResult, len(input.VideoURLs))
		for _, url := range input.VideoURLs {
			if done, ok := analyzed[url]; ok {
				results = append(results, done)
				continue
			}
			result := analyzeOneVideo(callCtx, cache, fetcher, vision, url, prompt, input.BrandName, input.AdID, &handles)
			analyzed[url] = result
			results = append(results, result)
		}
		return nil, VideoBatchOutput{Results: results}, nil
	}
}

func analyzeOneVideo(ctx context.Context, cache *service.Cache, fetcher MediaFetcher, vision VisionClient, url, prompt, brandName, adID string, handles *[]analysis.FileHandle) MediaAnalysisResult {
	result := MediaAnalysisResult{URL: url}

	var data []byte
	var contentType string
	entry, err := cache.GetCached(ctx, url, mediacache.KindVideo)
	switch {
	case err == nil:
		if entry.Analysis != nil {
			result.Cached = true
			result.Analysis = entry.Analysis
			return result
		}
		blobData, readErr := cache.ReadBlob(entry)
		if readErr != nil {
			result.Error = fmt.Sprintf("read cached video: %v", readErr)
			return result
		}
		data, contentType = blobData, entry.ContentType
	case errors.Is(err, storage.ErrNotFound):
		downloaded, downloadedType, fetchErr := fetcher.Fetch(ctx, url)
		if fetchErr != nil {
			result.Error = fmt.Sprintf("download video: %v", fetchErr)
			return result
		}
		if !fetch.IsVideo(downloadedType) {
			result.Error = fmt.Sprintf("url is not a video (content type %q)", downloadedType)
			return result
		}
		data, contentType = downloaded, downloadedType
		if _, putErr := cache.Put(ctx, service.PutRequest{
			URL:         url,
			Data:        data,
			ContentType: contentType,
			Kind:        mediacache.KindVideo,
			BrandName:   brandName,
			AdID:        adID,
		}); putErr != nil {
			result.Error = fmt.Sprintf("cache video: %v", putErr)
			return result
		}
	default:
		result.Error = fmt.Sprintf("cache lookup: %v", err)
		return result
	}

	handle, err := vision.UploadVideo(ctx, data, contentType)
	if err != nil {
		result.Error = fmt.Sprintf("upload video: %v", err)
		return result
	}
	*handles = append(*handles, handle)

	payload, err := vision.AnalyzeVideo(ctx, handle, prompt)
	if err != nil {
		result.Error = fmt.Sprintf("analyze video: %v", err)
		return result
	}
	if err := cache.AttachAnalysis(ctx, url, payload); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("mcp: attach video analysis for %s: %v", url, err)
	}
	result.Analysis = payload
	return result
}

// cleanupHandles deletes uploaded files once the tool call is done. Cleanup
// uses a fresh context so it still runs after the call context expires.
func cleanupHandles(vision VisionClient, handles []analysis.FileHandle) {
	if len(handles) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, handle := range handles {
		if err := vision.DeleteFile(ctx, handle); err != nil {
			log.Printf("mcp: cleanup uploaded file %s: %v", handle.Name, err)
		}
	}
}
