// Package analysis talks to a Gemini-style vision REST API. Images are sent
// inline; videos go through the file API (upload, poll, analyze, delete).
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	mediaanalysis "github.com/adscope/adscope/internal/services/mediacache/analysis"
)

const (
	defaultBaseURL      = "https://generativelanguage.googleapis.com"
	defaultModel        = "gemini-2.5-flash-preview-09-2025"
	defaultPollInterval = 2 * time.Second
	maxPollAttempts     = 60
)

// Config configures the vision client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	// PollInterval is the delay between upload-state checks.
	PollInterval time.Duration
}

// Client is a vision API client. Safe for concurrent use.
type Client struct {
	cfg Config
}

// FileHandle identifies a video uploaded to the file API.
type FileHandle struct {
	Name     string
	URI      string
	MimeType string
}

// New builds a vision client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("vision api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Client{cfg: cfg}, nil
}

type generatePart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	} `json:"inline_data,omitempty"`
	FileData *struct {
		MimeType string `json:"mime_type,omitempty"`
		FileURI  string `json:"file_uri"`
	} `json:"file_data,omitempty"`
}

// AnalyzeImage sends image bytes with a prompt and returns the structured
// payload. A response that is not payload JSON comes back as free text.
func (c *Client) AnalyzeImage(ctx context.Context, data []byte, contentType, prompt string) (*mediaanalysis.Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("image bytes are required")
	}
	part := generatePart{}
	part.InlineData = &struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	}{MimeType: contentType, Data: base64.StdEncoding.EncodeToString(data)}

	text, err := c.generate(ctx, []generatePart{part, {Text: prompt}})
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	return decodeOrFreeText(text), nil
}

// AnalyzeVideo analyzes a previously uploaded video.
func (c *Client) AnalyzeVideo(ctx context.Context, handle FileHandle, prompt string) (*mediaanalysis.Payload, error) {
	if strings.TrimSpace(handle.URI) == "" {
		return nil, fmt.Errorf("file handle is required")
	}
	part := generatePart{}
	part.FileData = &struct {
		MimeType string `json:"mime_type,omitempty"`
		FileURI  string `json:"file_uri"`
	}{MimeType: handle.MimeType, FileURI: handle.URI}

	text, err := c.generate(ctx, []generatePart{part, {Text: prompt}})
	if err != nil {
		return nil, fmt.Errorf("analyze video %s: %w", handle.Name, err)
	}
	return decodeOrFreeText(text), nil
}

func (c *Client) generate(ctx context.Context, parts []generatePart) (string, error) {
	requestBody, err := json.Marshal(map[string]any{
		"contents": []map[string]any{{"parts": parts}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return "", fmt.Errorf("read generate error body: %w", readErr)
		}
		return "", fmt.Errorf("generate status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if len(payload.Candidates) == 0 {
		return "", fmt.Errorf("empty model response")
	}
	var builder strings.Builder
	for _, part := range payload.Candidates[0].Content.Parts {
		builder.WriteString(part.Text)
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}

// UploadVideo pushes video bytes to the file API and waits until the file is
// ready for analysis.
func (c *Client) UploadVideo(ctx context.Context, data []byte, contentType string) (FileHandle, error) {
	if len(data) == 0 {
		return FileHandle{}, fmt.Errorf("video bytes are required")
	}

	url := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.cfg.BaseURL, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return FileHandle{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return FileHandle{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 4096))
		if readErr != nil {
			return FileHandle{}, fmt.Errorf("read upload error body: %w", readErr)
		}
		return FileHandle{}, fmt.Errorf("upload status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	state, err := decodeFileState(res.Body)
	if err != nil {
		return FileHandle{}, err
	}
	return c.awaitFileReady(ctx, state, contentType)
}

type fileState struct {
	Name  string
	URI   string
	State string
}

func decodeFileState(body io.Reader) (fileState, error) {
	var payload struct {
		File struct {
			Name  string `json:"name"`
			URI   string `json:"uri"`
			State string `json:"state"`
		} `json:"file"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return fileState{}, fmt.Errorf("decode file response: %w", err)
	}
	return fileState{Name: payload.File.Name, URI: payload.File.URI, State: payload.File.State}, nil
}

func (c *Client) awaitFileReady(ctx context.Context, state fileState, contentType string) (FileHandle, error) {
	for attempts := 0; state.State == "PROCESSING"; attempts++ {
		if attempts >= maxPollAttempts {
			return FileHandle{}, fmt.Errorf("file %s still processing after %d checks", state.Name, attempts)
		}
		select {
		case <-ctx.Done():
			return FileHandle{}, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
		var err error
		state, err = c.fileStatus(ctx, state.Name)
		if err != nil {
			return FileHandle{}, err
		}
	}
	if state.State == "FAILED" {
		return FileHandle{}, fmt.Errorf("file %s failed processing", state.Name)
	}
	return FileHandle{Name: state.Name, URI: state.URI, MimeType: contentType}, nil
}

func (c *Client) fileStatus(ctx context.Context, name string) (fileState, error) {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.cfg.BaseURL, name, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fileState{}, fmt.Errorf("build status request: %w", err)
	}
	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fileState{}, fmt.Errorf("status request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fileState{}, fmt.Errorf("status request status %d", res.StatusCode)
	}

	var payload struct {
		Name  string `json:"name"`
		URI   string `json:"uri"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fileState{}, fmt.Errorf("decode status response: %w", err)
	}
	return fileState{Name: payload.Name, URI: payload.URI, State: payload.State}, nil
}

// UploadVideos uploads many videos, tolerating per-file failures. It fails
// only when nothing uploads; partial failures are logged.
func (c *Client) UploadVideos(ctx context.Context, videos [][]byte, contentTypes []string) ([]FileHandle, error) {
	if len(videos) != len(contentTypes) {
		return nil, fmt.Errorf("got %d videos but %d content types", len(videos), len(contentTypes))
	}
	var handles []FileHandle
	var failures int
	for i, data := range videos {
		handle, err := c.UploadVideo(ctx, data, contentTypes[i])
		if err != nil {
			failures++
			log.Printf("analysis: upload video %d: %v", i, err)
			continue
		}
		handles = append(handles, handle)
	}
	if len(handles) == 0 && failures > 0 {
		return nil, fmt.Errorf("all %d video uploads failed", failures)
	}
	return handles, nil
}

// DeleteFile removes an uploaded file. Callers treat this as best-effort
// cleanup and usually ignore the error.
func (c *Client) DeleteFile(ctx context.Context, handle FileHandle) error {
	if strings.TrimSpace(handle.Name) == "" {
		return nil
	}
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.cfg.BaseURL, handle.Name, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("delete status %d", res.StatusCode)
	}
	return nil
}

// DeleteFiles removes many uploaded files, logging failures.
func (c *Client) DeleteFiles(ctx context.Context, handles []FileHandle) {
	for _, handle := range handles {
		if err := c.DeleteFile(ctx, handle); err != nil {
			log.Printf("analysis: cleanup file %s: %v", handle.Name, err)
		}
	}
}

// decodeOrFreeText parses model output as a structured payload, falling back
// to a free-text payload when the output is not valid JSON.
func decodeOrFreeText(text string) *mediaanalysis.Payload {
	payload, err := mediaanalysis.Decode([]byte(stripCodeFence(text)))
	if err != nil || payload == nil {
		return mediaanalysis.FreeText(text)
	}
	return payload
}

// stripCodeFence unwraps ```json fenced blocks that models often emit around
// structured output.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
