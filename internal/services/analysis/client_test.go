package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{
		APIKey:       "vision-key",
		BaseURL:      server.URL,
		Model:        "test-model",
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func modelResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() error = nil, want api key error")
	}
}

func TestAnalyzeImage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "test-model:generateContent") {
			t.Errorf("path = %q, want generateContent on test-model", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "vision-key" {
			t.Errorf("key = %q, want vision-key", got)
		}
		var request struct {
			Contents []struct {
				Parts []map[string]any `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(request.Contents) != 1 || len(request.Contents[0].Parts) != 2 {
			t.Fatalf("request shape = %+v, want one content with two parts", request)
		}
		if request.Contents[0].Parts[0]["inline_data"] == nil {
			t.Error("first part missing inline_data")
		}
		json.NewEncoder(w).Encode(modelResponse(`{"summary":"a red shoe","people_description":"none visible"}`))
	}))

	payload, err := client.AnalyzeImage(context.Background(), []byte("img"), "image/jpeg", "describe")
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if payload.Summary != "a red shoe" {
		t.Errorf("Summary = %q, want a red shoe", payload.Summary)
	}
}

func TestAnalyzeImageFencedJSON(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(modelResponse("```json\n{\"summary\":\"fenced\"}\n```"))
	}))

	payload, err := client.AnalyzeImage(context.Background(), []byte("img"), "image/jpeg", "describe")
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if payload.Summary != "fenced" {
		t.Errorf("Summary = %q, want fenced", payload.Summary)
	}
}

func TestAnalyzeImageFreeTextFallback(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(modelResponse("The image shows a sneaker."))
	}))

	payload, err := client.AnalyzeImage(context.Background(), []byte("img"), "image/jpeg", "describe")
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if payload.Summary != "The image shows a sneaker." {
		t.Errorf("Summary = %q, want free text", payload.Summary)
	}
}

func TestAnalyzeImageErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"bad image"}`)
	}))

	_, err := client.AnalyzeImage(context.Background(), []byte("img"), "image/jpeg", "describe")
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("AnalyzeImage() error = %v, want status 400 error", err)
	}
}

func TestUploadAndAnalyzeVideo(t *testing.T) {
	var statusChecks int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/upload/v1beta/files"):
			if got := r.Header.Get("Content-Type"); got != "video/mp4" {
				t.Errorf("upload Content-Type = %q, want video/mp4", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"file": map[string]string{"name": "files/v1", "uri": "gs://files/v1", "state": "PROCESSING"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1beta/files/v1":
			statusChecks++
			state := "PROCESSING"
			if statusChecks >= 2 {
				state = "ACTIVE"
			}
			json.NewEncoder(w).Encode(map[string]string{"name": "files/v1", "uri": "gs://files/v1", "state": state})
		case strings.Contains(r.URL.Path, ":generateContent"):
			json.NewEncoder(w).Encode(modelResponse(`{"summary":"a product demo","duration_hint":"short"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1beta/files/v1":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	ctx := context.Background()

	handle, err := client.UploadVideo(ctx, []byte("video bytes"), "video/mp4")
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}
	if handle.Name != "files/v1" || handle.URI != "gs://files/v1" {
		t.Fatalf("handle = %+v", handle)
	}
	if statusChecks < 2 {
		t.Errorf("status checks = %d, want at least 2 (poll until active)", statusChecks)
	}

	payload, err := client.AnalyzeVideo(ctx, handle, "describe the video")
	if err != nil {
		t.Fatalf("AnalyzeVideo() error = %v", err)
	}
	if payload.Summary != "a product demo" {
		t.Errorf("Summary = %q, want a product demo", payload.Summary)
	}

	if err := client.DeleteFile(ctx, handle); err != nil {
		t.Errorf("DeleteFile() error = %v", err)
	}
}

func TestUploadVideoFailedProcessing(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]string{"name": "files/bad", "state": "FAILED"},
		})
	}))

	if _, err := client.UploadVideo(context.Background(), []byte("v"), "video/mp4"); err == nil {
		t.Fatal("UploadVideo() error = nil, want processing failure")
	}
}

func TestUploadVideosPartialFailure(t *testing.T) {
	var uploads int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		if uploads == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]string{"name": fmt.Sprintf("files/v%d", uploads), "uri": "gs://x", "state": "ACTIVE"},
		})
	}))

	handles, err := client.UploadVideos(context.Background(),
		[][]byte{[]byte("a"), []byte("b")}, []string{"video/mp4", "video/mp4"})
	if err != nil {
		t.Fatalf("UploadVideos() error = %v", err)
	}
	if len(handles) != 1 {
		t.Errorf("UploadVideos() returned %d handles, want 1", len(handles))
	}
}

func TestUploadVideosAllFail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if _, err := client.UploadVideos(context.Background(), [][]byte{[]byte("a")}, []string{"video/mp4"}); err == nil {
		t.Fatal("UploadVideos() error = nil, want total failure error")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
