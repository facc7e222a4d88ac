package cachectl

import (
	"context"
	"flag"
	"strings"
	"testing"

	mcpcmd "github.com/adscope/adscope/internal/cmd/mcp"
	"github.com/adscope/adscope/internal/services/mediacache"
	cacheservice "github.com/adscope/adscope/internal/services/mediacache/service"
)

func TestParseConfig(t *testing.T) {
	fs := flag.NewFlagSet("cachectl", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-stats", "-evict-days", "14", "-search-brand", "Acme"})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if !cfg.Stats || cfg.EvictDays != 14 || cfg.SearchBrand != "Acme" {
		t.Errorf("cfg = %+v, want stats, 14 days, Acme", cfg)
	}
}

func TestRunRequiresAction(t *testing.T) {
	var out strings.Builder
	if err := Run(context.Background(), Config{CacheDir: t.TempDir()}, &out); err == nil {
		t.Fatal("Run() error = nil, want nothing-to-do error")
	}
}

func TestRunStatsAndSearch(t *testing.T) {
	dir := t.TempDir()
	cache, closeCache, err := mcpcmd.OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}
	if _, err := cache.Put(context.Background(), cacheservice.PutRequest{
		URL:         "https://x/a.jpg",
		Data:        []byte("image bytes"),
		ContentType: "image/jpeg",
		Kind:        mediacache.KindImage,
		BrandName:   "Acme",
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := closeCache(); err != nil {
		t.Fatalf("closeCache() error = %v", err)
	}

	var out strings.Builder
	err = Run(context.Background(), Config{CacheDir: dir, Stats: true, SearchBrand: "Acme"}, &out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "files: 1") {
		t.Errorf("output missing stats line: %q", text)
	}
	if !strings.Contains(text, "https://x/a.jpg") {
		t.Errorf("output missing search hit: %q", text)
	}
	if !strings.Contains(text, `1 entries for brand "Acme"`) {
		t.Errorf("output missing search summary: %q", text)
	}
}

func TestRunEvict(t *testing.T) {
	dir := t.TempDir()

	var out strings.Builder
	if err := Run(context.Background(), Config{CacheDir: dir, EvictDays: 30}, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "evicted 0 files") {
		t.Errorf("output = %q, want eviction summary", out.String())
	}
}
