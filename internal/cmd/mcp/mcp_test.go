package mcp

import (
	"flag"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want 30s", cfg.FetchTimeout)
	}
}

func TestParseConfigFlagOverrides(t *testing.T) {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-adlib-api-key", "lib-key",
		"-vision-api-key", "vis-key",
		"-cache-dir", "/tmp/adscope-test",
		"-fetch-timeout", "90s",
	})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.AdLibAPIKey != "lib-key" {
		t.Errorf("AdLibAPIKey = %q, want lib-key", cfg.AdLibAPIKey)
	}
	if cfg.VisionAPIKey != "vis-key" {
		t.Errorf("VisionAPIKey = %q, want vis-key", cfg.VisionAPIKey)
	}
	if cfg.CacheDir != "/tmp/adscope-test" {
		t.Errorf("CacheDir = %q, want /tmp/adscope-test", cfg.CacheDir)
	}
	if cfg.FetchTimeout != 90*time.Second {
		t.Errorf("FetchTimeout = %v, want 90s", cfg.FetchTimeout)
	}
}

func TestParseConfigEnv(t *testing.T) {
	t.Setenv("ADSCOPE_CACHE_DIR", "/var/cache/adscope")
	t.Setenv("ADSCOPE_FETCH_TIMEOUT", "10s")

	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.CacheDir != "/var/cache/adscope" {
		t.Errorf("CacheDir = %q, want env value", cfg.CacheDir)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want 10s", cfg.FetchTimeout)
	}
}

func TestResolveCacheDir(t *testing.T) {
	if dir, err := ResolveCacheDir("/explicit"); err != nil || dir != "/explicit" {
		t.Errorf("ResolveCacheDir(explicit) = %q, %v", dir, err)
	}
	dir, err := ResolveCacheDir("")
	if err != nil {
		t.Fatalf("ResolveCacheDir(\"\") error = %v", err)
	}
	if filepath.Base(dir) != "adscope" {
		t.Errorf("default cache dir = %q, want adscope leaf", dir)
	}
}

func TestOpenCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cache, closeCache, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}
	if cache == nil {
		t.Fatal("OpenCache() cache = nil")
	}
	if err := closeCache(); err != nil {
		t.Errorf("closeCache() error = %v", err)
	}
}
