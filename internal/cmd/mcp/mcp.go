// Package mcp parses MCP command flags and runs the stdio tool server.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/adscope/adscope/internal/platform/config"
	"github.com/adscope/adscope/internal/platform/otel"
	"github.com/adscope/adscope/internal/services/adsource"
	"github.com/adscope/adscope/internal/services/analysis"
	"github.com/adscope/adscope/internal/services/fetch"
	mcpservice "github.com/adscope/adscope/internal/services/mcp/service"
	"github.com/adscope/adscope/internal/services/mediacache/blob"
	cacheservice "github.com/adscope/adscope/internal/services/mediacache/service"
	"github.com/adscope/adscope/internal/services/mediacache/storage/sqlite"
)

// Config holds MCP command configuration.
type Config struct {
	AdLibAPIKey  string        `env:"ADSCOPE_ADLIB_API_KEY"`
	VisionAPIKey string        `env:"ADSCOPE_VISION_API_KEY"`
	VisionModel  string        `env:"ADSCOPE_VISION_MODEL"`
	CacheDir     string        `env:"ADSCOPE_CACHE_DIR"`
	FetchTimeout time.Duration `env:"ADSCOPE_FETCH_TIMEOUT" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.AdLibAPIKey, "adlib-api-key", cfg.AdLibAPIKey, "ad library API key")
	fs.StringVar(&cfg.VisionAPIKey, "vision-api-key", cfg.VisionAPIKey, "vision API key")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "media cache directory")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "media download timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolveCacheDir returns the configured cache directory, defaulting to a
// directory under the user cache dir.
func ResolveCacheDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "adscope"), nil
}

// OpenCache builds the media cache rooted at dir, creating it if needed.
// The returned closer releases the metadata store.
func OpenCache(dir string) (*cacheservice.Cache, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	blobs, err := blob.New(dir)
	if err != nil {
		return nil, nil, err
	}
	meta, err := sqlite.Open(filepath.Join(dir, "media_cache.db"))
	if err != nil {
		return nil, nil, err
	}
	cache, err := cacheservice.New(blobs, meta)
	if err != nil {
		_ = meta.Close()
		return nil, nil, err
	}
	return cache, meta.Close, nil
}

// Run starts the MCP tool server on stdio.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "mcp")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	cacheDir, err := ResolveCacheDir(cfg.CacheDir)
	if err != nil {
		return err
	}
	cache, closeCache, err := OpenCache(cacheDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil {
			log.Printf("close metadata store: %v", err)
		}
	}()

	adSource, err := adsource.New(adsource.Config{APIKey: cfg.AdLibAPIKey})
	if err != nil {
		return err
	}
	vision, err := analysis.New(analysis.Config{APIKey: cfg.VisionAPIKey, Model: cfg.VisionModel})
	if err != nil {
		return err
	}
	fetcher := fetch.New(&http.Client{Timeout: cfg.FetchTimeout})

	server, err := mcpservice.NewServer(mcpservice.Deps{
		Cache:    cache,
		AdSource: adSource,
		Fetcher:  fetcher,
		Vision:   vision,
	})
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
