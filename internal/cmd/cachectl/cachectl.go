// Package cachectl is the operator CLI for local media cache maintenance.
package cachectl

import (
	"context"
	"flag"
	"fmt"
	"io"

	mcpcmd "github.com/adscope/adscope/internal/cmd/mcp"
	"github.com/adscope/adscope/internal/platform/config"
	"github.com/adscope/adscope/internal/services/mediacache/storage"
)

// Config holds cachectl command configuration.
type Config struct {
	CacheDir string `env:"ADSCOPE_CACHE_DIR"`

	Stats       bool
	EvictDays   int
	SearchBrand string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "media cache directory")
	fs.BoolVar(&cfg.Stats, "stats", false, "print cache statistics")
	fs.IntVar(&cfg.EvictDays, "evict-days", 0, "evict entries created more than N days ago")
	fs.StringVar(&cfg.SearchBrand, "search-brand", "", "list cached media for a brand")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the requested maintenance action against the local cache.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if !cfg.Stats && cfg.EvictDays <= 0 && cfg.SearchBrand == "" {
		return fmt.Errorf("nothing to do: pass -stats, -evict-days or -search-brand")
	}

	cacheDir, err := mcpcmd.ResolveCacheDir(cfg.CacheDir)
	if err != nil {
		return err
	}
	cache, closeCache, err := mcpcmd.OpenCache(cacheDir)
	if err != nil {
		return err
	}
	defer closeCache()

	if cfg.Stats {
		stats, err := cache.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "files: %d (%d analyzed), %d bytes, %d brands\n",
			stats.TotalFiles, stats.AnalyzedFiles, stats.TotalSizeBytes, stats.UniqueBrands)
		fmt.Fprintf(out, "images: %d (%d bytes)\n", stats.Images.Count, stats.Images.SizeBytes)
		fmt.Fprintf(out, "videos: %d (%d bytes), avg duration %.1fs\n",
			stats.Videos.Count, stats.Videos.SizeBytes, stats.AvgVideoDurationSeconds)
	}

	if cfg.SearchBrand != "" {
		entries, err := cache.Search(ctx, storage.SearchFilter{BrandName: cfg.SearchBrand})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			analyzed := " "
			if entry.Analysis != nil {
				analyzed = "*"
			}
			fmt.Fprintf(out, "%s %-5s %10d  %s\n", analyzed, entry.Kind, entry.SizeBytes, entry.OriginalURL)
		}
		fmt.Fprintf(out, "%d entries for brand %q\n", len(entries), cfg.SearchBrand)
	}

	if cfg.EvictDays > 0 {
		report, err := cache.EvictOlderThan(ctx, cfg.EvictDays)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "evicted %d files (%d images, %d videos), freed %d bytes\n",
			report.FilesRemoved, report.ImagesRemoved, report.VideosRemoved, report.BytesFreed)
	}
	return nil
}
