package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags.
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sitestats",
	Short: "Site-wide visitor statistics for Waline-powered blogs",
	Long: `Sitestats collects the article paths referenced by a blog page, asks one
or more Waline servers for their pageview counts, and caches the total.

Settings come from sitestats.yaml, SITESTATS_* environment variables (a .env
file is loaded first) and flags, in increasing precedence.

Examples:
  # Count pageviews for a saved page
  sitestats count index.html --url https://blog.example/ --server https://waline.example

  # Per-path breakdown
  sitestats report --url https://blog.example/

  # Serve the statistics over HTTP
  sitestats serve --addr :8080`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default ./sitestats.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	flags.String("server", "", "Waline server URL")
	flags.String("cache-key", "waline_global_stats", "cache entry key")
	flags.Duration("ttl", 5*time.Minute, "cache validity")
	flags.Int("max-attempts", 3, "attempts per endpoint")
	flags.Duration("retry-delay", time.Second, "delay unit between attempts")
	flags.Duration("attempt-timeout", 10*time.Second, "timeout of a single request")
	flags.Float64("rate-limit", 0, "maximum requests per second (0 for unlimited)")
	flags.String("lang", "", "lang parameter of the comment count query")

	flags.String("store", "disk", "cache store: memory, disk, gcs, s3 or sql")
	flags.String("store-dir", "./.sitestats", "directory of the disk store")
	flags.String("store-codec", "none", "record codec: none, gzip or zstd")
	flags.String("store-bucket", "", "bucket of the gcs or s3 store")
	flags.String("store-prefix", "", "object prefix of the gcs or s3 store")
	flags.String("store-endpoint", "", "custom endpoint of the s3 store")
	flags.String("store-region", "", "region of the s3 store")
	flags.String("store-driver", "sqlite", "driver of the sql store: sqlite or postgres")
	flags.String("store-dsn", "", "data source name of the sql store")
	flags.Int("memo-size", 16, "in-process memo entries (0 disables)")
}
