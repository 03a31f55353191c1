package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walinekit/sitestats"
	"github.com/walinekit/sitestats/internal/codec"
	"github.com/walinekit/sitestats/internal/codec/gzipcodec"
	"github.com/walinekit/sitestats/internal/codec/noopcodec"
	"github.com/walinekit/sitestats/internal/codec/zstdcodec"
	"github.com/walinekit/sitestats/internal/config"
	"github.com/walinekit/sitestats/internal/normalize"
	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/store"
	"github.com/walinekit/sitestats/internal/store/cachedstore"
	"github.com/walinekit/sitestats/internal/store/cachedstore/cachestrategy/lru"
	"github.com/walinekit/sitestats/internal/store/cachedstore/memory"
	"github.com/walinekit/sitestats/internal/store/diskstore"
	"github.com/walinekit/sitestats/internal/store/gcsstore"
	"github.com/walinekit/sitestats/internal/store/memstore"
	"github.com/walinekit/sitestats/internal/store/s3store"
	"github.com/walinekit/sitestats/internal/store/sqlstore"
)

// pageFetchTimeout bounds downloading the page itself.
const pageFetchTimeout = 30 * time.Second

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cfgFile, cmd.Flags())
}

// codecByName returns the record codec registered under name.
func codecByName(name string) (codec.Codec, error) {
	switch name {
	case "", "none":
		return noopcodec.New(), nil
	case "gzip":
		return gzipcodec.New(), nil
	case "zstd":
		return zstdcodec.New(), nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

// openStore builds the configured store, wrapped in an LRU memo unless the
// memo is disabled.
func openStore(ctx context.Context, cfg config.Store, collector stats.Collector) (store.Store, error) {
	c, err := codecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	var base store.Store
	switch cfg.Kind {
	case config.StoreMemory:
		return memstore.New(), nil
	case config.StoreDisk:
		if err = os.MkdirAll(cfg.Dir, 0o755); err == nil {
			base, err = diskstore.New(cfg.Dir, c)
		}
	case config.StoreGCS:
		base, err = gcsstore.New(ctx, cfg.Bucket, c, gcsstore.WithPrefix(cfg.Prefix))
	case config.StoreS3:
		opts := []s3store.Option{s3store.WithPrefix(cfg.Prefix)}
		if cfg.Region != "" {
			opts = append(opts, s3store.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(cfg.Endpoint))
		}
		base, err = s3store.New(ctx, cfg.Bucket, c, opts...)
	case config.StoreSQL:
		var opts []sqlstore.Option
		if cfg.Table != "" {
			opts = append(opts, sqlstore.WithTable(cfg.Table))
		}
		base, err = sqlstore.Open(ctx, cfg.Driver, cfg.DSN, opts...)
	default:
		return nil, fmt.Errorf("unknown store kind: %s", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Kind, err)
	}

	if cfg.MemoSize <= 0 {
		return base, nil
	}
	strategy, err := lru.New(cfg.MemoSize)
	if err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("creating LRU strategy: %w", err)
	}
	return cachedstore.New(base, memory.New(strategy, collector)), nil
}

// newClient builds a client from cfg.
func newClient(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector stats.Collector) (*sitestats.Client, error) {
	st, err := openStore(ctx, cfg.Store, collector)
	if err != nil {
		return nil, err
	}

	opts := []sitestats.Option{
		sitestats.WithStore(st),
		sitestats.WithCacheKey(cfg.CacheKey),
		sitestats.WithTTL(cfg.TTL),
		sitestats.WithMaxAttempts(cfg.MaxAttempts),
		sitestats.WithRetryDelay(cfg.RetryDelay),
		sitestats.WithAttemptTimeout(cfg.AttemptTimeout),
		sitestats.WithRateLimit(cfg.RateLimit, 1),
		sitestats.WithLang(cfg.Lang),
		sitestats.WithSelector(cfg.Selector),
		sitestats.WithPathPrefixes(cfg.PathPrefixes...),
		sitestats.WithStats(collector),
		sitestats.WithLogger(logger.Named("sitestats")),
	}
	for _, ep := range cfg.ResolvedEndpoints() {
		parser, err := normalize.NewParser(ep.Parser, cfg.Selector)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}
		opts = append(opts, sitestats.WithEndpoint(sitestats.Endpoint{
			Name:     ep.Name,
			BaseURL:  ep.URL,
			Parser:   parser,
			Priority: ep.Priority,
		}))
	}

	client, err := sitestats.New(opts...)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return client, nil
}

// loadPage reads the page HTML from file, or downloads pageURL when file is
// empty. "-" reads standard input.
func loadPage(ctx context.Context, file, pageURL string) (sitestats.Page, error) {
	page := sitestats.Page{URL: pageURL}

	var (
		data []byte
		err  error
	)
	switch {
	case file == "-":
		data, err = io.ReadAll(os.Stdin)
	case file != "":
		data, err = os.ReadFile(file)
	case pageURL != "":
		data, err = downloadPage(ctx, pageURL)
	default:
		return page, fmt.Errorf("a page file or --url is required")
	}
	if err != nil {
		return page, fmt.Errorf("loading page: %w", err)
	}
	page.HTML = string(data)
	return page, nil
}

func downloadPage(ctx context.Context, pageURL string) ([]byte, error) {
	return fetchPage(ctx, http.DefaultClient, pageURL)
}

func fetchPage(ctx context.Context, client *http.Client, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, pageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}
