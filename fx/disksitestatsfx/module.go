// Package disksitestatsfx provides an fx module for a sitestats client
// caching on disk behind an in-process LRU memo.
package disksitestatsfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/walinekit/sitestats"
	"github.com/walinekit/sitestats/internal/codec/zstdcodec"
	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/stats/logger"
	"github.com/walinekit/sitestats/internal/store/cachedstore"
	"github.com/walinekit/sitestats/internal/store/cachedstore/cachestrategy/lru"
	"github.com/walinekit/sitestats/internal/store/cachedstore/memory"
	"github.com/walinekit/sitestats/internal/store/diskstore"
)

// Config holds configuration for the disk-backed client.
type Config struct {
	// DataDir is the directory holding the cache records.
	DataDir string

	// Endpoints are the pageview services to query.
	Endpoints []sitestats.Endpoint

	// MemoSize is the number of records memoized in memory.
	// Default is 16.
	MemoSize int
}

// Module provides a disk-backed sitestats client.
// Requires a *zap.Logger and a Config to be provided.
var Module = fx.Module("disksitestats",
	fx.Provide(
		newStatsCollector,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("sitestats.stats"))
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

// Result holds the provided client.
type Result struct {
	fx.Out

	Client *sitestats.Client
}

func newClient(p Params) (Result, error) {
	memoSize := p.Config.MemoSize
	if memoSize <= 0 {
		memoSize = 16
	}

	baseStore, err := diskstore.New(p.Config.DataDir, zstdcodec.New())
	if err != nil {
		return Result{}, err
	}

	lruStrategy, err := lru.New(memoSize)
	if err != nil {
		return Result{}, err
	}

	st := cachedstore.New(baseStore, memory.New(lruStrategy, p.Collector))

	opts := []sitestats.Option{
		sitestats.WithStore(st),
		sitestats.WithStats(p.Collector),
		sitestats.WithLogger(p.Logger.Named("sitestats")),
	}
	for _, ep := range p.Config.Endpoints {
		opts = append(opts, sitestats.WithEndpoint(ep))
	}

	client, err := sitestats.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return Result{Client: client}, nil
}
