// Package memorysitestatsfx provides an fx module for a sitestats client
// caching in memory. Useful for testing.
package memorysitestatsfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/walinekit/sitestats"
	"github.com/walinekit/sitestats/internal/stats"
	"github.com/walinekit/sitestats/internal/stats/logger"
	"github.com/walinekit/sitestats/internal/store/memstore"
)

// Config holds configuration for the in-memory client.
type Config struct {
	// ServerURL is the Waline server to query.
	ServerURL string

	// Options are applied after the module's own options.
	Options []sitestats.Option
}

// Module provides an in-memory sitestats client for testing.
// Requires a *zap.Logger and a Config to be provided.
var Module = fx.Module("memorysitestats",
	fx.Provide(
		newStatsCollector,
		newMemStore,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("sitestats.stats"))
}

func newMemStore() *memstore.Store {
	return memstore.New()
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Store     *memstore.Store // Also injectable for test setup
	Lifecycle fx.Lifecycle
}

func newClient(p Params) (*sitestats.Client, error) {
	opts := []sitestats.Option{
		sitestats.WithStore(p.Store),
		sitestats.WithServerURL(p.Config.ServerURL),
		sitestats.WithStats(p.Collector),
		sitestats.WithLogger(p.Logger.Named("sitestats")),
	}
	client, err := sitestats.New(append(opts, p.Config.Options...)...)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}
