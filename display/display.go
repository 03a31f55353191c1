// Package display drives statistic widgets from a sitestats client: a
// pageview widget and an activity widget, each updated independently.
package display

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/walinekit/sitestats"
)

// Failure is the text a widget shows when its value is unavailable.
const Failure = "-"

// Reasons attached to failed widgets.
const (
	ReasonPageviews = "statistics failed to load"
	ReasonActivity  = "unique visitors are not tracked; the comment count is shown as activity"
)

// Renderer is a widget that shows one number.
type Renderer interface {
	// SetLoading shows that a network fetch is in progress.
	SetLoading()

	// SetTotal shows n.
	SetTotal(n int64)

	// SetFailure shows Failure, with reason as an explanation when non-empty.
	SetFailure(reason string)
}

// Source is the subset of *sitestats.Client the updater needs.
type Source interface {
	Cached(ctx context.Context) (pv, uv *int64)
	Refresh(ctx context.Context, page sitestats.Page) (sitestats.Result, error)
	RefreshActivity(ctx context.Context) (sitestats.Result, error)
}

// Compile-time check that *sitestats.Client implements Source.
var _ Source = (*sitestats.Client)(nil)

// Updater refreshes the configured widgets. It keeps no state between calls,
// so Update can run again whenever the page changes.
type Updater struct {
	source    Source
	pageviews Renderer
	activity  Renderer
	logger    *zap.Logger
}

// Option configures an Updater.
type Option interface {
	apply(*Updater)
}

type optionFunc func(*Updater)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(u *Updater) { f(u) }

// WithPageviews sets the widget showing the pageview total.
func WithPageviews(r Renderer) Option {
	return optionFunc(func(u *Updater) {
		u.pageviews = r
	})
}

// WithActivity sets the widget showing the activity count.
func WithActivity(r Renderer) Option {
	return optionFunc(func(u *Updater) {
		u.activity = r
	})
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(u *Updater) {
		u.logger = l
	})
}

// New returns an Updater reading from source.
func New(source Source, opts ...Option) *Updater {
	u := &Updater{
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt.apply(u)
	}
	return u
}

// Update refreshes every configured widget concurrently. Failures are logged
// and rendered; they are never returned.
func (u *Updater) Update(ctx context.Context, page sitestats.Page) {
	if u.pageviews == nil && u.activity == nil {
		u.logger.Debug("no widgets configured")
		return
	}

	var g errgroup.Group
	if u.pageviews != nil {
		g.Go(func() error {
			u.updatePageviews(ctx, page)
			return nil
		})
	}
	if u.activity != nil {
		g.Go(func() error {
			u.updateActivity(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (u *Updater) updatePageviews(ctx context.Context, page sitestats.Page) {
	if pv, _ := u.source.Cached(ctx); pv == nil {
		u.pageviews.SetLoading()
	}

	res, err := u.source.Refresh(ctx, page)
	if err != nil {
		u.logger.Error("updating pageviews", zap.Error(err))
		u.pageviews.SetFailure(ReasonPageviews)
		return
	}
	u.pageviews.SetTotal(res.Total)
}

func (u *Updater) updateActivity(ctx context.Context) {
	if _, uv := u.source.Cached(ctx); uv == nil {
		u.activity.SetLoading()
	}

	res, err := u.source.RefreshActivity(ctx)
	if err != nil {
		u.logger.Error("updating activity", zap.Error(err))
		u.activity.SetFailure(ReasonActivity)
		return
	}
	if res.FromCache && res.Total == 0 {
		u.activity.SetFailure("")
		return
	}
	u.activity.SetTotal(res.Total)
}
