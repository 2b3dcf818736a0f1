package chart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-ticker/internal/market"
	"price-ticker/internal/storage"
)

// SampleLister reads locally recorded history.
type SampleLister interface {
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]storage.PriceSample, error)
}

// AdapterOptions configure series caching and image size.
type AdapterOptions struct {
	CacheTTL time.Duration
	Render   RenderOptions
}

type cachedSeries struct {
	points    []market.SeriesPoint
	fetchedAt time.Time
}

// Adapter fetches a series per period from the upstream history endpoint,
// falls back to local samples, and reuses results for CacheTTL.
type Adapter struct {
	opts    AdapterOptions
	history market.HistoryProvider
	local   SampleLister
	now     func() time.Time
	logger  zerolog.Logger

	mu    sync.Mutex
	cache map[market.Period]cachedSeries
}

// NewAdapter builds an Adapter. Either source may be nil.
func NewAdapter(opts AdapterOptions, history market.HistoryProvider, local SampleLister, logger zerolog.Logger) *Adapter {
	return &Adapter{
		opts:    opts,
		history: history,
		local:   local,
		now:     time.Now,
		logger:  logger.With().Str("component", "chart").Logger(),
		cache:   make(map[market.Period]cachedSeries),
	}
}

// WithClock overrides the time source.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// Series returns the cleaned series for period.
func (a *Adapter) Series(ctx context.Context, period market.Period) ([]market.SeriesPoint, error) {
	now := a.now()

	a.mu.Lock()
	if entry, ok := a.cache[period]; ok && a.opts.CacheTTL > 0 && now.Sub(entry.fetchedAt) < a.opts.CacheTTL {
		a.mu.Unlock()
		return entry.points, nil
	}
	a.mu.Unlock()

	points, err := a.fetch(ctx, period, now)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[period] = cachedSeries{points: points, fetchedAt: now}
	a.mu.Unlock()
	return points, nil
}

func (a *Adapter) fetch(ctx context.Context, period market.Period, now time.Time) ([]market.SeriesPoint, error) {
	var upstreamErr error
	if a.history != nil {
		points, err := a.history.FetchHistory(ctx, period)
		if err == nil {
			if cleaned := Clean(points); len(cleaned) >= 2 {
				return cleaned, nil
			}
			err = ErrEmptySeries
		}
		upstreamErr = err
		a.logger.Warn().Err(err).Str("period", string(period)).Msg("upstream history unavailable, trying local samples")
	}

	if a.local != nil {
		samples, err := a.local.ListSamplesBetween(ctx, now.Add(-period.Lookback()), now)
		if err != nil {
			return nil, errors.Join(upstreamErr, fmt.Errorf("local history: %w", err))
		}
		points := make([]market.SeriesPoint, 0, len(samples))
		for _, s := range samples {
			points = append(points, s.SeriesPoint())
		}
		points = Downsample(Clean(points), period.Samples())
		if len(points) >= 2 {
			return points, nil
		}
	}

	if upstreamErr != nil && !errors.Is(upstreamErr, ErrEmptySeries) {
		return nil, fmt.Errorf("%w: %w", ErrEmptySeries, upstreamErr)
	}
	return nil, ErrEmptySeries
}

// Render fetches or reuses the series for period and draws it to w.
func (a *Adapter) Render(ctx context.Context, w io.Writer, period market.Period) error {
	points, err := a.Series(ctx, period)
	if err != nil {
		return err
	}
	return RenderSeries(w, points, period, a.opts.Render)
}

// Invalidate drops every cached series.
func (a *Adapter) Invalidate() {
	a.mu.Lock()
	a.cache = make(map[market.Period]cachedSeries)
	a.mu.Unlock()
}
