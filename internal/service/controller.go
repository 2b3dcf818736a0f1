// Package service runs the fetch, reconcile, render and alert loop.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-ticker/internal/alerting"
	"price-ticker/internal/alerts"
	"price-ticker/internal/format"
	"price-ticker/internal/market"
	"price-ticker/internal/observability"
	"price-ticker/internal/render"
	"price-ticker/internal/scheduler"
	"price-ticker/internal/storage"
)

// Drop reasons reported by Request.
const (
	DropInFlight = "in_flight"
	DropSpacing  = "spacing"
	DropStopped  = "stopped"
)

// Options tune the refresh loop.
type Options struct {
	Interval      time.Duration
	MinSpacing    time.Duration
	FetchTimeout  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	HealthCheck   bool
	Symbol        string
	LockKey       int64
}

// AlertBook evaluates alert rules against a fresh price.
type AlertBook interface {
	Evaluate(ctx context.Context, price decimal.Decimal) []alerts.Rule
	Pending() int
}

// SampleRecorder persists fresh readings.
type SampleRecorder interface {
	UpsertSample(ctx context.Context, sample storage.PriceSample) error
}

// Deps are the collaborators of a Controller. Provider and Renderer are
// required; everything else is optional.
type Deps struct {
	Provider market.Provider
	Renderer render.Renderer
	Alerts   AlertBook
	Notifier alerting.Notifier
	Samples  SampleRecorder
	Locker   storage.AdvisoryLocker
	Metrics  *observability.Metrics
	Runner   scheduler.Runner
	Clock    scheduler.Clock
	Sleep    func(ctx context.Context, d time.Duration) error
}

type cacheEntry struct {
	point      market.PricePoint
	capturedAt time.Time
}

// Controller owns the refresh session and the one-entry cache.
type Controller struct {
	opts     Options
	provider market.Provider
	renderer render.Renderer
	book     AlertBook
	notifier alerting.Notifier
	samples  SampleRecorder
	locker   storage.AdvisoryLocker
	metrics  *observability.Metrics
	runner   scheduler.Runner
	clock    scheduler.Clock
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger

	// cycleMu serializes cycles.
	cycleMu  sync.Mutex
	inFlight atomic.Bool

	guardMu     sync.Mutex
	lastStarted time.Time
	stopped     bool

	cacheMu sync.RWMutex
	cache   *cacheEntry

	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	async   sync.WaitGroup
}

// New constructs the controller.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Controller, error) {
	if deps.Provider == nil {
		return nil, errors.New("service: provider is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("service: renderer is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("service: interval must be positive")
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}

	c := &Controller{
		opts:     opts,
		provider: deps.Provider,
		renderer: deps.Renderer,
		book:     deps.Alerts,
		notifier: deps.Notifier,
		samples:  deps.Samples,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		runner:   deps.Runner,
		clock:    deps.Clock,
		sleep:    deps.Sleep,
		logger:   logger.With().Str("component", "controller").Str("provider", deps.Provider.Name()).Logger(),
	}
	if c.runner == nil {
		c.runner = scheduler.New(scheduler.Options{Interval: opts.Interval}, logger)
	}
	if c.clock == nil {
		c.clock = scheduler.NewRealClock()
	}
	if c.sleep == nil {
		c.sleep = scheduler.Sleep
	}
	return c, nil
}

// Start runs the optional health check, one immediate cycle, and then
// schedules Request every interval. Calling Start on a running controller
// is a no-op.
func (c *Controller) Start(ctx context.Context) {
	c.lifeMu.Lock()
	if c.running {
		c.lifeMu.Unlock()
		c.logger.Debug().Msg("start ignored, already running")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.lifeMu.Unlock()

	c.guardMu.Lock()
	c.stopped = false
	c.guardMu.Unlock()

	c.logger.Info().Dur("interval", c.opts.Interval).
		Dur("min_spacing", c.opts.MinSpacing).
		Msg("refresh loop starting")

	if err := c.checkHealth(ctx); err != nil {
		c.logger.Error().Err(err).Msg("health check failed, skipping initial refresh")
		c.degrade(ctx, fmt.Errorf("health check: %w", err))
	} else {
		c.Request(ctx)
	}

	go func() {
		defer close(done)
		err := c.runner.Run(runCtx, func(tickCtx context.Context, _ time.Time) error {
			// a cycle that has started finishes even if Stop is called meanwhile
			c.Request(context.WithoutCancel(tickCtx))
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("scheduler exited")
		}
	}()
}

// Stop cancels the schedule and waits for an in-flight cycle to finish. No
// cycle starts after Stop returns.
func (c *Controller) Stop() {
	c.guardMu.Lock()
	c.stopped = true
	c.guardMu.Unlock()

	c.lifeMu.Lock()
	if !c.running {
		c.lifeMu.Unlock()
		c.async.Wait()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.lifeMu.Unlock()

	cancel()
	<-done
	c.async.Wait()
	c.logger.Info().Msg("refresh loop stopped")
}

// Running reports whether the schedule is armed.
func (c *Controller) Running() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.running
}

// Request runs one cycle unless another is in flight or the last one started
// less than MinSpacing ago. Dropped requests return false.
func (c *Controller) Request(ctx context.Context) bool {
	if !c.admit() {
		return false
	}
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	defer c.inFlight.Store(false)
	c.cycle(ctx)
	return true
}

// Trigger is Request with the cycle run in the background, detached from
// ctx cancellation. It reports whether the cycle was admitted.
func (c *Controller) Trigger(ctx context.Context) bool {
	if !c.admit() {
		return false
	}
	detached := context.WithoutCancel(ctx)
	c.async.Add(1)
	go func() {
		defer c.async.Done()
		c.cycleMu.Lock()
		defer c.cycleMu.Unlock()
		defer c.inFlight.Store(false)
		c.cycle(detached)
	}()
	return true
}

// RefreshOnce performs exactly one cycle, waiting for any cycle in flight.
// It returns the fresh reading, or nil when every attempt failed.
func (c *Controller) RefreshOnce(ctx context.Context) *market.PricePoint {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	c.guardMu.Lock()
	c.lastStarted = c.clock.Now()
	c.guardMu.Unlock()

	return c.cycle(ctx)
}

// Cached returns the last fresh reading and when it was captured.
func (c *Controller) Cached() (market.PricePoint, time.Time, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	if c.cache == nil {
		return market.PricePoint{}, time.Time{}, false
	}
	return c.cache.point, c.cache.capturedAt, true
}

func (c *Controller) admit() bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.drop(DropInFlight)
		return false
	}

	c.guardMu.Lock()
	defer c.guardMu.Unlock()

	reason := ""
	now := c.clock.Now()
	switch {
	case c.stopped:
		reason = DropStopped
	case !c.lastStarted.IsZero() && now.Sub(c.lastStarted) < c.opts.MinSpacing:
		reason = DropSpacing
	}
	if reason != "" {
		c.inFlight.Store(false)
		c.drop(reason)
		return false
	}
	c.lastStarted = now
	return true
}

func (c *Controller) drop(reason string) {
	c.metrics.ObserveDrop(reason)
	c.logger.Debug().Str("reason", reason).Msg("refresh request dropped")
}

// cycle runs fetch, reconcile, render, persist and alert in that order.
// Callers hold cycleMu.
func (c *Controller) cycle(ctx context.Context) *market.PricePoint {
	started := c.clock.Now()

	point, err := c.fetchWithRetry(ctx)
	if err != nil {
		outcome := c.degrade(ctx, err)
		c.metrics.ObserveCycle(outcome, c.clock.Now().Sub(started))
		return nil
	}

	c.cacheMu.Lock()
	c.cache = &cacheEntry{point: point, capturedAt: c.clock.Now()}
	c.cacheMu.Unlock()

	c.renderer.Render(&point, render.Flags{})

	c.exclusive(ctx, func() {
		c.record(ctx, point)
		c.evaluate(ctx, point)
	})

	c.metrics.ObservePrice(point.Price.InexactFloat64(), point.ObservedAt)
	c.metrics.ObserveCycle(observability.OutcomeLive, c.clock.Now().Sub(started))
	c.logger.Info().Str("price", point.Price.String()).
		Time("observed_at", point.ObservedAt).
		Msg("refresh complete")

	out := point
	return &out
}

func (c *Controller) fetchWithRetry(ctx context.Context) (market.PricePoint, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		point, err := c.fetchOnce(ctx)
		if err == nil {
			return point, nil
		}
		lastErr = err
		c.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.opts.RetryAttempts).
			Str("kind", string(market.KindOf(err))).
			Msg("fetch attempt failed")

		if attempt == c.opts.RetryAttempts || ctx.Err() != nil {
			break
		}
		if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}
	return market.PricePoint{}, fmt.Errorf("fetch failed after retries: %w", lastErr)
}

func (c *Controller) fetchOnce(ctx context.Context) (market.PricePoint, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	name := c.provider.Name()
	start := time.Now()
	point, err := c.provider.FetchLatest(attemptCtx)
	if err == nil {
		err = point.Validate()
	}
	if err != nil {
		c.metrics.ObserveFetch(name, string(market.KindOf(err)), time.Since(start))
		return market.PricePoint{}, err
	}
	c.metrics.ObserveFetch(name, "ok", time.Since(start))

	if point.Source == "" {
		point.Source = name
	}
	if point.ObservedAt.IsZero() {
		point.ObservedAt = c.clock.Now()
	}
	return point, nil
}

// degrade renders the cached reading, or the error state when there is none,
// and returns the resulting outcome label.
func (c *Controller) degrade(ctx context.Context, cause error) string {
	cached, capturedAt, ok := c.Cached()
	if ok {
		c.logger.Error().Err(cause).Time("cached_at", capturedAt).Msg("refresh failed, showing cached data")
		c.renderer.Render(&cached, render.Flags{Cached: true})
		c.notify(ctx, alerting.New(alerting.SeverityWarning, "Using cached data",
			fmt.Sprintf("Live data unavailable, showing price from %s", capturedAt.UTC().Format(time.RFC3339))))
		return observability.OutcomeCached
	}

	c.logger.Error().Err(cause).Msg("refresh failed, no cached data")
	c.renderer.Render(nil, render.Flags{Error: true})
	c.notify(ctx, alerting.New(alerting.SeverityError, render.UnavailablePrice,
		"Unable to fetch price data. Please try again later."))
	return observability.OutcomeError
}

func (c *Controller) checkHealth(ctx context.Context) error {
	if !c.opts.HealthCheck {
		return nil
	}
	hc, ok := c.provider.(market.HealthChecker)
	if !ok {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()
	return hc.Ping(pingCtx)
}

// exclusive runs fn under the advisory lock when one is configured. When
// another instance holds the lock, fn is skipped.
func (c *Controller) exclusive(ctx context.Context, fn func()) {
	if c.locker == nil || c.opts.LockKey == 0 {
		fn()
		return
	}
	unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, c.opts.LockKey)
	if err != nil {
		c.logger.Error().Err(err).Msg("acquire advisory lock failed")
		return
	}
	if !acquired {
		c.logger.Debug().Msg("skip persistence and alerts because advisory lock is held elsewhere")
		return
	}
	defer unlock()
	fn()
}

func (c *Controller) record(ctx context.Context, point market.PricePoint) {
	if c.samples == nil {
		return
	}
	if err := c.samples.UpsertSample(ctx, storage.SampleFromPoint(point)); err != nil {
		c.logger.Error().Err(err).Msg("failed to record price sample")
	}
}

func (c *Controller) evaluate(ctx context.Context, point market.PricePoint) {
	if c.book == nil {
		return
	}
	fired := c.book.Evaluate(ctx, point.Price)
	c.metrics.ObserveAlerts(len(fired), c.book.Pending())

	for _, rule := range fired {
		msg := fmt.Sprintf("%s is now %s (alert: %s)", c.opts.Symbol, format.PriceUSD(&point.Price), rule)
		c.logger.Info().Int64("alert_id", rule.ID).Str("price", point.Price.String()).Msg("price alert fired")
		c.notify(ctx, alerting.New(alerting.SeverityAlert, "Price Alert", msg).WithPrice(point.Price))
	}
}

func (c *Controller) notify(ctx context.Context, note alerting.Notification) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, note); err != nil {
		c.logger.Error().Err(err).Str("severity", string(note.Severity)).Msg("failed to dispatch notification")
	}
}
