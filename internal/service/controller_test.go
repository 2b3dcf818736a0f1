package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-ticker/internal/alerting"
	"price-ticker/internal/alerts"
	"price-ticker/internal/market"
	"price-ticker/internal/market/mocks"
	"price-ticker/internal/render"
	"price-ticker/internal/scheduler"
	"price-ticker/internal/storage"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func point(price string) market.PricePoint {
	return market.PricePoint{Price: decimal.RequireFromString(price), ObservedAt: t0, Source: "fake"}
}

var errUpstream = &market.FetchError{Kind: market.KindNetwork, Provider: "fake", Status: 503, Err: errors.New("unavailable")}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type manualRunner struct {
	mu      sync.Mutex
	runs    int
	tick    scheduler.TickFunc
	started chan struct{}
}

func newManualRunner() *manualRunner {
	return &manualRunner{started: make(chan struct{}, 4)}
}

func (m *manualRunner) Run(ctx context.Context, tick scheduler.TickFunc) error {
	m.mu.Lock()
	m.runs++
	m.tick = tick
	m.mu.Unlock()
	m.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (m *manualRunner) Fire(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	tick := m.tick
	m.mu.Unlock()
	require.NotNil(t, tick, "runner was never started")
	_ = tick(context.Background(), time.Time{})
}

func (m *manualRunner) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func (m *manualRunner) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-m.started:
	case <-time.After(time.Second):
		t.Fatal("scheduler was not started")
	}
}

type renderCall struct {
	point *market.PricePoint
	flags render.Flags
}

type recordingRenderer struct {
	mu    sync.Mutex
	calls []renderCall
}

func (r *recordingRenderer) Render(p *market.PricePoint, flags render.Flags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var copied *market.PricePoint
	if p != nil {
		c := *p
		copied = &c
	}
	r.calls = append(r.calls, renderCall{point: copied, flags: flags})
}

func (r *recordingRenderer) last(t *testing.T) renderCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls, "nothing rendered")
	return r.calls[len(r.calls)-1]
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recordingNotifier) severities() []alerting.Severity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]alerting.Severity, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Severity)
	}
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type recordingSamples struct {
	mu      sync.Mutex
	samples []storage.PriceSample
}

func (r *recordingSamples) UpsertSample(_ context.Context, s storage.PriceSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

type fakeLocker struct {
	acquired bool
	unlocked int
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.unlocked++ }, true, nil
}

type healthProvider struct {
	*mocks.MockProvider
	pingErr error
	pings   int
}

func (h *healthProvider) Ping(context.Context) error {
	h.pings++
	return h.pingErr
}

type fixture struct {
	ctrl     *Controller
	provider *mocks.MockProvider
	renderer *recordingRenderer
	notifier *recordingNotifier
	clock    *fakeClock
	runner   *manualRunner
	sleeps   *sleepRecorder
	samples  *recordingSamples
	book     *alerts.Book
}

type fixtureOption func(*Options, *Deps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	mockCtrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(mockCtrl)
	provider.EXPECT().Name().Return("fake").AnyTimes()

	f := &fixture{
		provider: provider,
		renderer: &recordingRenderer{},
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: t0},
		runner:   newManualRunner(),
		sleeps:   &sleepRecorder{},
		samples:  &recordingSamples{},
	}
	f.book = alerts.NewBook(alerts.NewStore(storage.NewMemoryKV(), testLogger()), testLogger()).WithClock(f.clock.Now)

	options := Options{
		Interval:      time.Minute,
		MinSpacing:    5 * time.Second,
		FetchTimeout:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    2 * time.Second,
		Symbol:        "SHIB",
	}
	deps := Deps{
		Provider: provider,
		Renderer: f.renderer,
		Alerts:   f.book,
		Notifier: f.notifier,
		Samples:  f.samples,
		Runner:   f.runner,
		Clock:    f.clock,
		Sleep:    f.sleeps.Sleep,
	}
	for _, o := range opts {
		o(&options, &deps)
	}

	ctrl, err := New(options, deps, testLogger())
	require.NoError(t, err)
	f.ctrl = ctrl
	t.Cleanup(ctrl.Stop)
	return f
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Interval: time.Minute}, Deps{}, testLogger())
	assert.Error(t, err)
}

func TestRefreshOnceSuccess(t *testing.T) {
	f := newFixture(t)
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002345"), nil)

	got := f.ctrl.RefreshOnce(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, "0.00002345", got.Price.String())

	call := f.renderer.last(t)
	assert.Equal(t, render.Flags{}, call.flags)
	require.NotNil(t, call.point)
	assert.True(t, call.point.Price.Equal(got.Price))

	cached, capturedAt, ok := f.ctrl.Cached()
	require.True(t, ok)
	assert.True(t, cached.Price.Equal(got.Price))
	assert.Equal(t, t0, capturedAt)

	assert.Len(t, f.samples.samples, 1)
	assert.Empty(t, f.notifier.severities())
	assert.Empty(t, f.sleeps.delays)
}

func TestRefreshOnceStampsMissingTimestampFromClock(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(90 * time.Second)
	unstamped := point("0.00002345")
	unstamped.ObservedAt = time.Time{}
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(unstamped, nil)

	got := f.ctrl.RefreshOnce(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, t0.Add(90*time.Second), got.ObservedAt)
}

func TestRefreshOnceRetriesWithFixedDelay(t *testing.T) {
	f := newFixture(t)
	gomock.InOrder(
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(market.PricePoint{}, errUpstream),
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(market.PricePoint{}, &market.FetchError{Kind: market.KindSchema, Provider: "fake", Err: market.ErrMissingPrice}),
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil),
	)

	got := f.ctrl.RefreshOnce(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, f.sleeps.delays)
	assert.Equal(t, 1, f.renderer.count(), "only the final outcome is rendered")
}

func TestFailureWithoutCacheRendersErrorState(t *testing.T) {
	f := newFixture(t)
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(market.PricePoint{}, errUpstream).Times(3)

	assert.Nil(t, f.ctrl.RefreshOnce(context.Background()))

	call := f.renderer.last(t)
	assert.Nil(t, call.point)
	assert.Equal(t, render.Flags{Error: true}, call.flags)
	assert.Equal(t, []alerting.Severity{alerting.SeverityError}, f.notifier.severities())
	assert.Len(t, f.sleeps.delays, 2, "no delay after the final attempt")

	_, _, ok := f.ctrl.Cached()
	assert.False(t, ok)
	assert.Empty(t, f.samples.samples)
}

func TestFailureWithCacheRendersCachedPoint(t *testing.T) {
	f := newFixture(t)
	gomock.InOrder(
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.000021"), nil),
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(market.PricePoint{}, errUpstream).Times(3),
	)
	ctx := context.Background()

	require.NotNil(t, f.ctrl.RefreshOnce(ctx))
	assert.Nil(t, f.ctrl.RefreshOnce(ctx))

	call := f.renderer.last(t)
	require.NotNil(t, call.point)
	assert.Equal(t, "0.000021", call.point.Price.String())
	assert.Equal(t, render.Flags{Cached: true}, call.flags)
	assert.Equal(t, []alerting.Severity{alerting.SeverityWarning}, f.notifier.severities())

	cached, _, ok := f.ctrl.Cached()
	require.True(t, ok)
	assert.Equal(t, "0.000021", cached.Price.String(), "failure leaves the cache untouched")
}

func TestInvalidReadingIsAFailure(t *testing.T) {
	f := newFixture(t, func(o *Options, _ *Deps) { o.RetryAttempts = 1 })
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("-1"), nil)

	assert.Nil(t, f.ctrl.RefreshOnce(context.Background()))
	assert.Equal(t, render.Flags{Error: true}, f.renderer.last(t).flags)
}

func TestFetchTimeoutAbortsAttempt(t *testing.T) {
	f := newFixture(t, func(o *Options, _ *Deps) {
		o.RetryAttempts = 1
		o.FetchTimeout = 20 * time.Millisecond
	})
	f.provider.EXPECT().FetchLatest(gomock.Any()).DoAndReturn(func(ctx context.Context) (market.PricePoint, error) {
		<-ctx.Done()
		return market.PricePoint{}, ctx.Err()
	})

	start := time.Now()
	assert.Nil(t, f.ctrl.RefreshOnce(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.provider.EXPECT().FetchLatest(gomock.Any()).DoAndReturn(func(context.Context) (market.PricePoint, error) {
		cancel()
		return market.PricePoint{}, errUpstream
	})

	assert.Nil(t, f.ctrl.RefreshOnce(ctx))
}

func TestAlertFiresOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.Add(ctx, "0.00002", "above")
	require.NoError(t, err)

	gomock.InOrder(
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.000019"), nil),
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.000021"), nil),
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.000025"), nil),
	)
	for i := 0; i < 3; i++ {
		require.NotNil(t, f.ctrl.RefreshOnce(ctx))
	}

	assert.Equal(t, []alerting.Severity{alerting.SeverityAlert}, f.notifier.severities())
	require.NotNil(t, f.notifier.notes[0].Price)
	assert.Equal(t, "0.000021", f.notifier.notes[0].Price.String())
	assert.Contains(t, f.notifier.notes[0].Message, "$0.00002100")
	assert.True(t, f.book.Rules()[0].Triggered)
}

func TestStaleDataIsNotEvaluated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gomock.InOrder(
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.000021"), nil),
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(market.PricePoint{}, errUpstream).Times(3),
	)
	require.NotNil(t, f.ctrl.RefreshOnce(ctx))

	_, err := f.book.Add(ctx, "0.00001", "above")
	require.NoError(t, err)
	assert.Nil(t, f.ctrl.RefreshOnce(ctx))

	assert.NotContains(t, f.notifier.severities(), alerting.SeverityAlert)
	assert.False(t, f.book.Rules()[0].Triggered)
}

func TestAdvisoryLockHeldElsewhereSkipsPersistenceAndAlerts(t *testing.T) {
	locker := &fakeLocker{acquired: false}
	f := newFixture(t, func(o *Options, d *Deps) {
		o.LockKey = 7
		d.Locker = locker
	})
	ctx := context.Background()
	_, err := f.book.Add(ctx, "0.00001", "above")
	require.NoError(t, err)
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil).Times(2)

	require.NotNil(t, f.ctrl.RefreshOnce(ctx))
	assert.Empty(t, f.samples.samples)
	assert.Empty(t, f.notifier.severities())
	assert.Equal(t, 1, f.renderer.count(), "rendering does not need the lock")

	locker.acquired = true
	require.NotNil(t, f.ctrl.RefreshOnce(ctx))
	assert.Len(t, f.samples.samples, 1)
	assert.Equal(t, []alerting.Severity{alerting.SeverityAlert}, f.notifier.severities())
	assert.Equal(t, 1, locker.unlocked)
}

func TestRequestDropsWithinMinSpacing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil).Times(2)

	assert.True(t, f.ctrl.Request(ctx))
	f.clock.Advance(4 * time.Second)
	assert.False(t, f.ctrl.Request(ctx), "inside the spacing window")
	f.clock.Advance(time.Second)
	assert.True(t, f.ctrl.Request(ctx))
}

func TestRequestDropsWhileInFlight(t *testing.T) {
	f := newFixture(t, func(o *Options, _ *Deps) { o.MinSpacing = 0 })
	entered := make(chan struct{})
	release := make(chan struct{})
	f.provider.EXPECT().FetchLatest(gomock.Any()).DoAndReturn(func(context.Context) (market.PricePoint, error) {
		close(entered)
		<-release
		return point("0.00002"), nil
	})

	done := make(chan bool)
	go func() { done <- f.ctrl.Request(context.Background()) }()
	<-entered

	assert.False(t, f.ctrl.Request(context.Background()))
	assert.False(t, f.ctrl.Trigger(context.Background()))

	close(release)
	assert.True(t, <-done)
}

func TestTriggerRunsInBackground(t *testing.T) {
	f := newFixture(t)
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil)

	require.True(t, f.ctrl.Trigger(context.Background()))
	require.Eventually(t, func() bool {
		_, _, ok := f.ctrl.Cached()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil).Times(2)
	ctx := context.Background()

	f.ctrl.Start(ctx)
	f.runner.waitStarted(t)
	f.ctrl.Start(ctx)
	assert.True(t, f.ctrl.Running())
	assert.Equal(t, 1, f.renderer.count(), "one immediate cycle")

	f.clock.Advance(time.Minute)
	f.runner.Fire(t)
	assert.Equal(t, 2, f.renderer.count())
	assert.Equal(t, 1, f.runner.Runs(), "a single timer")

	f.ctrl.Stop()
	assert.False(t, f.ctrl.Running())
	f.clock.Advance(time.Minute)
	assert.False(t, f.ctrl.Request(ctx), "no cycle starts after Stop")
}

func TestScheduledCycleContinuesAfterFailure(t *testing.T) {
	f := newFixture(t, func(o *Options, _ *Deps) { o.RetryAttempts = 1 })
	gomock.InOrder(
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(market.PricePoint{}, errUpstream),
		f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil),
	)

	f.ctrl.Start(context.Background())
	f.runner.waitStarted(t)
	assert.Equal(t, render.Flags{Error: true}, f.renderer.last(t).flags)

	f.clock.Advance(time.Minute)
	f.runner.Fire(t)
	assert.Equal(t, render.Flags{}, f.renderer.last(t).flags)
}

func TestStartHealthCheckFailureKeepsSchedule(t *testing.T) {
	var hp *healthProvider
	f := newFixture(t, func(o *Options, d *Deps) {
		o.HealthCheck = true
		hp = &healthProvider{MockProvider: d.Provider.(*mocks.MockProvider), pingErr: errUpstream}
		d.Provider = hp
	})
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil)

	f.ctrl.Start(context.Background())
	f.runner.waitStarted(t)

	assert.Equal(t, 1, hp.pings)
	call := f.renderer.last(t)
	assert.Nil(t, call.point)
	assert.Equal(t, render.Flags{Error: true}, call.flags)
	assert.Equal(t, []alerting.Severity{alerting.SeverityError}, f.notifier.severities())

	f.clock.Advance(time.Minute)
	f.runner.Fire(t)
	assert.Equal(t, render.Flags{}, f.renderer.last(t).flags, "the timer keeps running")
}

func TestStartHealthCheckSuccess(t *testing.T) {
	var hp *healthProvider
	f := newFixture(t, func(o *Options, d *Deps) {
		o.HealthCheck = true
		hp = &healthProvider{MockProvider: d.Provider.(*mocks.MockProvider)}
		d.Provider = hp
	})
	f.provider.EXPECT().FetchLatest(gomock.Any()).Return(point("0.00002"), nil)

	f.ctrl.Start(context.Background())
	f.runner.waitStarted(t)
	assert.Equal(t, 1, hp.pings)
	assert.Equal(t, render.Flags{}, f.renderer.last(t).flags)
}
