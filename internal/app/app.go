package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-ticker/internal/alerting"
	"price-ticker/internal/alerts"
	"price-ticker/internal/chart"
	"price-ticker/internal/config"
	"price-ticker/internal/market"
	"price-ticker/internal/news"
	"price-ticker/internal/observability"
	"price-ticker/internal/render"
	"price-ticker/internal/server"
	"price-ticker/internal/service"
	"price-ticker/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newProvider() (market.Provider, error) {
	return market.New(a.Config.MarketOptions(), a.Logger)
}

// openStore connects to PostgreSQL when a DSN is configured. A nil store
// with a nil error means persistence is disabled.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) openKV(store *storage.Store) (storage.KV, error) {
	switch strings.ToLower(a.Config.Storage.Backend) {
	case "memory":
		return storage.NewMemoryKV(), nil
	case "postgres":
		if store == nil {
			return nil, errors.New("storage.backend is postgres but database.dsn is not configured")
		}
		return store, nil
	default:
		return storage.NewFileKV(a.Config.Storage.Path), nil
	}
}

// openBook loads the alert rules from the configured backend.
func (a *App) openBook(ctx context.Context, store *storage.Store) (*alerts.Book, error) {
	kv, err := a.openKV(store)
	if err != nil {
		return nil, err
	}
	book := alerts.NewBook(alerts.NewStore(kv, a.Logger), a.Logger)
	book.Load(ctx)
	return book, nil
}

func (a *App) newTelegram() alerting.Notifier {
	cfg := a.Config.Notifications.Telegram
	if !cfg.Enabled {
		return nil
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.App.Symbol, 10*time.Second, a.Logger)
}

func (a *App) newNotifier(extra ...alerting.Notifier) alerting.Notifier {
	sinks := []alerting.Notifier{alerting.NewLogNotifier(a.Logger)}
	if tg := a.newTelegram(); tg != nil {
		sinks = append(sinks, tg)
	}
	for _, n := range extra {
		if n != nil {
			sinks = append(sinks, n)
		}
	}
	return alerting.NewMulti(a.Logger, sinks...)
}

func (a *App) newTerminal() *render.Terminal {
	return render.NewTerminal(render.TerminalOptions{
		Symbol:  a.Config.App.Symbol,
		Out:     a.Out,
		NoColor: a.Config.Render.NoColor,
	}, a.Logger)
}

func (a *App) newChart(provider market.Provider, store *storage.Store) *chart.Adapter {
	var history market.HistoryProvider
	if hp, ok := provider.(market.HistoryProvider); ok {
		history = hp
	}
	var local chart.SampleLister
	if store != nil {
		local = store
	}
	return chart.NewAdapter(chart.AdapterOptions{
		CacheTTL: a.Config.Chart.CacheTTL,
		Render: chart.RenderOptions{
			Width:  a.Config.Chart.Width,
			Height: a.Config.Chart.Height,
			Symbol: a.Config.App.Symbol,
		},
	}, history, local, a.Logger)
}

func (a *App) newNews() *news.Client {
	return news.New(news.Options{
		BaseURL:   a.Config.News.BaseURL,
		APIKey:    a.Config.News.APIKey,
		UserAgent: a.Config.Provider.UserAgent,
		Timeout:   a.Config.Refresh.FetchTimeout,
		Limit:     a.Config.News.Limit,
		CacheTTL:  a.Config.News.CacheTTL,
	}, a.Logger)
}

// newQuoteSource returns the key-injecting CoinMarketCap client used by the
// quote proxy, or nil when no key is configured.
func (a *App) newQuoteSource(provider market.Provider) server.QuoteSource {
	if cmc, ok := provider.(*market.CoinMarketCap); ok {
		return cmc
	}
	if a.Config.Provider.CoinMarketCap.APIKey == "" {
		return nil
	}
	return market.NewCoinMarketCap(a.Config.MarketOptions().CoinMarketCap, a.Logger)
}

func (a *App) controllerOptions() service.Options {
	r := a.Config.Refresh
	return service.Options{
		Interval:      r.Interval,
		MinSpacing:    r.MinSpacing,
		FetchTimeout:  r.FetchTimeout,
		RetryAttempts: r.RetryAttempts,
		RetryDelay:    r.RetryDelay,
		HealthCheck:   r.HealthCheck,
		Symbol:        a.Config.App.Symbol,
		LockKey:       a.Config.Database.AdvisoryLockKey,
	}
}

// Run executes the long-running ticker service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; sample history disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	book, err := a.openBook(ctx, store)
	if err != nil {
		return err
	}
	provider, err := a.newProvider()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics("")
	snapshot := render.NewSnapshot()
	board := alerting.NewBoard(alerting.BoardOptions{
		DismissAfter: a.Config.Notifications.DismissAfter,
		MaxToasts:    a.Config.Notifications.MaxToasts,
	})

	renderers := render.Multi{snapshot}
	if a.Config.Render.Terminal {
		renderers = append(renderers, a.newTerminal())
	}
	var hub *server.Hub
	if a.Config.Server.Enabled {
		hub = server.NewHub(a.Config.Server.AllowOrigin, metrics, a.Logger)
		renderers = append(renderers, hub)
	}
	notifySinks := []alerting.Notifier{board}
	if hub != nil {
		notifySinks = append(notifySinks, hub)
	}

	deps := service.Deps{
		Provider: provider,
		Renderer: renderers,
		Alerts:   book,
		Notifier: a.newNotifier(notifySinks...),
		Metrics:  metrics,
	}
	if store != nil {
		if a.Config.Refresh.RecordSamples {
			deps.Samples = store
		}
		deps.Locker = store
	}

	ctrl, err := service.New(a.controllerOptions(), deps, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Server.Enabled {
		srv := server.New(server.Options{
			Addr:            a.Config.Server.Addr,
			ShutdownTimeout: a.Config.Server.ShutdownTimeout,
			AllowOrigin:     a.Config.Server.AllowOrigin,
			NewsPageSize:    a.Config.News.PageSize,
		}, server.Deps{
			Slots:   snapshot,
			Refresh: ctrl,
			Alerts:  book,
			Toasts:  board,
			Chart:   a.newChart(provider, store),
			News:    a.newNews(),
			Quote:   a.newQuoteSource(provider),
			Hub:     hub,
			Metrics: metrics,
		}, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	a.Logger.Info().Str("provider", provider.Name()).
		Dur("interval", a.Config.Refresh.Interval).
		Bool("server", a.Config.Server.Enabled).
		Msg("starting ticker service")
	ctrl.Start(gctx)

	g.Go(func() error {
		<-gctx.Done()
		ctrl.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("ticker service terminated with error")
		return err
	}
	a.Logger.Info().Msg("ticker service stopped")
	return nil
}

// withStore runs fn with the optional PostgreSQL store open.
func (a *App) withStore(ctx context.Context, fn func(store *storage.Store) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	return fn(store)
}

// Refresh performs one fetch cycle and prints the result.
func (a *App) Refresh(ctx context.Context) error {
	provider, err := a.newProvider()
	if err != nil {
		return err
	}

	return a.withStore(ctx, func(store *storage.Store) error {
		book, err := a.openBook(ctx, store)
		if err != nil {
			return err
		}

		opts := a.controllerOptions()
		opts.HealthCheck = false
		deps := service.Deps{
			Provider: provider,
			Renderer: a.newTerminal(),
			Alerts:   book,
			Notifier: a.newNotifier(),
		}
		if store != nil && a.Config.Refresh.RecordSamples {
			deps.Samples = store
		}
		ctrl, err := service.New(opts, deps, a.Logger)
		if err != nil {
			return err
		}

		if ctrl.RefreshOnce(ctx) == nil {
			return fmt.Errorf("refresh from %s failed", provider.Name())
		}
		return nil
	})
}
