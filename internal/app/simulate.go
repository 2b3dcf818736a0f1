package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"price-ticker/internal/market"
	"price-ticker/internal/service"
	"price-ticker/internal/storage"
)

// SimulateAlert runs one cycle against a fixed price so configured alerts
// and notification channels can be exercised end to end. Rules that fire
// are latched like in a live cycle.
func (a *App) SimulateAlert(ctx context.Context, price decimal.Decimal) error {
	if !price.IsPositive() {
		return errors.New("price must be positive")
	}

	return a.withStore(ctx, func(store *storage.Store) error {
		book, err := a.openBook(ctx, store)
		if err != nil {
			return err
		}
		if book.Pending() == 0 {
			a.Logger.Warn().Msg("no pending alerts; nothing can fire")
		}

		opts := a.controllerOptions()
		opts.HealthCheck = false
		opts.RetryAttempts = 1
		ctrl, err := service.New(opts, service.Deps{
			Provider: &staticProvider{point: market.PricePoint{Price: price, ObservedAt: time.Now().UTC()}},
			Renderer: a.newTerminal(),
			Alerts:   book,
			Notifier: a.newNotifier(),
		}, a.Logger)
		if err != nil {
			return err
		}
		ctrl.RefreshOnce(ctx)
		return nil
	})
}

type staticProvider struct {
	point market.PricePoint
}

func (s *staticProvider) Name() string { return "simulated" }

func (s *staticProvider) FetchLatest(context.Context) (market.PricePoint, error) {
	return s.point, nil
}

var _ market.Provider = (*staticProvider)(nil)
