package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-ticker/internal/alerts"
	"price-ticker/internal/config"
	"price-ticker/internal/market"
	"price-ticker/internal/storage"
)

const geckoBody = `[{"id":"shiba-inu","symbol":"shib","current_price":0.00002345,"market_cap":13800000000,
	"market_cap_rank":14,"total_volume":250000000,"price_change_percentage_24h":-1.2,"last_updated":"2026-06-01T12:00:00Z"}]`

func newTestApp(t *testing.T, upstream string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		App:     config.AppConfig{Name: "tickerd", Symbol: "SHIB"},
		Storage: config.StorageConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "state.json")},
		Refresh: config.RefreshConfig{
			Interval:      time.Minute,
			MinSpacing:    5 * time.Second,
			FetchTimeout:  time.Second,
			RetryAttempts: 2,
			RetryDelay:    time.Millisecond,
		},
		Provider: config.ProviderConfig{
			Name:      "coingecko",
			CoinGecko: config.CoinGeckoConfig{BaseURL: upstream, CoinID: "shiba-inu", Currency: "usd"},
		},
		Render: config.RenderConfig{NoColor: true},
		News:   config.NewsConfig{PageSize: 6},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func geckoServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAlertCommandsPersistAcrossRuns(t *testing.T) {
	a, out := newTestApp(t, "")
	ctx := context.Background()

	require.NoError(t, a.AddAlert(ctx, "$0.00003", "above"))
	require.NoError(t, a.AddAlert(ctx, "0.00001", "below"))
	assert.ErrorIs(t, a.AddAlert(ctx, "0", "above"), alerts.ErrInvalidThreshold)
	assert.ErrorIs(t, a.AddAlert(ctx, "0.1", "sideways"), alerts.ErrInvalidDirection)

	out.Reset()
	require.NoError(t, a.ListAlerts(ctx))
	assert.Contains(t, out.String(), "$0.00003000")
	assert.Contains(t, out.String(), "$0.00001000")

	book, err := a.openBook(ctx, nil)
	require.NoError(t, err)
	rules := book.Rules()
	require.Len(t, rules, 2)

	require.NoError(t, a.DeleteAlert(ctx, rules[0].ID))
	assert.ErrorIs(t, a.DeleteAlert(ctx, rules[0].ID), alerts.ErrNotFound)

	out.Reset()
	require.NoError(t, a.ListAlerts(ctx))
	assert.NotContains(t, out.String(), "$0.00003000")
}

func TestRefreshRendersReading(t *testing.T) {
	srv := geckoServer(t, http.StatusOK, geckoBody)
	a, out := newTestApp(t, srv.URL)

	require.NoError(t, a.Refresh(context.Background()))
	assert.Contains(t, out.String(), "$0.00002345")
	assert.Contains(t, out.String(), "-1.20%")
	assert.Contains(t, out.String(), "#14")
}

func TestRefreshFailureRendersErrorState(t *testing.T) {
	srv := geckoServer(t, http.StatusInternalServerError, `{"error":"boom"}`)
	a, out := newTestApp(t, srv.URL)

	err := a.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, out.String(), "API Unavailable")
}

func TestSimulateAlertLatchesRule(t *testing.T) {
	a, _ := newTestApp(t, "")
	ctx := context.Background()
	require.NoError(t, a.AddAlert(ctx, "0.00002", "above"))

	require.NoError(t, a.SimulateAlert(ctx, decimal.RequireFromString("0.00003")))

	book, err := a.openBook(ctx, nil)
	require.NoError(t, err)
	require.Len(t, book.Rules(), 1)
	assert.True(t, book.Rules()[0].Triggered)
	assert.Zero(t, book.Pending())

	assert.Error(t, a.SimulateAlert(ctx, decimal.Zero))
}

func TestHistoryCommandsRequireDatabase(t *testing.T) {
	a, _ := newTestApp(t, "")
	ctx := context.Background()

	assert.ErrorIs(t, a.Show(ctx, ShowOptions{Limit: 5}), errNoDatabase)
	assert.ErrorIs(t, a.Export(ctx, ExportOptions{CSVPath: "out.csv"}), errNoDatabase)
	assert.ErrorIs(t, a.Prune(ctx, time.Hour), errNoDatabase)
	assert.Error(t, a.Export(ctx, ExportOptions{}), "needs an output path")
}

func TestPostgresBackendNeedsDSN(t *testing.T) {
	a, _ := newTestApp(t, "")
	a.Config.Storage.Backend = "postgres"

	_, err := a.openBook(context.Background(), nil)
	assert.Error(t, err)
}

func TestDownsampleSamplesKeepsEnds(t *testing.T) {
	var samples []storage.PriceSample
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		samples = append(samples, storage.PriceSample{ObservedAt: start.Add(time.Duration(i) * time.Minute)})
	}

	got := downsampleSamples(samples, 4)
	require.Len(t, got, 4)
	assert.Equal(t, samples[0].ObservedAt, got[0].ObservedAt)
	assert.Equal(t, samples[9].ObservedAt, got[3].ObservedAt)
	assert.Len(t, downsampleSamples(samples, 0), 10)
}

func TestPeriodForSpan(t *testing.T) {
	assert.Equal(t, market.Period24h, periodForSpan(3*time.Hour))
	assert.Equal(t, market.Period7d, periodForSpan(48*time.Hour))
	assert.Equal(t, market.Period1y, periodForSpan(2*365*24*time.Hour))
}
