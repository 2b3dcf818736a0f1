package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 10*time.Second, cfg.Refresh.FetchTimeout)
	assert.Equal(t, 3, cfg.Refresh.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Refresh.RetryDelay)
	assert.Equal(t, "coinmarketcap", cfg.Provider.Name)
	assert.Equal(t, "5994", cfg.Provider.CoinMarketCap.CoinID)
	assert.Equal(t, 5*time.Second, cfg.Notifications.DismissAfter)
	assert.Equal(t, "file", cfg.Storage.Backend)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TICKER_REFRESH_INTERVAL", "15s")
	t.Setenv("TICKER_PROVIDER_NAME", "binance")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, "binance", cfg.MarketOptions().Name)
	assert.Equal(t, "SHIBUSDT", cfg.MarketOptions().Binance.Symbol)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TICKER_PROVIDER_COINMARKETCAP_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TICKER_PROVIDER_COINMARKETCAP_API_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Provider.CoinMarketCap.APIKey)
	assert.Equal(t, "from-dotenv", cfg.MarketOptions().CoinMarketCap.APIKey)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "ticker.yaml")
	body := "refresh:\n  min_spacing: 1s\nstorage:\n  backend: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Refresh.MinSpacing)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"zero interval":     func(c *Config) { c.Refresh.Interval = 0 },
		"no attempts":       func(c *Config) { c.Refresh.RetryAttempts = 0 },
		"unknown provider":  func(c *Config) { c.Provider.Name = "kraken" },
		"unknown backend":   func(c *Config) { c.Storage.Backend = "redis" },
		"postgres sans dsn": func(c *Config) { c.Storage.Backend = "postgres"; c.Database.DSN = "" },
		"onchain sans rpc":  func(c *Config) { c.Provider.Name = "onchain" },
		"telegram sans bot": func(c *Config) { c.Notifications.Telegram.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
