package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"price-ticker/internal/logging"
	"price-ticker/internal/market"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Render        RenderConfig        `mapstructure:"render"`
	Chart         ChartConfig         `mapstructure:"chart"`
	Server        ServerConfig        `mapstructure:"server"`
	News          NewsConfig          `mapstructure:"news"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Symbol      string `mapstructure:"symbol"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// StorageConfig selects where alert rules live.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// RefreshConfig governs the refresh loop cadence and retry policy.
type RefreshConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MinSpacing    time.Duration `mapstructure:"min_spacing"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	HealthCheck   bool          `mapstructure:"health_check"`
	RecordSamples bool          `mapstructure:"record_samples"`
}

// ProviderConfig selects and configures the upstream.
type ProviderConfig struct {
	Name          string              `mapstructure:"name"`
	UserAgent     string              `mapstructure:"user_agent"`
	CoinMarketCap CoinMarketCapConfig `mapstructure:"coinmarketcap"`
	CoinGecko     CoinGeckoConfig     `mapstructure:"coingecko"`
	Binance       BinanceConfig       `mapstructure:"binance"`
	OnChain       OnChainConfig       `mapstructure:"onchain"`
}

// CoinMarketCapConfig covers the aggregator pro API.
type CoinMarketCapConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	CoinID  string `mapstructure:"coin_id"`
	Convert string `mapstructure:"convert"`
}

// CoinGeckoConfig covers the public CoinGecko API.
type CoinGeckoConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	CoinID   string `mapstructure:"coin_id"`
	Currency string `mapstructure:"currency"`
}

// BinanceConfig covers the exchange spot API.
type BinanceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Symbol  string `mapstructure:"symbol"`
}

// OnChainConfig covers on-chain data access.
type OnChainConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	AggregatorAddress string `mapstructure:"aggregator_address"`
	TokenAddress      string `mapstructure:"token_address"`
	TokenDecimals     int32  `mapstructure:"token_decimals"`
}

// NotificationsConfig defines toast behaviour and outbound channels.
type NotificationsConfig struct {
	DismissAfter time.Duration  `mapstructure:"dismiss_after"`
	MaxToasts    int            `mapstructure:"max_toasts"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// RenderConfig toggles the terminal view.
type RenderConfig struct {
	Terminal bool `mapstructure:"terminal"`
	NoColor  bool `mapstructure:"no_color"`
}

// ChartConfig sets chart caching and image size.
type ChartConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
}

// ServerConfig sets the HTTP listener.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigin     string        `mapstructure:"allow_origin"`
}

// NewsConfig covers the news feed.
type NewsConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Limit    int           `mapstructure:"limit"`
	PageSize int           `mapstructure:"page_size"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("TICKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv reads API keys from a local .env file when one exists.
// Variables already set in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tickerd")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.symbol", "SHIB")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.advisory_lock_key", int64(0x7469636b))

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", "ticker-state.json")

	v.SetDefault("refresh.interval", "60s")
	v.SetDefault("refresh.min_spacing", "5s")
	v.SetDefault("refresh.fetch_timeout", "10s")
	v.SetDefault("refresh.retry_attempts", 3)
	v.SetDefault("refresh.retry_delay", "2s")
	v.SetDefault("refresh.health_check", true)
	v.SetDefault("refresh.record_samples", true)

	v.SetDefault("provider.name", "coinmarketcap")
	v.SetDefault("provider.user_agent", "price-ticker/1.0")
	v.SetDefault("provider.coinmarketcap.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("provider.coinmarketcap.coin_id", "5994")
	v.SetDefault("provider.coinmarketcap.convert", "USD")
	v.SetDefault("provider.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("provider.coingecko.coin_id", "shiba-inu")
	v.SetDefault("provider.coingecko.currency", "usd")
	v.SetDefault("provider.binance.base_url", "https://api.binance.com")
	v.SetDefault("provider.binance.symbol", "SHIBUSDT")
	v.SetDefault("provider.onchain.token_decimals", 18)

	v.SetDefault("notifications.dismiss_after", "5s")
	v.SetDefault("notifications.max_toasts", 50)
	v.SetDefault("notifications.telegram.enabled", false)
	v.SetDefault("notifications.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("render.terminal", true)
	v.SetDefault("render.no_color", false)

	v.SetDefault("chart.cache_ttl", "5m")
	v.SetDefault("chart.width", 1024)
	v.SetDefault("chart.height", 400)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allow_origin", "*")

	v.SetDefault("news.base_url", "https://min-api.cryptocompare.com")
	v.SetDefault("news.limit", 12)
	v.SetDefault("news.page_size", 6)
	v.SetDefault("news.cache_ttl", "10m")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be greater than zero")
	}
	if c.Refresh.MinSpacing < 0 {
		return fmt.Errorf("refresh.min_spacing cannot be negative")
	}
	if c.Refresh.FetchTimeout <= 0 {
		return fmt.Errorf("refresh.fetch_timeout must be greater than zero")
	}
	if c.Refresh.RetryAttempts < 1 {
		return fmt.Errorf("refresh.retry_attempts must be at least 1")
	}
	if c.Refresh.RetryDelay < 0 {
		return fmt.Errorf("refresh.retry_delay cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.News.PageSize <= 0 {
		return fmt.Errorf("news.page_size must be greater than zero")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the file backend")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported (memory, file, postgres)", c.Storage.Backend)
	}

	known := false
	for _, name := range market.Names() {
		if strings.EqualFold(c.Provider.Name, name) {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("provider.name %q is not supported (%s)", c.Provider.Name, strings.Join(market.Names(), ", "))
	}
	if strings.EqualFold(c.Provider.Name, "onchain") {
		if c.Provider.OnChain.RPCURL == "" || c.Provider.OnChain.AggregatorAddress == "" {
			return fmt.Errorf("provider.onchain.rpc_url and aggregator_address must be configured")
		}
	}

	if c.Notifications.Telegram.Enabled {
		if c.Notifications.Telegram.BotToken == "" {
			return fmt.Errorf("notifications.telegram.bot_token must be configured")
		}
		if c.Notifications.Telegram.ChatID == "" {
			return fmt.Errorf("notifications.telegram.chat_id must be configured")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// MarketOptions maps provider settings onto market.Options.
func (c *Config) MarketOptions() market.Options {
	p := c.Provider
	return market.Options{
		Name: p.Name,
		CoinMarketCap: market.CoinMarketCapOptions{
			HTTPOptions: market.HTTPOptions{BaseURL: p.CoinMarketCap.BaseURL, APIKey: p.CoinMarketCap.APIKey, Timeout: c.Refresh.FetchTimeout, UserAgent: p.UserAgent},
			CoinID:      p.CoinMarketCap.CoinID,
			Convert:     p.CoinMarketCap.Convert,
		},
		CoinGecko: market.CoinGeckoOptions{
			HTTPOptions: market.HTTPOptions{BaseURL: p.CoinGecko.BaseURL, APIKey: p.CoinGecko.APIKey, Timeout: c.Refresh.FetchTimeout, UserAgent: p.UserAgent},
			CoinID:      p.CoinGecko.CoinID,
			Currency:    p.CoinGecko.Currency,
		},
		Binance: market.BinanceOptions{
			HTTPOptions: market.HTTPOptions{BaseURL: p.Binance.BaseURL, Timeout: c.Refresh.FetchTimeout, UserAgent: p.UserAgent},
			Symbol:      p.Binance.Symbol,
		},
		OnChain: market.OnChainOptions{
			RPCURL:            p.OnChain.RPCURL,
			AggregatorAddress: p.OnChain.AggregatorAddress,
			TokenAddress:      p.OnChain.TokenAddress,
			TokenDecimals:     p.OnChain.TokenDecimals,
			Timeout:           c.Refresh.FetchTimeout,
		},
	}
}
