package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"
)

const (
	coinMarketCapName    = "coinmarketcap"
	coinMarketCapBaseURL = "https://pro-api.coinmarketcap.com"
)

// CoinMarketCapOptions parameterise the CoinMarketCap provider.
type CoinMarketCapOptions struct {
	HTTPOptions
	CoinID  string
	Convert string
}

// CoinMarketCap reads quotes from the CoinMarketCap pro API.
type CoinMarketCap struct {
	opts   CoinMarketCapOptions
	getter *httpGetter
}

// NewCoinMarketCap constructs the provider.
func NewCoinMarketCap(opts CoinMarketCapOptions, logger zerolog.Logger) *CoinMarketCap {
	if opts.Convert == "" {
		opts.Convert = "USD"
	}
	headers := map[string]string{"X-CMC_PRO_API_KEY": opts.APIKey}
	return &CoinMarketCap{
		opts:   opts,
		getter: newHTTPGetter(coinMarketCapName, opts.BaseURL, coinMarketCapBaseURL, opts.HTTPOptions, headers, logger),
	}
}

// Name implements Provider.
func (c *CoinMarketCap) Name() string { return coinMarketCapName }

// Ping hits the info endpoint for the configured coin.
func (c *CoinMarketCap) Ping(ctx context.Context) error {
	_, err := c.getter.get(ctx, "/v2/cryptocurrency/info", url.Values{"id": {c.opts.CoinID}})
	return err
}

// QuoteJSON returns the raw quotes/latest body for the configured coin, with
// the API key attached upstream.
func (c *CoinMarketCap) QuoteJSON(ctx context.Context) ([]byte, error) {
	if c.opts.CoinID == "" {
		return nil, schemaError(coinMarketCapName, fmt.Errorf("coin id not configured"))
	}
	return c.getter.get(ctx, "/v2/cryptocurrency/quotes/latest", url.Values{
		"id":      {c.opts.CoinID},
		"convert": {c.opts.Convert},
	})
}

// FetchLatest implements Provider.
func (c *CoinMarketCap) FetchLatest(ctx context.Context) (PricePoint, error) {
	body, err := c.QuoteJSON(ctx)
	if err != nil {
		return PricePoint{}, err
	}

	coin, _, _, err := jsonparser.Get(body, "data", c.opts.CoinID)
	if err != nil {
		return PricePoint{}, schemaError(coinMarketCapName, fmt.Errorf("data.%s: %w", c.opts.CoinID, err))
	}

	price, err := priceAt(coinMarketCapName, coin, "quote", c.opts.Convert, "price")
	if err != nil {
		return PricePoint{}, err
	}

	point := PricePoint{
		Price:            price,
		MarketCapUSD:     decimalAt(coin, "quote", c.opts.Convert, "market_cap"),
		Volume24hUSD:     decimalAt(coin, "quote", c.opts.Convert, "volume_24h"),
		Rank:             rankAt(coin, "cmc_rank"),
		ChangePercent24h: decimalAt(coin, "quote", c.opts.Convert, "percent_change_24h"),
		ObservedAt:       observedAt(coin, "quote", c.opts.Convert, "last_updated"),
		Source:           coinMarketCapName,
	}
	return point, point.Validate()
}

// FetchHistory implements HistoryProvider.
func (c *CoinMarketCap) FetchHistory(ctx context.Context, period Period) ([]SeriesPoint, error) {
	interval := "hourly"
	if !period.Hourly() {
		interval = "daily"
	}
	body, err := c.getter.get(ctx, "/v2/cryptocurrency/quotes/historical", url.Values{
		"id":       {c.opts.CoinID},
		"count":    {strconv.Itoa(period.Samples())},
		"interval": {interval},
		"convert":  {c.opts.Convert},
	})
	if err != nil {
		return nil, err
	}

	quotes, _, _, err := jsonparser.Get(body, "data", "quotes")
	if err != nil {
		quotes, _, _, err = jsonparser.Get(body, "data", c.opts.CoinID, "quotes")
	}
	if err != nil {
		return nil, schemaError(coinMarketCapName, fmt.Errorf("historical quotes: %w", err))
	}

	var series []SeriesPoint
	_, err = jsonparser.ArrayEach(quotes, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		price := decimalAt(value, "quote", c.opts.Convert, "price")
		ts, tsErr := jsonparser.GetString(value, "timestamp")
		if price == nil || tsErr != nil {
			return
		}
		parsed, parseErr := time.Parse(time.RFC3339, ts)
		if parseErr != nil {
			return
		}
		series = append(series, SeriesPoint{Timestamp: parsed.UTC(), Price: *price})
	})
	if err != nil {
		return nil, schemaError(coinMarketCapName, fmt.Errorf("iterate quotes: %w", err))
	}
	return series, nil
}

func observedAt(data []byte, keys ...string) time.Time {
	if raw, err := jsonparser.GetString(data, keys...); err == nil {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

var (
	_ Provider        = (*CoinMarketCap)(nil)
	_ HealthChecker   = (*CoinMarketCap)(nil)
	_ HistoryProvider = (*CoinMarketCap)(nil)
)
