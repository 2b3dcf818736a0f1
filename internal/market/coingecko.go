package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"
)

const (
	coinGeckoName    = "coingecko"
	coinGeckoBaseURL = "https://api.coingecko.com/api/v3"
)

// CoinGeckoOptions parameterise the CoinGecko provider.
type CoinGeckoOptions struct {
	HTTPOptions
	CoinID   string
	Currency string
}

// CoinGecko reads market rows from the CoinGecko public API.
type CoinGecko struct {
	opts   CoinGeckoOptions
	getter *httpGetter
}

// NewCoinGecko constructs the provider.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	opts.Currency = strings.ToLower(opts.Currency)
	headers := map[string]string{"x-cg-demo-api-key": opts.APIKey}
	return &CoinGecko{
		opts:   opts,
		getter: newHTTPGetter(coinGeckoName, opts.BaseURL, coinGeckoBaseURL, opts.HTTPOptions, headers, logger),
	}
}

// Name implements Provider.
func (c *CoinGecko) Name() string { return coinGeckoName }

// Ping implements HealthChecker.
func (c *CoinGecko) Ping(ctx context.Context) error {
	_, err := c.getter.get(ctx, "/ping", nil)
	return err
}

// FetchLatest implements Provider.
func (c *CoinGecko) FetchLatest(ctx context.Context) (PricePoint, error) {
	if c.opts.CoinID == "" {
		return PricePoint{}, schemaError(coinGeckoName, fmt.Errorf("coin id not configured"))
	}

	body, err := c.getter.get(ctx, "/coins/markets", url.Values{
		"vs_currency": {c.opts.Currency},
		"ids":         {c.opts.CoinID},
	})
	if err != nil {
		return PricePoint{}, err
	}

	row, _, _, err := jsonparser.Get(body, "[0]")
	if err != nil {
		return PricePoint{}, schemaError(coinGeckoName, fmt.Errorf("no market row for %s: %w", c.opts.CoinID, err))
	}

	price, err := priceAt(coinGeckoName, row, "current_price")
	if err != nil {
		return PricePoint{}, err
	}

	point := PricePoint{
		Price:            price,
		MarketCapUSD:     decimalAt(row, "market_cap"),
		Volume24hUSD:     decimalAt(row, "total_volume"),
		Rank:             rankAt(row, "market_cap_rank"),
		ChangePercent24h: decimalAt(row, "price_change_percentage_24h"),
		ObservedAt:       observedAt(row, "last_updated"),
		Source:           coinGeckoName,
	}
	return point, point.Validate()
}

// FetchHistory implements HistoryProvider.
func (c *CoinGecko) FetchHistory(ctx context.Context, period Period) ([]SeriesPoint, error) {
	days := int(period.Lookback() / (24 * time.Hour))
	body, err := c.getter.get(ctx, "/coins/"+url.PathEscape(c.opts.CoinID)+"/market_chart", url.Values{
		"vs_currency": {c.opts.Currency},
		"days":        {strconv.Itoa(days)},
	})
	if err != nil {
		return nil, err
	}

	var series []SeriesPoint
	_, err = jsonparser.ArrayEach(body, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		ms, msErr := jsonparser.GetInt(value, "[0]")
		price := decimalAt(value, "[1]")
		if msErr != nil || price == nil {
			return
		}
		series = append(series, SeriesPoint{Timestamp: time.UnixMilli(ms).UTC(), Price: *price})
	}, "prices")
	if err != nil {
		return nil, schemaError(coinGeckoName, fmt.Errorf("iterate prices: %w", err))
	}
	return series, nil
}

var (
	_ Provider        = (*CoinGecko)(nil)
	_ HealthChecker   = (*CoinGecko)(nil)
	_ HistoryProvider = (*CoinGecko)(nil)
)
