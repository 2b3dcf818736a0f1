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
	binanceName     = "binance"
	binanceBaseURL  = "https://api.binance.com"
	binanceMaxLimit = 1000
)

// BinanceOptions parameterise the Binance provider.
type BinanceOptions struct {
	HTTPOptions
	Symbol string
}

// Binance reads 24h ticker statistics from the Binance spot API. The exchange
// reports neither market cap nor rank.
type Binance struct {
	opts   BinanceOptions
	getter *httpGetter
}

// NewBinance constructs the provider.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	opts.Symbol = strings.ToUpper(strings.TrimSpace(opts.Symbol))
	headers := map[string]string{"X-MBX-APIKEY": opts.APIKey}
	return &Binance{
		opts:   opts,
		getter: newHTTPGetter(binanceName, opts.BaseURL, binanceBaseURL, opts.HTTPOptions, headers, logger),
	}
}

// Name implements Provider.
func (b *Binance) Name() string { return binanceName }

// Ping implements HealthChecker.
func (b *Binance) Ping(ctx context.Context) error {
	_, err := b.getter.get(ctx, "/api/v3/ping", nil)
	return err
}

// FetchLatest implements Provider.
func (b *Binance) FetchLatest(ctx context.Context) (PricePoint, error) {
	if b.opts.Symbol == "" {
		return PricePoint{}, schemaError(binanceName, fmt.Errorf("symbol not configured"))
	}

	body, err := b.getter.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {b.opts.Symbol}})
	if err != nil {
		return PricePoint{}, err
	}

	price, err := priceAt(binanceName, body, "lastPrice")
	if err != nil {
		return PricePoint{}, err
	}

	var observed time.Time
	if ms, err := jsonparser.GetInt(body, "closeTime"); err == nil && ms > 0 {
		observed = time.UnixMilli(ms).UTC()
	}

	point := PricePoint{
		Price:            price,
		Volume24hUSD:     decimalAt(body, "quoteVolume"),
		ChangePercent24h: decimalAt(body, "priceChangePercent"),
		ObservedAt:       observed,
		Source:           binanceName,
	}
	return point, point.Validate()
}

// FetchHistory implements HistoryProvider using close prices of klines.
func (b *Binance) FetchHistory(ctx context.Context, period Period) ([]SeriesPoint, error) {
	interval, limit := klineWindow(period)
	body, err := b.getter.get(ctx, "/api/v3/klines", url.Values{
		"symbol":   {b.opts.Symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}

	var series []SeriesPoint
	_, err = jsonparser.ArrayEach(body, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		closeMs, msErr := jsonparser.GetInt(value, "[6]")
		price := decimalAt(value, "[4]")
		if msErr != nil || price == nil {
			return
		}
		series = append(series, SeriesPoint{Timestamp: time.UnixMilli(closeMs).UTC(), Price: *price})
	})
	if err != nil {
		return nil, schemaError(binanceName, fmt.Errorf("iterate klines: %w", err))
	}
	return series, nil
}

func klineWindow(period Period) (string, int) {
	if !period.Hourly() {
		return "1d", period.Samples()
	}
	samples := period.Samples()
	if samples <= binanceMaxLimit {
		return "1h", samples
	}
	return "4h", samples / 4
}

var (
	_ Provider        = (*Binance)(nil)
	_ HealthChecker   = (*Binance)(nil)
	_ HistoryProvider = (*Binance)(nil)
)
