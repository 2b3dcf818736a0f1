package market

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBinance(url string) *Binance {
	return NewBinance(BinanceOptions{
		HTTPOptions: HTTPOptions{BaseURL: url, Timeout: time.Second},
		Symbol:      "shibusdt",
	}, noopLogger())
}

func TestBinanceFetchLatest(t *testing.T) {
	body := `{"symbol":"SHIBUSDT","priceChangePercent":"2.500","lastPrice":"0.00002410","quoteVolume":"81234567.12","closeTime":1709251200000}`
	var symbol string
	srv := serveJSON(t, http.StatusOK, body, func(r *http.Request) {
		symbol = r.URL.Query().Get("symbol")
	})

	point, err := newTestBinance(srv.URL).FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SHIBUSDT", symbol)
	assert.Equal(t, "0.0000241", point.Price.String())
	assert.Nil(t, point.MarketCapUSD)
	assert.Nil(t, point.Rank)
	require.NotNil(t, point.Volume24hUSD)
	assert.Equal(t, int64(1709251200000), point.ObservedAt.UnixMilli())
}

func TestBinanceUnknownSymbol(t *testing.T) {
	srv := serveJSON(t, http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, nil)

	_, err := newTestBinance(srv.URL).FetchLatest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol.")
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestBinanceHistoryWindow(t *testing.T) {
	interval, limit := klineWindow(Period90d)
	assert.Equal(t, "4h", interval)
	assert.Equal(t, 540, limit)

	interval, limit = klineWindow(Period1y)
	assert.Equal(t, "1d", interval)
	assert.Equal(t, 365, limit)

	body := `[[1709247600000,"0.1","0.2","0.05","0.15","100",1709251199999,"15",10,"1","1","0"]]`
	srv := serveJSON(t, http.StatusOK, body, nil)

	series, err := newTestBinance(srv.URL).FetchHistory(context.Background(), Period24h)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "0.15", series[0].Price.String())
}
