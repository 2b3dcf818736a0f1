package chart

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"price-ticker/internal/storage"
)

// WriteCSV writes stored samples with absent fields left empty.
func WriteCSV(w io.Writer, samples []storage.PriceSample) error {
	writer := csv.NewWriter(w)

	header := []string{"observed_at", "source", "price_usd", "market_cap_usd", "volume_24h_usd", "rank", "change_pct_24h"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		rank := ""
		if sample.Rank != nil {
			rank = strconv.Itoa(*sample.Rank)
		}
		record := []string{
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.Source,
			sample.Price.String(),
			optional(sample.MarketCapUSD),
			optional(sample.Volume24hUSD),
			rank,
			optional(sample.ChangePercent24h),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
