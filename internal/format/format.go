// Package format turns market values into display strings. A nil input means
// the upstream did not report the value and always yields a placeholder, never
// a zero reading.
package format

import (
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	// NotAvailable replaces absent prices and large numbers.
	NotAvailable = "N/A"
	// Dash replaces absent ranks and change percentages.
	Dash = "--"
)

var (
	priceSteps = []struct {
		below  decimal.Decimal
		places int32
	}{
		{decimal.RequireFromString("0.00001"), 10},
		{decimal.RequireFromString("0.0001"), 8},
		{decimal.RequireFromString("0.01"), 6},
		{decimal.NewFromInt(1), 4},
	}

	billion  = decimal.NewFromInt(1_000_000_000)
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
)

// PricePlaces returns the number of decimals used for a price of this size.
func PricePlaces(price decimal.Decimal) int32 {
	for _, step := range priceSteps {
		if price.LessThan(step.below) {
			return step.places
		}
	}
	return 2
}

// Price formats a price with magnitude-dependent precision.
func Price(price *decimal.Decimal) string {
	if price == nil {
		return NotAvailable
	}
	return price.StringFixed(PricePlaces(*price))
}

// PriceUSD is Price with a dollar prefix.
func PriceUSD(price *decimal.Decimal) string {
	if price == nil {
		return NotAvailable
	}
	return "$" + Price(price)
}

// LargeNumber abbreviates market cap and volume figures.
func LargeNumber(n *decimal.Decimal) string {
	if n == nil {
		return NotAvailable
	}
	v := *n
	switch {
	case v.GreaterThanOrEqual(billion):
		return "$" + v.Div(billion).StringFixed(2) + "B"
	case v.GreaterThanOrEqual(million):
		return "$" + v.Div(million).StringFixed(2) + "M"
	case v.GreaterThanOrEqual(thousand):
		return "$" + v.Div(thousand).StringFixed(2) + "K"
	}
	return "$" + v.StringFixed(2)
}

// Change formats a signed 24h percentage, e.g. "+1.25%". Zero is data and
// renders as "+0.00%".
func Change(pct *decimal.Decimal) string {
	if pct == nil {
		return Dash
	}
	rounded := pct.Round(2)
	text := rounded.StringFixed(2) + "%"
	if !rounded.IsNegative() {
		text = "+" + text
	}
	return text
}

// ChangeClass returns the visual class for the change slot.
func ChangeClass(pct *decimal.Decimal) string {
	if pct == nil {
		return ""
	}
	if pct.Round(2).IsNegative() {
		return "down"
	}
	return "up"
}

// Rank formats a market-cap rank as "#N".
func Rank(rank *int) string {
	if rank == nil || *rank <= 0 {
		return Dash
	}
	return "#" + strconv.Itoa(*rank)
}
