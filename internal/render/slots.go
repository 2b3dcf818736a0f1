// Package render turns readings into the named display slots and draws them.
package render

import (
	"time"

	"price-ticker/internal/format"
	"price-ticker/internal/market"
)

// Flags describe how a reading should be presented.
type Flags struct {
	// Cached marks a stale reading shown because the latest cycle failed.
	Cached bool
	// Error marks a failed cycle with nothing to fall back on.
	Error bool
}

// Status values for the status slot.
const (
	StatusLive   = "live"
	StatusCached = "cached"
	StatusError  = "error"
)

// Error-state slot texts.
const (
	UnavailablePrice = "API Unavailable"
	UnavailableMini  = "Error"
)

// Renderer consumes readings. Implementations never report failures back to
// the caller.
type Renderer interface {
	Render(point *market.PricePoint, flags Flags)
}

// Slots is the full set of display values keyed the way the page names them.
type Slots struct {
	Price         string    `json:"price"`
	PriceMini     string    `json:"price-mini"`
	MarketCap     string    `json:"marketCap"`
	Volume        string    `json:"volume"`
	Rank          string    `json:"rank"`
	ChangePercent string    `json:"changePercent"`
	ChangeClass   string    `json:"changeClass"`
	Status        string    `json:"status"`
	Source        string    `json:"source,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero"`
}

// ErrorSlots is the placeholder state shown when no reading is available.
func ErrorSlots() Slots {
	return Slots{
		Price:         UnavailablePrice,
		PriceMini:     UnavailableMini,
		MarketCap:     format.Dash,
		Volume:        format.Dash,
		Rank:          format.Dash,
		ChangePercent: format.Dash,
		Status:        StatusError,
	}
}

// BuildSlots maps a reading onto slots. A nil point or the Error flag yields
// ErrorSlots. Absent optional fields get their placeholder, never a zero.
func BuildSlots(point *market.PricePoint, flags Flags) Slots {
	if point == nil || flags.Error {
		return ErrorSlots()
	}

	price := point.Price
	slots := Slots{
		Price:         format.PriceUSD(&price),
		PriceMini:     format.Price(&price),
		MarketCap:     format.LargeNumber(point.MarketCapUSD),
		Volume:        format.LargeNumber(point.Volume24hUSD),
		Rank:          format.Rank(point.Rank),
		ChangePercent: format.Change(point.ChangePercent24h),
		ChangeClass:   format.ChangeClass(point.ChangePercent24h),
		Status:        StatusLive,
		Source:        point.Source,
		UpdatedAt:     point.ObservedAt,
	}
	if flags.Cached {
		slots.Status = StatusCached
	}
	return slots
}

// Multi fans a reading out to several renderers in order.
type Multi []Renderer

func (m Multi) Render(point *market.PricePoint, flags Flags) {
	for _, r := range m {
		if r != nil {
			r.Render(point, flags)
		}
	}
}

var (
	_ Renderer = Multi(nil)
	_ Renderer = (*Snapshot)(nil)
	_ Renderer = (*Terminal)(nil)
)
