// Package alerts holds the operator's one-shot price alert rules.
package alerts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-ticker/internal/format"
)

// Direction is the side of the threshold a rule watches.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

var (
	// ErrInvalidThreshold rejects missing, non-numeric or non-positive prices.
	ErrInvalidThreshold = errors.New("alert price must be a positive number")
	// ErrInvalidDirection rejects anything other than above or below.
	ErrInvalidDirection = errors.New("alert direction must be above or below")
	// ErrNotFound is returned when deleting an unknown rule.
	ErrNotFound = errors.New("alert not found")
)

// Rule fires once when the observed price crosses Threshold in Direction.
type Rule struct {
	ID          int64           `json:"id"`
	Threshold   decimal.Decimal `json:"price"`
	Direction   Direction       `json:"type"`
	Triggered   bool            `json:"triggered"`
	CreatedAt   time.Time       `json:"createdAt"`
	TriggeredAt *time.Time      `json:"triggeredAt,omitempty"`
}

// ParseDirection accepts above/below case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// ParseThreshold parses a strictly positive price.
func ParseThreshold(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return decimal.Decimal{}, ErrInvalidThreshold
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
	}
	return d, nil
}

// NewRule validates operator input. The ID is the creation time in
// milliseconds; Book bumps it when it collides.
func NewRule(threshold, direction string, now time.Time) (Rule, error) {
	price, err := ParseThreshold(threshold)
	if err != nil {
		return Rule{}, err
	}
	dir, err := ParseDirection(direction)
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		ID:        now.UnixMilli(),
		Threshold: price,
		Direction: dir,
		CreatedAt: now.UTC(),
	}, nil
}

// Crossed reports whether price satisfies the rule's condition. Equality
// counts in both directions.
func (r Rule) Crossed(price decimal.Decimal) bool {
	switch r.Direction {
	case Above:
		return price.GreaterThanOrEqual(r.Threshold)
	case Below:
		return price.LessThanOrEqual(r.Threshold)
	}
	return false
}

func (r Rule) valid() bool {
	return r.Threshold.IsPositive() && (r.Direction == Above || r.Direction == Below)
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s", r.Direction, format.PriceUSD(&r.Threshold))
}
