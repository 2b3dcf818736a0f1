package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Book is the in-memory rule list, persisted through Store on every change.
type Book struct {
	mu     sync.Mutex
	store  *Store
	rules  []Rule
	now    func() time.Time
	logger zerolog.Logger
}

// NewBook returns an empty book; call Load to read persisted rules.
func NewBook(store *Store, logger zerolog.Logger) *Book {
	return &Book{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "alert_book").Logger(),
	}
}

// WithClock overrides the time source used for IDs and trigger times.
func (b *Book) WithClock(now func() time.Time) *Book {
	b.now = now
	return b
}

// Load replaces the in-memory rules with the persisted ones.
func (b *Book) Load(ctx context.Context) {
	rules := b.store.Load(ctx)
	b.mu.Lock()
	b.rules = rules
	b.mu.Unlock()
	b.logger.Debug().Int("rules", len(rules)).Msg("alerts loaded")
}

// Add validates and stores a new rule. Invalid input leaves the book unchanged.
func (b *Book) Add(ctx context.Context, threshold, direction string) (Rule, error) {
	rule, err := NewRule(threshold, direction, b.now())
	if err != nil {
		return Rule{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.rules {
		if existing.ID >= rule.ID {
			rule.ID = existing.ID + 1
		}
	}

	next := append(append(make([]Rule, 0, len(b.rules)+1), b.rules...), rule)
	if err := b.store.Save(ctx, next); err != nil {
		return Rule{}, err
	}
	b.rules = next
	b.logger.Info().Int64("id", rule.ID).Str("rule", rule.String()).Msg("alert added")
	return rule, nil
}

// Delete removes the rule with id.
func (b *Book) Delete(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, r := range b.rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	next := make([]Rule, 0, len(b.rules)-1)
	next = append(next, b.rules[:idx]...)
	next = append(next, b.rules[idx+1:]...)
	if err := b.store.Save(ctx, next); err != nil {
		return err
	}
	b.rules = next
	b.logger.Info().Int64("id", id).Msg("alert deleted")
	return nil
}

// Rules returns a copy in stored order.
func (b *Book) Rules() []Rule {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Rule(nil), b.rules...)
}

// List returns the rules in display order: above rules by ascending
// threshold, then below rules by descending threshold.
func (b *Book) List() []Rule {
	rules := b.Rules()
	sort.SliceStable(rules, func(i, j int) bool {
		a, c := rules[i], rules[j]
		if a.Direction != c.Direction {
			return a.Direction == Above
		}
		if a.Threshold.Equal(c.Threshold) {
			return a.ID < c.ID
		}
		if a.Direction == Above {
			return a.Threshold.LessThan(c.Threshold)
		}
		return a.Threshold.GreaterThan(c.Threshold)
	})
	return rules
}

// Evaluate latches every untriggered rule that price satisfies and returns
// the rules that fired in this call. The full list is persisted when any
// rule fires; a failed save is logged and the latch stays set in memory.
func (b *Book) Evaluate(ctx context.Context, price decimal.Decimal) []Rule {
	b.mu.Lock()
	defer b.mu.Unlock()

	var fired []Rule
	for i := range b.rules {
		r := &b.rules[i]
		if r.Triggered || !r.Crossed(price) {
			continue
		}
		at := b.now().UTC()
		r.Triggered = true
		r.TriggeredAt = &at
		fired = append(fired, *r)
	}
	if len(fired) == 0 {
		return nil
	}

	if err := b.store.Save(ctx, b.rules); err != nil {
		b.logger.Error().Err(err).Int("fired", len(fired)).Msg("persist triggered alerts failed")
	}
	return fired
}

// Pending counts rules that have not fired yet.
func (b *Book) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.rules {
		if !r.Triggered {
			n++
		}
	}
	return n
}
