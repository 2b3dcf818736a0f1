package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"price-ticker/internal/storage"
)

// Key is the storage key holding the full rule list.
const Key = "priceAlerts"

// Store loads and saves the rule list as one JSON array.
type Store struct {
	kv     storage.KV
	logger zerolog.Logger
}

// NewStore wraps a key/value backend.
func NewStore(kv storage.KV, logger zerolog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger.With().Str("component", "alert_store").Logger(),
	}
}

// Load returns the persisted rules in stored order. Corrupt content resets
// the key; any failure yields an empty list and is never an error.
func (s *Store) Load(ctx context.Context) []Rule {
	raw, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		if errors.Is(err, storage.ErrCorruptState) {
			s.logger.Warn().Err(err).Msg("alert state is corrupt, resetting")
			s.reset(ctx)
			return []Rule{}
		}
		s.logger.Error().Err(err).Msg("read alerts failed, starting empty")
		return []Rule{}
	}
	if !ok || len(raw) == 0 {
		return []Rule{}
	}

	var decoded []Rule
	if err := json.Unmarshal(raw, &decoded); err != nil {
		s.logger.Warn().Err(err).Msg("stored alerts are corrupt, resetting")
		s.reset(ctx)
		return []Rule{}
	}

	rules := make([]Rule, 0, len(decoded))
	for _, r := range decoded {
		if !r.valid() {
			s.logger.Warn().Int64("id", r.ID).Msg("dropping invalid stored alert")
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

// Save replaces the persisted list.
func (s *Store) Save(ctx context.Context, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	if err := s.kv.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("save alerts: %w", err)
	}
	return nil
}

func (s *Store) reset(ctx context.Context) {
	if err := s.kv.Set(ctx, Key, []byte("[]")); err != nil {
		s.logger.Error().Err(err).Msg("reset alerts failed")
	}
}
