package render

import (
	"sync"

	"price-ticker/internal/market"
)

// Snapshot remembers the last rendered slots for pull-style readers.
type Snapshot struct {
	mu    sync.RWMutex
	slots Slots
	set   bool
	count uint64
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

func (s *Snapshot) Render(point *market.PricePoint, flags Flags) {
	slots := BuildSlots(point, flags)
	s.mu.Lock()
	s.slots = slots
	s.set = true
	s.count++
	s.mu.Unlock()
}

// Latest returns the last slots and whether anything was rendered yet.
func (s *Snapshot) Latest() (Slots, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots, s.set
}

// Renders counts Render calls.
func (s *Snapshot) Renders() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
