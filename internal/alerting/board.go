package alerting

import (
	"context"
	"sync"
	"time"
)

// Toast is a notification as shown on the board.
type Toast struct {
	Notification
	// ExpiresAt is nil for toasts that stay until dismissed.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// BoardOptions tune toast retention.
type BoardOptions struct {
	DismissAfter time.Duration
	// MaxToasts caps the expiring toasts kept at once. Alert toasts are
	// never evicted.
	MaxToasts int
}

// Board keeps the visible toasts, newest first. Non-alert toasts expire after
// DismissAfter; alert toasts persist until Dismiss.
type Board struct {
	mu     sync.Mutex
	opts   BoardOptions
	toasts []Toast
	now    func() time.Time
}

// NewBoard constructs an empty board.
func NewBoard(opts BoardOptions) *Board {
	if opts.DismissAfter <= 0 {
		opts.DismissAfter = 5 * time.Second
	}
	if opts.MaxToasts <= 0 {
		opts.MaxToasts = 50
	}
	return &Board{opts: opts, now: time.Now}
}

// WithClock overrides the time source.
func (b *Board) WithClock(now func() time.Time) *Board {
	b.now = now
	return b
}

// Notify posts a toast.
func (b *Board) Notify(_ context.Context, note Notification) error {
	toast := Toast{Notification: note}
	if note.Severity != SeverityAlert {
		at := b.now().Add(b.opts.DismissAfter)
		toast.ExpiresAt = &at
	}

	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toasts = append([]Toast{toast}, b.toasts...)
	b.prune(now)
	return nil
}

// Active returns unexpired toasts, newest first, dropping expired ones.
func (b *Board) Active() []Toast {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)
	return append([]Toast(nil), b.toasts...)
}

// prune drops expired toasts and the oldest expiring ones beyond MaxToasts.
func (b *Board) prune(now time.Time) {
	kept := b.toasts[:0]
	expiring := 0
	for _, t := range b.toasts {
		if t.ExpiresAt != nil {
			if !now.Before(*t.ExpiresAt) || expiring >= b.opts.MaxToasts {
				continue
			}
			expiring++
		}
		kept = append(kept, t)
	}
	b.toasts = kept
}

// Dismiss removes a toast by ID and reports whether it was present.
func (b *Board) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.toasts {
		if t.ID == id {
			b.toasts = append(b.toasts[:i], b.toasts[i+1:]...)
			return true
		}
	}
	return false
}
