// Package alerting delivers user-facing notifications to one or more sinks.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Severity orders notifications by urgency.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	// SeverityAlert marks a fired price alert. Alert toasts stay until dismissed.
	SeverityAlert Severity = "alert"
)

// Notification is one message for the operator.
type Notification struct {
	ID        string           `json:"id"`
	Severity  Severity         `json:"severity"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

var idSeq atomic.Uint64

// New stamps a notification with an ID and the current time.
func New(severity Severity, title, message string) Notification {
	return Notification{
		ID:        "n" + strconv.FormatUint(idSeq.Add(1), 10),
		Severity:  severity,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// WithPrice attaches the observed price.
func (n Notification) WithPrice(price decimal.Decimal) Notification {
	n.Price = &price
	return n
}

// Multi fans a notification out to every sink. Sink failures are logged and
// joined; one failing sink never blocks the others.
type Multi struct {
	sinks  []Notifier
	logger zerolog.Logger
}

// NewMulti combines sinks, skipping nil entries.
func NewMulti(logger zerolog.Logger, sinks ...Notifier) *Multi {
	m := &Multi{logger: logger.With().Str("component", "notify_multi").Logger()}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).
				Str("sink", fmt.Sprintf("%T", sink)).
				Str("severity", string(note.Severity)).
				Msg("notification sink failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications as structured log events.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds the log sink.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, note Notification) error {
	var event *zerolog.Event
	switch note.Severity {
	case SeverityError:
		event = l.logger.Error()
	case SeverityWarning, SeverityAlert:
		event = l.logger.Warn()
	default:
		event = l.logger.Info()
	}
	if note.Price != nil {
		event = event.Str("price", note.Price.String())
	}
	event.Str("id", note.ID).
		Str("severity", string(note.Severity)).
		Str("title", note.Title).
		Msg(note.Message)
	return nil
}

var (
	_ Notifier = (*Multi)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Board)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
)
