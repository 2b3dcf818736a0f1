package market

//go:generate mockgen -destination=mocks/provider_mock.go -package=mocks price-ticker/internal/market Provider

import (
	"context"
	"errors"
	"fmt"
)

// Provider retrieves the latest normalized reading from one upstream.
type Provider interface {
	Name() string
	FetchLatest(ctx context.Context) (PricePoint, error)
}

// HealthChecker is implemented by providers exposing a ping-style endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HistoryProvider is implemented by providers that can serve a price series.
type HistoryProvider interface {
	FetchHistory(ctx context.Context, period Period) ([]SeriesPoint, error)
}

// Kind classifies fetch failures.
type Kind string

const (
	// KindNetwork covers timeouts, connection errors and non-2xx statuses.
	KindNetwork Kind = "network"
	// KindSchema covers unparsable bodies and missing mandatory fields.
	KindSchema Kind = "schema"
)

// FetchError wraps a provider failure with its classification.
type FetchError struct {
	Kind     Kind
	Provider string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s failure (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s failure: %v", e.Provider, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrMissingPrice marks a response without the mandatory price field.
var ErrMissingPrice = errors.New("response missing price")

func networkError(provider string, status int, err error) error {
	return &FetchError{Kind: KindNetwork, Provider: provider, Status: status, Err: err}
}

func schemaError(provider string, err error) error {
	return &FetchError{Kind: KindSchema, Provider: provider, Err: err}
}

// KindOf returns the failure kind of err, defaulting to network.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}
