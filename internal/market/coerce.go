package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"
)

// decimalAt reads an optional numeric field. Missing keys, null, empty
// strings, NaN and infinities are reported as absent rather than zero.
func decimalAt(data []byte, keys ...string) *decimal.Decimal {
	raw, typ, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		return nil
	}
	return coerceDecimal(raw, typ)
}

func coerceDecimal(raw []byte, typ jsonparser.ValueType) *decimal.Decimal {
	switch typ {
	case jsonparser.Number, jsonparser.String:
	default:
		return nil
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}
	switch strings.ToLower(text) {
	case "nan", "inf", "+inf", "-inf", "infinity", "-infinity", "null", "undefined":
		return nil
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return nil
	}
	return &value
}

// priceAt reads the mandatory price field.
func priceAt(provider string, data []byte, keys ...string) (decimal.Decimal, error) {
	value := decimalAt(data, keys...)
	if value == nil {
		return decimal.Decimal{}, schemaError(provider, fmt.Errorf("%w at %s", ErrMissingPrice, strings.Join(keys, ".")))
	}
	if value.IsNegative() {
		return decimal.Decimal{}, schemaError(provider, fmt.Errorf("negative price %s", value.String()))
	}
	return *value, nil
}

// rankAt reads an optional positive integer rank.
func rankAt(data []byte, keys ...string) *int {
	value := decimalAt(data, keys...)
	if value == nil || !value.IsPositive() || !value.Equal(value.Truncate(0)) {
		return nil
	}
	rank := int(value.IntPart())
	return &rank
}

// validJSON rejects bodies that are not a single well-formed JSON object or
// array.
func validJSON(provider string, body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return schemaError(provider, errors.New("empty response body"))
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return schemaError(provider, fmt.Errorf("unexpected body prefix %q", trimmed[:1]))
	}
	if !json.Valid(body) {
		return schemaError(provider, errors.New("malformed JSON body"))
	}
	return nil
}
