package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalAtTreatsGarbageAsAbsent(t *testing.T) {
	body := []byte(`{"a":"NaN","b":null,"c":"","d":"12.5","e":0,"f":"1.5e-5","g":true,"h":"abc"}`)

	assert.Nil(t, decimalAt(body, "a"))
	assert.Nil(t, decimalAt(body, "b"))
	assert.Nil(t, decimalAt(body, "c"))
	assert.Nil(t, decimalAt(body, "g"))
	assert.Nil(t, decimalAt(body, "h"))
	assert.Nil(t, decimalAt(body, "missing"))

	d := decimalAt(body, "d")
	require.NotNil(t, d)
	assert.Equal(t, "12.5", d.String())

	zero := decimalAt(body, "e")
	require.NotNil(t, zero, "a reported zero is data, not absence")
	assert.True(t, zero.IsZero())

	exp := decimalAt(body, "f")
	require.NotNil(t, exp)
	assert.Equal(t, "0.000015", exp.String())
}

func TestPriceAtRequiresValue(t *testing.T) {
	_, err := priceAt("test", []byte(`{"price":null}`), "price")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPrice)
	assert.Equal(t, KindSchema, KindOf(err))

	_, err = priceAt("test", []byte(`{"price":"-1"}`), "price")
	require.Error(t, err)

	p, err := priceAt("test", []byte(`{"price":0}`), "price")
	require.NoError(t, err)
	assert.True(t, p.IsZero())
}

func TestRankAt(t *testing.T) {
	body := []byte(`{"a":12,"b":"7","c":0,"d":-3,"e":1.5}`)

	require.NotNil(t, rankAt(body, "a"))
	assert.Equal(t, 12, *rankAt(body, "a"))
	assert.Equal(t, 7, *rankAt(body, "b"))
	assert.Nil(t, rankAt(body, "c"))
	assert.Nil(t, rankAt(body, "d"))
	assert.Nil(t, rankAt(body, "e"))
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" 7D ")
	require.NoError(t, err)
	assert.Equal(t, Period7d, p)

	_, err = ParsePeriod("2w")
	assert.ErrorIs(t, err, ErrUnknownPeriod)

	assert.Equal(t, 24, Period24h.Samples())
	assert.Equal(t, 2160, Period90d.Samples())
	assert.False(t, Period1y.Hourly())
}
