package market

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	answer    *big.Int
	decimals  uint8
	supply    *big.Int
	supplyErr error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	selector := msg.Data[:4]
	switch {
	case bytes.Equal(selector, aggregatorABI.Methods["decimals"].ID):
		return aggregatorABI.Methods["decimals"].Outputs.Pack(f.decimals)
	case bytes.Equal(selector, aggregatorABI.Methods["latestRoundData"].ID):
		return aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
			big.NewInt(1), f.answer, big.NewInt(1709251200), big.NewInt(1709251200), big.NewInt(1))
	case bytes.Equal(selector, erc20ABI.Methods["totalSupply"].ID):
		if f.supplyErr != nil {
			return nil, f.supplyErr
		}
		return erc20ABI.Methods["totalSupply"].Outputs.Pack(f.supply)
	}
	return nil, errors.New("unexpected call")
}

func newTestOnChain(caller contractCaller) *OnChain {
	o := NewOnChain(OnChainOptions{
		AggregatorAddress: "0x0000000000000000000000000000000000000001",
		TokenAddress:      "0x0000000000000000000000000000000000000002",
	}, noopLogger())
	o.caller = caller
	return o
}

func TestOnChainFetchLatest(t *testing.T) {
	supply := new(big.Int).Mul(big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	o := newTestOnChain(&fakeCaller{answer: big.NewInt(1234), decimals: 8, supply: supply})

	point, err := o.FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.00001234", point.Price.String())
	require.NotNil(t, point.MarketCapUSD)
	assert.Equal(t, "12.34", point.MarketCapUSD.String())
	assert.Equal(t, int64(1709251200), point.ObservedAt.Unix())
	assert.Nil(t, point.Volume24hUSD)
}

func TestOnChainRequiresBothCalls(t *testing.T) {
	o := newTestOnChain(&fakeCaller{answer: big.NewInt(1234), decimals: 8, supplyErr: errors.New("rpc down")})

	_, err := o.FetchLatest(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestOnChainMissingConfig(t *testing.T) {
	o := NewOnChain(OnChainOptions{}, noopLogger())
	_, err := o.FetchLatest(context.Background())
	require.Error(t, err)

	o = NewOnChain(OnChainOptions{AggregatorAddress: "0x1", TokenAddress: "0x2"}, noopLogger())
	_, err = o.FetchLatest(context.Background())
	require.Error(t, err, "missing rpc url must fail")
}
