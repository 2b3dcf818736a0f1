package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	onChainName = "onchain"

	aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

	erc20ABIJSON = `[{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	aggregatorABI abi.ABI
	erc20ABI      abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed

	parsed, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// contractCaller is the subset of ethclient.Client used here.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OnChainOptions parameterise the on-chain provider.
type OnChainOptions struct {
	RPCURL            string
	AggregatorAddress string
	TokenAddress      string
	TokenDecimals     int32
	Timeout           time.Duration
}

// OnChain derives price from a Chainlink-style aggregator and market cap from
// the token's total supply. Both reads are issued concurrently and must both
// succeed.
type OnChain struct {
	opts      OnChainOptions
	logger    zerolog.Logger
	caller    contractCaller
	callerMux sync.Mutex
}

// NewOnChain builds the provider; the RPC connection is dialled lazily.
func NewOnChain(opts OnChainOptions, logger zerolog.Logger) *OnChain {
	if opts.TokenDecimals <= 0 {
		opts.TokenDecimals = 18
	}
	return &OnChain{opts: opts, logger: logger.With().Str("component", "provider_onchain").Logger()}
}

// Name implements Provider.
func (o *OnChain) Name() string { return onChainName }

// FetchLatest implements Provider.
func (o *OnChain) FetchLatest(ctx context.Context) (PricePoint, error) {
	if o.opts.AggregatorAddress == "" {
		return PricePoint{}, schemaError(onChainName, errors.New("aggregator address not configured"))
	}
	if o.opts.TokenAddress == "" {
		return PricePoint{}, schemaError(onChainName, errors.New("token address not configured"))
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := o.getCaller(ctx)
	if err != nil {
		return PricePoint{}, networkError(onChainName, 0, err)
	}

	var (
		price    decimal.Decimal
		updated  time.Time
		supply   decimal.Decimal
		group, c = errgroup.WithContext(ctx)
	)
	group.Go(func() error {
		var err error
		price, updated, err = o.readPrice(c, caller)
		return err
	})
	group.Go(func() error {
		var err error
		supply, err = o.readSupply(c, caller)
		return err
	})
	if err := group.Wait(); err != nil {
		return PricePoint{}, err
	}

	marketCap := price.Mul(supply)
	point := PricePoint{
		Price:        price,
		MarketCapUSD: &marketCap,
		ObservedAt:   updated,
		Source:       onChainName,
	}
	return point, point.Validate()
}

func (o *OnChain) readPrice(ctx context.Context, caller contractCaller) (decimal.Decimal, time.Time, error) {
	addr := common.HexToAddress(o.opts.AggregatorAddress)

	decOut, err := o.call(ctx, caller, aggregatorABI, addr, "decimals")
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	feedDecimals, ok := decOut[0].(uint8)
	if !ok {
		return decimal.Decimal{}, time.Time{}, schemaError(onChainName, errors.New("failed to decode decimals output"))
	}

	roundOut, err := o.call(ctx, caller, aggregatorABI, addr, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	if len(roundOut) != 5 {
		return decimal.Decimal{}, time.Time{}, schemaError(onChainName, errors.New("unexpected latestRoundData response"))
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok || answer == nil {
		return decimal.Decimal{}, time.Time{}, schemaError(onChainName, ErrMissingPrice)
	}
	if answer.Sign() < 0 {
		return decimal.Decimal{}, time.Time{}, schemaError(onChainName, fmt.Errorf("negative answer %s", answer.String()))
	}

	var updated time.Time
	if ts, ok := roundOut[3].(*big.Int); ok && ts != nil && ts.Sign() > 0 {
		updated = time.Unix(ts.Int64(), 0).UTC()
	}

	return decimal.NewFromBigInt(answer, -int32(feedDecimals)), updated, nil
}

func (o *OnChain) readSupply(ctx context.Context, caller contractCaller) (decimal.Decimal, error) {
	out, err := o.call(ctx, caller, erc20ABI, common.HexToAddress(o.opts.TokenAddress), "totalSupply")
	if err != nil {
		return decimal.Decimal{}, err
	}
	supply, ok := out[0].(*big.Int)
	if !ok || supply == nil {
		return decimal.Decimal{}, schemaError(onChainName, errors.New("failed to decode totalSupply output"))
	}
	return decimal.NewFromBigInt(supply, -o.opts.TokenDecimals), nil
}

func (o *OnChain) call(ctx context.Context, caller contractCaller, contract abi.ABI, addr common.Address, method string) ([]interface{}, error) {
	payload, err := contract.Pack(method)
	if err != nil {
		return nil, schemaError(onChainName, fmt.Errorf("pack %s: %w", method, err))
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, networkError(onChainName, 0, fmt.Errorf("call %s: %w", method, err))
	}
	outputs, err := contract.Unpack(method, res)
	if err != nil {
		return nil, schemaError(onChainName, fmt.Errorf("unpack %s: %w", method, err))
	}
	if len(outputs) == 0 {
		return nil, schemaError(onChainName, fmt.Errorf("empty %s output", method))
	}
	return outputs, nil
}

func (o *OnChain) getCaller(ctx context.Context) (contractCaller, error) {
	o.callerMux.Lock()
	defer o.callerMux.Unlock()

	if o.caller != nil {
		return o.caller, nil
	}
	if o.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.caller = client
	return client, nil
}

var _ Provider = (*OnChain)(nil)
