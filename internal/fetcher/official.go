package fetcher

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
)

const (
	aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ContractCaller is the subset of ethclient used to read feeds.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkOptions parameterise the on-chain oracle source.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps contract symbols to aggregator addresses.
	Feeds   map[string]string
	Timeout time.Duration
	MaxAge  time.Duration
}

// Chainlink reads USD reference prices from Chainlink aggregators.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	caller    ContractCaller
	clientMux sync.Mutex

	decimalsMu sync.Mutex
	decimals   map[string]int32
}

// NewChainlink builds an oracle source; the RPC connection is dialled lazily.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_source").Logger(),
		decimals: make(map[string]int32),
	}
}

// WithCaller injects a contract caller instead of dialling RPCURL.
func (c *Chainlink) WithCaller(caller ContractCaller) *Chainlink {
	c.caller = caller
	return c
}

// Name identifies the source.
func (c *Chainlink) Name() string { return "chainlink" }

// FetchComparison reads latestRoundData for the symbol's feed.
func (c *Chainlink) FetchComparison(ctx context.Context, symbol string, _ decimal.Decimal) (decimal.Decimal, error) {
	feed, ok := c.opts.Feeds[symbol]
	if !ok || feed == "" {
		return decimal.Zero, fmt.Errorf("no chainlink feed configured for %s", symbol)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	addr := common.HexToAddress(feed)
	places, err := c.feedDecimals(ctx, caller, addr)
	if err != nil {
		return decimal.Zero, err
	}

	outputs, err := call(ctx, caller, addr, "latestRoundData")
	if err != nil {
		return decimal.Zero, err
	}
	if len(outputs) != 5 {
		return decimal.Zero, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return decimal.Zero, errors.New("failed to decode latestRoundData answer")
	}
	if updated, ok := outputs[3].(*big.Int); ok && c.opts.MaxAge > 0 {
		age := time.Since(time.Unix(updated.Int64(), 0))
		if age > c.opts.MaxAge {
			return decimal.Zero, fmt.Errorf("chainlink feed %s stale by %s", symbol, age.Truncate(time.Second))
		}
	}

	return decimal.NewFromBigInt(answer, -places), nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, caller ContractCaller, addr common.Address) (int32, error) {
	key := addr.Hex()
	c.decimalsMu.Lock()
	places, ok := c.decimals[key]
	c.decimalsMu.Unlock()
	if ok {
		return places, nil
	}

	outputs, err := call(ctx, caller, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	raw, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	places = int32(raw)
	c.decimalsMu.Lock()
	c.decimals[key] = places
	c.decimalsMu.Unlock()
	return places, nil
}

func call(ctx context.Context, caller ContractCaller, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return aggregatorABI.Unpack(method, res)
}

func (c *Chainlink) getCaller(ctx context.Context) (ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ ComparisonSource = (*Chainlink)(nil)
