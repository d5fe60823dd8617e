package oracle

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain feed querier.
type ChainlinkOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Chainlink queries AggregatorV3-compatible feeds over Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimalsMux sync.Mutex
	decimals    map[string]uint8
}

// NewChainlink builds a new aggregator querier.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:     opts,
		logger:   logger.With().Str("component", "chainlink_querier").Logger(),
		decimals: make(map[string]uint8),
	}
}

// QueryFeed calls latestRoundData on the aggregator at handle.
func (c *Chainlink) QueryFeed(ctx context.Context, handle string) (RoundData, error) {
	if c.opts.RPCURL == "" {
		return RoundData{}, errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(handle) {
		return RoundData{}, errors.New("feed handle is not a hex address")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return RoundData{}, err
	}

	addr := common.HexToAddress(handle)

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return RoundData{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return RoundData{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return RoundData{}, err
	}
	if len(outputs) != 5 {
		return RoundData{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return RoundData{}, errors.New("failed to decode aggregator answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return RoundData{}, errors.New("failed to decode aggregator timestamp")
	}

	dec, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return RoundData{}, err
	}

	return RoundData{
		Answer:    answer,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
		Decimals:  dec,
	}, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.decimalsMux.Lock()
	if dec, ok := c.decimals[addr.Hex()]; ok {
		c.decimalsMux.Unlock()
		return dec, nil
	}
	c.decimalsMux.Unlock()

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}

	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}

	dec, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode feed decimals")
	}

	c.decimalsMux.Lock()
	c.decimals[addr.Hex()] = dec
	c.decimalsMux.Unlock()

	return dec, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Querier = (*Chainlink)(nil)
