package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"ftfeed/apps/ftfeed/internal/observability"
)

// Transaction is the subset of a transaction the feed reads.
type Transaction struct {
	Hash  common.Hash
	Value *big.Int
	Input []byte
}

// Client is the read-only view of a chain node used by the pollers and the profile fetcher.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
	FilterLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	SubscribeLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	Close()
}

// EthClient adapts ethclient.Client. Every call is bounded by the request timeout.
type EthClient struct {
	client  *ethclient.Client
	timeout time.Duration
	metrics *observability.Metrics
}

func Dial(ctx context.Context, url string, timeout time.Duration, metrics *observability.Metrics) (*EthClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum client: %w", err)
	}
	return &EthClient{client: client, timeout: timeout, metrics: metrics}, nil
}

func (c *EthClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer c.metrics.ObserveRPC("block_number", time.Now())

	number, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return number, nil
}

func (c *EthClient) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer c.metrics.ObserveRPC("balance_at", time.Now())

	balance, err := c.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance of %s: %w", address.Hex(), err)
	}
	return balance, nil
}

func (c *EthClient) FilterLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer c.metrics.ObserveRPC("filter_logs", time.Now())

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{contract},
		Topics:    topics,
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs: %w", err)
	}
	return logs, nil
}

func (c *EthClient) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer c.metrics.ObserveRPC("transaction_by_hash", time.Now())

	tx, _, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	return &Transaction{Hash: tx.Hash(), Value: tx.Value(), Input: tx.Data()}, nil
}

func (c *EthClient) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer c.metrics.ObserveRPC("block_time", time.Now())

	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0), nil
}

// SubscribeLogs requires a websocket endpoint. The subscription outlives the
// request timeout, only the handshake is bounded.
func (c *EthClient) SubscribeLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    topics,
	}

	sub, err := c.client.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	return sub, nil
}

func (c *EthClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer c.metrics.ObserveRPC("call_contract", time.Now())

	result, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	return result, nil
}

func (c *EthClient) Close() {
	c.client.Close()
}
