// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"ftfeed/apps/ftfeed/internal/chain"
)

var ErrNotFound = errors.New("not found")

type FakeClient struct {
	mu           sync.Mutex
	head         uint64
	headErr      error
	balances     map[common.Address]*big.Int
	balanceErr   error
	logs         []types.Log
	transactions map[common.Hash]*chain.Transaction
	blockTimes   map[uint64]time.Time
	callResult   []byte
	callErr      error
	subscribers  []chan<- types.Log

	filterCalls  int
	balanceCalls int
}

var _ chain.Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{
		balances:     make(map[common.Address]*big.Int),
		transactions: make(map[common.Hash]*chain.Transaction),
		blockTimes:   make(map[uint64]time.Time),
	}
}

func (f *FakeClient) SetHead(head uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = head
}

func (f *FakeClient) SetHeadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headErr = err
}

func (f *FakeClient) SetBalance(address common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = wei
}

func (f *FakeClient) SetBalanceError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceErr = err
}

func (f *FakeClient) AddLogs(logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs...)
}

func (f *FakeClient) SetTransaction(tx *chain.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[tx.Hash] = tx
}

func (f *FakeClient) SetBlockTime(number uint64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockTimes[number] = at
}

func (f *FakeClient) SetCallResult(result []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callResult = result
	f.callErr = err
}

// Emit pushes a log to every live subscription.
func (f *FakeClient) Emit(log types.Log) {
	f.mu.Lock()
	subscribers := slices.Clone(f.subscribers)
	f.mu.Unlock()

	for _, ch := range subscribers {
		ch <- log
	}
}

func (f *FakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *FakeClient) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if balance, ok := f.balances[address]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

// FilterLogs matches on contract address, block range and the first topic position only.
func (f *FakeClient) FilterLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls++

	var matched []types.Log
	for _, log := range f.logs {
		if log.Address != contract || log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(topics) > 0 && len(topics[0]) > 0 && !matchesTopic(log, topics[0]) {
			continue
		}
		matched = append(matched, log)
	}
	return matched, nil
}

func matchesTopic(log types.Log, wanted []common.Hash) bool {
	if len(log.Topics) == 0 {
		return false
	}
	for _, topic := range wanted {
		if log.Topics[0] == topic {
			return true
		}
	}
	return false
}

func (f *FakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*chain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.transactions[hash]; ok {
		return tx, nil
	}
	return nil, ErrNotFound
}

func (f *FakeClient) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if at, ok := f.blockTimes[number]; ok {
		return at, nil
	}
	return time.Time{}, ErrNotFound
}

func (f *FakeClient) SubscribeLogs(ctx context.Context, contract common.Address, topics [][]common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, subscriber := range f.subscribers {
			if subscriber == ch {
				f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

func (f *FakeClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callResult, f.callErr
}

func (f *FakeClient) Close() {}

// Subscribers returns the number of live log subscriptions.
func (f *FakeClient) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *FakeClient) FilterCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filterCalls
}

func (f *FakeClient) BalanceCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}
