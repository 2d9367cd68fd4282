package poller

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/chain"
	"ftfeed/apps/ftfeed/internal/contracts"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/observability"
)

type DepositSubmitter interface {
	Submit(ctx context.Context, events []model.DepositEvent)
}

type DepositConfig struct {
	Interval          time.Duration
	BlockWindow       uint64
	ProcessedCapacity int
	Location          *time.Location
}

// DepositPoller reads ETHDepositInitiated logs from the L1 bridge. Each
// transaction hash is emitted at most once while it stays in the processed set.
type DepositPoller struct {
	config    DepositConfig
	client    chain.Client
	bridge    contracts.Contract
	submitter DepositSubmitter
	processed *lru.Cache[string, struct{}]
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

type depositData struct {
	Amount    *big.Int
	ExtraData []byte
}

func NewDepositPoller(
	config DepositConfig,
	client chain.Client,
	bridge contracts.Contract,
	submitter DepositSubmitter,
	logger *zap.Logger,
	metrics *observability.Metrics) (*DepositPoller, error) {
	if config.ProcessedCapacity <= 0 {
		config.ProcessedCapacity = 100000
	}
	processed, err := lru.New[string, struct{}](config.ProcessedCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create processed set: %w", err)
	}

	return &DepositPoller{
		config:    config,
		client:    client,
		bridge:    bridge,
		submitter: submitter,
		processed: processed,
		logger:    logger.With(zap.String("loop", "deposits")),
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// Start blocks until ctx is cancelled.
func (p *DepositPoller) Start(ctx context.Context) {
	p.logger.Info("Starting deposit poller", zap.Duration("interval", p.config.Interval), zap.Uint64("window", p.config.BlockWindow))
	runLoop(ctx, "deposits", p.config.Interval, p.logger, p.metrics, p.Poll)
	p.logger.Info("Deposit poller stopped")
}

func (p *DepositPoller) Poll(ctx context.Context) error {
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return err
	}

	from := windowStart(head, p.config.BlockWindow)
	logs, err := p.client.FilterLogs(ctx, p.bridge.Address, [][]common.Hash{{contracts.ETHDepositInitiatedEventSig}}, from, head)
	if err != nil {
		return fmt.Errorf("failed to scan blocks %d-%d: %w", from, head, err)
	}

	clock := newBlockClock(p.client, p.config.Location, p.logger, p.now)
	var deposits []model.DepositEvent
	for _, eventLog := range logs {
		hash := eventLog.TxHash.Hex()
		if p.processed.Contains(hash) {
			continue
		}
		// Decode failures are not retried either.
		p.processed.Add(hash, struct{}{})

		if deposit, ok := p.decode(ctx, eventLog, clock); ok {
			deposits = append(deposits, deposit)
		}
	}

	if len(deposits) > 0 {
		p.logger.Info("Found deposits", zap.Int("count", len(deposits)), zap.Uint64("start", from), zap.Uint64("end", head))
		p.submitter.Submit(ctx, deposits)
	}
	return nil
}

// Processed reports whether hash was already handled.
func (p *DepositPoller) Processed(hash string) bool {
	return p.processed.Contains(hash)
}

func (p *DepositPoller) decode(ctx context.Context, eventLog types.Log, clock *blockClock) (model.DepositEvent, bool) {
	// Topics[0] is the event signature hash
	// Topics[1] is from (address, L1 origin)
	// Topics[2] is to (address, L2 destination)
	if eventLog.Removed || len(eventLog.Topics) < 3 {
		p.metrics.EventsDropped.WithLabelValues(model.KindDeposit, "decode").Inc()
		p.logger.Warn("Skipping malformed deposit log", zap.String("tx_hash", eventLog.TxHash.Hex()), zap.Int("topics", len(eventLog.Topics)))
		return model.DepositEvent{}, false
	}
	from := common.BytesToAddress(eventLog.Topics[1].Bytes())
	to := common.BytesToAddress(eventLog.Topics[2].Bytes())

	amount, err := p.amount(ctx, eventLog)
	if err != nil {
		p.metrics.EventsDropped.WithLabelValues(model.KindDeposit, "decode").Inc()
		p.logger.Warn("Failed to decode deposit amount", zap.String("tx_hash", eventLog.TxHash.Hex()), zap.Error(err))
		return model.DepositEvent{}, false
	}

	l1Balance := ""
	if balance, err := p.client.BalanceAt(ctx, from); err != nil {
		p.logger.Warn("Failed to get L1 balance", zap.String("address", from.Hex()), zap.Error(err))
	} else {
		l1Balance = chain.FormatBalance(balance)
	}

	p.metrics.EventsDecoded.WithLabelValues(model.KindDeposit).Inc()
	return model.DepositEvent{
		Address:         model.NormalizeAddress(to.Hex()),
		L1Address:       model.NormalizeAddress(from.Hex()),
		L1Balance:       l1Balance,
		DepositAmount:   chain.FormatAmount(amount),
		Timestamp:       clock.Timestamp(ctx, eventLog.BlockNumber),
		TransactionHash: eventLog.TxHash.Hex(),
		BlockNumber:     eventLog.BlockNumber,
	}, true
}

// amount reads the deposit value from the log, falling back to the value of
// the originating transaction.
func (p *DepositPoller) amount(ctx context.Context, eventLog types.Log) (*big.Int, error) {
	var eventData depositData
	err := p.bridge.ABI.UnpackIntoInterface(&eventData, "ETHDepositInitiated", eventLog.Data)
	if err == nil && eventData.Amount != nil {
		return eventData.Amount, nil
	}

	tx, txErr := p.client.TransactionByHash(ctx, eventLog.TxHash)
	if txErr != nil {
		return nil, fmt.Errorf("log data unreadable (%v) and transaction lookup failed: %w", err, txErr)
	}
	return tx.Value, nil
}
