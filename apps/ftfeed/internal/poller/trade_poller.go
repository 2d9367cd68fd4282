package poller

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/chain"
	"ftfeed/apps/ftfeed/internal/contracts"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/observability"
)

type TradeSubmitter interface {
	Submit(ctx context.Context, events []model.TradeEvent)
}

type TradeConfig struct {
	Interval    time.Duration
	BlockWindow uint64
	Gradient    model.Gradient
	Location    *time.Location
}

// TradePoller reads Trade logs from the marketplace over a trailing block window.
type TradePoller struct {
	config      TradeConfig
	client      chain.Client
	stream      chain.Client
	marketplace contracts.Contract
	submitter   TradeSubmitter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

type tradeData struct {
	Trader            common.Address
	Subject           common.Address
	IsBuy             bool
	ShareAmount       *big.Int
	EthAmount         *big.Int
	ProtocolEthAmount *big.Int
	SubjectEthAmount  *big.Int
	Supply            *big.Int
}

// NewTradePoller builds a poller. stream may be nil; when set it must support
// log subscriptions and feeds the same submitter in addition to polling.
func NewTradePoller(
	config TradeConfig,
	client chain.Client,
	stream chain.Client,
	marketplace contracts.Contract,
	submitter TradeSubmitter,
	logger *zap.Logger,
	metrics *observability.Metrics) *TradePoller {
	return &TradePoller{
		config:      config,
		client:      client,
		stream:      stream,
		marketplace: marketplace,
		submitter:   submitter,
		logger:      logger.With(zap.String("loop", "trades")),
		metrics:     metrics,
		now:         time.Now,
	}
}

// Start blocks until ctx is cancelled.
func (p *TradePoller) Start(ctx context.Context) {
	p.logger.Info("Starting trade poller", zap.Duration("interval", p.config.Interval), zap.Uint64("window", p.config.BlockWindow))

	if p.stream != nil {
		go p.streamLoop(ctx)
	}
	runLoop(ctx, "trades", p.config.Interval, p.logger, p.metrics, p.Poll)

	p.logger.Info("Trade poller stopped")
}

// Poll runs one iteration over [head-window, head].
func (p *TradePoller) Poll(ctx context.Context) error {
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return err
	}

	from := windowStart(head, p.config.BlockWindow)
	logs, err := p.client.FilterLogs(ctx, p.marketplace.Address, [][]common.Hash{{contracts.TradeEventSig}}, from, head)
	if err != nil {
		return fmt.Errorf("failed to scan blocks %d-%d: %w", from, head, err)
	}

	p.logger.Debug("Scanned block range for trades", zap.Uint64("start", from), zap.Uint64("end", head), zap.Int("logs", len(logs)))

	clock := newBlockClock(p.client, p.config.Location, p.logger, p.now)
	trades := make([]model.TradeEvent, 0, len(logs))
	for _, eventLog := range logs {
		if trade, ok := p.decode(ctx, eventLog, clock); ok {
			trades = append(trades, trade)
		}
	}

	if len(trades) > 0 {
		p.submitter.Submit(ctx, trades)
	}
	return nil
}

func (p *TradePoller) decode(ctx context.Context, eventLog types.Log, clock *blockClock) (model.TradeEvent, bool) {
	if eventLog.Removed || len(eventLog.Topics) == 0 || eventLog.Topics[0] != contracts.TradeEventSig {
		return model.TradeEvent{}, false
	}

	var eventData tradeData
	if err := p.marketplace.ABI.UnpackIntoInterface(&eventData, "Trade", eventLog.Data); err != nil {
		p.metrics.EventsDropped.WithLabelValues(model.KindTrade, "decode").Inc()
		p.logger.Warn("Failed to unpack Trade event data", zap.String("tx_hash", eventLog.TxHash.Hex()), zap.Error(err), zap.Int("data_length", len(eventLog.Data)))
		return model.TradeEvent{}, false
	}

	amount := chain.WeiToEther(eventData.EthAmount).Abs().Round(chain.AmountPlaces)
	if amount.IsZero() {
		p.metrics.EventsDropped.WithLabelValues(model.KindTrade, "dust").Inc()
		return model.TradeEvent{}, false
	}

	transactionType := model.Sell
	if eventData.IsBuy {
		transactionType = model.Buy
	}

	p.metrics.EventsDecoded.WithLabelValues(model.KindTrade).Inc()
	return model.TradeEvent{
		Trader:          model.NormalizeAddress(eventData.Trader.Hex()),
		Subject:         model.NormalizeAddress(eventData.Subject.Hex()),
		TransactionType: transactionType,
		ShareAmount:     bigString(eventData.ShareAmount),
		EthAmount:       amount.StringFixed(chain.AmountPlaces),
		Timestamp:       clock.Timestamp(ctx, eventLog.BlockNumber),
		TransactionHash: eventLog.TxHash.Hex(),
		ColorGradient:   p.config.Gradient.Classify(amount),
		BlockNumber:     eventLog.BlockNumber,
		LogIndex:        eventLog.Index,
		Supply:          bigString(eventData.Supply),
	}, true
}

// streamLoop keeps a log subscription open, re-subscribing on the poll interval after a failure.
func (p *TradePoller) streamLoop(ctx context.Context) {
	for {
		if err := p.consumeStream(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Trade subscription ended", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.config.Interval):
		}
	}
}

func (p *TradePoller) consumeStream(ctx context.Context) error {
	logs := make(chan types.Log, 64)
	sub, err := p.stream.SubscribeLogs(ctx, p.marketplace.Address, [][]common.Hash{{contracts.TradeEventSig}}, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	p.logger.Info("Subscribed to trade logs")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case eventLog := <-logs:
			clock := newBlockClock(p.client, p.config.Location, p.logger, p.now)
			if trade, ok := p.decode(ctx, eventLog, clock); ok {
				p.submitter.Submit(ctx, []model.TradeEvent{trade})
			}
		}
	}
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
