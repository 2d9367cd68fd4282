// Package feed runs the ingestion pipeline for one subscription tier.
package feed

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/chain"
	"ftfeed/apps/ftfeed/internal/config"
	"ftfeed/apps/ftfeed/internal/contracts"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/observability"
	"ftfeed/apps/ftfeed/internal/pipeline"
	"ftfeed/apps/ftfeed/internal/poller"
	"ftfeed/apps/ftfeed/internal/profile"
)

type Tier string

const (
	Standard   Tier = "standard"
	Subscriber Tier = "subscriber"
)

// Exporter receives every admitted batch. Optional.
type Exporter interface {
	ExportTrades(ctx context.Context, trades []model.TradeEvent) error
	ExportDeposits(ctx context.Context, deposits []model.DepositEvent) error
}

type Dependencies struct {
	Config   *config.Config
	L2       chain.Client
	L1       chain.Client
	Stream   chain.Client
	Registry *contracts.Registry
	Exporter Exporter
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// Feed owns one profile store, its fetcher, the trade and deposit buffers and
// the pollers feeding them.
type Feed struct {
	tier          Tier
	store         *profile.Store
	fetcher       *profile.Fetcher
	trades        *pipeline.Buffer[model.TradeEvent]
	deposits      *pipeline.Buffer[model.DepositEvent]
	tradePoller   *poller.TradePoller
	depositPoller *poller.DepositPoller
	exporter      Exporter
	logger        *zap.Logger

	mu          sync.Mutex
	nextID      int
	subscribers map[int]func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newFeed(tier Tier, deps Dependencies) (*Feed, error) {
	cfg := deps.Config
	logger := deps.Logger.With(zap.String("tier", string(tier)))

	store := profile.NewStore()
	fetcher := profile.NewFetcher(profile.FetcherConfig{
		BaseURL:          cfg.ProfileAPIURL,
		Timeout:          cfg.ProfileTimeout,
		Cooldown:         cfg.ProfileCooldown,
		CooldownCapacity: cfg.CooldownCapacity,
		RefreshAfter:     cfg.ProfileRefreshAfter,
		RateLimit:        cfg.ProfileRateLimit,
		RateBurst:        cfg.ProfileRateBurst,
	}, store, deps.L2, logger, deps.Metrics)

	trades := pipeline.NewBuffer[model.TradeEvent](pipeline.Config{
		Kind:          model.KindTrade,
		Cap:           cfg.AdmittedCap,
		PendingMaxAge: cfg.PendingMaxAge,
		RetryAfter:    cfg.ProfileCooldown,
	}, store, fetcher, logger, deps.Metrics)

	deposits := pipeline.NewBuffer[model.DepositEvent](pipeline.Config{
		Kind:          model.KindDeposit,
		Cap:           cfg.DepositAdmittedCap,
		PendingMaxAge: cfg.PendingMaxAge,
		RetryAfter:    cfg.ProfileCooldown,
	}, store, fetcher, logger, deps.Metrics)

	tradeInterval, depositInterval := cfg.TradePollInterval, cfg.DepositPollInterval
	if tier == Subscriber {
		tradeInterval, depositInterval = cfg.SubscriberTradePollInterval, cfg.SubscriberDepositPollInterval
	}

	tradePoller := poller.NewTradePoller(poller.TradeConfig{
		Interval:    tradeInterval,
		BlockWindow: cfg.TradeBlockWindow,
		Gradient:    cfg.Gradient,
		Location:    cfg.TimeLocation,
	}, deps.L2, deps.Stream, deps.Registry.Marketplace, trades, logger, deps.Metrics)

	depositPoller, err := poller.NewDepositPoller(poller.DepositConfig{
		Interval:          depositInterval,
		BlockWindow:       cfg.DepositBlockWindow,
		ProcessedCapacity: cfg.DepositProcessedCapacity,
		Location:          cfg.TimeLocation,
	}, deps.L1, deps.Registry.Bridge, deposits, logger, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create deposit poller: %w", err)
	}

	return &Feed{
		tier:          tier,
		store:         store,
		fetcher:       fetcher,
		trades:        trades,
		deposits:      deposits,
		tradePoller:   tradePoller,
		depositPoller: depositPoller,
		exporter:      deps.Exporter,
		logger:        logger,
		subscribers:   make(map[int]func()),
	}, nil
}

func (f *Feed) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel

	f.store.OnChange(func(string) {
		// Fetches started before stop still land here; nobody reads them.
		if ctx.Err() != nil {
			return
		}
		f.trades.Rescan(ctx)
		f.deposits.Rescan(ctx)
		f.broadcast()
	})
	f.trades.OnChange(func(batch []model.TradeEvent) {
		f.export(ctx, func() error { return f.exporter.ExportTrades(ctx, batch) })
		f.broadcast()
	})
	f.deposits.OnChange(func(batch []model.DepositEvent) {
		f.export(ctx, func() error { return f.exporter.ExportDeposits(ctx, batch) })
		f.broadcast()
	})

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.tradePoller.Start(ctx)
	}()
	go func() {
		defer f.wg.Done()
		f.depositPoller.Start(ctx)
	}()

	f.logger.Info("Feed started")
}

// stop cancels the pollers and waits for them. In-flight profile fetches are left to finish.
func (f *Feed) stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.logger.Info("Feed stopped")
}

func (f *Feed) export(ctx context.Context, run func() error) {
	if f.exporter == nil {
		return
	}
	if err := run(); err != nil {
		f.logger.Error("Failed to export admitted events", zap.Error(err))
	}
}

// Subscribe registers fn to run whenever admitted events or profiles change.
func (f *Feed) Subscribe(fn func()) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subscribers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subscribers, id)
	}
}

func (f *Feed) broadcast() {
	f.mu.Lock()
	subscribers := make([]func(), 0, len(f.subscribers))
	for _, fn := range f.subscribers {
		subscribers = append(subscribers, fn)
	}
	f.mu.Unlock()

	for _, fn := range subscribers {
		fn()
	}
}

func (f *Feed) Tier() Tier { return f.tier }

func (f *Feed) Trades() []model.TradeEvent { return f.trades.Admitted() }

func (f *Feed) Deposits() []model.DepositEvent { return f.deposits.Admitted() }

func (f *Feed) Profiles() profile.Lookup { return f.store }

func (f *Feed) Fetcher() *profile.Fetcher { return f.fetcher }

func (f *Feed) PendingTrades() int { return f.trades.PendingCount() }

func (f *Feed) PendingDeposits() int { return f.deposits.PendingCount() }
