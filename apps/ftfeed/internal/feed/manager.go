package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/model"
)

var (
	ErrWalletRequired = errors.New("a connected wallet is required")
	ErrInvalidWallet  = errors.New("invalid wallet address")
)

type entry struct {
	feed *Feed
	refs int
}

// Manager hands out feeds per tier. A feed starts on its first Attach and
// stops when the last session detaches.
type Manager struct {
	ctx         context.Context
	deps        Dependencies
	subscribers map[string]struct{}

	mu    sync.Mutex
	feeds map[Tier]*entry
}

func NewManager(ctx context.Context, deps Dependencies) *Manager {
	subscribers := make(map[string]struct{}, len(deps.Config.SubscriberAddresses))
	for _, address := range deps.Config.SubscriberAddresses {
		subscribers[model.NormalizeAddress(address)] = struct{}{}
	}

	return &Manager{
		ctx:         ctx,
		deps:        deps,
		subscribers: subscribers,
		feeds:       make(map[Tier]*entry),
	}
}

// ResolveTier decides which feed a wallet gets. An empty wallet is refused
// when wallets are required.
func (m *Manager) ResolveTier(ctx context.Context, wallet string) (Tier, error) {
	wallet = model.NormalizeAddress(wallet)
	if wallet == "" {
		if m.deps.Config.RequireWallet {
			return "", ErrWalletRequired
		}
		return Standard, nil
	}
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("%w %q", ErrInvalidWallet, wallet)
	}

	if _, ok := m.subscribers[wallet]; ok {
		return Subscriber, nil
	}

	subject := m.deps.Config.SubscriptionSubject
	if subject == "" {
		return Standard, nil
	}

	holds, err := m.holdsShares(ctx, common.HexToAddress(subject), common.HexToAddress(wallet))
	if err != nil {
		m.deps.Logger.Warn("Failed to check subscription, using standard tier", zap.String("wallet", wallet), zap.Error(err))
		return Standard, nil
	}
	if holds {
		return Subscriber, nil
	}
	return Standard, nil
}

func (m *Manager) holdsShares(ctx context.Context, subject, holder common.Address) (bool, error) {
	registry := m.deps.Registry
	data, err := registry.PackSharesBalance(subject, holder)
	if err != nil {
		return false, err
	}

	result, err := m.deps.L2.CallContract(ctx, ethereum.CallMsg{To: &registry.Marketplace.Address, Data: data})
	if err != nil {
		return false, err
	}

	values, err := registry.Marketplace.ABI.Unpack("sharesBalance", result)
	if err != nil {
		return false, fmt.Errorf("failed to unpack sharesBalance: %w", err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unexpected sharesBalance result of %d values", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("unexpected sharesBalance type %T", values[0])
	}
	return balance.Sign() > 0, nil
}

// Attach returns the running feed for tier, starting it if needed.
func (m *Manager) Attach(tier Tier) (*Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.feeds[tier]; ok {
		e.refs++
		return e.feed, nil
	}

	feed, err := newFeed(tier, m.deps)
	if err != nil {
		return nil, err
	}
	feed.start(m.ctx)
	m.feeds[tier] = &entry{feed: feed, refs: 1}
	m.deps.Metrics.ActiveFeeds.WithLabelValues(string(tier)).Set(1)
	return feed, nil
}

// Detach releases one reference and stops the feed when none are left.
func (m *Manager) Detach(feed *Feed) {
	m.mu.Lock()
	e, ok := m.feeds[feed.tier]
	if !ok || e.feed != feed {
		m.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.feeds, feed.tier)
	m.deps.Metrics.ActiveFeeds.WithLabelValues(string(feed.tier)).Set(0)
	m.mu.Unlock()

	feed.stop()
}

// Running returns the reference count of every running feed.
func (m *Manager) Running() map[Tier]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	running := make(map[Tier]int, len(m.feeds))
	for tier, e := range m.feeds {
		running[tier] = e.refs
	}
	return running
}

// Shutdown stops every feed regardless of references.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	feeds := make([]*Feed, 0, len(m.feeds))
	for tier, e := range m.feeds {
		feeds = append(feeds, e.feed)
		delete(m.feeds, tier)
	}
	m.mu.Unlock()

	for _, feed := range feeds {
		feed.stop()
	}
}
