// Package session tracks what each connected client is looking at.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/feed"
	"ftfeed/apps/ftfeed/internal/filter"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/notify"
	"ftfeed/apps/ftfeed/internal/profile"
)

type UpdateType string

const (
	UpdateTrades       UpdateType = "trades"
	UpdateDeposits     UpdateType = "deposits"
	UpdateNotification UpdateType = "notification"
)

// Update is pushed to stream subscribers.
type Update struct {
	Type         UpdateType           `json:"type"`
	Trades       []model.TradeEvent   `json:"trades,omitempty"`
	Deposits     []model.DepositEvent `json:"deposits,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

// Info is the externally visible session state.
type Info struct {
	ID            string               `json:"id"`
	Wallet        string               `json:"wallet_address"`
	Tier          feed.Tier            `json:"tier,omitempty"`
	Notifications bool                 `json:"notifications"`
	Permission    notify.Permission    `json:"permission"`
	TradeFilter   filter.TradeFilter   `json:"trade_filter"`
	DepositFilter filter.DepositFilter `json:"deposit_filter"`
	CreatedAt     time.Time            `json:"created_at"`
}

const updateBuffer = 16

type Session struct {
	id        string
	createdAt time.Time
	logger    *zap.Logger

	tradeNotifier   *notify.Notifier[model.TradeEvent]
	depositNotifier *notify.Notifier[model.DepositEvent]
	signal          *notify.Signal

	mu            sync.Mutex
	wallet        string
	feed          *feed.Feed
	unsubscribe   func()
	tradeFilter   filter.TradeFilter
	depositFilter filter.DepositFilter
	trades        []model.TradeEvent
	deposits      []model.DepositEvent
	nextStreamID  int
	streams       map[int]chan Update

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:            s.id,
		Wallet:        s.wallet,
		Notifications: s.tradeNotifier.Enabled(),
		Permission:    s.tradeNotifier.Permission(),
		TradeFilter:   s.tradeFilter,
		DepositFilter: s.depositFilter,
		CreatedAt:     s.createdAt,
	}
	if s.feed != nil {
		info.Tier = s.feed.Tier()
	}
	return info
}

// Trades returns the filtered trade view.
func (s *Session) Trades() ([]model.TradeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed == nil {
		return nil, feed.ErrWalletRequired
	}
	return append([]model.TradeEvent(nil), s.trades...), nil
}

func (s *Session) Deposits() ([]model.DepositEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed == nil {
		return nil, feed.ErrWalletRequired
	}
	return append([]model.DepositEvent(nil), s.deposits...), nil
}

// Profiles returns the profile lookup of the session's feed, nil without a feed.
func (s *Session) Profiles() profile.Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed == nil {
		return nil
	}
	return s.feed.Profiles()
}

func (s *Session) Feed() *feed.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed
}

// Stream subscribes to view updates and notifications. Updates that find the
// channel full are dropped; the next one carries the full view again.
func (s *Session) Stream() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextStreamID
	s.nextStreamID++
	ch := make(chan Update, updateBuffer)
	s.streams[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.streams[id]; ok {
				delete(s.streams, id)
				close(ch)
			}
		})
	}
}

func (s *Session) publish(update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.streams {
		select {
		case ch <- update:
		default:
			s.logger.Debug("Dropping update for slow stream", zap.String("type", string(update.Type)))
		}
	}
}

// Name and Send make the session a notification sink for its own streams.
func (s *Session) Name() string { return "stream" }

func (s *Session) Send(ctx context.Context, notification notify.Notification) error {
	s.publish(Update{Type: UpdateNotification, Notification: &notification})
	return nil
}

// attach swaps the session onto f, returning the previous feed.
func (s *Session) attach(wallet string, f *feed.Feed) *feed.Feed {
	s.mu.Lock()
	previous := s.feed
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.wallet = wallet
	s.feed = f
	s.trades, s.deposits = nil, nil
	if f != nil {
		s.unsubscribe = f.Subscribe(s.signal.Fire)
	}
	s.mu.Unlock()

	s.signal.Fire()
	return previous
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal.C():
			s.recompute(ctx)
		}
	}
}

// recompute refreshes the filtered views. Bursts of changes arrive as one
// signal, so each burst yields at most one notification per view.
func (s *Session) recompute(ctx context.Context) {
	s.mu.Lock()
	f := s.feed
	tradeFilter, depositFilter := s.tradeFilter, s.depositFilter
	s.mu.Unlock()

	if f == nil {
		return
	}

	trades := filter.FilterTrades(f.Trades(), f.Profiles(), tradeFilter)
	deposits := filter.FilterDeposits(f.Deposits(), f.Profiles(), depositFilter)

	s.mu.Lock()
	if s.feed != f {
		// Wallet changed while filtering.
		s.mu.Unlock()
		return
	}
	s.trades, s.deposits = trades, deposits
	s.mu.Unlock()

	s.publish(Update{Type: UpdateTrades, Trades: trades})
	s.publish(Update{Type: UpdateDeposits, Deposits: deposits})

	if _, err := s.tradeNotifier.Observe(ctx, trades); err != nil {
		s.logger.Warn("Trade notification failed", zap.Error(err))
	}
	if _, err := s.depositNotifier.Observe(ctx, deposits); err != nil {
		s.logger.Warn("Deposit notification failed", zap.Error(err))
	}
}

func (s *Session) setFilters(trades *filter.TradeFilter, deposits *filter.DepositFilter) {
	s.mu.Lock()
	if trades != nil {
		s.tradeFilter = *trades
	}
	if deposits != nil {
		s.depositFilter = *deposits
	}
	s.mu.Unlock()
	s.signal.Fire()
}

func (s *Session) setNotifications(enabled bool, permission notify.Permission) {
	s.tradeNotifier.SetEnabled(enabled)
	s.tradeNotifier.SetPermission(permission)
	s.depositNotifier.SetEnabled(enabled)
	s.depositNotifier.SetPermission(permission)
	s.signal.Fire()
}

func (s *Session) close() *feed.Feed {
	s.cancel()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	for id, ch := range s.streams {
		delete(s.streams, id)
		close(ch)
	}
	previous := s.feed
	s.feed = nil
	return previous
}

func describeTrades(view []model.TradeEvent) (string, string) {
	if len(view) == 0 {
		return "Trade feed updated", "No trades match your filters"
	}
	latest := view[0]
	return "New trade activity", fmt.Sprintf("%s %s ETH of %s (%d matching)", latest.TransactionType, latest.EthAmount, latest.Subject, len(view))
}

func describeDeposits(view []model.DepositEvent) (string, string) {
	if len(view) == 0 {
		return "Deposit feed updated", "No deposits match your filters"
	}
	latest := view[0]
	return "New bridge deposit", fmt.Sprintf("%s ETH to %s (%d matching)", latest.DepositAmount, latest.Address, len(view))
}
