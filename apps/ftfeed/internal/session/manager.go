package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/feed"
	"ftfeed/apps/ftfeed/internal/filter"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/notify"
	"ftfeed/apps/ftfeed/internal/observability"
)

var ErrNotFound = errors.New("session not found")

// SinkFactory builds extra notification sinks for a session, e.g. a Kafka publisher.
type SinkFactory func(sessionID, wallet string) notify.Sink

type Manager struct {
	ctx     context.Context
	feeds   *feed.Manager
	sinks   SinkFactory
	logger  *zap.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(ctx context.Context, feeds *feed.Manager, sinks SinkFactory, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		ctx:      ctx,
		feeds:    feeds,
		sinks:    sinks,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

type CreateRequest struct {
	Wallet        string
	Notifications bool
	Permission    notify.Permission
	TradeFilter   filter.TradeFilter
	DepositFilter filter.DepositFilter
}

// Create opens a session. Without a wallet, when wallets are required, the
// session exists but has no feed until SetWallet succeeds.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	wallet := model.NormalizeAddress(req.Wallet)
	f, err := m.attachFor(ctx, wallet)
	if err != nil && !errors.Is(err, feed.ErrWalletRequired) {
		return nil, err
	}

	id := uuid.New().String()
	logger := m.logger.With(zap.String("session_id", id))
	sessionCtx, cancel := context.WithCancel(m.ctx)

	s := &Session{
		id:            id,
		createdAt:     time.Now(),
		logger:        logger,
		signal:        notify.NewSignal(),
		tradeFilter:   req.TradeFilter,
		depositFilter: req.DepositFilter,
		streams:       make(map[int]chan Update),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	if s.tradeFilter.Category == "" {
		s.tradeFilter.Category = filter.All
	}

	sink := m.sinkFor(s, wallet)
	s.tradeNotifier = notify.NewNotifier[model.TradeEvent](sink, describeTrades, logger, m.metrics)
	s.depositNotifier = notify.NewNotifier[model.DepositEvent](sink, describeDeposits, logger, m.metrics)
	s.setNotifications(req.Notifications, req.Permission)

	s.attach(wallet, f)
	go s.run(sessionCtx)

	m.mu.Lock()
	m.sessions[id] = s
	m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	logger.Info("Session created", zap.String("wallet", wallet), zap.Bool("has_feed", f != nil))
	return s, nil
}

func (m *Manager) sinkFor(s *Session, wallet string) notify.Sink {
	sinks := notify.MultiSink{notify.NewLogSink(s.logger, zap.String("wallet", wallet)), s}
	if m.sinks != nil {
		if extra := m.sinks(s.id, wallet); extra != nil {
			sinks = append(sinks, extra)
		}
	}
	return sinks
}

func (m *Manager) attachFor(ctx context.Context, wallet string) (*feed.Feed, error) {
	tier, err := m.feeds.ResolveTier(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return m.feeds.Attach(tier)
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	if previous := s.close(); previous != nil {
		m.feeds.Detach(previous)
	}
	s.logger.Info("Session closed")
	return nil
}

// SetWallet re-resolves the tier for a new wallet and moves the session to
// the matching feed.
func (m *Manager) SetWallet(ctx context.Context, id, wallet string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	wallet = model.NormalizeAddress(wallet)
	f, err := m.attachFor(ctx, wallet)
	if err != nil && !errors.Is(err, feed.ErrWalletRequired) {
		return nil, err
	}

	if previous := s.attach(wallet, f); previous != nil {
		m.feeds.Detach(previous)
	}
	if f == nil {
		return s, feed.ErrWalletRequired
	}
	return s, nil
}

func (m *Manager) SetNotifications(id string, enabled bool, permission notify.Permission) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.setNotifications(enabled, permission)
	return s, nil
}

func (m *Manager) SetTradeFilter(id string, options filter.TradeFilter) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.setFilters(&options, nil)
	return s, nil
}

func (m *Manager) SetDepositFilter(id string, options filter.DepositFilter) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.setFilters(nil, &options)
	return s, nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close ends every session.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Delete(id)
	}
}
