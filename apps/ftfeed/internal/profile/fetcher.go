package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ftfeed/apps/ftfeed/internal/chain"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/observability"
)

var ErrMissingUserData = errors.New("profile response has no userData")

// BalanceSource is satisfied by chain.Client.
type BalanceSource interface {
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
}

type FetcherConfig struct {
	BaseURL          string
	Timeout          time.Duration
	Cooldown         time.Duration
	CooldownCapacity int
	// RefreshAfter marks stored profiles stale after this age. Zero keeps them forever.
	RefreshAfter time.Duration
	RateLimit    float64
	RateBurst    int
}

// Fetcher resolves profiles for addresses and publishes them to a Store.
//
// Two policies decide whether a request goes out. A stored, non-stale profile
// answers the request directly. Otherwise an address is fetched at most once per
// cooldown window, whatever the outcome of the previous attempt.
type Fetcher struct {
	config     FetcherConfig
	store      *Store
	balances   BalanceSource
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu       sync.Mutex
	cooldown *expirable.LRU[string, time.Time]

	wg sync.WaitGroup
}

func NewFetcher(config FetcherConfig, store *Store, balances BalanceSource, logger *zap.Logger, metrics *observability.Metrics) *Fetcher {
	if config.CooldownCapacity <= 0 {
		config.CooldownCapacity = 10000
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Fetcher{
		config:     config,
		store:      store,
		balances:   balances,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		cooldown:   expirable.NewLRU[string, time.Time](config.CooldownCapacity, nil, config.Cooldown),
	}
}

func (f *Fetcher) Store() *Store {
	return f.store
}

// Request schedules a background fetch for address unless a fresh profile is
// already stored or the address is cooling down. It never blocks on the network.
func (f *Fetcher) Request(ctx context.Context, address string) {
	address = model.NormalizeAddress(address)
	if f.isFresh(address) || !f.claim(address) {
		return
	}

	// In-flight fetches outlive the feed that asked for them.
	ctx = context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.fetch(ctx, address)
	}()
}

// RequestSync behaves like Request but waits for the fetch and returns whatever
// the store holds afterwards.
func (f *Fetcher) RequestSync(ctx context.Context, address string) (model.UserProfile, bool) {
	address = model.NormalizeAddress(address)
	if f.isFresh(address) || !f.claim(address) {
		return f.store.Get(address)
	}
	return f.fetch(ctx, address), true
}

// Wait blocks until all background fetches have finished.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// CoolingDown reports whether address was requested within the cooldown window.
func (f *Fetcher) CoolingDown(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldown.Contains(model.NormalizeAddress(address))
}

func (f *Fetcher) isFresh(address string) bool {
	profile, ok := f.store.Get(address)
	if !ok || profile.Fallback {
		return false
	}
	if f.config.RefreshAfter > 0 && f.now().Sub(profile.FetchedAt) >= f.config.RefreshAfter {
		return false
	}
	f.metrics.ProfileFetches.WithLabelValues("cached").Inc()
	return true
}

func (f *Fetcher) claim(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cooldown.Contains(address) {
		f.metrics.ProfileFetches.WithLabelValues("cooldown").Inc()
		return false
	}
	f.cooldown.Add(address, f.now())
	return true
}

func (f *Fetcher) fetch(ctx context.Context, address string) model.UserProfile {
	var (
		balance    *big.Int
		balanceErr error
		profile    model.UserProfile
	)

	// A failed profile lookup must not cancel the balance call, so no group context.
	var g errgroup.Group
	g.Go(func() error {
		balance, balanceErr = f.balances.BalanceAt(ctx, common.HexToAddress(address))
		return nil
	})
	g.Go(func() error {
		var err error
		profile, err = f.fetchUser(ctx, address)
		return err
	})

	if err := g.Wait(); err != nil {
		f.logger.Warn("Profile lookup failed, publishing fallback profile", zap.String("address", address), zap.Error(err))
		profile = model.FallbackProfile(address, f.now())
		f.metrics.ProfileFetches.WithLabelValues("fallback").Inc()
	} else {
		profile.FetchedAt = f.now()
		f.metrics.ProfileFetches.WithLabelValues("success").Inc()
	}

	if balanceErr != nil {
		f.logger.Warn("Failed to get balance", zap.String("address", address), zap.Error(balanceErr))
	} else if balance != nil {
		profile.EthBalance = chain.FormatBalance(balance)
	}
	if profile.Address == "" {
		profile.Address = address
	}

	f.store.Put(address, profile)
	f.metrics.ProfilesStored.Set(float64(f.store.Len()))
	return profile
}

func (f *Fetcher) fetchUser(ctx context.Context, address string) (model.UserProfile, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return model.UserProfile{}, fmt.Errorf("profile rate limiter: %w", err)
	}

	endpoint := f.config.BaseURL + "/user/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("failed to build profile request: %w", err)
	}

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	f.metrics.ProfileFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.UserProfile{}, fmt.Errorf("profile service returned %d: %s", resp.StatusCode, body)
	}

	var decoded userResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return model.UserProfile{}, fmt.Errorf("failed to decode profile: %w", err)
	}
	if decoded.UserData == nil {
		return model.UserProfile{}, ErrMissingUserData
	}

	return decoded.UserData.toModel(), nil
}
