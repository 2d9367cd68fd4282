package profile

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/chain/chaintest"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/observability"
)

const (
	testAddress = "0x00000000000000000000000000000000000000aa"
	userJSON    = `{"userData":{"twitterUsername":"alice","twitterName":"Alice","address":"0x00000000000000000000000000000000000000AA",
		"holderCount":12,"shareSupply":"1","displayPrice":"50000000000000","portfolio":{"portfolioValueETH":"3.5","holdings":[]},
		"holders":{"reciprocity":0.4}}}`
)

type profileServer struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
	body   atomic.Value
}

func newProfileServer(t *testing.T, status int, body string) *profileServer {
	ps := &profileServer{}
	ps.status.Store(int32(status))
	ps.body.Store(body)
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/user/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(int(ps.status.Load()))
		_, _ = w.Write([]byte(ps.body.Load().(string)))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func newTestFetcher(baseURL string, balances BalanceSource, cooldown time.Duration) *Fetcher {
	return NewFetcher(FetcherConfig{
		BaseURL:  baseURL,
		Timeout:  time.Second,
		Cooldown: cooldown,
	}, NewStore(), balances, zap.NewNop(), observability.NewNopMetrics())
}

func ether(value string) *big.Int {
	wei, _ := new(big.Int).SetString(value, 10)
	return wei
}

func TestRequestSyncSuccess(t *testing.T) {
	server := newProfileServer(t, http.StatusOK, userJSON)
	client := chaintest.NewFakeClient()
	client.SetBalance(common.HexToAddress(testAddress), ether("1234000000000000000"))

	fetcher := newTestFetcher(server.URL, client, time.Minute)

	profile, ok := fetcher.RequestSync(context.Background(), testAddress)
	require.True(t, ok)

	assert.Equal(t, "alice", profile.TwitterUsername)
	assert.Equal(t, testAddress, profile.Address)
	assert.Equal(t, "12", profile.HolderCount)
	assert.Equal(t, "1", profile.ShareSupply)
	assert.Equal(t, "3.5", profile.Portfolio.PortfolioValueETH)
	assert.Equal(t, "0.4", profile.Holders.Reciprocity)
	assert.Equal(t, "1.23", profile.EthBalance)
	assert.False(t, profile.Fallback)
	assert.False(t, profile.FetchedAt.IsZero())

	stored, ok := fetcher.Store().Get(testAddress)
	require.True(t, ok)
	assert.Equal(t, profile, stored)
}

func TestRequestSyncFallback(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"missing userData", http.StatusOK, `{}`},
		{"null userData", http.StatusOK, `{"userData":null}`},
		{"malformed json", http.StatusOK, `{"userData":`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := newProfileServer(t, test.status, test.body)
			client := chaintest.NewFakeClient()
			client.SetBalance(common.HexToAddress(testAddress), ether("2000000000000000000"))

			fetcher := newTestFetcher(server.URL, client, time.Minute)
			profile, ok := fetcher.RequestSync(context.Background(), testAddress)
			require.True(t, ok)

			assert.True(t, profile.Fallback)
			assert.Equal(t, model.FallbackUsername, profile.TwitterUsername)
			assert.Equal(t, model.FallbackName, profile.TwitterName)
			assert.Equal(t, "0", profile.Portfolio.PortfolioValueETH)
			assert.Equal(t, "2.00", profile.EthBalance)
		})
	}
}

func TestFetcherUnreachableService(t *testing.T) {
	client := chaintest.NewFakeClient()
	fetcher := newTestFetcher("http://127.0.0.1:1", client, time.Minute)

	profile, ok := fetcher.RequestSync(context.Background(), testAddress)
	require.True(t, ok)
	assert.True(t, profile.Fallback)
}

func TestBalanceFailureDropsField(t *testing.T) {
	server := newProfileServer(t, http.StatusOK, userJSON)
	client := chaintest.NewFakeClient()
	client.SetBalanceError(errors.New("rpc down"))

	fetcher := newTestFetcher(server.URL, client, time.Minute)
	profile, ok := fetcher.RequestSync(context.Background(), testAddress)
	require.True(t, ok)

	assert.False(t, profile.Fallback)
	assert.Empty(t, profile.EthBalance)
}

func TestRequestRespectsCooldown(t *testing.T) {
	server := newProfileServer(t, http.StatusInternalServerError, `down`)
	fetcher := newTestFetcher(server.URL, chaintest.NewFakeClient(), 100*time.Millisecond)

	ctx := context.Background()
	fetcher.Request(ctx, testAddress)
	fetcher.Request(ctx, "0x"+strings.ToUpper(testAddress[2:]))
	fetcher.Request(ctx, testAddress)
	fetcher.Wait()

	assert.Equal(t, int32(1), server.hits.Load())
	assert.True(t, fetcher.CoolingDown(testAddress))

	// Fallback profiles are never fresh, so the address is retried once the window passes.
	require.Eventually(t, func() bool {
		return !fetcher.CoolingDown(testAddress)
	}, 2*time.Second, 10*time.Millisecond)

	fetcher.Request(ctx, testAddress)
	fetcher.Wait()
	assert.Equal(t, int32(2), server.hits.Load())
}

func TestFreshProfileIsNotRefetched(t *testing.T) {
	server := newProfileServer(t, http.StatusOK, userJSON)
	fetcher := NewFetcher(FetcherConfig{
		BaseURL:      server.URL,
		Timeout:      time.Second,
		Cooldown:     10 * time.Millisecond,
		RefreshAfter: time.Hour,
	}, NewStore(), chaintest.NewFakeClient(), zap.NewNop(), observability.NewNopMetrics())

	now := time.Now()
	fetcher.now = func() time.Time { return now }

	ctx := context.Background()
	_, ok := fetcher.RequestSync(ctx, testAddress)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return !fetcher.CoolingDown(testAddress)
	}, 2*time.Second, 5*time.Millisecond)

	fetcher.Request(ctx, testAddress)
	fetcher.Wait()
	assert.Equal(t, int32(1), server.hits.Load())

	now = now.Add(2 * time.Hour)
	fetcher.Request(ctx, testAddress)
	fetcher.Wait()
	assert.Equal(t, int32(2), server.hits.Load())
}

func TestRequestPublishesOnce(t *testing.T) {
	server := newProfileServer(t, http.StatusOK, userJSON)
	fetcher := newTestFetcher(server.URL, chaintest.NewFakeClient(), time.Minute)

	var changes atomic.Int32
	fetcher.Store().OnChange(func(string) { changes.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	fetcher.Request(ctx, testAddress)
	// Cancelling the requester does not abort the in-flight fetch.
	cancel()
	fetcher.Wait()

	assert.Equal(t, int32(1), changes.Load())
	profile, ok := fetcher.Store().Get(testAddress)
	require.True(t, ok)
	assert.Equal(t, "alice", profile.TwitterUsername)
}
