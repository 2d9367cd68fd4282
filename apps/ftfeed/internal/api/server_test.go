package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/chain/chaintest"
	"ftfeed/apps/ftfeed/internal/config"
	"ftfeed/apps/ftfeed/internal/contracts"
	"ftfeed/apps/ftfeed/internal/feed"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/observability"
	"ftfeed/apps/ftfeed/internal/session"
)

const (
	testWallet  = "0x00000000000000000000000000000000000000c3"
	testTrader  = "0x00000000000000000000000000000000000000a1"
	testSubject = "0x00000000000000000000000000000000000000b2"
)

func newTestServer(t *testing.T, requireWallet bool) *httptest.Server {
	profiles := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"userData":{"twitterUsername":"someone","portfolio":{"portfolioValueETH":"2"}}}`))
	}))
	t.Cleanup(profiles.Close)

	registry, err := contracts.NewRegistry("", "")
	require.NoError(t, err)

	data, err := registry.Marketplace.ABI.Events["Trade"].Inputs.Pack(
		common.HexToAddress(testTrader), common.HexToAddress(testSubject), true,
		big.NewInt(1), big.NewInt(750_000_000_000_000_000), big.NewInt(0), big.NewInt(0), big.NewInt(4))
	require.NoError(t, err)

	l2 := chaintest.NewFakeClient()
	l2.SetHead(30)
	l2.AddLogs(types.Log{
		Address:     registry.Marketplace.Address,
		Topics:      []common.Hash{contracts.TradeEventSig},
		Data:        data,
		BlockNumber: 29,
		TxHash:      common.HexToHash("0xfeed"),
	})

	cfg := &config.Config{
		ProfileAPIURL:                 profiles.URL,
		ProfileTimeout:                time.Second,
		ProfileCooldown:               time.Minute,
		TradePollInterval:             20 * time.Millisecond,
		SubscriberTradePollInterval:   20 * time.Millisecond,
		DepositPollInterval:           20 * time.Millisecond,
		SubscriberDepositPollInterval: 20 * time.Millisecond,
		TradeBlockWindow:              5,
		DepositBlockWindow:            100,
		AdmittedCap:                   500,
		DepositAdmittedCap:            100,
		Gradient:                      model.DefaultGradient(),
		TimeLocation:                  time.UTC,
		RequireWallet:                 requireWallet,
	}

	logger := zap.NewNop()
	metrics := observability.NewNopMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	feeds := feed.NewManager(ctx, feed.Dependencies{
		Config:   cfg,
		L2:       l2,
		L1:       chaintest.NewFakeClient(),
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
	})
	sessions := session.NewManager(ctx, feeds, nil, logger, metrics)

	server := httptest.NewServer(NewServer(0, sessions, metrics, logger).Handler())
	t.Cleanup(func() {
		server.Close()
		sessions.Close()
		feeds.Shutdown()
		cancel()
	})
	return server
}

func doRequest(t *testing.T, method, url string, body interface{}) *http.Response {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createSession(t *testing.T, server *httptest.Server, req CreateSessionRequest) SessionResponse {
	resp := doRequest(t, http.MethodPost, server.URL+"/api/sessions", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[SessionResponse](t, resp)
}

func TestHealthCheck(t *testing.T) {
	server := newTestServer(t, false)

	resp := doRequest(t, http.MethodGet, server.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestSessionLifecycle(t *testing.T) {
	server := newTestServer(t, false)

	created := createSession(t, server, CreateSessionRequest{WalletAddress: testWallet})
	require.NotEmpty(t, created.ID)
	assert.Equal(t, feed.Standard, created.Tier)
	assert.Equal(t, testWallet, created.Wallet)

	sessionURL := server.URL + "/api/sessions/" + created.ID

	require.Eventually(t, func() bool {
		resp := doRequest(t, http.MethodGet, sessionURL+"/trades", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return decode[TradesResponse](t, resp).Count == 1
	}, 5*time.Second, 20*time.Millisecond)

	resp := doRequest(t, http.MethodGet, sessionURL+"/trades?sort=ethAmount&order=asc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trades := decode[TradesResponse](t, resp)
	require.Len(t, trades.Trades, 1)
	row := trades.Trades[0]
	assert.Equal(t, "0.7500000", row.EthAmount)
	assert.Equal(t, model.Buy, row.TransactionType)
	require.NotNil(t, row.TraderProfile)
	assert.Equal(t, "someone", row.TraderProfile.TwitterUsername)
	require.NotNil(t, row.SubjectProfile)

	resp = doRequest(t, http.MethodGet, sessionURL+"/trades?sort=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A sell-only filter hides the buy.
	resp = doRequest(t, http.MethodPut, sessionURL+"/filters/trades?category=Sell", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Sell", string(decode[SessionResponse](t, resp).TradeFilter.Category))

	require.Eventually(t, func() bool {
		resp := doRequest(t, http.MethodGet, sessionURL+"/trades", nil)
		return resp.StatusCode == http.StatusOK && decode[TradesResponse](t, resp).Count == 0
	}, 2*time.Second, 20*time.Millisecond)

	resp = doRequest(t, http.MethodPut, sessionURL+"/filters/trades?ethAmountMin=lots", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[ErrorResponse](t, resp)
	assert.Equal(t, "invalid_filter", errBody.Error)

	resp = doRequest(t, http.MethodPut, sessionURL+"/notifications", NotificationsRequest{Enabled: true, Permission: "granted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[SessionResponse](t, resp).Notifications)

	resp = doRequest(t, http.MethodPut, sessionURL+"/notifications", NotificationsRequest{Enabled: true, Permission: "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, sessionURL, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, sessionURL, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session_not_found", decode[ErrorResponse](t, resp).Error)
}

func TestWalletRequired(t *testing.T) {
	server := newTestServer(t, true)

	created := createSession(t, server, CreateSessionRequest{})
	assert.Empty(t, created.Tier)
	sessionURL := server.URL + "/api/sessions/" + created.ID

	resp := doRequest(t, http.MethodGet, sessionURL+"/trades", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "wallet_required", decode[ErrorResponse](t, resp).Error)

	resp = doRequest(t, http.MethodGet, sessionURL+"/deposits", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doRequest(t, http.MethodPut, sessionURL+"/wallet", WalletRequest{WalletAddress: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPut, sessionURL+"/wallet", WalletRequest{WalletAddress: testWallet})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, feed.Standard, decode[SessionResponse](t, resp).Tier)

	resp = doRequest(t, http.MethodGet, sessionURL+"/deposits", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateSessionValidation(t *testing.T) {
	server := newTestServer(t, false)

	resp := doRequest(t, http.MethodPost, server.URL+"/api/sessions", CreateSessionRequest{WalletAddress: "0x123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_wallet_address", decode[ErrorResponse](t, resp).Error)

	resp = doRequest(t, http.MethodPost, server.URL+"/api/sessions", CreateSessionRequest{Permission: "sometimes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/api/sessions", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestGetProfile(t *testing.T) {
	server := newTestServer(t, false)
	created := createSession(t, server, CreateSessionRequest{})
	sessionURL := server.URL + "/api/sessions/" + created.ID

	resp := doRequest(t, http.MethodGet, sessionURL+"/profiles/0x00000000000000000000000000000000000000D9", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[ProfileResponse](t, resp)
	assert.Equal(t, "0x00000000000000000000000000000000000000d9", body.Address)
	assert.Equal(t, "someone", body.Profile.TwitterUsername)
	assert.Equal(t, "2", body.Profile.Portfolio.PortfolioValueETH)

	resp = doRequest(t, http.MethodGet, sessionURL+"/profiles/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamDeliversTrades(t *testing.T) {
	server := newTestServer(t, false)
	created := createSession(t, server, CreateSessionRequest{WalletAddress: testWallet})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/" + created.ID + "/stream"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var message StreamMessage
		require.NoError(t, conn.ReadJSON(&message))
		if message.Type == session.UpdateTrades && len(message.Trades) == 1 {
			assert.Equal(t, common.HexToHash("0xfeed").Hex(), message.Trades[0].TransactionHash)
			assert.NotNil(t, message.Trades[0].TraderProfile)
			break
		}
	}
}

func TestStreamUnknownSession(t *testing.T) {
	server := newTestServer(t, false)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, false)

	doRequest(t, http.MethodGet, server.URL+"/api/health", nil)

	resp := doRequest(t, http.MethodGet, server.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ftfeed_http_requests_total{code="200",method="GET"}`)
}
