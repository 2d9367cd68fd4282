package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/feed"
	"ftfeed/apps/ftfeed/internal/filter"
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/notify"
	"ftfeed/apps/ftfeed/internal/profile"
	"ftfeed/apps/ftfeed/internal/session"
)

// SessionHandler handles session-related API endpoints
type SessionHandler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions *session.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// CreateSession handles POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	permission, err := notify.ParsePermission(req.Permission)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_permission", err.Error())
		return
	}

	s, err := h.sessions.Create(r.Context(), session.CreateRequest{
		Wallet:        req.WalletAddress,
		Notifications: req.Notifications,
		Permission:    permission,
	})
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, sessionResponse(s))
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, sessionResponse(s))
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(mux.Vars(r)["id"]); err != nil {
		h.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetWallet handles PUT /api/sessions/{id}/wallet
func (h *SessionHandler) SetWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	s, err := h.sessions.SetWallet(r.Context(), mux.Vars(r)["id"], req.WalletAddress)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	h.logger.Info("Session wallet changed", zap.String("session_id", s.ID()), zap.String("wallet_address", req.WalletAddress))
	h.writeJSONResponse(w, http.StatusOK, sessionResponse(s))
}

// SetNotifications handles PUT /api/sessions/{id}/notifications
func (h *SessionHandler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	var req NotificationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	permission, err := notify.ParsePermission(req.Permission)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_permission", err.Error())
		return
	}

	s, err := h.sessions.SetNotifications(mux.Vars(r)["id"], req.Enabled, permission)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, sessionResponse(s))
}

// SetTradeFilter handles PUT /api/sessions/{id}/filters/trades
func (h *SessionHandler) SetTradeFilter(w http.ResponseWriter, r *http.Request) {
	options, err := filter.ParseTradeFilter(r.URL.Query())
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	s, err := h.sessions.SetTradeFilter(mux.Vars(r)["id"], options)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, sessionResponse(s))
}

// SetDepositFilter handles PUT /api/sessions/{id}/filters/deposits
func (h *SessionHandler) SetDepositFilter(w http.ResponseWriter, r *http.Request) {
	options, err := filter.ParseDepositFilter(r.URL.Query())
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	s, err := h.sessions.SetDepositFilter(mux.Vars(r)["id"], options)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, sessionResponse(s))
}

// GetTrades handles GET /api/sessions/{id}/trades?sort=ethAmount&order=desc
func (h *SessionHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	trades, err := s.Trades()
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	trades, err = filter.SortTrades(trades, r.URL.Query().Get("sort"), descending(r))
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_sort", err.Error())
		return
	}

	rows := tradeRows(trades, s.Profiles())
	h.writeJSONResponse(w, http.StatusOK, TradesResponse{
		SessionID: s.ID(),
		Count:     len(rows),
		Trades:    rows,
	})
}

// GetDeposits handles GET /api/sessions/{id}/deposits
func (h *SessionHandler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	deposits, err := s.Deposits()
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	deposits, err = filter.SortDeposits(deposits, r.URL.Query().Get("sort"), descending(r))
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_sort", err.Error())
		return
	}

	rows := depositRows(deposits, s.Profiles())
	h.writeJSONResponse(w, http.StatusOK, DepositsResponse{
		SessionID: s.ID(),
		Count:     len(rows),
		Deposits:  rows,
	})
}

// GetProfile handles GET /api/sessions/{id}/profiles/{address}. A profile
// missing from the session's store is fetched before responding.
func (h *SessionHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	address := mux.Vars(r)["address"]
	if !common.IsHexAddress(address) {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_address", "Invalid Ethereum address format")
		return
	}
	address = model.NormalizeAddress(address)

	f := s.Feed()
	if f == nil {
		h.writeSessionError(w, feed.ErrWalletRequired)
		return
	}

	userProfile, found := f.Profiles().Get(address)
	if !found {
		userProfile, found = f.Fetcher().RequestSync(r.Context(), address)
	}
	if !found {
		h.writeErrorResponse(w, http.StatusNotFound, "profile_not_found", "Profile not available yet")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, ProfileResponse{Address: address, Profile: userProfile})
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeSessionError(w, err)
		return nil, false
	}
	return s, true
}

func sessionResponse(s *session.Session) SessionResponse {
	response := SessionResponse{Info: s.Info()}
	if f := s.Feed(); f != nil {
		response.PendingTrades = f.PendingTrades()
		response.PendingDeposits = f.PendingDeposits()
	}
	return response
}

func descending(r *http.Request) bool {
	return !strings.EqualFold(r.URL.Query().Get("order"), "asc")
}

func tradeRows(trades []model.TradeEvent, profiles profile.Lookup) []TradeRow {
	rows := make([]TradeRow, 0, len(trades))
	for _, trade := range trades {
		rows = append(rows, TradeRow{
			TradeEvent:     trade,
			TraderProfile:  profileOf(profiles, trade.Trader),
			SubjectProfile: profileOf(profiles, trade.Subject),
		})
	}
	return rows
}

func depositRows(deposits []model.DepositEvent, profiles profile.Lookup) []DepositRow {
	rows := make([]DepositRow, 0, len(deposits))
	for _, deposit := range deposits {
		rows = append(rows, DepositRow{
			DepositEvent: deposit,
			Profile:      profileOf(profiles, deposit.Address),
		})
	}
	return rows
}

func profileOf(profiles profile.Lookup, address string) *model.UserProfile {
	if profiles == nil {
		return nil
	}
	if p, ok := profiles.Get(address); ok {
		return &p
	}
	return nil
}

// writeSessionError maps session and feed errors to status codes
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, "session_not_found", "Session not found")
	case errors.Is(err, feed.ErrWalletRequired):
		h.writeErrorResponse(w, http.StatusForbidden, "wallet_required", "Connect a wallet to view the feed")
	case errors.Is(err, feed.ErrInvalidWallet):
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_wallet_address", err.Error())
	default:
		h.logger.Error("Session request failed", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to process request")
	}
}

// writeJSONResponse writes a JSON response with the specified status code
func (h *SessionHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *SessionHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	h.writeJSONResponse(w, statusCode, errorResponse)
}
