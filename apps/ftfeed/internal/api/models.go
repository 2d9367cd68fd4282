package api

import (
	"ftfeed/apps/ftfeed/internal/model"
	"ftfeed/apps/ftfeed/internal/notify"
	"ftfeed/apps/ftfeed/internal/session"
)

// CreateSessionRequest represents the request body for opening a session
type CreateSessionRequest struct {
	WalletAddress string `json:"wallet_address"`
	Notifications bool   `json:"notifications"`
	Permission    string `json:"permission"`
}

// WalletRequest represents the request body for connecting a wallet
type WalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

// NotificationsRequest represents the request body for the notification toggle
type NotificationsRequest struct {
	Enabled    bool   `json:"enabled"`
	Permission string `json:"permission"`
}

// SessionResponse represents the API response for session state
type SessionResponse struct {
	session.Info
	PendingTrades   int `json:"pending_trades"`
	PendingDeposits int `json:"pending_deposits"`
}

// TradeRow is a trade joined with the profiles of both participants.
type TradeRow struct {
	model.TradeEvent
	TraderProfile  *model.UserProfile `json:"traderProfile,omitempty"`
	SubjectProfile *model.UserProfile `json:"subjectProfile,omitempty"`
}

// DepositRow is a deposit joined with the profile of the L2 recipient.
type DepositRow struct {
	model.DepositEvent
	Profile *model.UserProfile `json:"profile,omitempty"`
}

type TradesResponse struct {
	SessionID string     `json:"session_id"`
	Count     int        `json:"count"`
	Trades    []TradeRow `json:"trades"`
}

type DepositsResponse struct {
	SessionID string       `json:"session_id"`
	Count     int          `json:"count"`
	Deposits  []DepositRow `json:"deposits"`
}

// ProfileResponse represents the API response for a profile lookup
type ProfileResponse struct {
	Address string            `json:"address"`
	Profile model.UserProfile `json:"profile"`
}

// StreamMessage is one WebSocket frame sent to a session stream.
type StreamMessage struct {
	Type         session.UpdateType   `json:"type"`
	Trades       []TradeRow           `json:"trades,omitempty"`
	Deposits     []DepositRow         `json:"deposits,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
