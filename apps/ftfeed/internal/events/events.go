package events

import (
	"encoding/json"
	"time"
)

// FeedEvent is the Kafka message for an admitted trade or deposit.
type FeedEvent struct {
	EventKind     string          `json:"event_kind"`
	TxHash        string          `json:"tx_hash"`
	BlockNumber   uint64          `json:"block_number"`
	WalletAddress string          `json:"wallet_address"`
	EventData     json.RawMessage `json:"event_data"`
	Amount        string          `json:"amount"`
	AdmittedAt    time.Time       `json:"admitted_at"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NotificationEvent is the Kafka message for a fired view-change notification.
type NotificationEvent struct {
	SessionID     string    `json:"session_id"`
	WalletAddress string    `json:"wallet_address"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Timestamp     time.Time `json:"timestamp"`
}
