package model

import (
	"encoding/json"
	"time"
)

// Event kinds written to the outbox.
const (
	KindTrade   = "trade"
	KindDeposit = "deposit"
)

// Outbox row states.
const (
	OutboxUnsent     = "unsent"
	OutboxProcessing = "processing"
	OutboxSent       = "sent"
)

type OutboxEvent struct {
	TxHash      string          `db:"tx_hash"`
	EventKind   string          `db:"event_kind"`
	Status      string          `db:"status"`
	BlockNumber uint64          `db:"block_number"`
	Address     string          `db:"wallet_address"`
	EventBlob   json.RawMessage `db:"event_blob"`
	Amount      string          `db:"amount"`
	CreatedAt   time.Time       `db:"created_at"`
}
