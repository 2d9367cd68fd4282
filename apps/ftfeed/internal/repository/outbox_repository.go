package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/model"
)

// OutboxRepository stores admitted events until the publisher has delivered them.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// ExportTrades queues admitted trades, keyed on the trader.
func (r *OutboxRepository) ExportTrades(ctx context.Context, trades []model.TradeEvent) error {
	events := make([]model.OutboxEvent, 0, len(trades))
	for _, trade := range trades {
		blob, err := json.Marshal(trade)
		if err != nil {
			return fmt.Errorf("failed to encode trade %s: %w", trade.TransactionHash, err)
		}
		events = append(events, model.OutboxEvent{
			TxHash:      trade.TransactionHash,
			EventKind:   model.KindTrade,
			Status:      model.OutboxUnsent,
			BlockNumber: trade.BlockNumber,
			Address:     trade.Trader,
			EventBlob:   blob,
			Amount:      trade.EthAmount,
		})
	}
	return r.StoreOutboxEvents(ctx, events)
}

// ExportDeposits queues admitted deposits, keyed on the L2 recipient.
func (r *OutboxRepository) ExportDeposits(ctx context.Context, deposits []model.DepositEvent) error {
	events := make([]model.OutboxEvent, 0, len(deposits))
	for _, deposit := range deposits {
		blob, err := json.Marshal(deposit)
		if err != nil {
			return fmt.Errorf("failed to encode deposit %s: %w", deposit.TransactionHash, err)
		}
		events = append(events, model.OutboxEvent{
			TxHash:      deposit.TransactionHash,
			EventKind:   model.KindDeposit,
			Status:      model.OutboxUnsent,
			BlockNumber: deposit.BlockNumber,
			Address:     deposit.Address,
			EventBlob:   blob,
			Amount:      deposit.DepositAmount,
		})
	}
	return r.StoreOutboxEvents(ctx, events)
}

// StoreOutboxEvents inserts events in one transaction. An event already in the
// outbox is left untouched, whatever its status.
func (r *OutboxRepository) StoreOutboxEvents(ctx context.Context, events []model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	stored := 0
	for _, event := range events {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO event_outbox (tx_hash, event_kind, status, block_number, wallet_address, event_blob, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tx_hash, event_kind) DO NOTHING
		`, event.TxHash, event.EventKind, event.Status, event.BlockNumber, event.Address, []byte(event.EventBlob), event.Amount)
		if err != nil {
			return fmt.Errorf("failed to store outbox event %s: %w", event.TxHash, err)
		}
		if affected, err := result.RowsAffected(); err == nil {
			stored += int(affected)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outbox events: %w", err)
	}

	r.logger.Debug("Stored outbox events", zap.Int("stored", stored), zap.Int("received", len(events)))
	return nil
}

// GetUnsentEventsForProcessing claims up to limit unsent events by moving them
// to 'processing'. Concurrent publishers never claim the same row.
func (r *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Select and lock unsent events for processing
	rows, err := tx.QueryContext(ctx, `
		SELECT tx_hash, event_kind, status, block_number, wallet_address, event_blob, amount, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY created_at, block_number
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var blob []byte
		if err := rows.Scan(&event.TxHash, &event.EventKind, &event.Status, &event.BlockNumber,
			&event.Address, &blob, &event.Amount, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.EventBlob = blob
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Mark selected events as 'processing' to prevent other publishers from picking them up
	for i := range events {
		if _, err := tx.ExecContext(ctx, `
			UPDATE event_outbox
			SET status = 'processing'
			WHERE tx_hash = $1 AND event_kind = $2 AND status = 'unsent'
		`, events[i].TxHash, events[i].EventKind); err != nil {
			return nil, err
		}
		events[i].Status = model.OutboxProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *OutboxRepository) MarkEventAsSent(ctx context.Context, txHash, eventKind string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'sent'
		WHERE tx_hash = $1 AND event_kind = $2
	`, txHash, eventKind)
	return err
}

// MarkEventAsFailed returns a claimed event to the queue for the next attempt.
func (r *OutboxRepository) MarkEventAsFailed(ctx context.Context, txHash, eventKind string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent'
		WHERE tx_hash = $1 AND event_kind = $2 AND status = 'processing'
	`, txHash, eventKind)
	return err
}

// CountByStatus reports how many outbox rows are in status.
func (r *OutboxRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_outbox WHERE status = $1`, status).Scan(&count)
	return count, err
}
