package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// InitMigration creates the outbox table. Rows left in 'processing' by a
// crashed publisher are handed back to the queue.
func InitMigration(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS event_outbox (
			tx_hash VARCHAR(66) NOT NULL,
			event_kind VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			block_number BIGINT NOT NULL,
			wallet_address VARCHAR(42) NOT NULL,
			event_blob JSONB NOT NULL,
			amount DECIMAL(78,18) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tx_hash, event_kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status_created ON event_outbox (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	_, err := db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent'
		WHERE status = 'processing'
	`)
	return err
}
