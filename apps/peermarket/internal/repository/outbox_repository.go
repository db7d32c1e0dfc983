package repository

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"peermarket/apps/peermarket/internal/events"
)

// OutboxRepository persists lifecycle events until the publisher delivers
// them. It is the orchestrator's EventSink.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// Record stores one lifecycle event as unsent.
func (r *OutboxRepository) Record(ctx context.Context, event events.MarketEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, event_type, status, signature, account, wallet_address, event_blob, event_time)
		VALUES ($1, $2, 'unsent', $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.EventType, event.Signature, event.Account, event.WalletAddress, []byte(event.EventData), event.Timestamp)
	if err != nil {
		return err
	}

	r.logger.Info("Stored event",
		zap.String("event_type", event.EventType),
		zap.String("account", event.Account),
		zap.String("signature", event.Signature))
	return nil
}

// GetUnsentEventsForProcessing selects up to limit unsent events and marks
// them processing so concurrent publishers never pick the same batch.
func (r *OutboxRepository) GetUnsentEventsForProcessing(limit int) ([]events.MarketEvent, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	rows, err := tx.Query(`
		SELECT event_id, event_type, signature, account, wallet_address, event_blob, event_time
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []events.MarketEvent
	for rows.Next() {
		var event events.MarketEvent
		var blob []byte
		if err := rows.Scan(&event.EventID, &event.EventType, &event.Signature,
			&event.Account, &event.WalletAddress, &blob, &event.Timestamp); err != nil {
			return nil, err
		}
		event.EventData = blob
		batch = append(batch, event)
	}
	rows.Close()

	for _, event := range batch {
		if _, err := tx.Exec(`
			UPDATE event_outbox SET status = 'processing'
			WHERE event_id = $1 AND status = 'unsent'
		`, event.EventID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return batch, nil
}

func (r *OutboxRepository) MarkEventAsSent(eventID string) error {
	_, err := r.db.Exec(`
		UPDATE event_outbox SET status = 'sent' WHERE event_id = $1
	`, eventID)
	return err
}

// MarkEventAsFailed returns the event to 'unsent' for retry.
func (r *OutboxRepository) MarkEventAsFailed(eventID string) error {
	_, err := r.db.Exec(`
		UPDATE event_outbox SET status = 'unsent'
		WHERE event_id = $1 AND status = 'processing'
	`, eventID)
	return err
}
