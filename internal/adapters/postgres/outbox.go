package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"carrierwave/internal/domain"
	"carrierwave/internal/ports"
)

var _ ports.OutboxRepository = (*DB)(nil)

const (
	// MaxDeliveryAttempts bounds how often a failed outbox event is requeued.
	MaxDeliveryAttempts = 5
	// RetryBackoff is the delay per attempt before a failed event is offered
	// again.
	RetryBackoff = time.Second
)

// ClaimNext selects the oldest queued event whose backoff has elapsed, using
// SKIP LOCKED, and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (ev domain.Event, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ev, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var (
		payload  []byte
		attempts int32
	)
	err = tx.QueryRow(ctx, `
		SELECT seq, payload, attempts FROM ledger_events
		WHERE status = 'queued' AND available_at <= now()
		ORDER BY seq
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&ev.Seq, &payload, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return ev, false, nil
	}
	if err != nil {
		return ev, false, err
	}
	if err = json.Unmarshal(payload, &ev.Receipt); err != nil {
		return ev, false, fmt.Errorf("decode event %d: %w", ev.Seq, err)
	}

	if _, err = tx.Exec(ctx, `UPDATE ledger_events SET status = 'running', attempts = attempts + 1 WHERE seq = $1`, ev.Seq); err != nil {
		return ev, false, err
	}
	ev.Attempts = int(attempts) + 1
	return ev, true, nil
}

func (db *DB) MarkDelivered(ctx context.Context, seq int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.Pool.Exec(ctx, `UPDATE ledger_events SET status = 'delivered', delivered_at = now() WHERE seq = $1`, seq)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %d: %w", seq, ErrNotFound)
	}
	return nil
}

func (db *DB) MarkFailed(ctx context.Context, seq int64, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.Pool.Exec(ctx, `
		UPDATE ledger_events
		SET status = CASE WHEN attempts >= $3 THEN 'failed' ELSE 'queued' END,
		    last_error = $2,
		    available_at = now() + attempts * $4::interval
		WHERE seq = $1
	`, seq, reason, MaxDeliveryAttempts, RetryBackoff)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %d: %w", seq, ErrNotFound)
	}
	return nil
}

// RequeueStale returns events left running by a crashed relay to the queue.
func (db *DB) RequeueStale(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `UPDATE ledger_events SET status = 'queued' WHERE status = 'running'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
