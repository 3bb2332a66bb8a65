package bus

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SubscriptionStats counts deliveries per state.
type SubscriptionStats struct {
	Subscription string
	Topic        string
	Pending      int
	Leased       int
	Acked        int
	Dead         int
}

// DeadLetter is a delivery that will not be retried.
type DeadLetter struct {
	DeliveryID int64
	MessageID  string
	Attempts   int
	LastError  string
	Data       []byte
	UpdatedAt  time.Time
}

// Stats returns counters for every subscription, ordered by name.
func (b *Bus) Stats(ctx context.Context) ([]SubscriptionStats, error) {
	rows, err := b.db.QueryContext(ctx, `
        SELECT s.name, s.topic,
               COALESCE(SUM(CASE WHEN d.state = ? THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN d.state = ? THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN d.state = ? THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN d.state = ? THEN 1 ELSE 0 END), 0)
        FROM subscriptions s
        LEFT JOIN deliveries d ON d.subscription = s.name
        GROUP BY s.name, s.topic
        ORDER BY s.name`,
		statePending, stateLeased, stateAcked, stateDead,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []SubscriptionStats
	for rows.Next() {
		var s SubscriptionStats
		if err := rows.Scan(&s.Subscription, &s.Topic, &s.Pending, &s.Leased, &s.Acked, &s.Dead); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeadLetters lists dead deliveries on sub, newest first.
func (b *Bus) DeadLetters(ctx context.Context, sub string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.db.QueryContext(ctx, `
        SELECT d.id, d.message_id, d.attempts, d.last_error, d.updated_at, m.data
        FROM deliveries d
        JOIN messages m ON m.id = d.message_id
        WHERE d.subscription = ? AND d.state = ?
        ORDER BY d.updated_at DESC, d.id DESC
        LIMIT ?`,
		sub, stateDead, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			dl        DeadLetter
			lastError sql.NullString
			updatedAt int64
		)
		if err := rows.Scan(&dl.DeliveryID, &dl.MessageID, &dl.Attempts, &lastError, &updatedAt, &dl.Data); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		dl.LastError = lastError.String
		dl.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, dl)
	}
	return out, rows.Err()
}

// Prune deletes acked deliveries settled before cutoff and any message no
// delivery refers to anymore. It returns the number of deliveries removed.
func (b *Bus) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`DELETE FROM deliveries WHERE state = ? AND updated_at < ?`,
			stateAcked, cutoff.UTC().UnixMilli(),
		)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE published_at < ? AND NOT EXISTS (SELECT 1 FROM deliveries d WHERE d.message_id = messages.id)`,
			cutoff.UTC().UnixMilli(),
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("prune bus: %w", err)
	}
	return removed, nil
}
