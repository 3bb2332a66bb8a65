package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	statePending = "pending"
	stateLeased  = "leased"
	stateAcked   = "acked"
	stateDead    = "dead"
)

const maxErrorLength = 1024

// Delivery is one leased message on a subscription.
type Delivery struct {
	ID           int64
	Subscription string
	MessageID    string
	Data         []byte
	Attributes   map[string]string
	PublishTime  time.Time
	Attempt      int
}

// Handler processes a delivery. A nil return acks it.
type Handler func(ctx context.Context, d *Delivery) error

// Lease claims the next available delivery on sub for the ack deadline. It
// returns nil when nothing is ready.
func (b *Bus) Lease(ctx context.Context, sub string) (*Delivery, error) {
	now := b.nowMillis()

	if err := b.exec(ctx,
		`UPDATE deliveries
         SET state = ?, last_error = 'ack deadline exceeded', lease_expires_at = NULL, updated_at = ?
         WHERE subscription = ? AND state = ? AND lease_expires_at <= ? AND attempts >= ?`,
		stateDead, now, sub, stateLeased, now, b.opts.MaxDeliveryAttempts,
	); err != nil {
		return nil, fmt.Errorf("expire leases: %w", err)
	}

	var (
		id        int64
		messageID string
		attempts  int
	)
	err := retryOnBusy(ctx, func() error {
		return b.db.QueryRowContext(ctx,
			`UPDATE deliveries
             SET state = ?, attempts = attempts + 1, lease_expires_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM deliveries
                 WHERE subscription = ?
                   AND ((state = ? AND available_at <= ?) OR (state = ? AND lease_expires_at <= ?))
                 ORDER BY available_at, id
                 LIMIT 1
             )
             RETURNING id, message_id, attempts`,
			stateLeased, now+b.opts.AckDeadline.Milliseconds(), now,
			sub, statePending, now, stateLeased, now,
		).Scan(&id, &messageID, &attempts)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease delivery: %w", err)
	}

	var (
		data        []byte
		attrsJSON   sql.NullString
		publishedAt int64
	)
	if err := b.db.QueryRowContext(ctx,
		`SELECT data, attributes_json, published_at FROM messages WHERE id = ?`, messageID,
	).Scan(&data, &attrsJSON, &publishedAt); err != nil {
		return nil, fmt.Errorf("load message %s: %w", messageID, err)
	}

	d := &Delivery{
		ID:           id,
		Subscription: sub,
		MessageID:    messageID,
		Data:         data,
		PublishTime:  time.UnixMilli(publishedAt).UTC(),
		Attempt:      attempts,
	}
	if attrsJSON.Valid && attrsJSON.String != "" {
		if err := json.Unmarshal([]byte(attrsJSON.String), &d.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for %s: %w", messageID, err)
		}
	}
	return d, nil
}

// Ack marks d as processed. It fails with ErrLeaseLost when the lease
// expired and the delivery was handed to someone else.
func (b *Bus) Ack(ctx context.Context, d *Delivery) error {
	return b.settle(ctx, d,
		`UPDATE deliveries SET state = ?, lease_expires_at = NULL, last_error = NULL, updated_at = ?
         WHERE id = ? AND state = ? AND attempts = ?`,
		stateAcked, b.nowMillis(), d.ID, stateLeased, d.Attempt,
	)
}

// Nack records cause and schedules a redelivery, or dead-letters d when
// cause is terminal or the attempts are exhausted. It reports whether the
// delivery was dead-lettered.
func (b *Bus) Nack(ctx context.Context, d *Delivery, cause error) (bool, error) {
	now := b.nowMillis()
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > maxErrorLength {
			msg = msg[:maxErrorLength]
		}
	}

	if IsTerminal(cause) || d.Attempt >= b.opts.MaxDeliveryAttempts {
		err := b.settle(ctx, d,
			`UPDATE deliveries SET state = ?, lease_expires_at = NULL, last_error = ?, updated_at = ?
             WHERE id = ? AND state = ? AND attempts = ?`,
			stateDead, msg, now, d.ID, stateLeased, d.Attempt,
		)
		return err == nil, err
	}

	backoff := b.opts.RetryBackoff * time.Duration(d.Attempt)
	return false, b.settle(ctx, d,
		`UPDATE deliveries SET state = ?, available_at = ?, lease_expires_at = NULL, last_error = ?, updated_at = ?
         WHERE id = ? AND state = ? AND attempts = ?`,
		statePending, now+backoff.Milliseconds(), msg, now, d.ID, stateLeased, d.Attempt,
	)
}

func (b *Bus) settle(ctx context.Context, d *Delivery, query string, args ...any) error {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := b.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("settle delivery %d: %w", d.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: delivery %d attempt %d", ErrLeaseLost, d.ID, d.Attempt)
	}
	return nil
}

// Receive calls handler for deliveries on sub until ctx is done, running
// at most MaxOutstanding handlers at once. It returns nil after ctx is
// canceled and every in-flight handler has been settled.
func (b *Bus) Receive(ctx context.Context, sub string, handler Handler) error {
	ok, err := b.subscriptionExists(ctx, sub)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sub)
	}

	logger := b.logger.With(zap.String("subscription", sub))
	sem := make(chan struct{}, b.opts.MaxOutstanding)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		d, err := b.Lease(ctx, sub)
		if err != nil || d == nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				logger.Warn("lease failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.opts.PollInterval):
			}
			continue
		}

		wg.Add(1)
		go func(d *Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			b.dispatch(ctx, logger, d, handler)
		}(d)
	}
}

func (b *Bus) dispatch(ctx context.Context, logger *zap.Logger, d *Delivery, handler Handler) {
	logger = logger.With(
		zap.String("message_id", d.MessageID),
		zap.Int("attempt", d.Attempt),
	)

	handlerErr := runHandler(ctx, d, handler)

	// Settle even when the receiver is shutting down.
	settleCtx := context.WithoutCancel(ctx)
	if handlerErr == nil {
		if err := b.Ack(settleCtx, d); err != nil {
			logger.Warn("ack failed", zap.Error(err))
		}
		return
	}

	dead, err := b.Nack(settleCtx, d, handlerErr)
	if err != nil {
		logger.Warn("nack failed", zap.Error(err), zap.NamedError("cause", handlerErr))
		return
	}
	if dead {
		logger.Error("delivery dead-lettered", zap.Error(handlerErr))
		return
	}
	logger.Warn("delivery failed, will retry", zap.Error(handlerErr))
}

func runHandler(ctx context.Context, d *Delivery, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, d)
}
