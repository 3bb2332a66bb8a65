package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Message is the unit published to a topic.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// PublishResult is the pending outcome of an asynchronous publish.
type PublishResult struct {
	ready chan struct{}
	id    string
	err   error
}

func newPublishResult() *PublishResult {
	return &PublishResult{ready: make(chan struct{})}
}

// Resolved returns a PublishResult that is already complete.
func Resolved(id string, err error) *PublishResult {
	r := newPublishResult()
	r.set(id, err)
	return r
}

func (r *PublishResult) set(id string, err error) {
	r.id = id
	r.err = err
	close(r.ready)
}

// Ready is closed once the publish has completed.
func (r *PublishResult) Ready() <-chan struct{} {
	return r.ready
}

// Get blocks until the publish completes and returns the message id.
func (r *PublishResult) Get(ctx context.Context) (string, error) {
	select {
	case <-r.ready:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Publish stores msg on topic in the background and creates one delivery
// per subscription attached at that moment.
func (b *Bus) Publish(ctx context.Context, topic string, msg Message) *PublishResult {
	result := newPublishResult()
	go func() {
		id, err := b.publish(ctx, topic, msg)
		result.set(id, err)
	}()
	return result
}

func (b *Bus) publish(ctx context.Context, topic string, msg Message) (string, error) {
	if msg.Data == nil {
		msg.Data = []byte{}
	}
	var attrs any
	if len(msg.Attributes) > 0 {
		encoded, err := json.Marshal(msg.Attributes)
		if err != nil {
			return "", fmt.Errorf("encode attributes: %w", err)
		}
		attrs = string(encoded)
	}

	id := uuid.NewString()
	err := retryOnBusy(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM topics WHERE name = ?`, topic).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
		}

		now := b.nowMillis()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, topic, data, attributes_json, published_at) VALUES (?, ?, ?, ?, ?)`,
			id, topic, msg.Data, attrs, now,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deliveries (subscription, message_id, state, attempts, available_at, updated_at)
             SELECT name, ?, ?, 0, ?, ? FROM subscriptions WHERE topic = ?`,
			id, statePending, now, now, topic,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}
