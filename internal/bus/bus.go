package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const (
	defaultAckDeadline  = 60 * time.Second
	defaultMaxAttempts  = 5
	defaultPollInterval = 250 * time.Millisecond
	defaultRetryBackoff = 5 * time.Second
	defaultOutstanding  = 4
)

var (
	ErrSchemaMismatch       = errors.New("schema version mismatch")
	ErrTopicNotFound        = errors.New("topic not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrLeaseLost            = errors.New("delivery lease lost")
)

// Options tune delivery behaviour. Zero values select defaults.
type Options struct {
	AckDeadline         time.Duration
	MaxDeliveryAttempts int
	PollInterval        time.Duration
	RetryBackoff        time.Duration
	MaxOutstanding      int
	Logger              *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.AckDeadline <= 0 {
		o.AckDeadline = defaultAckDeadline
	}
	if o.MaxDeliveryAttempts <= 0 {
		o.MaxDeliveryAttempts = defaultMaxAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	}
	if o.MaxOutstanding <= 0 {
		o.MaxOutstanding = defaultOutstanding
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Bus is safe for concurrent use.
type Bus struct {
	db     *sql.DB
	path   string
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// Open initializes or connects to the bus database at path.
func Open(path string, opts Options) (*Bus, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bus path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bus directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps the pragmas in force and serializes writers
	// inside the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	opts = opts.withDefaults()
	b := &Bus{
		db:     db,
		path:   path,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}
	if err := b.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the underlying database connection.
func (b *Bus) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Path returns the database file location.
func (b *Bus) Path() string {
	return b.path
}

// CreateTopic registers topic. Creating an existing topic is a no-op.
func (b *Bus) CreateTopic(ctx context.Context, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("topic name is required")
	}
	return b.exec(ctx,
		`INSERT INTO topics (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		topic, b.nowMillis(),
	)
}

// CreateSubscription attaches sub to topic. Only messages published after
// the subscription exists are delivered to it. Re-creating a subscription
// on the same topic is a no-op.
func (b *Bus) CreateSubscription(ctx context.Context, topic, sub string) error {
	if strings.TrimSpace(sub) == "" {
		return errors.New("subscription name is required")
	}
	ok, err := b.topicExists(ctx, topic)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}

	var existing string
	err = b.db.QueryRowContext(ctx, `SELECT topic FROM subscriptions WHERE name = ?`, sub).Scan(&existing)
	switch {
	case err == nil:
		if existing != topic {
			return fmt.Errorf("subscription %s already attached to topic %s", sub, existing)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup subscription: %w", err)
	}

	return b.exec(ctx,
		`INSERT INTO subscriptions (name, topic, created_at) VALUES (?, ?, ?)`,
		sub, topic, b.nowMillis(),
	)
}

func (b *Bus) topicExists(ctx context.Context, topic string) (bool, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM topics WHERE name = ?`, topic).Scan(&count); err != nil {
		return false, fmt.Errorf("lookup topic: %w", err)
	}
	return count > 0, nil
}

func (b *Bus) subscriptionExists(ctx context.Context, sub string) (bool, error) {
	var count int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM subscriptions WHERE name = ?`, sub).Scan(&count); err != nil {
		return false, fmt.Errorf("lookup subscription: %w", err)
	}
	return count > 0, nil
}

func (b *Bus) initSchema(ctx context.Context) error {
	var tableExists int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return b.createSchema(ctx)
	}

	var version int
	if err := b.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, b.path)
	}
	return nil
}

func (b *Bus) createSchema(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (b *Bus) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := b.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (b *Bus) nowMillis() int64 {
	return b.now().UTC().UnixMilli()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth redelivering. Receive dead-letters the
// delivery immediately.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
