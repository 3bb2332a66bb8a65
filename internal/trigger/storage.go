package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/pipeline"
	"github.com/fmueller/voxlate/internal/storage"
)

// ObjectHandler runs one stage for a finalized object.
type ObjectHandler func(ctx context.Context, ev storage.ObjectEvent) error

// Policy bounds the retries of a storage trigger.
type Policy struct {
	MaxAttempts int
	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration
}

const defaultConcurrency = 4

// StorageTrigger dispatches bucket events to a stage handler.
type StorageTrigger struct {
	Name        string
	Events      <-chan storage.ObjectEvent
	Handler     ObjectHandler
	Policy      Policy
	Concurrency int
	Logger      *zap.Logger
}

// Run consumes Events until the channel closes or ctx is done. It waits
// for in-flight invocations before returning.
func (t *StorageTrigger) Run(ctx context.Context) error {
	if t.Handler == nil {
		return errors.New("storage trigger has no handler")
	}
	limit := t.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-t.Events:
			if !ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				_ = t.Invoke(ctx, ev)
			}()
		}
	}
}

// Invoke runs the handler for ev, retrying retryable failures with a
// linear backoff. The final error is logged and returned.
func (t *StorageTrigger) Invoke(ctx context.Context, ev storage.ObjectEvent) error {
	ctx = logging.WithFields(ctx,
		zap.String(logging.FieldInvocation, uuid.NewString()),
		zap.String(logging.FieldTrigger, t.Name),
	)
	logger := logging.For(ctx, t.Logger).With(
		zap.String(logging.FieldBucket, ev.Bucket),
		zap.String(logging.FieldFilename, ev.Name),
	)

	attempts := t.Policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = runObjectHandler(ctx, t.Handler, ev)
		if err == nil {
			logger.Debug("invocation complete", zap.Int("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil || !pipeline.Retryable(err) || attempt == attempts {
			break
		}
		logger.Warn("invocation failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if !sleep(ctx, t.Policy.Backoff*time.Duration(attempt)) {
			break
		}
	}

	logger.Error("invocation failed",
		zap.Bool("retryable", pipeline.Retryable(err)),
		zap.Error(err),
	)
	return err
}

func runObjectHandler(ctx context.Context, handler ObjectHandler, ev storage.ObjectEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pipeline.Wrap(pipeline.ErrEngine, "", "handler panic", ev.Name, panicError(r))
		}
	}()
	return handler(ctx, ev)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
