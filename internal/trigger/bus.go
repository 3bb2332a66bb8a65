package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/pipeline"
)

// MessageHandler runs one stage for a bus payload.
type MessageHandler func(ctx context.Context, data []byte) error

// Receiver is the subscription side of the bus.
type Receiver interface {
	Receive(ctx context.Context, sub string, handler bus.Handler) error
}

var _ Receiver = (*bus.Bus)(nil)

// BusTrigger feeds a subscription into a stage handler.
type BusTrigger struct {
	Name         string
	Subscription string
	Bus          Receiver
	Handler      MessageHandler
	Logger       *zap.Logger
}

// Run receives until ctx is done.
func (t *BusTrigger) Run(ctx context.Context) error {
	if t.Handler == nil {
		return errors.New("bus trigger has no handler")
	}
	return t.Bus.Receive(ctx, t.Subscription, t.Deliver)
}

// Deliver handles a single delivery. Failures that redelivery cannot fix
// are returned as terminal so the bus dead-letters them at once.
func (t *BusTrigger) Deliver(ctx context.Context, d *bus.Delivery) error {
	ctx = logging.WithFields(ctx,
		zap.String(logging.FieldInvocation, uuid.NewString()),
		zap.String(logging.FieldTrigger, t.Name),
	)
	logger := logging.For(ctx, t.Logger).With(
		zap.String("message_id", d.MessageID),
		zap.Int("attempt", d.Attempt),
	)

	err := runMessageHandler(ctx, t.Handler, d.Data)
	return t.classify(ctx, logger, err)
}

func (t *BusTrigger) classify(ctx context.Context, logger *zap.Logger, err error) error {
	if err == nil {
		logger.Debug("invocation complete")
		return nil
	}
	if ctx.Err() != nil || pipeline.Retryable(err) {
		logger.Warn("invocation failed", zap.Bool("retryable", true), zap.Error(err))
		return err
	}
	logger.Error("invocation failed", zap.Bool("retryable", false), zap.Error(err))
	return bus.Terminal(err)
}

func runMessageHandler(ctx context.Context, handler MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pipeline.Wrap(pipeline.ErrEngine, "", "handler panic", "", panicError(r))
		}
	}()
	return handler(ctx, data)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
