package trigger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/pipeline"
)

func TestDeliverClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		terminal bool
	}{
		{name: "success"},
		{name: "retryable", err: pipeline.Wrap(pipeline.ErrEngine, pipeline.StageTranslate, "translate", "", errors.New("503"))},
		{name: "malformed", err: pipeline.Wrap(pipeline.ErrMalformedInput, pipeline.StageWrite, "decode", "", nil), terminal: true},
		{name: "invalid audio", err: pipeline.Wrap(pipeline.ErrInvalidAudio, pipeline.StageNormalize, "transcode", "", nil), terminal: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr := &BusTrigger{Name: "write", Handler: func(context.Context, []byte) error { return tc.err }}
			err := tr.Deliver(context.Background(), &bus.Delivery{MessageID: "m", Attempt: 1})
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.terminal, bus.IsTerminal(err))
		})
	}
}

func TestDeliverKeepsCanceledWorkRetryable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	tr := &BusTrigger{Handler: func(context.Context, []byte) error {
		cancel()
		return pipeline.Wrap(pipeline.ErrMalformedInput, "", "", "", context.Canceled)
	}}
	err := tr.Deliver(ctx, &bus.Delivery{})
	require.Error(t, err)
	require.False(t, bus.IsTerminal(err))
}

func TestBusTriggerDeadLettersTerminalFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := bus.Open(filepath.Join(t.TempDir(), "bus.db"), bus.Options{PollInterval: 10 * time.Millisecond, MaxDeliveryAttempts: 5})
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.CreateTopic(ctx, "results"))
	require.NoError(t, b.CreateSubscription(ctx, "results", "results-writer"))

	tr := &BusTrigger{
		Name:         "write",
		Subscription: "results-writer",
		Bus:          b,
		Handler: func(_ context.Context, data []byte) error {
			_, err := pipeline.DecodeTranslationResult(data)
			return err
		},
	}

	_, err = b.Publish(ctx, "results", bus.Message{Data: []byte(`{"text":"x"}`)}).Get(ctx)
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- tr.Run(runCtx) }()

	require.Eventually(t, func() bool {
		dead, err := b.DeadLetters(ctx, "results-writer", 10)
		return err == nil && len(dead) == 1 && dead[0].Attempts == 1
	}, 5*time.Second, 20*time.Millisecond)

	stop()
	require.NoError(t, <-done)
}
