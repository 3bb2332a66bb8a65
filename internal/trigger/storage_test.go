package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fmueller/voxlate/internal/pipeline"
	"github.com/fmueller/voxlate/internal/storage"
)

var testEvent = storage.ObjectEvent{Bucket: "audio_uploads", Name: "talk.wav"}

func TestInvokeRetriesRetryableFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	tr := &StorageTrigger{
		Name:   "normalize",
		Policy: Policy{MaxAttempts: 3, Backoff: time.Millisecond},
		Handler: func(context.Context, storage.ObjectEvent) error {
			if calls.Add(1) < 3 {
				return pipeline.Wrap(pipeline.ErrStorage, pipeline.StageNormalize, "put", "", errors.New("busy"))
			}
			return nil
		},
	}

	require.NoError(t, tr.Invoke(context.Background(), testEvent))
	require.EqualValues(t, 3, calls.Load())
}

func TestInvokeStopsOnTerminalFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	var calls atomic.Int32
	tr := &StorageTrigger{
		Name:   "normalize",
		Policy: Policy{MaxAttempts: 5, Backoff: time.Millisecond},
		Logger: zap.New(core),
		Handler: func(context.Context, storage.ObjectEvent) error {
			calls.Add(1)
			return pipeline.Wrap(pipeline.ErrUnsupportedFormat, pipeline.StageNormalize, "dispatch", "ogg", nil)
		},
	}

	err := tr.Invoke(context.Background(), testEvent)
	require.ErrorIs(t, err, pipeline.ErrUnsupportedFormat)
	require.EqualValues(t, 1, calls.Load())

	entries := logs.FilterMessage("invocation failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "talk.wav", fields["filename"])
	require.Equal(t, "normalize", fields["trigger"])
	require.Equal(t, false, fields["retryable"])
	require.NotEmpty(t, fields["invocation"])
}

func TestInvokeGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	tr := &StorageTrigger{
		Policy: Policy{MaxAttempts: 2},
		Handler: func(context.Context, storage.ObjectEvent) error {
			calls.Add(1)
			return pipeline.Wrap(pipeline.ErrEngine, pipeline.StageTranscribe, "recognize", "", errors.New("503"))
		},
	}

	err := tr.Invoke(context.Background(), testEvent)
	require.ErrorIs(t, err, pipeline.ErrEngine)
	require.EqualValues(t, 2, calls.Load())
}

func TestInvokeStopsWhenCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	tr := &StorageTrigger{
		Policy: Policy{MaxAttempts: 10, Backoff: time.Hour},
		Handler: func(context.Context, storage.ObjectEvent) error {
			calls.Add(1)
			cancel()
			return errors.New("interrupted")
		},
	}

	require.Error(t, tr.Invoke(ctx, testEvent))
	require.EqualValues(t, 1, calls.Load())
}

func TestInvokeRecoversPanics(t *testing.T) {
	t.Parallel()

	tr := &StorageTrigger{
		Handler: func(context.Context, storage.ObjectEvent) error { panic("nil map") },
	}
	err := tr.Invoke(context.Background(), testEvent)
	require.ErrorIs(t, err, pipeline.ErrEngine)
	require.Contains(t, err.Error(), "nil map")
}

func TestRunDispatchesEveryEvent(t *testing.T) {
	t.Parallel()

	events := make(chan storage.ObjectEvent, 3)
	var (
		mu   sync.Mutex
		seen []string
	)
	tr := &StorageTrigger{
		Events:      events,
		Concurrency: 2,
		Handler: func(_ context.Context, ev storage.ObjectEvent) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Name)
			return nil
		},
	}
	events <- storage.ObjectEvent{Bucket: "b", Name: "a.wav"}
	events <- storage.ObjectEvent{Bucket: "b", Name: "b.wav"}
	events <- storage.ObjectEvent{Bucket: "b", Name: "c.wav"}
	close(events)

	require.NoError(t, tr.Run(context.Background()))
	require.ElementsMatch(t, []string{"a.wav", "b.wav", "c.wav"}, seen)
}

func TestRunRequiresHandler(t *testing.T) {
	t.Parallel()

	require.Error(t, (&StorageTrigger{}).Run(context.Background()))
}
