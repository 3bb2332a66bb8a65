package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeResult(t *testing.T, res TranslationResult) []byte {
	t.Helper()
	data, err := res.Encode()
	require.NoError(t, err)
	return data
}

func TestArtifactName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "talk.wav_fr.txt", ArtifactName("talk.wav", "fr"))
}

func TestWriterStoresArtifact(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	w := &Writer{Store: store, Bucket: testResultsBucket}

	require.NoError(t, w.Handle(context.Background(), encodeResult(t, TranslationResult{Text: "hello world", Filename: "talk.wav", Lang: "en"})))

	obj, ok := store.object(testResultsBucket, "talk.wav_en.txt")
	require.True(t, ok)
	require.Equal(t, "hello world", string(obj.data))
	require.Equal(t, ResultContentType, obj.meta.ContentType)
	require.Equal(t, "en", obj.meta.ContentLanguage)
}

func TestWriterRedeliveryLeavesOneArtifact(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	w := &Writer{Store: store, Bucket: testResultsBucket}
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, encodeResult(t, TranslationResult{Text: "first", Filename: "talk.wav", Lang: "fr"})))
	require.NoError(t, w.Handle(ctx, encodeResult(t, TranslationResult{Text: "second", Filename: "talk.wav", Lang: "fr"})))

	require.Equal(t, []string{"talk.wav_fr.txt"}, store.bucketNames(testResultsBucket))
	obj, _ := store.object(testResultsBucket, "talk.wav_fr.txt")
	require.Equal(t, "second", string(obj.data))
}

func TestWriterWritesEmptyText(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	w := &Writer{Store: store, Bucket: testResultsBucket}

	require.NoError(t, w.Handle(context.Background(), encodeResult(t, TranslationResult{Text: "", Filename: "quiet.wav", Lang: "es"})))
	obj, ok := store.object(testResultsBucket, "quiet.wav_es.txt")
	require.True(t, ok)
	require.Empty(t, obj.data)
}

func TestWriterFailures(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	w := &Writer{Store: store, Bucket: testResultsBucket}
	err := w.Handle(context.Background(), []byte(`{"type":"translation_result","version":1,"filename":"a.wav","lang":"en"}`))
	require.ErrorIs(t, err, ErrMalformedInput)
	require.Zero(t, store.puts)

	store.putErr = errors.New("permission denied")
	err = w.Handle(context.Background(), encodeResult(t, TranslationResult{Text: "x", Filename: "a.wav", Lang: "en"}))
	require.ErrorIs(t, err, ErrStorage)
	require.True(t, Retryable(err))
}
