package pipeline

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxlate/internal/audio"
	"github.com/fmueller/voxlate/internal/audio/audiotest"
	"github.com/fmueller/voxlate/internal/speech"
)

type orchestratorFixture struct {
	store      *memStore
	recognizer *fakeRecognizer
	translator *fakeTranslator
	publisher  *fakePublisher
	orch       *Orchestrator
}

func newOrchestratorFixture(result *speech.Result, detected string, targets ...string) *orchestratorFixture {
	f := &orchestratorFixture{
		store:      newMemStore(),
		recognizer: &fakeRecognizer{result: result},
		translator: &fakeTranslator{detected: detected},
		publisher:  &fakePublisher{},
	}
	f.store.seed(testNormalizedBucket, "talk.wav", audiotest.PCM16WAV([]int16{1, 2, 3}, 16000, 1))
	f.orch = &Orchestrator{
		Store:            f.store,
		Recognizer:       f.recognizer,
		Translator:       f.translator,
		Publisher:        f.publisher,
		TranslationTopic: testTranslationTopic,
		ResultsTopic:     testResultsTopic,
		Targets:          targets,
		PrimaryLanguage:  "en",
	}
	return f
}

var monoWAV = AudioInfo{Bucket: testNormalizedBucket, Name: "talk.wav", Format: audio.FormatWAV, SampleRate: 16000, Channels: 1}

func TestOrchestratorRoutesByDetectedLanguage(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(segments("bonjour", "le monde"), "fr", "en", "fr", "es")

	outcome, err := f.orch.Run(context.Background(), monoWAV)
	require.NoError(t, err)
	require.Equal(t, "bonjour le monde", outcome.Transcript)
	require.Equal(t, "fr", outcome.SourceLanguage)
	require.Equal(t, []string{"en", "es"}, outcome.Translated)
	require.Equal(t, []string{"fr"}, outcome.PassedThrough)
	require.Len(t, outcome.MessageIDs, 3)

	requests := f.publisher.messages(testTranslationTopic)
	require.Len(t, requests, 2)
	var langs []string
	for _, data := range requests {
		req, err := DecodeTranslationRequest(data)
		require.NoError(t, err)
		require.Equal(t, "bonjour le monde", req.Text)
		require.Equal(t, "fr", req.SrcLang)
		require.Equal(t, "talk.wav", req.Filename)
		langs = append(langs, req.Lang)
	}
	sort.Strings(langs)
	require.Equal(t, []string{"en", "es"}, langs)

	results := f.publisher.messages(testResultsTopic)
	require.Len(t, results, 1)
	res, err := DecodeTranslationResult(results[0])
	require.NoError(t, err)
	require.Equal(t, TranslationResult{Text: "bonjour le monde", Filename: "talk.wav", Lang: "fr"}, res)

	require.Empty(t, f.translator.translateCalls())
}

func TestOrchestratorMatchesRegionalDetection(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(segments("hello"), "en-US", "en", "de")

	outcome, err := f.orch.Run(context.Background(), monoWAV)
	require.NoError(t, err)
	require.Equal(t, "en", outcome.SourceLanguage)
	require.Equal(t, []string{"en"}, outcome.PassedThrough)
	require.Equal(t, []string{"de"}, outcome.Translated)
}

func TestOrchestratorUndeterminedPassesEverythingThrough(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(segments("mmm hmm"), "und", "en", "fr", "es")

	outcome, err := f.orch.Run(context.Background(), monoWAV)
	require.NoError(t, err)
	require.Equal(t, "und", outcome.SourceLanguage)
	require.Empty(t, outcome.Translated)
	require.Equal(t, []string{"en", "fr", "es"}, outcome.PassedThrough)
	require.Empty(t, f.publisher.messages(testTranslationTopic))
	require.Len(t, f.publisher.messages(testResultsTopic), 3)
	require.Empty(t, f.translator.translateCalls())
}

func TestOrchestratorEmptyTranscriptSkipsDetection(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(segments("  "), "fr", "en", "fr")

	outcome, err := f.orch.Run(context.Background(), monoWAV)
	require.NoError(t, err)
	require.Equal(t, "", outcome.Transcript)
	require.Equal(t, "und", outcome.SourceLanguage)
	require.Zero(t, f.translator.detects)

	for _, data := range f.publisher.messages(testResultsTopic) {
		res, err := DecodeTranslationResult(data)
		require.NoError(t, err)
		require.Equal(t, "", res.Text)
	}
}

func TestOrchestratorUnparseableDetectionIsUndetermined(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(segments("zzz"), "!!", "en")

	outcome, err := f.orch.Run(context.Background(), monoWAV)
	require.NoError(t, err)
	require.Equal(t, "und", outcome.SourceLanguage)
	require.Equal(t, []string{"en"}, outcome.PassedThrough)
}

func TestOrchestratorPublishFailureFailsWholeRun(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(segments("bonjour"), "fr", "en", "fr", "es")
	f.publisher.fail = func(_ string, data []byte) error {
		req, err := DecodeTranslationRequest(data)
		if err == nil && req.Lang == "es" {
			return errors.New("topic unavailable")
		}
		return nil
	}

	outcome, err := f.orch.Run(context.Background(), monoWAV)
	require.ErrorIs(t, err, ErrPublish)
	require.True(t, Retryable(err))
	require.Contains(t, err.Error(), "1 of 3 publishes failed")
	require.Contains(t, err.Error(), "es: topic unavailable")
	require.Len(t, outcome.MessageIDs, 2)

	// A redelivery publishes the complete set again.
	f.publisher.fail = nil
	_, err = f.orch.Run(context.Background(), monoWAV)
	require.NoError(t, err)
	require.Len(t, f.publisher.messages(testTranslationTopic), 3)

	// The en request from the failed run is delivered too; the writer
	// overwrites the same artifact instead of adding one.
	worker := &Worker{Translator: f.translator, Publisher: f.publisher, ResultsTopic: testResultsTopic}
	writer := &Writer{Store: f.store, Bucket: testResultsBucket}
	require.NoError(t, f.publisher.drain(context.Background(), worker, writer))

	names := f.store.bucketNames(testResultsBucket)
	sort.Strings(names)
	require.Equal(t, []string{"talk.wav_en.txt", "talk.wav_es.txt", "talk.wav_fr.txt"}, names)
	for name, want := range map[string]string{
		"talk.wav_en.txt": "[fr->en] bonjour",
		"talk.wav_es.txt": "[fr->es] bonjour",
		"talk.wav_fr.txt": "bonjour",
	} {
		obj, ok := f.store.object(testResultsBucket, name)
		require.True(t, ok, name)
		require.Equal(t, want, string(obj.data), name)
	}

	var enCalls int
	for _, call := range f.translator.translateCalls() {
		if call.target == "en" {
			enCalls++
		}
	}
	require.Equal(t, 2, enCalls)
}

func TestOrchestratorNilRecognitionResultIsEmpty(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(nil, "fr", "en", "fr")

	outcome, err := f.orch.Run(context.Background(), monoWAV)
	require.NoError(t, err)
	require.Equal(t, "", outcome.Transcript)
	require.Equal(t, "und", outcome.SourceLanguage)
	require.Equal(t, []string{"en", "fr"}, outcome.PassedThrough)
	require.Zero(t, f.translator.detects)
}

func TestOrchestratorEngineFailuresAreRetryable(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(nil, "fr", "en")
	f.recognizer.err = errors.New("quota exceeded")
	err := f.orch.Transcribe(context.Background(), monoWAV)
	require.ErrorIs(t, err, ErrEngine)
	require.True(t, Retryable(err))

	g := newOrchestratorFixture(segments("bonjour"), "", "en")
	g.translator.detectErr = errors.New("detect timeout")
	err = g.orch.Transcribe(context.Background(), monoWAV)
	require.ErrorIs(t, err, ErrEngine)
	require.Empty(t, g.publisher.messages(testResultsTopic))
}

func TestOrchestratorSendsInlineAudio(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(segments("hi"), "en", "en")
	f.orch.InlineAudio = true

	require.NoError(t, f.orch.Transcribe(context.Background(), monoWAV))
	require.Len(t, f.recognizer.calls, 1)
	obj, _ := f.store.object(testNormalizedBucket, "talk.wav")
	require.Equal(t, obj.data, f.recognizer.calls[0].Content)
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	o := &Orchestrator{Store: newMemStore(), PrimaryLanguage: "fr", AlternativeLanguages: []string{"en", "de"}}

	stereo := o.BuildRequest(AudioInfo{Bucket: "b", Name: "a.wav", Format: audio.FormatWAV, SampleRate: 44100, Channels: 2})
	require.Equal(t, speech.Request{
		AudioURI:                      "mem://b/a.wav",
		Encoding:                      speech.EncodingLinear16,
		SampleRateHertz:               44100,
		LanguageCode:                  "fr",
		AlternativeLanguageCodes:      []string{"en", "de"},
		AudioChannelCount:             2,
		SeparateRecognitionPerChannel: true,
	}, stereo)

	mono := (&Orchestrator{Store: newMemStore()}).BuildRequest(AudioInfo{Bucket: "b", Name: "a.flac", Format: audio.FormatFLAC, SampleRate: 16000, Channels: 1})
	require.Equal(t, speech.EncodingUnspecified, mono.Encoding)
	require.Equal(t, "en", mono.LanguageCode)
	require.Zero(t, mono.AudioChannelCount)
	require.False(t, mono.SeparateRecognitionPerChannel)
}
