package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/audio"
	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/language"
	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/speech"
	"github.com/fmueller/voxlate/internal/storage"
	"github.com/fmueller/voxlate/internal/translate"
)

// Orchestrator transcribes probed audio and fans the transcript out to
// every target language.
type Orchestrator struct {
	Store      ObjectReader
	Recognizer speech.Recognizer
	Translator translate.Translator
	Publisher  Publisher

	TranslationTopic string
	ResultsTopic     string
	Targets          []string

	PrimaryLanguage      string
	AlternativeLanguages []string
	// InlineAudio sends the audio bytes with the request instead of a URI.
	InlineAudio bool

	Logger *zap.Logger
}

// Outcome summarizes one orchestrator run.
type Outcome struct {
	Transcript     string
	SourceLanguage string
	// Translated lists targets routed through a Translation Worker.
	Translated []string
	// PassedThrough lists targets that received the transcript verbatim.
	PassedThrough []string
	MessageIDs    map[string]string
}

func (o *Orchestrator) Transcribe(ctx context.Context, info AudioInfo) error {
	_, err := o.Run(ctx, info)
	return err
}

// Run blocks on recognition, then publishes one message per target and
// waits for every acknowledgment. Any failed publish fails the run.
func (o *Orchestrator) Run(ctx context.Context, info AudioInfo) (*Outcome, error) {
	logger := logging.For(ctx, o.Logger).With(
		zap.String(logging.FieldStage, StageTranscribe),
		zap.String(logging.FieldBucket, info.Bucket),
		zap.String(logging.FieldFilename, info.Name),
	)

	req := o.BuildRequest(info)
	if o.InlineAudio {
		data, err := o.Store.Get(ctx, info.Bucket, info.Name)
		if err != nil {
			return nil, storageError(StageTranscribe, "read audio", storage.ObjectEvent{Bucket: info.Bucket, Name: info.Name}, err)
		}
		req.Content = data
	}

	logger.Debug("recognition started", zap.String("uri", req.AudioURI))
	result, err := o.Recognizer.Recognize(ctx, req)
	if err != nil {
		return nil, Wrap(ErrEngine, StageTranscribe, "recognize", info.Name, err)
	}
	if result == nil {
		result = &speech.Result{}
	}
	transcript := AssembleTranscript(result)

	source, err := o.detect(ctx, transcript)
	if err != nil {
		return nil, Wrap(ErrEngine, StageTranscribe, "detect language", info.Name, err)
	}
	logger.Info("transcript ready",
		zap.String("source_lang", source),
		zap.Int("segments", len(result.Segments)),
		zap.Int("chars", len(transcript)),
	)

	outcome := &Outcome{Transcript: transcript, SourceLanguage: source}
	var fan Fanout
	for _, target := range o.Targets {
		if language.IsUndetermined(source) || language.Same(target, source) {
			outcome.PassedThrough = append(outcome.PassedThrough, target)
			fan.Add(target, o.publish(ctx, o.ResultsTopic, TranslationResult{
				Text:     transcript,
				Filename: info.Name,
				Lang:     target,
			}))
			continue
		}
		outcome.Translated = append(outcome.Translated, target)
		fan.Add(target, o.publish(ctx, o.TranslationTopic, TranslationRequest{
			Text:     transcript,
			Filename: info.Name,
			Lang:     target,
			SrcLang:  source,
		}))
	}

	ids, err := fan.Wait(ctx)
	outcome.MessageIDs = ids
	if err != nil {
		failed := fan.Len() - len(ids)
		return outcome, Wrap(ErrPublish, StageTranscribe, "fan out",
			fmt.Sprintf("%d of %d publishes failed", failed, fan.Len()), err)
	}

	logger.Info("fan-out acknowledged",
		zap.Strings("translated", outcome.Translated),
		zap.Strings("passed_through", outcome.PassedThrough),
	)
	return outcome, nil
}

// BuildRequest derives the recognition request from the probed header.
func (o *Orchestrator) BuildRequest(info AudioInfo) speech.Request {
	req := speech.Request{
		AudioURI:                 o.Store.URI(info.Bucket, info.Name),
		SampleRateHertz:          info.SampleRate,
		LanguageCode:             o.PrimaryLanguage,
		AlternativeLanguageCodes: append([]string(nil), o.AlternativeLanguages...),
	}
	if req.LanguageCode == "" {
		req.LanguageCode = "en"
	}
	// FLAC carries its encoding in the stream header.
	if info.Format == audio.FormatWAV {
		req.Encoding = speech.EncodingLinear16
	}
	if info.Channels != 1 {
		req.AudioChannelCount = info.Channels
		req.SeparateRecognitionPerChannel = true
	}
	return req
}

func (o *Orchestrator) detect(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return language.Undetermined, nil
	}
	detection, err := o.Translator.Detect(ctx, transcript)
	if err != nil {
		return "", err
	}
	normalized, err := language.Normalize(detection.Language)
	if err != nil {
		return language.Undetermined, nil
	}
	return normalized, nil
}

type encoder interface {
	Encode() ([]byte, error)
}

func (o *Orchestrator) publish(ctx context.Context, topic string, msg encoder) *bus.PublishResult {
	data, err := msg.Encode()
	if err != nil {
		return bus.Resolved("", fmt.Errorf("encode message: %w", err))
	}
	return o.Publisher.Publish(ctx, topic, bus.Message{Data: data})
}
