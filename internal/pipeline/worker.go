package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/language"
	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/translate"
)

// Worker translates a single request and publishes its result.
type Worker struct {
	Translator   translate.Translator
	Publisher    Publisher
	ResultsTopic string
	Logger       *zap.Logger
}

func (w *Worker) Handle(ctx context.Context, data []byte) error {
	req, err := DecodeTranslationRequest(data)
	if err != nil {
		return fmt.Errorf("%s: decode: %w", StageTranslate, err)
	}
	return w.Translate(ctx, req)
}

func (w *Worker) Translate(ctx context.Context, req TranslationRequest) error {
	logger := logging.For(ctx, w.Logger).With(
		zap.String(logging.FieldStage, StageTranslate),
		zap.String(logging.FieldFilename, req.Filename),
		zap.String(logging.FieldLanguage, req.Lang),
		zap.String("src_lang", req.SrcLang),
	)

	text := req.Text
	if language.Same(req.Lang, req.SrcLang) {
		logger.Debug("source equals target, passing through")
	} else {
		translated, err := w.Translator.Translate(ctx, req.Text, req.SrcLang, req.Lang)
		if err != nil {
			return Wrap(ErrEngine, StageTranslate, "translate", req.Filename+" to "+req.Lang, err)
		}
		text = translated
	}

	data, err := TranslationResult{Text: text, Filename: req.Filename, Lang: req.Lang}.Encode()
	if err != nil {
		return Wrap(ErrPublish, StageTranslate, "encode result", req.Filename, err)
	}
	id, err := w.Publisher.Publish(ctx, w.ResultsTopic, bus.Message{Data: data}).Get(ctx)
	if err != nil {
		return Wrap(ErrPublish, StageTranslate, "publish result", req.Filename+" "+req.Lang, err)
	}

	logger.Info("translation published", zap.String("message_id", id), zap.Int("chars", len(text)))
	return nil
}
