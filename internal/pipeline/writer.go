package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/storage"
)

// ResultContentType is recorded on every artifact.
const ResultContentType = "text/plain; charset=utf-8"

// ArtifactName is the stored name for filename translated into lang.
func ArtifactName(filename, lang string) string {
	return fmt.Sprintf("%s_%s.txt", filename, lang)
}

// Writer persists translation results. Writing the same result twice
// leaves the same artifact behind.
type Writer struct {
	Store  ObjectWriter
	Bucket string
	Logger *zap.Logger
}

func (w *Writer) Handle(ctx context.Context, data []byte) error {
	result, err := DecodeTranslationResult(data)
	if err != nil {
		return fmt.Errorf("%s: decode: %w", StageWrite, err)
	}
	return w.Write(ctx, result)
}

func (w *Writer) Write(ctx context.Context, result TranslationResult) error {
	name := ArtifactName(result.Filename, result.Lang)
	meta := storage.Metadata{
		ContentType:     ResultContentType,
		ContentLanguage: result.Lang,
	}
	if err := w.Store.Put(ctx, w.Bucket, name, []byte(result.Text), meta); err != nil {
		return storageError(StageWrite, "put artifact", storage.ObjectEvent{Bucket: w.Bucket, Name: name}, err)
	}

	logging.For(ctx, w.Logger).Info("artifact written",
		zap.String(logging.FieldStage, StageWrite),
		zap.String(logging.FieldBucket, w.Bucket),
		zap.String(logging.FieldFilename, result.Filename),
		zap.String(logging.FieldLanguage, result.Lang),
		zap.String("artifact", name),
	)
	return nil
}
