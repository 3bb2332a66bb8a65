package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/audio"
	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/storage"
)

// Normalizer copies lossless uploads into the normalized bucket and
// re-encodes lossy ones to WAV.
type Normalizer struct {
	Store      ObjectStore
	Transcoder audio.Transcoder
	// Bucket receives the normalized objects.
	Bucket string
	Logger *zap.Logger
}

// Handle performs exactly one write to the normalized bucket and returns the
// object it wrote.
func (n *Normalizer) Handle(ctx context.Context, ev storage.ObjectEvent) (storage.ObjectEvent, error) {
	logger := logging.For(ctx, n.Logger).With(
		zap.String(logging.FieldStage, StageNormalize),
		zap.String(logging.FieldBucket, ev.Bucket),
		zap.String(logging.FieldFilename, ev.Name),
	)

	format, err := audio.DetectFormat(ev.Name)
	if err != nil {
		return storage.ObjectEvent{}, Wrap(ErrUnsupportedFormat, StageNormalize, "detect format", ev.Name, err)
	}

	data, err := n.Store.Get(ctx, ev.Bucket, ev.Name)
	if err != nil {
		return storage.ObjectEvent{}, storageError(StageNormalize, "read source", ev, err)
	}

	var (
		out  []byte
		name string
		meta storage.Metadata
	)
	switch format {
	case audio.FormatWAV, audio.FormatFLAC:
		out, name = data, ev.Name
		meta.ContentType = format.ContentType()
	case audio.FormatMP3:
		if n.Transcoder == nil {
			return storage.ObjectEvent{}, Wrap(ErrEngine, StageNormalize, "transcode", "no transcoder configured", nil)
		}
		out, err = n.Transcoder.ToWAV(ctx, data, format)
		if err != nil {
			if errors.Is(err, audio.ErrTranscode) {
				return storage.ObjectEvent{}, Wrap(ErrInvalidAudio, StageNormalize, "transcode", ev.Name, err)
			}
			return storage.ObjectEvent{}, Wrap(ErrEngine, StageNormalize, "transcode", ev.Name, err)
		}
		name = audio.ReplaceExtension(ev.Name, audio.FormatWAV)
		meta.ContentType = audio.FormatWAV.ContentType()
	default:
		return storage.ObjectEvent{}, Wrap(ErrUnsupportedFormat, StageNormalize, "dispatch", string(format), nil)
	}

	meta.Custom = map[string]string{
		"source_bucket": ev.Bucket,
		"source_name":   ev.Name,
	}
	if err := n.Store.Put(ctx, n.Bucket, name, out, meta); err != nil {
		return storage.ObjectEvent{}, storageError(StageNormalize, "write normalized", storage.ObjectEvent{Bucket: n.Bucket, Name: name}, err)
	}

	logger.Info("audio normalized",
		zap.String("format", string(format)),
		zap.String("target", name),
		zap.Int("bytes", len(out)),
	)
	return storage.ObjectEvent{Bucket: n.Bucket, Name: name}, nil
}

// storageError treats a vanished object as bad input and anything else as
// a retryable storage failure.
func storageError(stage, operation string, ev storage.ObjectEvent, err error) error {
	detail := ev.Bucket + "/" + ev.Name
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		return Wrap(ErrMalformedInput, stage, operation, detail, err)
	}
	return Wrap(ErrStorage, stage, operation, detail, err)
}
