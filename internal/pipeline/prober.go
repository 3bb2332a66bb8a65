package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/audio"
	"github.com/fmueller/voxlate/internal/logging"
	"github.com/fmueller/voxlate/internal/storage"
)

// AudioInfo is what the prober hands to the orchestrator.
type AudioInfo struct {
	Bucket     string
	Name       string
	Format     audio.Format
	SampleRate int
	Channels   int
}

// Transcriber consumes probed audio.
type Transcriber interface {
	Transcribe(ctx context.Context, info AudioInfo) error
}

type Prober struct {
	Store  ObjectReader
	Next   Transcriber
	Logger *zap.Logger
}

// Handle probes ev and passes the result on to Next.
func (p *Prober) Handle(ctx context.Context, ev storage.ObjectEvent) error {
	info, err := p.Probe(ctx, ev)
	if err != nil {
		return err
	}
	if p.Next == nil {
		return nil
	}
	return p.Next.Transcribe(ctx, info)
}

// Probe reads only the container header of ev.
func (p *Prober) Probe(ctx context.Context, ev storage.ObjectEvent) (AudioInfo, error) {
	logger := logging.For(ctx, p.Logger).With(
		zap.String(logging.FieldStage, StageProbe),
		zap.String(logging.FieldBucket, ev.Bucket),
		zap.String(logging.FieldFilename, ev.Name),
	)

	format, err := audio.DetectFormat(ev.Name)
	if err != nil || !format.Lossless() {
		return AudioInfo{}, Wrap(ErrUnsupportedFormat, StageProbe, "detect format", ev.Name, err)
	}

	rc, err := p.Store.Open(ctx, ev.Bucket, ev.Name)
	if err != nil {
		return AudioInfo{}, storageError(StageProbe, "open", ev, err)
	}
	defer rc.Close()

	header, err := audio.Probe(rc, format)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidWAV) || errors.Is(err, audio.ErrInvalidFLAC) {
			return AudioInfo{}, Wrap(ErrMalformedInput, StageProbe, "read header", ev.Name, err)
		}
		return AudioInfo{}, Wrap(ErrStorage, StageProbe, "read header", ev.Name, err)
	}

	info := AudioInfo{
		Bucket:     ev.Bucket,
		Name:       ev.Name,
		Format:     format,
		SampleRate: header.SampleRate,
		Channels:   header.Channels,
	}
	logger.Info("audio probed",
		zap.Int("sample_rate", info.SampleRate),
		zap.Int("channels", info.Channels),
	)
	return info, nil
}
