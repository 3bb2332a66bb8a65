package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/audio"
	"github.com/fmueller/voxlate/internal/bus"
	"github.com/fmueller/voxlate/internal/config"
	"github.com/fmueller/voxlate/internal/gcpclient"
	"github.com/fmueller/voxlate/internal/pipeline"
	"github.com/fmueller/voxlate/internal/speech"
	"github.com/fmueller/voxlate/internal/storage"
	"github.com/fmueller/voxlate/internal/translate"
	"github.com/fmueller/voxlate/internal/version"
)

// runtime holds the clients built once per process and the stages they
// are injected into.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.FS
	bus    *bus.Bus

	recognizer *speech.Google

	normalizer   *pipeline.Normalizer
	prober       *pipeline.Prober
	orchestrator *pipeline.Orchestrator
	worker       *pipeline.Worker
	writer       *pipeline.Writer
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := storage.NewFS(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	for _, bucket := range []string{cfg.Buckets.Raw, cfg.Buckets.Normalized, cfg.Buckets.Results} {
		if err := store.EnsureBucket(bucket); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	b, err := bus.Open(cfg.Bus.Path, bus.Options{
		AckDeadline:         cfg.AckDeadline(),
		MaxDeliveryAttempts: cfg.Bus.MaxDeliveryAttempts,
		PollInterval:        cfg.BusPollInterval(),
		RetryBackoff:        cfg.BusRetryBackoff(),
		MaxOutstanding:      cfg.Bus.MaxOutstanding,
		Logger:              logger.Named("bus"),
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	if err := declareTopology(ctx, b, cfg); err != nil {
		_ = b.Close()
		return nil, err
	}

	userAgent := "voxlate/" + version.Resolve()
	recognizer, err := speech.NewGoogle(ctx, speech.GoogleConfig{
		Endpoint: gcpclient.Endpoint{BaseURL: cfg.Speech.BaseURL, APIKey: cfg.Speech.APIKey, UserAgent: userAgent},
		Retries:  cfg.Speech.Retries,
		Logger:   logger.Named("speech"),
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	translator, err := translate.NewGoogle(ctx, translate.GoogleConfig{
		Endpoint: gcpclient.Endpoint{BaseURL: cfg.Translate.BaseURL, APIKey: cfg.Translate.APIKey, UserAgent: userAgent},
		Retries:  cfg.Translate.Retries,
		Logger:   logger.Named("translate"),
	})
	if err != nil {
		_ = recognizer.Close()
		_ = b.Close()
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, store: store, bus: b, recognizer: recognizer}
	rt.orchestrator = &pipeline.Orchestrator{
		Store:                store,
		Recognizer:           recognizer,
		Translator:           translator,
		Publisher:            b,
		TranslationTopic:     cfg.Topics.Translation,
		ResultsTopic:         cfg.Topics.Results,
		Targets:              cfg.Languages.Targets,
		PrimaryLanguage:      cfg.Languages.Primary,
		AlternativeLanguages: cfg.Languages.Alternatives,
		InlineAudio:          cfg.Speech.InlineAudio,
		Logger:               logger,
	}
	rt.normalizer = &pipeline.Normalizer{
		Store:      store,
		Transcoder: audio.NewFFmpeg(cfg.Transcode.FFmpeg),
		Bucket:     cfg.Buckets.Normalized,
		Logger:     logger,
	}
	rt.prober = &pipeline.Prober{Store: store, Next: rt.orchestrator, Logger: logger}
	rt.worker = &pipeline.Worker{Translator: translator, Publisher: b, ResultsTopic: cfg.Topics.Results, Logger: logger}
	rt.writer = &pipeline.Writer{Store: store, Bucket: cfg.Buckets.Results, Logger: logger}
	return rt, nil
}

// declareTopology creates both topics and the subscription each consumer
// pulls from. It is idempotent.
func declareTopology(ctx context.Context, b *bus.Bus, cfg *config.Config) error {
	for _, topic := range []string{cfg.Topics.Translation, cfg.Topics.Results} {
		if err := b.CreateTopic(ctx, topic); err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
	}
	if err := b.CreateSubscription(ctx, cfg.Topics.Translation, cfg.TranslationSubscription()); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	if err := b.CreateSubscription(ctx, cfg.Topics.Results, cfg.ResultsSubscription()); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// normalize runs the Format Normalizer without keeping the written event.
func (r *runtime) normalize(ctx context.Context, ev storage.ObjectEvent) error {
	_, err := r.normalizer.Handle(ctx, ev)
	return err
}

func (r *runtime) Close() error {
	var errs []error
	if r.recognizer != nil {
		errs = append(errs, r.recognizer.Close())
	}
	if r.bus != nil {
		errs = append(errs, r.bus.Close())
	}
	return errors.Join(errs...)
}
