package translate

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"
	translatev2 "google.golang.org/api/translate/v2"

	"github.com/fmueller/voxlate/internal/gcpclient"
	"github.com/fmueller/voxlate/internal/language"
)

// GoogleConfig configures the Cloud Translation v2 client.
type GoogleConfig struct {
	Endpoint gcpclient.Endpoint
	Retries  int
	Logger   *zap.Logger
}

type Google struct {
	svc   *translatev2.Service
	retry gcpclient.Retrier
}

var _ Translator = (*Google)(nil)

func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := translatev2.NewService(ctx, cfg.Endpoint.ClientOptions("/language/translate/")...)
	if err != nil {
		return nil, fmt.Errorf("create translate client: %w", err)
	}
	return &Google{
		svc:   svc,
		retry: gcpclient.Retrier{Retries: cfg.Retries, Logger: logger},
	}, nil
}

func (g *Google) Translate(ctx context.Context, text, source, target string) (string, error) {
	if target == "" {
		return "", errors.New("translate: target language is required")
	}
	req := &translatev2.TranslateTextRequest{Q: []string{text}, Target: target, Format: "text"}
	if !language.IsUndetermined(source) {
		req.Source = source
	}

	var resp *translatev2.TranslationsListResponse
	err := g.retry.Do(ctx, "translate to "+target, func(ctx context.Context) error {
		var err error
		resp, err = g.svc.Translations.Translate(req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("translate to %s: %w", target, err)
	}
	if len(resp.Translations) == 0 {
		return "", fmt.Errorf("translate to %s: engine returned no translation", target)
	}
	// format=text should already return plain text; entities still slip
	// through for some languages.
	return html.UnescapeString(resp.Translations[0].TranslatedText), nil
}

func (g *Google) Detect(ctx context.Context, text string) (Detection, error) {
	var resp *translatev2.DetectionsListResponse
	err := g.retry.Do(ctx, "detect language", func(ctx context.Context) error {
		var err error
		resp, err = g.svc.Detections.Detect(&translatev2.DetectLanguageRequest{Q: []string{text}}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return Detection{}, fmt.Errorf("detect language: %w", err)
	}
	if len(resp.Detections) == 0 || len(resp.Detections[0]) == 0 || resp.Detections[0][0] == nil {
		return Detection{Language: language.Undetermined}, nil
	}
	best := resp.Detections[0][0]
	lang := best.Language
	if lang == "" {
		lang = language.Undetermined
	}
	return Detection{Language: lang, Confidence: best.Confidence}, nil
}

// SetBackoffBase shortens the retry delay, mainly for tests.
func (g *Google) SetBackoffBase(d time.Duration) {
	g.retry.BackoffBase = d
}
