package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/gcpclient"
)

var ErrOperationFailed = errors.New("recognition operation failed")

// GoogleConfig configures the Cloud Speech v1 client.
type GoogleConfig struct {
	Endpoint gcpclient.Endpoint
	Retries  int
	Logger   *zap.Logger
}

// Google submits speech:longrunningrecognize through the generated REST
// client and waits on the returned operation.
type Google struct {
	client *speechapi.Client
	retry  gcpclient.Retrier
	logger *zap.Logger
}

var _ Recognizer = (*Google)(nil)

func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := speechapi.NewRESTClient(ctx, cfg.Endpoint.ClientOptions("")...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Google{
		client: client,
		retry:  gcpclient.Retrier{Retries: cfg.Retries, Logger: logger},
		logger: logger,
	}, nil
}

func (g *Google) Close() error {
	return g.client.Close()
}

// SetBackoffBase shortens the retry delay, mainly for tests.
func (g *Google) SetBackoffBase(d time.Duration) {
	g.retry.BackoffBase = d
}

func (g *Google) Recognize(ctx context.Context, req Request) (*Result, error) {
	audio := &speechpb.RecognitionAudio{}
	switch {
	case len(req.Content) > 0:
		audio.AudioSource = &speechpb.RecognitionAudio_Content{Content: req.Content}
	case req.AudioURI != "":
		audio.AudioSource = &speechpb.RecognitionAudio_Uri{Uri: req.AudioURI}
	default:
		return nil, errors.New("recognition request has no audio")
	}

	pbReq := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                            encodingProto(req.Encoding),
			SampleRateHertz:                     int32(req.SampleRateHertz),
			LanguageCode:                        req.LanguageCode,
			AlternativeLanguageCodes:            req.AlternativeLanguageCodes,
			AudioChannelCount:                   int32(req.AudioChannelCount),
			EnableSeparateRecognitionPerChannel: req.SeparateRecognitionPerChannel,
		},
		Audio: audio,
	}

	var op *speechapi.LongRunningRecognizeOperation
	err := g.retry.Do(ctx, "submit recognition", func(ctx context.Context) error {
		var err error
		op, err = g.client.LongRunningRecognize(ctx, pbReq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submit recognition: %w", err)
	}
	g.logger.Debug("recognition submitted", zap.String("operation", op.Name()))

	resp, err := op.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if op.Done() {
			return nil, fmt.Errorf("%w: %s: %w", ErrOperationFailed, op.Name(), err)
		}
		return nil, fmt.Errorf("wait for operation %s: %w", op.Name(), err)
	}
	return resultFromProto(resp), nil
}

func encodingProto(e Encoding) speechpb.RecognitionConfig_AudioEncoding {
	switch e {
	case EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16
	case EncodingFLAC:
		return speechpb.RecognitionConfig_FLAC
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func resultFromProto(resp *speechpb.LongRunningRecognizeResponse) *Result {
	result := &Result{}
	for _, r := range resp.GetResults() {
		seg := Segment{LanguageCode: r.GetLanguageCode(), ChannelTag: int(r.GetChannelTag())}
		for _, alt := range r.GetAlternatives() {
			seg.Alternatives = append(seg.Alternatives, Alternative{
				Transcript: alt.GetTranscript(),
				Confidence: float64(alt.GetConfidence()),
			})
		}
		result.Segments = append(result.Segments, seg)
	}
	return result
}
