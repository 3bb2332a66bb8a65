// Package gcpclient holds the connection settings and the retry policy
// shared by the Google Cloud engine clients.
package gcpclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultBackoffBase = time.Second

// Endpoint says where and how a client connects.
type Endpoint struct {
	// BaseURL replaces the production endpoint, e.g. for an emulator.
	BaseURL string
	// APIKey authenticates instead of application default credentials.
	APIKey    string
	UserAgent string
	// HTTPClient is used as-is; it bypasses APIKey and credentials.
	HTTPClient *http.Client
}

// ClientOptions converts e into options for a generated Google client.
// suffix is appended to BaseURL for APIs served below a path prefix.
func (e Endpoint) ClientOptions(suffix string) []option.ClientOption {
	var opts []option.ClientOption
	if base := strings.TrimRight(e.BaseURL, "/"); base != "" {
		opts = append(opts, option.WithEndpoint(base+suffix))
	}
	switch {
	case e.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(e.HTTPClient))
	case e.APIKey != "":
		opts = append(opts, option.WithAPIKey(e.APIKey))
	}
	if e.UserAgent != "" {
		opts = append(opts, option.WithUserAgent(e.UserAgent))
	}
	return opts
}

// Retryable reports whether err is a transport failure, a 429 or 5xx
// answer, or a gRPC status that signals a transient condition.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal, codes.DeadlineExceeded:
			return true
		default:
			return false
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Retrier runs a call up to Retries extra times while it fails with a
// retryable error.
type Retrier struct {
	Retries     int
	BackoffBase time.Duration
	Logger      *zap.Logger
}

func (r Retrier) Do(ctx context.Context, operation string, call func(ctx context.Context) error) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := max(r.Retries, 0)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := r.backoff(attempt)
			logger.Debug("retrying call",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
	}
	if retries == 0 {
		return lastErr
	}
	return fmt.Errorf("%s: all %d retries exhausted: %w", operation, retries, lastErr)
}

// backoff returns base * 2^(attempt-1) plus up to 25% jitter.
func (r Retrier) backoff(attempt int) time.Duration {
	delay := r.BackoffBase
	if delay <= 0 {
		delay = defaultBackoffBase
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4)+1))
}
