// Package download fetches remote audio for ingestion.
package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

// ErrChecksumMismatch reports a payload whose sha256 differs from the
// expected one.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes = 512 << 20

type Options struct {
	URL            string
	ExpectedSHA256 string
	// ChecksumURL points at a sha256sum style listing. It is consulted
	// only when ExpectedSHA256 is empty.
	ChecksumURL string
	Retries     int
	MaxBytes    int64
	NoProgress  bool
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Result is a downloaded payload.
type Result struct {
	Data []byte
	// Name is the last path segment of the final URL.
	Name        string
	ContentType string
	SHA256      string
}

// Fetch downloads opts.URL into memory, retrying transport failures and
// server errors.
func Fetch(ctx context.Context, opts Options) (*Result, error) {
	if opts.URL == "" {
		return nil, errors.New("download URL is required")
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	expected := strings.ToLower(strings.TrimSpace(opts.ExpectedSHA256))
	if expected == "" && opts.ChecksumURL != "" {
		resolved, err := ResolveExpectedChecksum(ctx, opts.ChecksumURL, NameFromURL(opts.URL), opts.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("fetch checksum: %w", err)
		}
		expected = resolved
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		if attempt > 1 {
			opts.Logger.Warn("retrying download",
				zap.Int("attempt", attempt),
				zap.Int("max", opts.Retries),
				zap.String("url", opts.URL),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}

		result, err := fetchOnce(ctx, opts, expected)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// NameFromURL returns the unescaped last path segment of rawURL.
func NameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

func ResolveExpectedChecksum(ctx context.Context, checksumURL, fileName string, client *http.Client) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}
	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return ParseChecksum(content, fileName)
}

// ParseChecksum finds the sha256 for fileName in a checksum listing,
// falling back to the first digest present.
func ParseChecksum(content []byte, fileName string) (string, error) {
	lines := strings.Split(string(content), "\n")

	if fileName != "" {
		for _, line := range lines {
			if !strings.Contains(line, fileName) {
				continue
			}
			if checksum := parseChecksumFromLine(line); checksum != "" {
				return checksum, nil
			}
		}
	}
	for _, line := range lines {
		if checksum := parseChecksumFromLine(line); checksum != "" {
			return checksum, nil
		}
	}
	return "", errors.New("sha256 checksum not found")
}

// VerifyChecksum compares data with expectedSHA256. An empty expectation
// always passes.
func VerifyChecksum(data []byte, expectedSHA256 string) error {
	expected := strings.ToLower(strings.TrimSpace(expectedSHA256))
	if expected == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	if actual := hex.EncodeToString(sum[:]); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func parseChecksumFromLine(line string) string {
	match := checksumPattern.FindStringSubmatch(line)
	if len(match) < 2 {
		return ""
	}
	return strings.ToLower(match[1])
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func retryable(err error) bool {
	if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, context.Canceled) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.code >= 500 || status.code == http.StatusTooManyRequests
	}
	return true
}

func fetchOnce(ctx context.Context, opts Options, expectedChecksum string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "voxlate/1")

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}
	if resp.ContentLength > opts.MaxBytes {
		return nil, fmt.Errorf("download is %d bytes, limit is %d", resp.ContentLength, opts.MaxBytes)
	}

	var buf bytes.Buffer
	var writer io.Writer = &buf
	var bar *progressbar.ProgressBar
	if shouldRenderProgress(opts.NoProgress, resp.ContentLength) {
		bar = progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		writer = io.MultiWriter(&buf, bar)
	}

	n, err := io.Copy(writer, io.LimitReader(resp.Body, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download body: %w", err)
	}
	if n > opts.MaxBytes {
		return nil, fmt.Errorf("download exceeds limit of %d bytes", opts.MaxBytes)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	data := buf.Bytes()
	if err := VerifyChecksum(data, expectedChecksum); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	return &Result{
		Data:        data,
		Name:        NameFromURL(resp.Request.URL.String()),
		ContentType: contentType,
		SHA256:      hex.EncodeToString(sum[:]),
	}, nil
}

func shouldRenderProgress(noProgress bool, contentLength int64) bool {
	if noProgress {
		return false
	}
	if contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
