package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/audio"
	"github.com/fmueller/voxlate/internal/download"
	"github.com/fmueller/voxlate/internal/storage"
)

type ingestOptions struct {
	name        string
	sha256      string
	checksumURL string
}

func newIngestCmd(app *appState) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <path|url>",
		Short: "Upload an audio file into the raw bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withRuntime(cmd.Context(), func(rt *runtime) error {
				ev, err := app.ingest(cmd.Context(), rt, args[0], opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.outWriter(), "stored %s/%s\n", ev.Bucket, ev.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Object name in the raw bucket (default: source file name)")
	cmd.Flags().StringVar(&opts.sha256, "sha256", "", "Expected sha256 of the audio")
	cmd.Flags().StringVar(&opts.checksumURL, "checksum-url", "", "URL of a sha256sum listing for a downloaded file")
	return cmd
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (a *appState) ingest(ctx context.Context, rt *runtime, source string, opts ingestOptions) (storage.ObjectEvent, error) {
	var (
		data        []byte
		name        = strings.TrimSpace(opts.name)
		contentType string
	)

	if isRemote(source) {
		result, err := download.Fetch(ctx, download.Options{
			URL:            source,
			ExpectedSHA256: opts.sha256,
			ChecksumURL:    opts.checksumURL,
			NoProgress:     !a.progressEnabled(),
			Logger:         a.log(),
		})
		if err != nil {
			return storage.ObjectEvent{}, fmt.Errorf("download %s: %w", source, err)
		}
		data, contentType = result.Data, result.ContentType
		if name == "" {
			name = result.Name
		}
	} else {
		path := filepath.Clean(source)
		raw, err := os.ReadFile(path)
		if err != nil {
			return storage.ObjectEvent{}, fmt.Errorf("audio file not found: %w", err)
		}
		if err := download.VerifyChecksum(raw, opts.sha256); err != nil {
			return storage.ObjectEvent{}, err
		}
		data = raw
		if name == "" {
			name = filepath.Base(path)
		}
	}

	if err := storage.ValidateName(name); err != nil {
		return storage.ObjectEvent{}, err
	}
	format, err := audio.DetectFormat(name)
	if err != nil {
		return storage.ObjectEvent{}, fmt.Errorf("%s: %w (supported: wav, flac, mp3)", name, err)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = format.ContentType()
	}

	bucket := rt.cfg.Buckets.Raw
	if err := rt.store.Put(ctx, bucket, name, data, storage.Metadata{ContentType: contentType}); err != nil {
		return storage.ObjectEvent{}, fmt.Errorf("store %s: %w", name, err)
	}
	a.log().Info("audio ingested",
		zap.String("bucket", bucket),
		zap.String("filename", name),
		zap.Int("bytes", len(data)),
	)
	return storage.ObjectEvent{Bucket: bucket, Name: name}, nil
}
