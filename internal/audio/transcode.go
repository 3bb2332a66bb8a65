package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var ErrTranscode = errors.New("transcode failed")

// Transcoder re-encodes a lossy container into 16-bit PCM WAV.
type Transcoder interface {
	ToWAV(ctx context.Context, src []byte, format Format) ([]byte, error)
}

type commandRunner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// FFmpeg shells out to an ffmpeg binary. The WAV is written to a temp file
// because ffmpeg cannot patch RIFF sizes on a pipe.
type FFmpeg struct {
	Binary string
	TmpDir string

	runner    commandRunner
	mkdirTemp func(dir, pattern string) (string, error)
}

// NewFFmpeg returns a transcoder using binary (default "ffmpeg").
func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{
		Binary:    binary,
		runner:    execRunner{},
		mkdirTemp: os.MkdirTemp,
	}
}

func (f *FFmpeg) ToWAV(ctx context.Context, src []byte, format Format) ([]byte, error) {
	if format == FormatUnknown {
		return nil, ErrUnsupportedFormat
	}

	dir, err := f.mkdirTemp(f.TmpDir, "voxlate-transcode-*")
	if err != nil {
		return nil, fmt.Errorf("create transcode dir: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out.wav")
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", string(format), "-i", "pipe:0",
		"-vn", "-acodec", "pcm_s16le", "-f", "wav",
		"-y", out,
	}
	stderr, err := f.runner.Run(ctx, bytes.NewReader(src), f.Binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Only a decoder that ran and exited non-zero says anything about
		// the input; a binary that never started is an install problem.
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("start %s: %w", f.Binary, err)
		}
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrTranscode, msg)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read transcoded audio: %w", err)
	}
	if _, err := ProbeWAV(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: output is not a wav file: %v", ErrTranscode, err)
	}
	return data, nil
}
