package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Markers classify stage failures. Malformed input, invalid audio and
// unsupported containers are final; everything else is worth retrying.
var (
	ErrMalformedInput    = errors.New("malformed input")
	ErrInvalidAudio      = errors.New("invalid audio")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEngine            = errors.New("engine failure")
	ErrPublish           = errors.New("publish failure")
	ErrStorage           = errors.New("storage failure")
)

const (
	StageNormalize  = "normalize"
	StageProbe      = "probe"
	StageTranscribe = "transcribe"
	StageTranslate  = "translate"
	StageWrite      = "write"
)

// Wrap tags err with marker and prefixes it with the stage context.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrEngine
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether redelivering the same input could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrMalformedInput),
		errors.Is(err, ErrInvalidAudio),
		errors.Is(err, ErrUnsupportedFormat):
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
