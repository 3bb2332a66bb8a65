package audio

import (
	"errors"
	"path/filepath"
	"strings"
)

// Format is an audio container inferred from an object name.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatFLAC    Format = "flac"
	FormatMP3     Format = "mp3"
)

var ErrUnsupportedFormat = errors.New("unsupported audio container")

// DetectFormat classifies name by its extension. Unknown extensions return
// FormatUnknown together with ErrUnsupportedFormat.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "wav", "wave":
		return FormatWAV, nil
	case "flac":
		return FormatFLAC, nil
	case "mp3":
		return FormatMP3, nil
	default:
		return FormatUnknown, ErrUnsupportedFormat
	}
}

// Lossless reports whether the recognizer can consume the container as is.
func (f Format) Lossless() bool {
	return f == FormatWAV || f == FormatFLAC
}

// Extension returns the canonical file extension including the dot.
func (f Format) Extension() string {
	if f == FormatUnknown {
		return ""
	}
	return "." + string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatFLAC:
		return "audio/flac"
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// ReplaceExtension swaps the extension of name for the one belonging to f.
func ReplaceExtension(name string, f Format) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + f.Extension()
}
