// Package translate wraps a machine translation and language detection engine.
package translate

import "context"

// Detection is the detector's verdict on a text.
type Detection struct {
	Language   string
	Confidence float64
}

type Translator interface {
	// Translate converts text from source into target. An empty source lets
	// the engine detect it.
	Translate(ctx context.Context, text, source, target string) (string, error)
	// Detect returns "und" when the language cannot be determined.
	Detect(ctx context.Context, text string) (Detection, error)
}
