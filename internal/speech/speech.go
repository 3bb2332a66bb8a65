// Package speech submits long-running recognition jobs to a speech engine.
package speech

import "context"

type Encoding string

const (
	EncodingUnspecified Encoding = ""
	EncodingLinear16    Encoding = "LINEAR16"
	EncodingFLAC        Encoding = "FLAC"
)

// Request describes the audio and the recognition hints.
type Request struct {
	// AudioURI locates the audio; Content, when set, is sent inline instead.
	AudioURI                      string
	Content                       []byte
	Encoding                      Encoding
	SampleRateHertz               int
	LanguageCode                  string
	AlternativeLanguageCodes      []string
	AudioChannelCount             int
	SeparateRecognitionPerChannel bool
}

type Alternative struct {
	Transcript string
	Confidence float64
}

// Segment is one recognized span. Alternatives keep the engine's ranking.
type Segment struct {
	LanguageCode string
	ChannelTag   int
	Alternatives []Alternative
}

type Result struct {
	Segments []Segment
}

// Recognizer blocks until the recognition job has finished.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (*Result, error)
}
