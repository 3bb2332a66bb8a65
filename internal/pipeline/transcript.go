package pipeline

import (
	"strings"

	"github.com/fmueller/voxlate/internal/speech"
)

// AssembleTranscript joins the first alternative of every segment with a
// single space. The engine ranks alternatives; index 0 is always taken.
// Segments without alternatives or with blank text are skipped.
func AssembleTranscript(result *speech.Result) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result.Segments))
	for _, seg := range result.Segments {
		if len(seg.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(seg.Alternatives[0].Transcript)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
