package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fmueller/voxlate/internal/audio/audiotest"
)

func TestProbeWAVReadsHeader(t *testing.T) {
	t.Parallel()

	data := audiotest.PCM16WAV(make([]int16, 3200), 16000, 1)

	h, err := Probe(bytes.NewReader(data), FormatWAV)
	require.NoError(t, err)
	require.Equal(t, Header{Format: FormatWAV, SampleRate: 16000, Channels: 1, BitsPerSample: 16}, h)
}

func TestProbeWAVSkipsLeadingChunks(t *testing.T) {
	t.Parallel()

	extra := append(audiotest.Chunk("LIST", []byte("INFOabc")), audiotest.Chunk("JUNK", make([]byte, 28))...)
	data := audiotest.PCM16WAVWithChunks(make([]int16, 10), 44100, 2, extra)

	h, err := ProbeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 44100, h.SampleRate)
	require.Equal(t, 2, h.Channels)
}

func TestProbeWAVStopsBeforeData(t *testing.T) {
	t.Parallel()

	full := audiotest.PCM16WAV(make([]int16, 100000), 8000, 1)
	// Header only: RIFF (12) + fmt chunk (24).
	h, err := ProbeWAV(bytes.NewReader(full[:36]))
	require.NoError(t, err)
	require.Equal(t, 8000, h.SampleRate)
}

func TestProbeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"short":      []byte("hello"),
		"not riff":   append([]byte("RIFX\x00\x00\x00\x00WAVE"), make([]byte, 24)...),
		"no fmt":     append([]byte("RIFF\x10\x00\x00\x00WAVE"), audiotest.Chunk("data", []byte{1, 2})...),
		"truncated":  audiotest.PCM16WAV(nil, 16000, 1)[:30],
		"zero rate":  audiotest.PCM16WAV(nil, 0, 1),
		"zero chans": audiotest.PCM16WAV(nil, 16000, 0),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ProbeWAV(bytes.NewReader(data))
			require.ErrorIs(t, err, ErrInvalidWAV)
		})
	}
}

func TestProbeFLACReadsStreamInfo(t *testing.T) {
	t.Parallel()

	h, err := Probe(bytes.NewReader(audiotest.FLACHeader(48000, 2, 24)), FormatFLAC)
	require.NoError(t, err)
	require.Equal(t, Header{Format: FormatFLAC, SampleRate: 48000, Channels: 2, BitsPerSample: 24}, h)

	h, err = ProbeFLAC(bytes.NewReader(audiotest.FLACHeader(16000, 1, 16)))
	require.NoError(t, err)
	require.Equal(t, 16000, h.SampleRate)
	require.Equal(t, 1, h.Channels)
	require.Equal(t, 16, h.BitsPerSample)
}

func TestProbeFLACRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ProbeFLAC(bytes.NewReader([]byte("ID3\x04")))
	require.ErrorIs(t, err, ErrInvalidFLAC)

	bad := audiotest.FLACHeader(16000, 1, 16)
	bad[4] = 0x84 // VORBIS_COMMENT first
	_, err = ProbeFLAC(bytes.NewReader(bad))
	require.ErrorIs(t, err, ErrInvalidFLAC)
}

func TestProbeRejectsLossyContainer(t *testing.T) {
	t.Parallel()

	_, err := Probe(bytes.NewReader([]byte("ID3")), FormatMP3)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
