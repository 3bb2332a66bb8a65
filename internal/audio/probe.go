package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidWAV  = errors.New("invalid wav file")
	ErrInvalidFLAC = errors.New("invalid flac file")
)

// Header holds the stream parameters the recognizer needs.
type Header struct {
	Format        Format
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Probe reads only the container header from r.
func Probe(r io.Reader, format Format) (Header, error) {
	switch format {
	case FormatWAV:
		return ProbeWAV(r)
	case FormatFLAC:
		return ProbeFLAC(r)
	default:
		return Header{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}
}

// ProbeWAV walks RIFF chunks until it finds "fmt ". The data chunk is never read.
func ProbeWAV(r io.Reader) (Header, error) {
	br := bufio.NewReader(r)

	header := make([]byte, 12)
	if _, err := io.ReadFull(br, header); err != nil {
		return Header{}, shortRead(ErrInvalidWAV, "read wav header", err)
	}
	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Header{}, ErrInvalidWAV
	}

	chunkHeader := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Header{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
			}
			return Header{}, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		if chunkID != "fmt " {
			skip := chunkSize
			if chunkSize%2 != 0 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, br, skip); err != nil {
				return Header{}, shortRead(ErrInvalidWAV, "skip wav chunk "+chunkID, err)
			}
			continue
		}

		if chunkSize < 16 {
			return Header{}, fmt.Errorf("%w: fmt chunk too small", ErrInvalidWAV)
		}
		buf := make([]byte, 16)
		if _, err := io.ReadFull(br, buf); err != nil {
			return Header{}, shortRead(ErrInvalidWAV, "read wav fmt chunk", err)
		}

		h := Header{
			Format:        FormatWAV,
			Channels:      int(binary.LittleEndian.Uint16(buf[2:4])),
			SampleRate:    int(binary.LittleEndian.Uint32(buf[4:8])),
			BitsPerSample: int(binary.LittleEndian.Uint16(buf[14:16])),
		}
		if h.Channels == 0 || h.SampleRate == 0 {
			return Header{}, fmt.Errorf("%w: zero channels or sample rate", ErrInvalidWAV)
		}
		return h, nil
	}
}

// ProbeFLAC parses the mandatory STREAMINFO block that follows the magic.
func ProbeFLAC(r io.Reader) (Header, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return Header{}, shortRead(ErrInvalidFLAC, "read flac header", err)
	}
	if string(head[:4]) != "fLaC" {
		return Header{}, ErrInvalidFLAC
	}

	blockType := head[4] & 0x7f
	blockLen := int(head[5])<<16 | int(head[6])<<8 | int(head[7])
	if blockType != 0 || blockLen < 34 {
		return Header{}, fmt.Errorf("%w: first metadata block is not STREAMINFO", ErrInvalidFLAC)
	}

	info := make([]byte, 34)
	if _, err := io.ReadFull(r, info); err != nil {
		return Header{}, shortRead(ErrInvalidFLAC, "read flac streaminfo", err)
	}

	b := info[10:18]
	h := Header{
		Format:        FormatFLAC,
		SampleRate:    int(b[0])<<12 | int(b[1])<<4 | int(b[2])>>4,
		Channels:      int((b[2]>>1)&0x07) + 1,
		BitsPerSample: (int(b[2]&0x01)<<4 | int(b[3])>>4) + 1,
	}
	if h.SampleRate == 0 {
		return Header{}, fmt.Errorf("%w: zero sample rate", ErrInvalidFLAC)
	}
	return h, nil
}

func shortRead(invalid error, what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %v", invalid, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
