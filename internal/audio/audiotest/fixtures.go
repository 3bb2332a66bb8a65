// Package audiotest builds in-memory audio fixtures for tests.
package audiotest

import "encoding/binary"

// PCM16WAV encodes samples as a canonical 44-byte-header PCM WAV.
func PCM16WAV(samples []int16, sampleRate int, channels int) []byte {
	return PCM16WAVWithChunks(samples, sampleRate, channels, nil)
}

// PCM16WAVWithChunks places extra chunks (already framed) between the RIFF
// header and the fmt chunk.
func PCM16WAVWithChunks(samples []int16, sampleRate int, channels int, extra []byte) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + len(extra) + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+len(extra)+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], extra)
	off += len(extra)

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}

// Chunk frames a RIFF chunk, padding odd payloads.
func Chunk(id string, payload []byte) []byte {
	size := len(payload)
	out := make([]byte, 8+size+size%2)
	copy(out, id)
	binary.LittleEndian.PutUint32(out[4:], uint32(size))
	copy(out[8:], payload)
	return out
}

// FLACHeader returns the magic plus a STREAMINFO block describing the stream.
func FLACHeader(sampleRate, channels, bitsPerSample int) []byte {
	out := make([]byte, 8+34)
	copy(out, "fLaC")
	out[4] = 0x80 // last metadata block, type STREAMINFO
	out[7] = 34

	info := out[8:]
	binary.BigEndian.PutUint16(info[0:], 4096)
	binary.BigEndian.PutUint16(info[2:], 4096)
	b := info[10:18]
	b[0] = byte(sampleRate >> 12)
	b[1] = byte(sampleRate >> 4)
	b[2] = byte(sampleRate&0x0f)<<4 | byte((channels-1)&0x07)<<1 | byte(((bitsPerSample-1)>>4)&0x01)
	b[3] = byte((bitsPerSample-1)&0x0f) << 4
	return out
}
