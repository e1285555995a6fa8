// Package wav encodes and parses minimal WAV containers: a canonical
// 44-byte RIFF header followed by mono 16-bit little-endian samples.
// This is the wire container for outbound audio batches.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/voxloop/voxloop/pkg/audio/pcm"
)

const headerSize = 44

// ErrMalformed is returned when parsed data is not a mono 16-bit PCM
// WAV stream this package understands.
var ErrMalformed = errors.New("wav: malformed container")

// Encode wraps mono 16-bit samples in a WAV container at the given
// sample rate.
func Encode(samples []int16, sampleRate int) []byte {
	data := pcm.Int16ToBytes(samples)
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(data)))

	byteRate := sampleRate * 2
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes()
}

// Parse decodes a WAV container produced by Encode or any compatible
// writer. It accepts only uncompressed mono 16-bit PCM and skips
// unknown chunks before the data chunk.
func Parse(data []byte) (samples []int16, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrMalformed
	}

	var (
		fmtSeen  bool
		channels uint16
		bits     uint16
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, 0, fmt.Errorf("%w: chunk %q overruns data", ErrMalformed, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrMalformed)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 {
				return nil, 0, fmt.Errorf("%w: compressed format %d", ErrMalformed, format)
			}
			fmtSeen = true
		case "data":
			if !fmtSeen {
				return nil, 0, fmt.Errorf("%w: data before fmt", ErrMalformed)
			}
			if channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("%w: want mono 16-bit, got %d ch %d bit", ErrMalformed, channels, bits)
			}
			return pcm.BytesToInt16(data[body : body+size]), sampleRate, nil
		}

		// chunks are word aligned
		off = body + size + size%2
	}

	return nil, 0, fmt.Errorf("%w: no data chunk", ErrMalformed)
}
