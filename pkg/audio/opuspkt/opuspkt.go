// Package opuspkt decodes and encodes raw Opus packets. The wire
// protocols in this project carry one Opus packet per message (binary
// websocket message or RTP payload), so no container demuxing is
// involved; libopus keeps the streaming state between packets.
package opuspkt

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/voxloop/voxloop/pkg/audio/pcm"
)

// frameMillis is the packet duration produced by Encoder.
const frameMillis = 20

// maxFrameMillis is the largest frame duration Opus allows in one packet.
const maxFrameMillis = 120

// maxPacketBytes comfortably holds any mono voice packet.
const maxPacketBytes = 1500

// Decoder is a streaming packet decoder for one session. It is not
// safe for concurrent use.
type Decoder struct {
	dec  *opus.Decoder
	rate int
	buf  []int16
}

// NewDecoder creates a mono decoder emitting samples at sampleRate.
// Opus natively supports 8, 12, 16, 24, and 48 kHz.
func NewDecoder(sampleRate int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opuspkt: new decoder: %w", err)
	}
	return &Decoder{
		dec:  dec,
		rate: sampleRate,
		buf:  make([]int16, sampleRate*maxFrameMillis/1000),
	}, nil
}

// SampleRate returns the decoder's output rate.
func (d *Decoder) SampleRate() int {
	return d.rate
}

// Decode decodes one Opus packet into normalized float samples.
func (d *Decoder) Decode(packet []byte) ([]float32, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return nil, fmt.Errorf("opuspkt: decode: %w", err)
	}
	return pcm.Int16ToFloat32(d.buf[:n]), nil
}

// Encoder produces fixed 20ms Opus packets from a pushed sample
// stream, buffering any partial frame until more samples arrive.
// It is not safe for concurrent use.
type Encoder struct {
	enc     *opus.Encoder
	rate    int
	frame   int
	pending []int16
	out     []byte
}

// NewEncoder creates a mono voice encoder at sampleRate.
func NewEncoder(sampleRate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opuspkt: new encoder: %w", err)
	}
	return &Encoder{
		enc:   enc,
		rate:  sampleRate,
		frame: sampleRate * frameMillis / 1000,
		out:   make([]byte, maxPacketBytes),
	}, nil
}

// SampleRate returns the encoder's input rate.
func (e *Encoder) SampleRate() int {
	return e.rate
}

// Encode pushes samples and returns zero or more complete 20ms
// packets. Leftover samples stay buffered for the next call.
func (e *Encoder) Encode(samples []float32) ([][]byte, error) {
	e.pending = append(e.pending, pcm.Float32ToInt16(samples)...)

	var packets [][]byte
	for len(e.pending) >= e.frame {
		n, err := e.enc.Encode(e.pending[:e.frame], e.out)
		if err != nil {
			return packets, fmt.Errorf("opuspkt: encode: %w", err)
		}
		pkt := make([]byte, n)
		copy(pkt, e.out[:n])
		packets = append(packets, pkt)
		e.pending = e.pending[e.frame:]
	}
	return packets, nil
}

// Flush pads the pending partial frame with silence and encodes it.
// Returns nil when nothing is pending.
func (e *Encoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	padded := make([]int16, e.frame)
	copy(padded, e.pending)
	e.pending = e.pending[:0]
	n, err := e.enc.Encode(padded, e.out)
	if err != nil {
		return nil, fmt.Errorf("opuspkt: flush: %w", err)
	}
	pkt := make([]byte, n)
	copy(pkt, e.out[:n])
	return pkt, nil
}
