package simspeech

import (
	"context"
	"math"
	"sync"

	"github.com/voxloop/voxloop/pkg/duplex"
)

// Codec quantizes PCM frames into subband energy codes and
// synthesizes tones back from them. Decode keeps a running phase per
// codebook so consecutive frames join without clicks; that phase is
// the codec's streaming state.
type Codec struct {
	cfg Config

	mu      sync.Mutex
	phase   []float64
	encodes int
	decodes int
	resets  int
}

// NewCodec creates a codec with fresh streaming state.
func NewCodec(cfg Config) *Codec {
	cfg = cfg.withDefaults()
	return &Codec{cfg: cfg, phase: make([]float64, cfg.Codebooks)}
}

// Encode maps each subband's RMS level to one integer code. Silence
// encodes to all-zero codes.
func (c *Codec) Encode(_ context.Context, pcm []float32) (*duplex.TokenFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encodes++

	codes := make([]int32, c.cfg.Codebooks)
	if len(pcm) == 0 {
		return &duplex.TokenFrame{Codes: codes}, nil
	}
	band := len(pcm) / c.cfg.Codebooks
	if band == 0 {
		band = len(pcm)
	}
	for k := range codes {
		start := k * band
		if start >= len(pcm) {
			break
		}
		end := start + band
		if end > len(pcm) {
			end = len(pcm)
		}
		var energy float64
		for _, s := range pcm[start:end] {
			energy += float64(s) * float64(s)
		}
		rms := math.Sqrt(energy / float64(end-start))
		if rms < c.cfg.SilenceRMS {
			continue
		}
		code := int32(rms * 1000)
		if code > 2047 {
			code = 2047
		}
		codes[k] = code
	}
	return &duplex.TokenFrame{Codes: codes}, nil
}

// Decode synthesizes one frame of audio: a low-amplitude sine per
// nonzero code, frequency derived from the code value and the seed.
func (c *Codec) Decode(_ context.Context, frame *duplex.TokenFrame) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodes++

	n := c.cfg.FrameSize()
	out := make([]float32, n)
	for k, code := range frame.Codes {
		if code == 0 || k >= len(c.phase) {
			continue
		}
		freq := 110 + float64((int64(code)*7+c.cfg.Seed)%1200)
		step := 2 * math.Pi * freq / float64(c.cfg.SampleRate)
		phase := c.phase[k]
		for i := 0; i < n; i++ {
			out[i] += float32(0.1 * math.Sin(phase))
			phase += step
		}
		c.phase[k] = math.Mod(phase, 2*math.Pi)
	}
	return out, nil
}

// ResetStreaming zeroes the synthesis phase.
func (c *Codec) ResetStreaming(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.phase {
		c.phase[i] = 0
	}
	c.resets++
	return nil
}

// Stats returns call counters for assertions.
func (c *Codec) Stats() (encodes, decodes, resets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encodes, c.decodes, c.resets
}

var _ duplex.Codec = (*Codec)(nil)
