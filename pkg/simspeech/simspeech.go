// Package simspeech is a deterministic speech backend for development
// and tests. It implements the duplex codec and model contracts
// without any neural network: frames are quantized by subband energy,
// response audio is synthesized tones, and reply text walks a fixed
// script. Given the same input and seed it always produces the same
// output, which makes it usable in assertions.
package simspeech

import "time"

// Config shapes a simulated backend. Zero values take the defaults
// matching the production model's fixed properties.
type Config struct {
	// SampleRate is the PCM rate, default 24000.
	SampleRate int

	// FrameRate is frames per second, default 12.5.
	FrameRate float64

	// Codebooks is the number of codes per frame, default 8.
	Codebooks int

	// SilenceRMS is the level below which a frame counts as silence,
	// default 0.015.
	SilenceRMS float64

	// ReplyDelay is how many voiced frames the model absorbs before
	// it schedules a reply, default 3.
	ReplyDelay int

	// ReplyFrames is how many response frames one reply spans,
	// default 20.
	ReplyFrames int

	// StepErrEvery makes every Nth model step fail, 0 disables.
	StepErrEvery int

	// PrimeTicks is how many liveness-checked work units Prime
	// simulates, default 3.
	PrimeTicks int

	// PrimeTickSleep is the simulated work per prime tick, default
	// 1ms.
	PrimeTickSleep time.Duration

	// Seed drives tone synthesis and frame codes, default 1.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 12.5
	}
	if c.Codebooks <= 0 {
		c.Codebooks = 8
	}
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = 0.015
	}
	if c.ReplyDelay <= 0 {
		c.ReplyDelay = 3
	}
	if c.ReplyFrames <= 0 {
		c.ReplyFrames = 20
	}
	if c.PrimeTicks <= 0 {
		c.PrimeTicks = 3
	}
	if c.PrimeTickSleep <= 0 {
		c.PrimeTickSleep = time.Millisecond
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// FrameSize returns samples per frame for the configured rates.
func (c Config) FrameSize() int {
	c = c.withDefaults()
	return int(float64(c.SampleRate) / c.FrameRate)
}

// Backend bundles the two codec instances and the model one engine
// needs. The codecs share the config but keep independent streaming
// state.
type Backend struct {
	CodecIn  *Codec
	CodecOut *Codec
	Model    *Model
}

// NewBackend builds a full simulated backend.
func NewBackend(cfg Config) *Backend {
	cfg = cfg.withDefaults()
	return &Backend{
		CodecIn:  NewCodec(cfg),
		CodecOut: NewCodec(cfg),
		Model:    NewModel(cfg),
	}
}
