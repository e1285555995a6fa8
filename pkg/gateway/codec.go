package gateway

import (
	"github.com/voxloop/voxloop/pkg/audio/opuspkt"
	"github.com/voxloop/voxloop/pkg/audio/resample"
	"github.com/voxloop/voxloop/pkg/duplex"
)

// opusCodec turns client opus packets into PCM at the model rate.
// The orchestrator calls DecodeFrame from a single goroutine, which
// matches the decoder and resampler contracts.
type opusCodec struct {
	dec *opuspkt.Decoder
	rs  *resample.Processor
}

var _ duplex.FrameCodec = (*opusCodec)(nil)

func newOpusCodec(clientRate, modelRate int) (*opusCodec, error) {
	dec, err := opuspkt.NewDecoder(clientRate)
	if err != nil {
		return nil, err
	}
	rs, err := resample.New(clientRate, modelRate)
	if err != nil {
		return nil, err
	}
	return &opusCodec{dec: dec, rs: rs}, nil
}

func (c *opusCodec) DecodeFrame(packet []byte) ([]float32, error) {
	samples, err := c.dec.Decode(packet)
	if err != nil {
		return nil, err
	}
	return c.rs.Process(samples)
}
