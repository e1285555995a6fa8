// Package resample converts mono audio between sample rates. It is
// push-oriented: callers feed decoded packets as they arrive and take
// whatever output the converter has ready, which fits the packet-at-a-
// time ingress path better than an io.Reader pipeline would.
package resample

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Processor converts mono float samples from one rate to another.
// A Processor carries filter state between calls and is not safe for
// concurrent use.
type Processor struct {
	srcRate, dstRate int
	rs               resampling.Resampler
}

// New creates a Processor converting srcRate to dstRate. When the
// rates are equal the Processor passes samples through unchanged.
func New(srcRate, dstRate int) (*Processor, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d -> %d", srcRate, dstRate)
	}
	p := &Processor{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return p, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	p.rs = rs
	return p, nil
}

// Passthrough reports whether the Processor leaves samples untouched.
func (p *Processor) Passthrough() bool {
	return p.rs == nil
}

// Process feeds samples in and returns converted samples. The output
// length varies with the rate ratio and internal filter latency; an
// empty slice is a normal result for short inputs.
func (p *Processor) Process(samples []float32) ([]float32, error) {
	if p.rs == nil {
		return samples, nil
	}
	if len(samples) == 0 {
		return nil, nil
	}
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := p.rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	converted := make([]float32, len(out))
	for i, s := range out {
		converted[i] = float32(s)
	}
	return converted, nil
}
