package resample

import (
	"math"
	"testing"
)

func sine(freq float64, rate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestPassthrough(t *testing.T) {
	p, err := New(24000, 24000)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if !p.Passthrough() {
		t.Error("equal rates should be passthrough")
	}
	in := sine(440, 24000, 480)
	out, err := p.Process(in)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if len(out) != len(in) {
		t.Errorf("passthrough length = %d, want %d", len(out), len(in))
	}
}

func TestDownsample48kTo24k(t *testing.T) {
	p, err := New(48000, 24000)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	var total int
	// one second in 20ms packets, as the ingress path delivers them
	for i := 0; i < 50; i++ {
		out, err := p.Process(sine(440, 48000, 960))
		if err != nil {
			t.Fatalf("Process error: %v", err)
		}
		total += len(out)
	}

	// filter latency withholds a little; expect close to half the input
	want := 24000
	if total < want*9/10 || total > want {
		t.Errorf("output samples = %d, want about %d", total, want)
	}
}

func TestUpsample16kTo24k(t *testing.T) {
	p, err := New(16000, 24000)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	var total int
	for i := 0; i < 50; i++ {
		out, err := p.Process(sine(200, 16000, 320))
		if err != nil {
			t.Fatalf("Process error: %v", err)
		}
		total += len(out)
	}
	want := 24000
	if total < want*9/10 || total > want {
		t.Errorf("output samples = %d, want about %d", total, want)
	}
}

func TestRejectsInvalidRates(t *testing.T) {
	if _, err := New(0, 24000); err == nil {
		t.Error("New(0, 24000) did not fail")
	}
	if _, err := New(24000, -1); err == nil {
		t.Error("New(24000, -1) did not fail")
	}
}

func TestEmptyInput(t *testing.T) {
	p, err := New(48000, 24000)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	out, err := p.Process(nil)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Process(nil) = %d samples, want 0", len(out))
	}
}
