package pcm

import (
	"testing"
	"time"
)

func TestFormatArithmetic(t *testing.T) {
	f := L16Mono24K
	if got := f.SampleRate(); got != 24000 {
		t.Errorf("SampleRate = %d, want 24000", got)
	}
	if got := f.SamplesInDuration(300 * time.Millisecond); got != 7200 {
		t.Errorf("SamplesInDuration(300ms) = %d, want 7200", got)
	}
	if got := f.BytesInDuration(time.Second); got != 48000 {
		t.Errorf("BytesInDuration(1s) = %d, want 48000", got)
	}
	if got := f.Duration(1920); got != 80*time.Millisecond {
		t.Errorf("Duration(1920) = %v, want 80ms", got)
	}
	if got := f.Samples(48000); got != 24000 {
		t.Errorf("Samples(48000 bytes) = %d, want 24000", got)
	}
}

func TestRateArithmetic(t *testing.T) {
	if got := SamplesInDuration(24000, 300*time.Millisecond); got != 7200 {
		t.Errorf("SamplesInDuration(24000, 300ms) = %d, want 7200", got)
	}
	if got := SamplesInDuration(24000, 80*time.Millisecond); got != 1920 {
		t.Errorf("SamplesInDuration(24000, 80ms) = %d, want 1920", got)
	}
	if got := DurationOf(24000, 7200); got != 300*time.Millisecond {
		t.Errorf("DurationOf(24000, 7200) = %v, want 300ms", got)
	}
}

func TestFormatForRate(t *testing.T) {
	if f, ok := FormatForRate(48000); !ok || f != L16Mono48K {
		t.Errorf("FormatForRate(48000) = (%v, %v)", f, ok)
	}
	if _, ok := FormatForRate(44100); ok {
		t.Error("FormatForRate(44100) accepted an unsupported rate")
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	in := []float32{0, 0.5, 1.0, 1.5, -1.5, -1.0}
	out := Float32ToInt16(in)
	want := []int16{0, 16383, 32767, 32767, -32767, -32767}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestInt16BytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345}
	b := Int16ToBytes(in)
	if len(b) != len(in)*2 {
		t.Fatalf("byte length = %d, want %d", len(b), len(in)*2)
	}
	out := BytesToInt16(b)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestInt16ToFloat32Range(t *testing.T) {
	out := Int16ToFloat32([]int16{-32768, 0, 32767})
	if out[0] != -1.0 {
		t.Errorf("out[0] = %v, want -1", out[0])
	}
	if out[1] != 0 {
		t.Errorf("out[1] = %v, want 0", out[1])
	}
	if out[2] >= 1.0 || out[2] < 0.999 {
		t.Errorf("out[2] = %v, want just under 1", out[2])
	}
}
