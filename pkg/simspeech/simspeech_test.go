package simspeech

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/voxloop/voxloop/pkg/duplex"
)

func sineFrame(n int, freq float64, amp float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestFrameSizeDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.FrameSize(); got != 1920 {
		t.Fatalf("FrameSize = %d, want 1920", got)
	}
	cfg = Config{SampleRate: 16000, FrameRate: 100}
	if got := cfg.FrameSize(); got != 160 {
		t.Fatalf("FrameSize = %d, want 160", got)
	}
}

func TestCodecSilenceEncodesToZero(t *testing.T) {
	c := NewCodec(Config{})
	frame, err := c.Encode(context.Background(), make([]float32, 1920))
	if err != nil {
		t.Fatal(err)
	}
	for k, code := range frame.Codes {
		if code != 0 {
			t.Fatalf("code[%d] = %d for silence, want 0", k, code)
		}
	}
}

func TestCodecDeterministicRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := Config{}
	in := sineFrame(1920, 440, 0.5, 24000)

	a := NewCodec(cfg)
	b := NewCodec(cfg)

	fa, err := a.Encode(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	fb, err := b.Encode(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(fa.Codes) != len(fb.Codes) {
		t.Fatal("code lengths differ")
	}
	anyNonZero := false
	for k := range fa.Codes {
		if fa.Codes[k] != fb.Codes[k] {
			t.Fatalf("codes diverge at %d: %d vs %d", k, fa.Codes[k], fb.Codes[k])
		}
		if fa.Codes[k] != 0 {
			anyNonZero = true
		}
	}
	if !anyNonZero {
		t.Fatal("voiced frame encoded to all zeros")
	}

	da, err := a.Decode(ctx, fa)
	if err != nil {
		t.Fatal(err)
	}
	db, err := b.Decode(ctx, fb)
	if err != nil {
		t.Fatal(err)
	}
	if len(da) != 1920 {
		t.Fatalf("decoded %d samples, want 1920", len(da))
	}
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("decode diverges at %d", i)
		}
	}
}

func TestCodecPhaseIsStreamingState(t *testing.T) {
	ctx := context.Background()
	c := NewCodec(Config{})
	frame := &duplex.TokenFrame{Codes: []int32{100, 0, 0, 0, 0, 0, 0, 0}}

	first, _ := c.Decode(ctx, frame)
	second, _ := c.Decode(ctx, frame)
	// Phase carries over: the second frame starts where the first
	// ended, so the two frames differ.
	same := true
	for i := range first {
		if first[i] != second[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("decode ignored streaming phase")
	}

	if err := c.ResetStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	again, _ := c.Decode(ctx, frame)
	for i := range first {
		if first[i] != again[i] {
			t.Fatal("reset did not restore initial phase")
		}
	}
}

func TestModelDefersOnSilence(t *testing.T) {
	ctx := context.Background()
	m := NewModel(Config{})
	silent := &duplex.TokenFrame{Codes: make([]int32, 8)}

	for i := 0; i < 50; i++ {
		out, err := m.Step(ctx, silent)
		if err != nil {
			t.Fatal(err)
		}
		if out != nil {
			t.Fatalf("silence produced output at step %d", i)
		}
	}
	_, emitted, _ := m.Stats()
	if emitted != 0 {
		t.Fatalf("emitted = %d for pure silence", emitted)
	}
}

func TestModelRepliesAfterVoicedRun(t *testing.T) {
	ctx := context.Background()
	m := NewModel(Config{ReplyDelay: 3, ReplyFrames: 5})
	voicedFrame := &duplex.TokenFrame{Codes: []int32{500, 0, 0, 0, 0, 0, 0, 0}}
	silent := &duplex.TokenFrame{Codes: make([]int32, 8)}

	// Two voiced frames: not enough yet.
	for i := 0; i < 2; i++ {
		out, err := m.Step(ctx, voicedFrame)
		if err != nil {
			t.Fatal(err)
		}
		if out != nil {
			t.Fatalf("reply started after only %d voiced frames", i+1)
		}
	}

	// Third voiced frame triggers the reply.
	out, err := m.Step(ctx, voicedFrame)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || out.Frame == nil {
		t.Fatal("no reply after ReplyDelay voiced frames")
	}
	if !out.HasText {
		t.Fatal("reply frame carried no text unit")
	}

	// The reply keeps flowing over silence, full duplex.
	spoken := 1
	for i := 0; i < 10; i++ {
		out, err := m.Step(ctx, silent)
		if err != nil {
			t.Fatal(err)
		}
		if out != nil {
			spoken++
		}
	}
	if spoken != 5 {
		t.Fatalf("reply spanned %d frames, want 5", spoken)
	}
}

func TestModelScriptHasPadsAndBoundaries(t *testing.T) {
	ctx := context.Background()
	m := NewModel(Config{ReplyDelay: 1, ReplyFrames: len(replyScript)})
	voicedFrame := &duplex.TokenFrame{Codes: []int32{500}}
	silent := &duplex.TokenFrame{Codes: make([]int32, 1)}

	var ids []int32
	var pieces []string
	for i := 0; i < len(replyScript); i++ {
		var frame *duplex.TokenFrame
		if i == 0 {
			frame = voicedFrame
		} else {
			frame = silent
		}
		out, err := m.Step(ctx, frame)
		if err != nil {
			t.Fatal(err)
		}
		if out == nil {
			t.Fatalf("step %d deferred mid-reply", i)
		}
		ids = append(ids, out.TokenID)
		pieces = append(pieces, out.Piece)
	}

	pads, words := 0, 0
	for i := range ids {
		switch ids[i] {
		case 0, 3:
			pads++
		default:
			words++
			if pieces[i] == "" {
				t.Fatalf("non-pad token %d has empty piece", ids[i])
			}
		}
	}
	if pads == 0 {
		t.Fatal("script emitted no padding tokens")
	}
	if words == 0 {
		t.Fatal("script emitted no words")
	}
	joined := strings.Join(pieces, "")
	if !strings.Contains(joined, "▁hello") {
		t.Fatalf("script text = %q", joined)
	}
}

func TestModelStepErrEvery(t *testing.T) {
	ctx := context.Background()
	m := NewModel(Config{StepErrEvery: 4})
	silent := &duplex.TokenFrame{Codes: make([]int32, 8)}

	var failures int
	for i := 1; i <= 12; i++ {
		_, err := m.Step(ctx, silent)
		if i%4 == 0 {
			if err == nil {
				t.Fatalf("step %d did not fail", i)
			}
			failures++
		} else if err != nil {
			t.Fatalf("step %d failed unexpectedly: %v", i, err)
		}
	}
	if failures != 3 {
		t.Fatalf("failures = %d, want 3", failures)
	}
}

func TestPrimeRespectsLiveness(t *testing.T) {
	ctx := context.Background()
	m := NewModel(Config{})

	err := m.Prime(ctx, duplex.Conditioning{Text: "x"}, func() bool { return false })
	if !errors.Is(err, ErrPeerGone) {
		t.Fatalf("Prime = %v, want ErrPeerGone", err)
	}
	if len(m.Conditioning()) != 0 {
		t.Fatal("dead prime recorded conditioning")
	}

	cond := duplex.Conditioning{Text: "<system> hi <system>", Seed: 42424242}
	if err := m.Prime(ctx, cond, func() bool { return true }); err != nil {
		t.Fatal(err)
	}
	got := m.Conditioning()
	if len(got) != 1 || got[0].Text != cond.Text || got[0].Seed != cond.Seed {
		t.Fatalf("Conditioning = %+v", got)
	}
}

func TestBackendWiresIndependentCodecs(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(Config{})
	if b.CodecIn == b.CodecOut {
		t.Fatal("codec instances shared")
	}

	frame := &duplex.TokenFrame{Codes: []int32{100, 0, 0, 0, 0, 0, 0, 0}}
	b.CodecIn.Decode(ctx, frame)
	// CodecOut's phase must be untouched by CodecIn's decode.
	first, _ := b.CodecOut.Decode(ctx, frame)
	fresh, _ := NewCodec(Config{}).Decode(ctx, frame)
	for i := range first {
		if first[i] != fresh[i] {
			t.Fatal("codec streaming state leaked between instances")
		}
	}
	if b.Model.SampleRate() != 24000 || b.Model.FrameRate() != 12.5 {
		t.Fatalf("model properties = %d/%v", b.Model.SampleRate(), b.Model.FrameRate())
	}
}
