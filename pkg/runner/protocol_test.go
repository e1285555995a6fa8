package runner

import (
	"bytes"
	"testing"

	"github.com/voxloop/voxloop/pkg/duplex"
)

func TestMessageWireLayout(t *testing.T) {
	msg := &message{
		typ:     msgTypeFrame,
		flags:   flagDeferred | flagHasText,
		stream:  streamModel,
		seq:     0x01020304,
		payload: []byte{0xaa, 0xbb},
	}
	data, err := msg.marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Header bytes are pinned: changing them breaks every deployed
	// runner pairing.
	want := []byte{
		0x11,                   // version 1, one header word
		0x35,                   // type frame, flags deferred|hasText
		0x03,                   // model stream
		0x00,                   // reserved
		0x01, 0x02, 0x03, 0x04, // seq
		0x00, 0x00, 0x00, 0x02, // payload size
		0xaa, 0xbb,
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("wire bytes = % x, want % x", data, want)
	}

	back, err := unmarshalMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.typ != msg.typ || back.flags != msg.flags || back.stream != msg.stream || back.seq != msg.seq {
		t.Errorf("round trip header = %+v, want %+v", back, msg)
	}
	if !bytes.Equal(back.payload, msg.payload) {
		t.Errorf("round trip payload = % x", back.payload)
	}
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	good, err := (&message{typ: msgTypeCtrl, stream: streamCtrl, seq: 1, payload: []byte("xyz")}).marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := map[string][]byte{
		"empty":       nil,
		"short":       good[:8],
		"bad version": append([]byte{0x21}, good[1:]...),
		"truncated":   good[:len(good)-2],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := unmarshalMessage(data); err == nil {
				t.Errorf("unmarshal accepted %s input", name)
			}
		})
	}
}

func TestCtrlCompositeCarriesArtifact(t *testing.T) {
	artifact := []byte{0x00, 0x01, 0x7b, 0xff} // binary, including a '{'
	payload, err := encodeCtrl(ctrlBody{Op: opPrime, Text: "<system> hi <system>", Seed: 42424242}, artifact)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	body, extra, err := decodeCtrl(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Op != opPrime || body.Text != "<system> hi <system>" || body.Seed != 42424242 {
		t.Errorf("body = %+v", body)
	}
	if !bytes.Equal(extra, artifact) {
		t.Errorf("artifact = % x, want % x", extra, artifact)
	}

	// No trailing binary on plain control ops.
	payload, err = encodeCtrl(ctrlBody{Op: opReset}, nil)
	if err != nil {
		t.Fatalf("encode reset: %v", err)
	}
	if _, extra, err = decodeCtrl(payload); err != nil || len(extra) != 0 {
		t.Errorf("reset decode: extra=%d err=%v", len(extra), err)
	}

	if _, _, err := decodeCtrl([]byte{0x00, 0x00}); err == nil {
		t.Error("decode accepted a truncated control payload")
	}
}

func TestFrameCodes(t *testing.T) {
	frame := &duplex.TokenFrame{Codes: []int32{0, 1, -7, 2047, 1 << 20}}
	payload, err := encodeFrame(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, rest, err := decodeFrame(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("decode left %d bytes", len(rest))
	}
	for i, c := range frame.Codes {
		if back.Codes[i] != c {
			t.Errorf("code[%d] = %d, want %d", i, back.Codes[i], c)
		}
	}

	if _, _, err := decodeFrame(payload[:5]); err == nil {
		t.Error("decode accepted a truncated frame")
	}
	if _, err := encodeFrame(&duplex.TokenFrame{Codes: make([]int32, 0x10000)}); err == nil {
		t.Error("encode accepted an oversized frame")
	}
}

func TestStepEncoding(t *testing.T) {
	t.Run("deferred", func(t *testing.T) {
		flags, payload, err := encodeStep(nil)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if flags != flagDeferred || len(payload) != 0 {
			t.Fatalf("flags=%04b payload=%d", flags, len(payload))
		}
		out, err := decodeStep(flags, payload)
		if err != nil || out != nil {
			t.Fatalf("decode deferred: out=%+v err=%v", out, err)
		}
	})

	t.Run("frame and text", func(t *testing.T) {
		in := &duplex.StepOutput{
			Frame:   &duplex.TokenFrame{Codes: []int32{5, 6, 7}},
			TokenID: 103,
			Piece:   "▁hello",
			HasText: true,
		}
		flags, payload, err := encodeStep(in)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if flags&flagHasFrame == 0 || flags&flagHasText == 0 || flags&flagDeferred != 0 {
			t.Fatalf("flags = %04b", flags)
		}
		out, err := decodeStep(flags, payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Frame == nil || len(out.Frame.Codes) != 3 || out.Frame.Codes[2] != 7 {
			t.Errorf("frame = %+v", out.Frame)
		}
		if !out.HasText || out.TokenID != 103 || out.Piece != "▁hello" {
			t.Errorf("text = %d %q", out.TokenID, out.Piece)
		}
	})

	t.Run("text only", func(t *testing.T) {
		flags, payload, err := encodeStep(&duplex.StepOutput{TokenID: 0, Piece: "", HasText: true})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out, err := decodeStep(flags, payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Frame != nil || !out.HasText || out.TokenID != 0 || out.Piece != "" {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		flags, payload, err := encodeStep(&duplex.StepOutput{Frame: &duplex.TokenFrame{Codes: []int32{9}}})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		payload = append(payload, 0xde, 0xad)
		if _, err := decodeStep(flags, payload); err == nil {
			t.Error("decode accepted trailing bytes after the frame section")
		}
	})
}

func TestPCMPayloadRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.25, 1, -1, 0.125}
	out := decodePCM(encodePCM(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample[%d] = %g, want %g", i, out[i], in[i])
		}
	}
}

func TestErrPayload(t *testing.T) {
	code, text := decodeErr(encodeErr(500, "model exploded"))
	if code != 500 || text != "model exploded" {
		t.Errorf("got %d %q", code, text)
	}
	if code, text := decodeErr([]byte("x")); code != 0 || text != "x" {
		t.Errorf("short payload: %d %q", code, text)
	}
}
