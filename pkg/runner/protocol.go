// Package runner speaks the binary websocket protocol between the
// gateway process and the model runner hosting the neural codecs and
// the generative model. The client side exposes the runner as duplex
// codec and model implementations; the server side drives any backend
// over the same wire, which is how the simulated runner binary works.
package runner

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/voxloop/voxloop/pkg/audio/pcm"
	"github.com/voxloop/voxloop/pkg/duplex"
)

type msgType byte
type msgFlags byte
type streamID byte

// Frame layout: a 4-byte header (version+size, type+flags, stream,
// reserved), a u32 sequence for request/reply correlation, then a
// u32-length payload. Integers are big-endian; PCM sample payloads are
// little-endian IEEE 754.
const (
	protoVersion byte = 0b0001
	headerWords  byte = 0b0001

	msgTypeCtrl  msgType = 0b0001 // control, composite JSON payload
	msgTypePCM   msgType = 0b0010 // float32 samples
	msgTypeFrame msgType = 0b0011 // u16 code count + int32 codes
	msgTypeStep  msgType = 0b0100 // model step result
	msgTypeErr   msgType = 0b1111 // u32 code + message text

	flagDeferred msgFlags = 0b0001
	flagHasFrame msgFlags = 0b0010
	flagHasText  msgFlags = 0b0100
	flagProgress msgFlags = 0b1000

	streamCtrl     streamID = 0
	streamCodecIn  streamID = 1
	streamCodecOut streamID = 2
	streamModel    streamID = 3
)

type message struct {
	typ     msgType
	flags   msgFlags
	stream  streamID
	seq     uint32
	payload []byte
}

func (m *message) marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(protoVersion<<4 | headerWords)
	buf.WriteByte(byte(m.typ)<<4 | byte(m.flags))
	buf.WriteByte(byte(m.stream))
	buf.WriteByte(0x00) // reserved
	if err := binary.Write(buf, binary.BigEndian, m.seq); err != nil {
		return nil, fmt.Errorf("write sequence: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(m.payload))); err != nil {
		return nil, fmt.Errorf("write payload size: %w", err)
	}
	buf.Write(m.payload)
	return buf.Bytes(), nil
}

func unmarshalMessage(data []byte) (*message, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}
	if v := data[0] >> 4; v != protoVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", v)
	}

	buf := bytes.NewBuffer(data)
	versionAndSize, _ := buf.ReadByte()
	typeAndFlags, _ := buf.ReadByte()
	stream, _ := buf.ReadByte()
	_, _ = buf.ReadByte() // reserved

	msg := &message{
		typ:    msgType(typeAndFlags >> 4),
		flags:  msgFlags(typeAndFlags & 0x0f),
		stream: streamID(stream),
	}

	// Header size is in 4-byte words; skip any extension words.
	if words := int(versionAndSize & 0x0f); words > 1 {
		buf.Next((words - 1) * 4)
	}

	if err := binary.Read(buf, binary.BigEndian, &msg.seq); err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	var size uint32
	if err := binary.Read(buf, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if int(size) > buf.Len() {
		return nil, fmt.Errorf("payload size %d exceeds %d remaining bytes", size, buf.Len())
	}
	if size > 0 {
		msg.payload = make([]byte, size)
		if _, err := buf.Read(msg.payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return msg, nil
}

// ctrlBody is the JSON part of every control payload. Which fields are
// meaningful depends on the op.
type ctrlBody struct {
	Op string `json:"op"`

	// prime
	Text string `json:"text,omitempty"`
	Seed int64  `json:"seed,omitempty"`

	// ready
	FrameRate  float64 `json:"frame_rate,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Codebooks  int     `json:"codebooks,omitempty"`
}

const (
	opHello = "hello"
	opReady = "ready"
	opReset = "reset"
	opPrime = "prime"
	opClose = "close"
	opOK    = "ok"
)

// encodeCtrl builds a composite control payload: u32 JSON length, the
// JSON body, then any trailing binary (the prime conditioning
// artifact).
func encodeCtrl(body ctrlBody, extra []byte) ([]byte, error) {
	js, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal control body: %w", err)
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(js))); err != nil {
		return nil, fmt.Errorf("write control length: %w", err)
	}
	buf.Write(js)
	buf.Write(extra)
	return buf.Bytes(), nil
}

func decodeCtrl(payload []byte) (ctrlBody, []byte, error) {
	var body ctrlBody
	if len(payload) < 4 {
		return body, nil, fmt.Errorf("control payload too short: %d bytes", len(payload))
	}
	size := binary.BigEndian.Uint32(payload)
	rest := payload[4:]
	if int(size) > len(rest) {
		return body, nil, fmt.Errorf("control body length %d exceeds %d remaining bytes", size, len(rest))
	}
	if err := json.Unmarshal(rest[:size], &body); err != nil {
		return body, nil, fmt.Errorf("unmarshal control body: %w", err)
	}
	return body, rest[size:], nil
}

func encodeFrame(f *duplex.TokenFrame) ([]byte, error) {
	if len(f.Codes) > 0xffff {
		return nil, fmt.Errorf("frame has %d codes, limit %d", len(f.Codes), 0xffff)
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, uint16(len(f.Codes))); err != nil {
		return nil, fmt.Errorf("write code count: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, f.Codes); err != nil {
		return nil, fmt.Errorf("write codes: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeFrame(payload []byte) (*duplex.TokenFrame, []byte, error) {
	if len(payload) < 2 {
		return nil, nil, fmt.Errorf("frame payload too short: %d bytes", len(payload))
	}
	count := int(binary.BigEndian.Uint16(payload))
	rest := payload[2:]
	if count*4 > len(rest) {
		return nil, nil, fmt.Errorf("frame claims %d codes, %d bytes remain", count, len(rest))
	}
	codes := make([]int32, count)
	for i := range codes {
		codes[i] = int32(binary.BigEndian.Uint32(rest[i*4:]))
	}
	return &duplex.TokenFrame{Codes: codes}, rest[count*4:], nil
}

// encodeStep lays out a model step result: the frame section when
// flagHasFrame is set, then the text section (u32 token id, u16 piece
// length, piece bytes) when flagHasText is set.
func encodeStep(out *duplex.StepOutput) (msgFlags, []byte, error) {
	var flags msgFlags
	buf := new(bytes.Buffer)
	if out == nil {
		return flagDeferred, nil, nil
	}
	if out.Frame != nil {
		flags |= flagHasFrame
		fb, err := encodeFrame(out.Frame)
		if err != nil {
			return 0, nil, err
		}
		buf.Write(fb)
	}
	if out.HasText {
		flags |= flagHasText
		if err := binary.Write(buf, binary.BigEndian, uint32(out.TokenID)); err != nil {
			return 0, nil, fmt.Errorf("write token id: %w", err)
		}
		piece := []byte(out.Piece)
		if len(piece) > 0xffff {
			return 0, nil, fmt.Errorf("piece is %d bytes, limit %d", len(piece), 0xffff)
		}
		if err := binary.Write(buf, binary.BigEndian, uint16(len(piece))); err != nil {
			return 0, nil, fmt.Errorf("write piece length: %w", err)
		}
		buf.Write(piece)
	}
	return flags, buf.Bytes(), nil
}

func decodeStep(flags msgFlags, payload []byte) (*duplex.StepOutput, error) {
	if flags&flagDeferred != 0 {
		return nil, nil
	}
	out := &duplex.StepOutput{}
	rest := payload
	if flags&flagHasFrame != 0 {
		frame, tail, err := decodeFrame(rest)
		if err != nil {
			return nil, err
		}
		out.Frame = frame
		rest = tail
	}
	if flags&flagHasText != 0 {
		if len(rest) < 6 {
			return nil, fmt.Errorf("step text section too short: %d bytes", len(rest))
		}
		out.TokenID = int32(binary.BigEndian.Uint32(rest))
		size := int(binary.BigEndian.Uint16(rest[4:]))
		rest = rest[6:]
		if size > len(rest) {
			return nil, fmt.Errorf("piece length %d exceeds %d remaining bytes", size, len(rest))
		}
		out.Piece = string(rest[:size])
		out.HasText = true
		rest = rest[size:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("step payload has %d trailing bytes", len(rest))
	}
	return out, nil
}

func encodePCM(samples []float32) []byte {
	return pcm.Float32ToBytes(samples)
}

func decodePCM(payload []byte) []float32 {
	return pcm.BytesToFloat32(payload)
}

func encodeErr(code uint32, text string) []byte {
	out := make([]byte, 4+len(text))
	binary.BigEndian.PutUint32(out, code)
	copy(out[4:], text)
	return out
}

func decodeErr(payload []byte) (uint32, string) {
	if len(payload) < 4 {
		return 0, string(payload)
	}
	return binary.BigEndian.Uint32(payload), string(payload[4:])
}
