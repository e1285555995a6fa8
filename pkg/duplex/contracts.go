// Package duplex implements the full-duplex conversation session
// orchestrator. One orchestrator owns one live conversation: it pulls
// compressed caller audio from a transport, drives a streaming
// generative speech model frame by frame, and sends generated audio
// and text back, all under real-time pacing. The model and codec
// backends are external collaborators reached through the narrow
// streaming contracts below.
package duplex

import (
	"context"
	"errors"
)

// DefaultSeed is applied when a session does not request its own.
const DefaultSeed int64 = 42424242

// ErrConnClosed reports that the transport channel is permanently
// gone. Receiving it from a transport or frame codec is fatal to the
// session's loops; any other per-frame error is skipped.
var ErrConnClosed = errors.New("duplex: connection closed")

// TokenFrame is one encoded audio frame: one code per codebook of the
// loaded codec or model.
type TokenFrame struct {
	Codes []int32
}

// StepOutput is the result of one non-deferred model step. At most
// one response frame can come out of one input frame.
type StepOutput struct {
	// Frame is the encoded response frame, nil when the step produced
	// text only.
	Frame *TokenFrame

	// TokenID and Piece carry the text unit associated with the step.
	// Padding and control ids carry no user-visible text.
	TokenID int32
	Piece   string
	HasText bool
}

// Conditioning primes a model with a voice identity and persona text
// before audio exchange begins.
type Conditioning struct {
	// Text is the priming text, already wrapped in the model's system
	// markers. Empty means unconditioned text.
	Text string

	// Voice is the raw conditioning artifact, nil for the default
	// unconditioned voice.
	Voice []byte

	// Seed fixes the model's sampling for the whole session.
	Seed int64
}

// Codec is a streaming audio tokenizer. Two independent instances run
// per engine, one for caller audio and one for generated audio; their
// streaming state must not be shared.
type Codec interface {
	// Encode consumes one PCM frame and returns the encoded frame, or
	// nil while the codec is still accumulating context.
	Encode(ctx context.Context, pcm []float32) (*TokenFrame, error)

	// Decode turns one encoded frame back into PCM samples.
	Decode(ctx context.Context, frame *TokenFrame) ([]float32, error)

	// ResetStreaming clears streaming state between sessions.
	ResetStreaming(ctx context.Context) error
}

// Model is the streaming generative speech model. Calls are strictly
// sequential per conversation.
type Model interface {
	// ResetStreaming clears conversation state.
	ResetStreaming(ctx context.Context) error

	// Prime runs the system priming step. Implementations must call
	// alive between units of work and abort early once it reports
	// false.
	Prime(ctx context.Context, cond Conditioning, alive func() bool) error

	// Step feeds one encoded input frame. A nil output means the step
	// was deferred; the model is still accumulating context.
	Step(ctx context.Context, frame *TokenFrame) (*StepOutput, error)

	// FrameRate is the model's fixed frame rate in Hz.
	FrameRate() float64

	// SampleRate is the model's fixed PCM sample rate.
	SampleRate() int
}

// VoiceCatalog resolves persona names to conditioning artifacts.
// Absence is expected and non-fatal.
type VoiceCatalog interface {
	Resolve(name string) ([]byte, bool)
}

// Transport is the session's network face, supplied by the gateway.
type Transport interface {
	// SendAudio transmits one complete audio container.
	SendAudio(ctx context.Context, payload []byte) error

	// SendText transmits one text token.
	SendText(ctx context.Context, text string) error

	// ReceiveAudio returns the next pending compressed frame without
	// blocking. (nil, nil) means no frame is waiting. ErrConnClosed
	// means the channel is gone for good.
	ReceiveAudio(ctx context.Context) ([]byte, error)

	// Alive reports whether the peer connection still exists.
	Alive(ctx context.Context) bool
}

// FrameCodec is the per-session decoder for compressed network audio,
// producing PCM at the model's sample rate. It owns only a streaming
// buffer, no conversation state.
type FrameCodec interface {
	DecodeFrame(packet []byte) ([]float32, error)
}

// Observer receives session lifecycle and text events. All methods
// are called from the session's own goroutines and must not block.
type Observer interface {
	StateChanged(s *Session, state State)
	TextEmitted(s *Session, piece string)
}
