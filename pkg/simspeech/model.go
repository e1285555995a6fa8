package simspeech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/duplex"
)

// ErrPeerGone is returned by Prime when the liveness callback fails
// mid-priming.
var ErrPeerGone = errors.New("simspeech: peer gone during prime")

// replyScript is the fixed utterance the model speaks, one
// sentencepiece-style unit per response frame. Ids 0 and 3 are the
// padding slots a real tokenizer would emit between words.
var replyScript = []struct {
	id    int32
	piece string
}{
	{101, "▁Well"},
	{0, ""},
	{102, ","},
	{103, "▁hello"},
	{3, ""},
	{104, "▁there"},
	{105, "."},
	{0, ""},
	{106, "▁What"},
	{107, "'s"},
	{108, "▁on"},
	{3, ""},
	{109, "▁your"},
	{110, "▁mind"},
	{111, "?"},
}

// Model is a deterministic stand-in for the generative speech model.
// Silence defers; enough consecutive voiced frames schedule a scripted
// reply spoken one frame per step, full-duplex over whatever arrives
// next.
type Model struct {
	cfg Config

	mu        sync.Mutex
	voicedRun int
	pending   int
	scriptIdx int
	steps     int
	emitted   int
	resets    int
	primed    []duplex.Conditioning
}

// NewModel creates a model with fresh conversation state.
func NewModel(cfg Config) *Model {
	return &Model{cfg: cfg.withDefaults()}
}

// ResetStreaming clears the conversation state, keeping counters.
func (m *Model) ResetStreaming(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voicedRun = 0
	m.pending = 0
	m.scriptIdx = 0
	m.resets++
	return nil
}

// Prime simulates the system priming pass: a few units of work with a
// liveness check between each, aborting as soon as the peer is gone.
func (m *Model) Prime(ctx context.Context, cond duplex.Conditioning, alive func() bool) error {
	for i := 0; i < m.cfg.PrimeTicks; i++ {
		if !alive() {
			return ErrPeerGone
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.PrimeTickSleep):
		}
	}
	if !alive() {
		return ErrPeerGone
	}
	m.mu.Lock()
	m.primed = append(m.primed, cond)
	m.mu.Unlock()
	return nil
}

// Step consumes one encoded frame. Pure silence with nothing queued
// defers. Voiced input accumulates; once ReplyDelay voiced frames
// arrive, ReplyFrames response frames are queued and spoken one per
// step regardless of what arrives meanwhile.
func (m *Model) Step(_ context.Context, frame *duplex.TokenFrame) (*duplex.StepOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps++

	if m.cfg.StepErrEvery > 0 && m.steps%m.cfg.StepErrEvery == 0 {
		return nil, fmt.Errorf("simspeech: injected step failure at step %d", m.steps)
	}

	if voiced(frame) {
		m.voicedRun++
		if m.voicedRun >= m.cfg.ReplyDelay {
			m.voicedRun = 0
			m.pending += m.cfg.ReplyFrames
		}
	} else {
		m.voicedRun = 0
	}

	if m.pending == 0 {
		return nil, nil
	}
	m.pending--
	m.emitted++

	out := &duplex.StepOutput{Frame: m.responseFrame()}
	s := replyScript[m.scriptIdx%len(replyScript)]
	m.scriptIdx++
	out.TokenID = s.id
	out.Piece = s.piece
	out.HasText = true
	return out, nil
}

// responseFrame derives deterministic codes from the seed and the
// emission counter. Callers hold m.mu.
func (m *Model) responseFrame() *duplex.TokenFrame {
	codes := make([]int32, m.cfg.Codebooks)
	for k := range codes {
		codes[k] = int32((m.cfg.Seed*31+int64(m.emitted)*17+int64(k)*5)%2047) + 1
	}
	return &duplex.TokenFrame{Codes: codes}
}

// FrameRate returns the configured frame rate.
func (m *Model) FrameRate() float64 { return m.cfg.FrameRate }

// SampleRate returns the configured sample rate.
func (m *Model) SampleRate() int { return m.cfg.SampleRate }

// Stats returns call counters for assertions.
func (m *Model) Stats() (steps, emitted, resets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps, m.emitted, m.resets
}

// Conditioning returns every conditioning Prime has recorded.
func (m *Model) Conditioning() []duplex.Conditioning {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]duplex.Conditioning(nil), m.primed...)
}

// voiced reports whether any code in the frame is above the silence
// floor.
func voiced(frame *duplex.TokenFrame) bool {
	if frame == nil {
		return false
	}
	for _, c := range frame.Codes {
		if c > 0 {
			return true
		}
	}
	return false
}

var _ duplex.Model = (*Model)(nil)
