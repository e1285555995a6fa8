package duplex

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop/voxloop/pkg/jsontime"
)

// State is a session's position in its lifecycle. States only ever
// advance.
type State int32

const (
	StateCreated State = iota
	StateConditioning
	StateActive
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConditioning:
		return "conditioning"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session holds one conversation's identity and flags. The voice
// persona, text persona, and seed are fixed for the session's
// lifetime; the flags move only in the directions the lifecycle
// allows. Safe for concurrent use.
type Session struct {
	ID     string
	Voice  string
	Prompt string
	Seed   int64

	mu             sync.Mutex
	state          State
	active         bool
	closeRequested bool
	readyForAudio  bool
	closeReason    string
	startedAt      time.Time
	endedAt        time.Time
}

// NewSession creates a session in the Created state.
func NewSession(voice, prompt string, seed int64) *Session {
	if seed == 0 {
		seed = DefaultSeed
	}
	return &Session{
		ID:        uuid.NewString(),
		Voice:     voice,
		Prompt:    prompt,
		Seed:      seed,
		startedAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves the state forward, never backward. Returns true when
// the state actually changed.
func (s *Session) advance(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next <= s.state {
		return false
	}
	s.state = next
	if next == StateTerminated {
		s.endedAt = time.Now()
	}
	return true
}

// Active reports whether the session's loops are permitted to run.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ReadyForAudio reports whether audio exchange has begun. It implies
// Active.
func (s *Session) ReadyForAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyForAudio
}

// markActive flips the session into audio exchange. Both flags set
// together so readyForAudio can never be observed without active.
func (s *Session) markActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.readyForAudio = true
}

// deactivate clears both activity flags at teardown.
func (s *Session) deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyForAudio = false
	s.active = false
}

// CloseRequested reports whether anything has asked the session to
// stop. Once set it stays set.
func (s *Session) CloseRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeRequested
}

// RequestClose asks the loops to wind down. The first caller's reason
// wins; later calls are no-ops.
func (s *Session) RequestClose(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeRequested {
		return
	}
	s.closeRequested = true
	s.closeReason = reason
}

// CloseReason returns the reason recorded by the first RequestClose,
// or empty while the session is still running.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Info is a point-in-time snapshot for APIs and transcripts.
type Info struct {
	ID          string          `json:"id"`
	Voice       string          `json:"voice"`
	State       string          `json:"state"`
	StartedAt   jsontime.Milli  `json:"started_at"`
	EndedAt     *jsontime.Milli `json:"ended_at,omitempty"`
	CloseReason string          `json:"close_reason,omitempty"`
}

// Snapshot captures the session's current public view.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:          s.ID,
		Voice:       s.Voice,
		State:       s.state.String(),
		StartedAt:   jsontime.Milli(s.startedAt),
		CloseReason: s.closeReason,
	}
	if !s.endedAt.IsZero() {
		ended := jsontime.Milli(s.endedAt)
		info.EndedAt = &ended
	}
	return info
}
