// Package engine owns the shared speech backend: the streaming model,
// the paired input and output codecs, and the admission gate that lets
// exactly one live session use them at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/voxloop/voxloop/pkg/duplex"
	"github.com/voxloop/voxloop/pkg/jsontime"
)

// ErrNotReady is returned when the backend has not finished
// initializing within the configured readiness window.
var ErrNotReady = errors.New("engine: not ready")

const (
	DefaultReadyTimeout = 300 * time.Second
	DefaultReadyPoll    = time.Second
	DefaultWarmupFrames = 4
)

// Tuning carries the per-session loop knobs forwarded to every
// session. Zero values fall back to the duplex defaults.
type Tuning struct {
	IngressPoll    time.Duration
	SilenceBudget  int
	IdleSleep      time.Duration
	StepRetrySleep time.Duration
	EgressPace     time.Duration
	BatchDuration  time.Duration
	EvictHigh      int
	EvictKeep      int
}

// Config assembles an Engine.
type Config struct {
	Model    duplex.Model
	CodecIn  duplex.Codec
	CodecOut duplex.Codec

	Catalog  duplex.VoiceCatalog
	Observer duplex.Observer
	Logger   *slog.Logger

	// ReadyTimeout bounds how long session admission waits for
	// Initialize to complete before failing with ErrNotReady.
	ReadyTimeout time.Duration

	// ReadyPoll is the readiness re-check interval.
	ReadyPoll time.Duration

	// WarmupFrames is the number of zero PCM frames pushed through the
	// full pipeline during Initialize.
	WarmupFrames int

	Tuning Tuning
}

// Engine is the process-wide session backend. Construct it with New,
// call Initialize once (typically in a background goroutine while the
// server starts accepting connections), then admit sessions through
// RunSession.
type Engine struct {
	model    duplex.Model
	codecIn  duplex.Codec
	codecOut duplex.Codec
	catalog  duplex.VoiceCatalog
	observer duplex.Observer
	log      *slog.Logger

	readyTimeout time.Duration
	readyPoll    time.Duration
	warmupFrames int
	tuning       Tuning

	// gate holds one token while a session runs. Admission blocks on
	// it, so a second session waits for the first to fully release.
	gate chan struct{}

	mu          sync.Mutex
	initialized bool
	frameSize   int
	sampleRate  int
	frameRate   float64
	startedAt   time.Time
	active      *duplex.Session
}

func New(cfg Config) (*Engine, error) {
	if cfg.Model == nil || cfg.CodecIn == nil || cfg.CodecOut == nil {
		return nil, errors.New("engine: model and both codecs are required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	readyPoll := cfg.ReadyPoll
	if readyPoll <= 0 {
		readyPoll = DefaultReadyPoll
	}
	warmupFrames := cfg.WarmupFrames
	if warmupFrames <= 0 {
		warmupFrames = DefaultWarmupFrames
	}
	return &Engine{
		model:        cfg.Model,
		codecIn:      cfg.CodecIn,
		codecOut:     cfg.CodecOut,
		catalog:      cfg.Catalog,
		observer:     cfg.Observer,
		log:          log,
		readyTimeout: readyTimeout,
		readyPoll:    readyPoll,
		warmupFrames: warmupFrames,
		tuning:       cfg.Tuning,
		gate:         make(chan struct{}, 1),
		startedAt:    time.Now(),
	}, nil
}

// Initialize probes the model's rates and warms the pipeline up with
// zero frames. It retries with backoff until warmup succeeds or ctx is
// cancelled, so a backend that is still booting delays readiness
// instead of failing it. Safe to call again after success.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	done := e.initialized
	e.mu.Unlock()
	if done {
		return nil
	}

	rate := e.model.SampleRate()
	frameRate := e.model.FrameRate()
	if rate <= 0 || frameRate <= 0 {
		return fmt.Errorf("engine: model reports invalid rates: %d Hz PCM at %g fps", rate, frameRate)
	}
	frameSize := int(float64(rate) / frameRate)

	bo := gax.Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2}
	for {
		err := e.warmup(ctx, frameSize)
		if err == nil {
			break
		}
		e.log.Warn("engine: warmup failed, retrying", "error", err)
		if err := gax.Sleep(ctx, bo.Pause()); err != nil {
			return fmt.Errorf("engine: initialize: %w", err)
		}
	}

	e.mu.Lock()
	e.initialized = true
	e.frameSize = frameSize
	e.sampleRate = rate
	e.frameRate = frameRate
	e.mu.Unlock()
	e.log.Info("engine: initialized", "sample_rate", rate, "frame_rate", frameRate, "frame_size", frameSize)
	return nil
}

func (e *Engine) warmup(ctx context.Context, frameSize int) error {
	if err := e.resetStreaming(ctx); err != nil {
		return err
	}
	zero := make([]float32, frameSize)
	for i := 0; i < e.warmupFrames; i++ {
		frame, err := e.codecIn.Encode(ctx, zero)
		if err != nil {
			return fmt.Errorf("engine: warmup encode: %w", err)
		}
		if frame == nil {
			continue
		}
		out, err := e.model.Step(ctx, frame)
		if err != nil {
			return fmt.Errorf("engine: warmup step: %w", err)
		}
		if out == nil || out.Frame == nil {
			continue
		}
		if _, err := e.codecOut.Decode(ctx, out.Frame); err != nil {
			return fmt.Errorf("engine: warmup decode: %w", err)
		}
	}
	// Warmup state must not leak into the first session.
	return e.resetStreaming(ctx)
}

func (e *Engine) resetStreaming(ctx context.Context) error {
	if err := e.codecIn.ResetStreaming(ctx); err != nil {
		return fmt.Errorf("engine: reset input codec: %w", err)
	}
	if err := e.codecOut.ResetStreaming(ctx); err != nil {
		return fmt.Errorf("engine: reset output codec: %w", err)
	}
	if err := e.model.ResetStreaming(ctx); err != nil {
		return fmt.Errorf("engine: reset model: %w", err)
	}
	return nil
}

// Ready reports whether Initialize has completed.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// WaitReady blocks until the engine is ready, re-checking at the
// configured poll interval. It fails with ErrNotReady only once the
// full readiness window has elapsed.
func (e *Engine) WaitReady(ctx context.Context) error {
	if e.Ready() {
		return nil
	}
	deadline := time.NewTimer(e.readyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(e.readyPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("engine: backend not ready after %s: %w", e.readyTimeout, ErrNotReady)
		case <-tick.C:
			if e.Ready() {
				return nil
			}
		}
	}
}

// FrameSize is the PCM samples per model frame. Valid after Initialize.
func (e *Engine) FrameSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameSize
}

// SampleRate is the model PCM rate. Valid after Initialize.
func (e *Engine) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

// SessionOptions carries the caller-chosen parameters for one session.
type SessionOptions struct {
	Voice  string
	Prompt string
	Seed   int64

	// OnAdmit, when set, is called once the session holds the gate,
	// before conditioning starts. Callers use it to learn the session
	// identity while RunSession is still blocking.
	OnAdmit func(*duplex.Session)
}

// RunSession admits one session through the gate and drives it to
// completion. It blocks while an earlier session is still releasing,
// and returns the terminated session alongside its outcome. The
// transport and frame codec belong to this session's connection.
func (e *Engine) RunSession(ctx context.Context, tr duplex.Transport, fc duplex.FrameCodec, opts SessionOptions) (*duplex.Session, error) {
	if err := e.WaitReady(ctx); err != nil {
		return nil, err
	}
	sess := duplex.NewSession(opts.Voice, opts.Prompt, opts.Seed)

	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		e.setActive(nil)
		<-e.gate
	}()
	e.setActive(sess)
	if opts.OnAdmit != nil {
		opts.OnAdmit(sess)
	}

	orch, err := duplex.New(duplex.Config{
		Session:        sess,
		Transport:      tr,
		FrameCodec:     fc,
		CodecIn:        e.codecIn,
		CodecOut:       e.codecOut,
		Model:          e.model,
		FrameSize:      e.FrameSize(),
		Catalog:        e.catalog,
		Observer:       e.observer,
		Logger:         e.log,
		IngressPoll:    e.tuning.IngressPoll,
		SilenceBudget:  e.tuning.SilenceBudget,
		IdleSleep:      e.tuning.IdleSleep,
		StepRetrySleep: e.tuning.StepRetrySleep,
		EgressPace:     e.tuning.EgressPace,
		BatchDuration:  e.tuning.BatchDuration,
		EvictHigh:      e.tuning.EvictHigh,
		EvictKeep:      e.tuning.EvictKeep,
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("engine: session admitted", "session", sess.ID, "voice", sess.Voice)
	runErr := orch.Run(ctx)
	e.log.Info("engine: session released", "session", sess.ID, "reason", sess.CloseReason())
	return sess, runErr
}

func (e *Engine) setActive(s *duplex.Session) {
	e.mu.Lock()
	e.active = s
	e.mu.Unlock()
}

// ActiveSession returns a snapshot of the session currently holding
// the gate, or nil when the engine is idle.
func (e *Engine) ActiveSession() *duplex.Info {
	e.mu.Lock()
	s := e.active
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	info := s.Snapshot()
	return &info
}

// CloseActive asks the current session to shut down and reports
// whether there was one to ask. The session drains on its own time.
func (e *Engine) CloseActive(reason string) bool {
	e.mu.Lock()
	s := e.active
	e.mu.Unlock()
	if s == nil {
		return false
	}
	s.RequestClose(reason)
	return true
}

// Status is the engine health snapshot served by the gateway.
type Status struct {
	Ready      bool           `json:"ready"`
	SampleRate int            `json:"sample_rate,omitempty"`
	FrameRate  float64        `json:"frame_rate,omitempty"`
	FrameSize  int            `json:"frame_size,omitempty"`
	StartedAt  jsontime.Milli `json:"started_at"`
	Active     *duplex.Info   `json:"active_session,omitempty"`
}

// Health reports the current engine state.
func (e *Engine) Health() Status {
	e.mu.Lock()
	st := Status{
		Ready:      e.initialized,
		SampleRate: e.sampleRate,
		FrameRate:  e.frameRate,
		FrameSize:  e.frameSize,
		StartedAt:  jsontime.Milli(e.startedAt),
	}
	s := e.active
	e.mu.Unlock()
	if s != nil {
		info := s.Snapshot()
		st.Active = &info
	}
	return st
}
