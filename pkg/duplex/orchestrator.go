package duplex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxloop/voxloop/pkg/audio/pcm"
	"github.com/voxloop/voxloop/pkg/audio/wav"
)

// Loop tunables. Tests shrink these through Config; production runs
// the defaults.
const (
	DefaultIngressPoll    = 5 * time.Millisecond
	DefaultSilenceBudget  = 5000
	DefaultIdleSleep      = 1 * time.Millisecond
	DefaultStepRetrySleep = 10 * time.Millisecond
	DefaultEgressPace     = 5 * time.Millisecond
	DefaultBatchDuration  = 300 * time.Millisecond
	DefaultEvictHigh      = 50
	DefaultEvictKeep      = 10
)

// Config assembles one orchestrator. Session, Transport, FrameCodec,
// CodecIn, CodecOut, Model, and FrameSize are required; zero-valued
// tunables fall back to the defaults above.
type Config struct {
	Session    *Session
	Transport  Transport
	FrameCodec FrameCodec
	CodecIn    Codec
	CodecOut   Codec
	Model      Model
	FrameSize  int

	Catalog  VoiceCatalog
	Observer Observer
	Logger   *slog.Logger

	IngressPoll    time.Duration
	SilenceBudget  int
	IdleSleep      time.Duration
	StepRetrySleep time.Duration
	EgressPace     time.Duration
	BatchDuration  time.Duration

	// EvictHigh and EvictKeep are the accumulator watermarks in
	// frames: past EvictHigh frames of backlog, all but the newest
	// EvictKeep frames are dropped.
	EvictHigh int
	EvictKeep int
}

// Orchestrator drives one conversation: three concurrent loops over
// two shared PCM windows, with first-completed-wins teardown.
type Orchestrator struct {
	sess     *Session
	tr       Transport
	fc       FrameCodec
	codecIn  Codec
	codecOut Codec
	model    Model

	frameSize  int
	sampleRate int

	catalog  VoiceCatalog
	observer Observer
	log      *slog.Logger

	ingressPoll    time.Duration
	silenceBudget  int
	idleSleep      time.Duration
	stepRetrySleep time.Duration
	egressPace     time.Duration
	batchSamples   int

	evictHigh int
	evictKeep int

	accum  *PCMQueue
	egress *PCMQueue
}

// New validates cfg and builds an orchestrator in the Created state.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Session == nil:
		return nil, errors.New("duplex: config: missing Session")
	case cfg.Transport == nil:
		return nil, errors.New("duplex: config: missing Transport")
	case cfg.FrameCodec == nil:
		return nil, errors.New("duplex: config: missing FrameCodec")
	case cfg.CodecIn == nil || cfg.CodecOut == nil:
		return nil, errors.New("duplex: config: missing codec pair")
	case cfg.Model == nil:
		return nil, errors.New("duplex: config: missing Model")
	case cfg.FrameSize <= 0:
		return nil, errors.New("duplex: config: invalid FrameSize")
	}

	o := &Orchestrator{
		sess:           cfg.Session,
		tr:             cfg.Transport,
		fc:             cfg.FrameCodec,
		codecIn:        cfg.CodecIn,
		codecOut:       cfg.CodecOut,
		model:          cfg.Model,
		frameSize:      cfg.FrameSize,
		sampleRate:     cfg.Model.SampleRate(),
		catalog:        cfg.Catalog,
		observer:       cfg.Observer,
		log:            cfg.Logger,
		ingressPoll:    cfg.IngressPoll,
		silenceBudget:  cfg.SilenceBudget,
		idleSleep:      cfg.IdleSleep,
		stepRetrySleep: cfg.StepRetrySleep,
		egressPace:     cfg.EgressPace,
		evictHigh:      cfg.EvictHigh,
		evictKeep:      cfg.EvictKeep,
		accum:          NewPCMQueue(),
		egress:         NewPCMQueue(),
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("session", o.sess.ID)
	if o.ingressPoll <= 0 {
		o.ingressPoll = DefaultIngressPoll
	}
	if o.silenceBudget <= 0 {
		o.silenceBudget = DefaultSilenceBudget
	}
	if o.idleSleep <= 0 {
		o.idleSleep = DefaultIdleSleep
	}
	if o.stepRetrySleep <= 0 {
		o.stepRetrySleep = DefaultStepRetrySleep
	}
	if o.egressPace <= 0 {
		o.egressPace = DefaultEgressPace
	}
	batch := cfg.BatchDuration
	if batch <= 0 {
		batch = DefaultBatchDuration
	}
	o.batchSamples = pcm.SamplesInDuration(o.sampleRate, batch)
	if o.evictHigh <= 0 {
		o.evictHigh = DefaultEvictHigh
	}
	if o.evictKeep <= 0 {
		o.evictKeep = DefaultEvictKeep
	}
	return o, nil
}

// Session returns the session this orchestrator drives.
func (o *Orchestrator) Session() *Session {
	return o.sess
}

// Run conditions the session and drives its three loops until the
// first one finishes, then cancels and joins the rest. A non-nil
// error means conditioning failed before audio exchange began; once
// the loops are running, all failures resolve into session teardown
// rather than an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.sess.deactivate()
		o.setState(StateTerminated)
	}()

	o.setState(StateConditioning)
	if err := o.condition(ctx); err != nil {
		o.sess.RequestClose("conditioning failed")
		return err
	}

	o.sess.markActive()
	o.setState(StateActive)
	o.log.Debug("duplex: session active", "voice", o.sess.Voice, "seed", o.sess.Seed)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Whichever loop exits first drags the others down with it.
	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){o.ingressLoop, o.generateLoop, o.egressLoop} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			defer cancel()
			run(loopCtx)
		}(loop)
	}

	done := make(chan struct{})
	go func() {
		<-loopCtx.Done()
		o.setState(StateClosing)
		close(done)
	}()

	wg.Wait()
	cancel()
	<-done
	o.log.Debug("duplex: session closed", "reason", o.sess.CloseReason())
	return nil
}

// condition resolves the voice persona, resets all streaming state,
// and runs the model's priming step before any audio flows.
func (o *Orchestrator) condition(ctx context.Context) error {
	cond := Conditioning{
		Text: wrapPrompt(o.sess.Prompt),
		Seed: o.sess.Seed,
	}
	if o.catalog != nil && o.sess.Voice != "" {
		if artifact, ok := o.catalog.Resolve(o.sess.Voice); ok {
			cond.Voice = artifact
		} else {
			o.log.Warn("duplex: voice not in catalog, proceeding unconditioned", "voice", o.sess.Voice)
		}
	}

	if err := o.codecIn.ResetStreaming(ctx); err != nil {
		return fmt.Errorf("duplex: reset input codec: %w", err)
	}
	if err := o.codecOut.ResetStreaming(ctx); err != nil {
		return fmt.Errorf("duplex: reset output codec: %w", err)
	}
	if err := o.model.ResetStreaming(ctx); err != nil {
		return fmt.Errorf("duplex: reset model: %w", err)
	}

	alive := func() bool {
		return !o.sess.CloseRequested() && o.tr.Alive(ctx)
	}
	if !alive() {
		return ErrConnClosed
	}
	if err := o.model.Prime(ctx, cond, alive); err != nil {
		return fmt.Errorf("duplex: prime: %w", err)
	}
	return nil
}

// ingressLoop pulls compressed frames off the transport and feeds
// decoded samples into the accumulator. A full silence budget of
// consecutive empty polls closes the session.
func (o *Orchestrator) ingressLoop(ctx context.Context) {
	silent := 0
	for {
		if o.closing(ctx) {
			return
		}
		packet, err := o.tr.ReceiveAudio(ctx)
		if err != nil {
			if errors.Is(err, ErrConnClosed) {
				o.sess.RequestClose("transport closed")
				return
			}
			o.log.Warn("duplex: receive failed", "error", err)
			continue
		}
		if packet == nil {
			silent++
			if silent >= o.silenceBudget {
				o.sess.RequestClose("silence budget exhausted")
				return
			}
			if !sleepCtx(ctx, o.ingressPoll) {
				return
			}
			continue
		}
		silent = 0
		samples, err := o.fc.DecodeFrame(packet)
		if err != nil {
			if errors.Is(err, ErrConnClosed) {
				o.sess.RequestClose("audio channel closed")
				return
			}
			o.log.Warn("duplex: dropping undecodable frame", "error", err)
			continue
		}
		o.accum.Append(samples)
	}
}

// generateLoop consumes the accumulator one frame at a time and runs
// the encode, step, decode pipeline. Per-step failures are soft; the
// model may recover on the next frame.
func (o *Orchestrator) generateLoop(ctx context.Context) {
	for {
		if o.closing(ctx) {
			return
		}
		if !o.tr.Alive(ctx) {
			o.sess.RequestClose("transport not alive")
			return
		}

		if o.accum.Len() > o.evictHigh*o.frameSize {
			dropped := o.accum.EvictOlderThan(o.evictKeep * o.frameSize)
			o.log.Warn("duplex: accumulator overflow, evicted backlog", "dropped_samples", dropped)
		}

		frame, ok := o.accum.TakeFrame(o.frameSize)
		if !ok {
			if !sleepCtx(ctx, o.idleSleep) {
				return
			}
			continue
		}

		if err := o.stepFrame(ctx, frame); err != nil {
			o.log.Error("duplex: step failed, continuing", "error", err)
			if !sleepCtx(ctx, o.stepRetrySleep) {
				return
			}
		}
	}
}

// stepFrame runs one frame through the full pipeline. Exactly one
// decoded response frame lands in the egress buffer per emitted model
// frame.
func (o *Orchestrator) stepFrame(ctx context.Context, frame []float32) error {
	encoded, err := o.codecIn.Encode(ctx, frame)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if encoded == nil {
		return nil
	}

	out, err := o.model.Step(ctx, encoded)
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if out == nil {
		return nil
	}

	if out.Frame != nil {
		decoded, err := o.codecOut.Decode(ctx, out.Frame)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		o.egress.Append(decoded)
	}

	if out.HasText {
		if piece, ok := renderPiece(out.TokenID, out.Piece); ok {
			if o.observer != nil {
				o.observer.TextEmitted(o.sess, piece)
			}
			if err := o.tr.SendText(ctx, piece); err != nil {
				return fmt.Errorf("send text: %w", err)
			}
		}
	}
	return nil
}

// egressLoop paces itself on a fixed interval and ships accumulated
// response audio in WAV batches once enough is buffered. Failed
// batches are dropped; stale audio is not worth retransmitting in a
// live call.
func (o *Orchestrator) egressLoop(ctx context.Context) {
	ticker := time.NewTicker(o.egressPace)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if o.closing(ctx) {
			return
		}
		if o.egress.Len() < o.batchSamples {
			continue
		}
		samples := o.egress.DrainAll()
		payload := wav.Encode(pcm.Float32ToInt16(samples), o.sampleRate)
		if err := o.tr.SendAudio(ctx, payload); err != nil {
			o.log.Warn("duplex: audio batch dropped", "error", err, "samples", len(samples))
		}
	}
}

// closing reports whether any loop should stop at its next check.
func (o *Orchestrator) closing(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	return o.sess.CloseRequested() || !o.sess.Active()
}

// setState advances the session state and notifies the observer on
// real transitions.
func (o *Orchestrator) setState(next State) {
	if o.sess.advance(next) && o.observer != nil {
		o.observer.StateChanged(o.sess, next)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// wrapPrompt surrounds a text persona with the model's system
// markers. An empty persona stays empty.
func wrapPrompt(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return "<system> " + text + " <system>"
}

// Text token ids the model uses as padding or control; they carry no
// user-visible text.
const (
	textPadID   = 0
	textEPadID  = 3
	spaceMarker = "▁"
)

// renderPiece filters padding tokens and maps sentencepiece word
// boundary markers to spaces. Returns false when nothing should be
// emitted.
func renderPiece(id int32, piece string) (string, bool) {
	if id == textPadID || id == textEPadID {
		return "", false
	}
	piece = strings.ReplaceAll(piece, spaceMarker, " ")
	if piece == "" {
		return "", false
	}
	return piece, true
}
