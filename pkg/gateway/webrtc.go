package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/voxloop/voxloop/pkg/audio/opuspkt"
	"github.com/voxloop/voxloop/pkg/audio/pcm"
	"github.com/voxloop/voxloop/pkg/audio/wav"
	"github.com/voxloop/voxloop/pkg/buffer"
	"github.com/voxloop/voxloop/pkg/duplex"
	"github.com/voxloop/voxloop/pkg/engine"
	"github.com/voxloop/voxloop/pkg/voices"
)

const (
	rtpPayloadTypeOpus = 111
	rtpClockRate       = 48000

	// The RTP clock for opus is always 48kHz, so a 20ms packet
	// advances the timestamp by 960 regardless of the encode rate.
	rtpSamplesPerPacket = 960

	tokensChannel = "tokens"
)

type offerRequest struct {
	SDP    string `json:"sdp"`
	Voice  string `json:"voice,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Seed   int64  `json:"seed,omitempty"`
}

type answerResponse struct {
	SDP string `json:"sdp"`
}

// handleWebRTCOffer answers a browser offer and spawns the session in
// the background. Unlike the websocket path there is no place to park
// a waiting client, so a busy or unready engine rejects the offer
// outright.
func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	var req offerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "malformed offer", http.StatusBadRequest)
		return
	}
	if req.SDP == "" {
		http.Error(w, "missing sdp", http.StatusBadRequest)
		return
	}
	voice := req.Voice
	if voice == "" {
		voice = voices.Default
	}
	if !voices.IsValid(voice) {
		http.Error(w, "unknown voice "+voice, http.StatusBadRequest)
		return
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = s.defaultPrompt
	}
	if !s.engine.Ready() {
		http.Error(w, "engine not ready", http.StatusServiceUnavailable)
		return
	}

	codec, err := newOpusCodec(rtpClockRate, s.engine.SampleRate())
	if err != nil {
		s.log.Error("gateway: webrtc codec", "error", err)
		http.Error(w, "codec unavailable", http.StatusInternalServerError)
		return
	}
	tr, err := newRTCTransport(s.engine.SampleRate(), s.log)
	if err != nil {
		s.log.Error("gateway: webrtc transport", "error", err)
		http.Error(w, "transport unavailable", http.StatusInternalServerError)
		return
	}
	answerSDP, err := tr.answer(req.SDP)
	if err != nil {
		s.log.Error("gateway: webrtc answer", "error", err)
		http.Error(w, "negotiation failed", http.StatusInternalServerError)
		return
	}

	go s.runRTCSession(tr, codec, engine.SessionOptions{
		Voice:  voice,
		Prompt: prompt,
		Seed:   req.Seed,
	})

	s.writeJSON(w, answerResponse{SDP: answerSDP})
}

// runRTCSession drives the session after signaling has completed. The
// session hangs off the server run context, not the offer request,
// and dies with the peer connection.
func (s *Server) runRTCSession(tr *rtcTransport, codec *opusCodec, opts engine.SessionOptions) {
	ctx, cancel := context.WithCancel(s.sessionContext())
	defer cancel()
	go func() {
		select {
		case <-tr.dead:
			cancel()
		case <-ctx.Done():
		}
	}()

	sess, err := s.engine.RunSession(ctx, tr, codec, opts)
	tr.close()
	switch {
	case err != nil && sess != nil:
		s.log.Warn("gateway: webrtc session failed", "session", sess.ID, "error", err)
	case err != nil:
		s.log.Warn("gateway: webrtc session rejected", "error", err)
	default:
		s.log.Info("gateway: webrtc session finished", "session", sess.ID, "reason", sess.CloseReason())
	}
}

// rtcTransport adapts a peer connection to the duplex transport
// contract. Inbound opus rides the remote audio track, outbound audio
// is re-encoded onto the local track, and tokens go over a data
// channel the browser opens with the label "tokens".
type rtcTransport struct {
	log   *slog.Logger
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP
	enc   *opuspkt.Encoder
	ring  *buffer.Ring[[]byte]

	mu sync.Mutex
	dc *webrtc.DataChannel

	// seq and timestamp are only touched by SendAudio, which the
	// egress loop calls from a single goroutine.
	seq       uint16
	timestamp uint32
	ssrc      uint32

	alive    atomic.Bool
	dead     chan struct{}
	deadOnce sync.Once
}

var _ duplex.Transport = (*rtcTransport)(nil)

func newRTCTransport(modelRate int, log *slog.Logger) (*rtcTransport, error) {
	enc, err := opuspkt.NewEncoder(modelRate)
	if err != nil {
		return nil, err
	}
	t := &rtcTransport{
		log:  log,
		enc:  enc,
		ring: buffer.NewRing[[]byte](ringSize),
		ssrc: rand.Uint32(),
		dead: make(chan struct{}),
	}
	t.alive.Store(true)
	return t, nil
}

func (t *rtcTransport) markDead() {
	t.deadOnce.Do(func() {
		t.alive.Store(false)
		t.ring.CloseWithError(duplex.ErrConnClosed)
		close(t.dead)
	})
}

func (t *rtcTransport) close() {
	t.markDead()
	if t.pc != nil {
		t.pc.Close()
	}
}

// answer builds the peer connection around the remote offer and
// returns the local SDP once ICE gathering settles.
func (t *rtcTransport) answer(offerSDP string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "voxloop")
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return "", fmt.Errorf("add audio track: %w", err)
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go t.readTrack(remote)
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != tokensChannel {
			return
		}
		t.mu.Lock()
		t.dc = dc
		t.mu.Unlock()
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.log.Debug("gateway: webrtc state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.markDead()
		}
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherDone := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherDone

	t.pc = pc
	t.track = track
	return pc.LocalDescription().SDP, nil
}

func (t *rtcTransport) readTrack(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			t.log.Debug("gateway: webrtc track read ended", "error", err)
			t.markDead()
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		t.ring.Add(pkt.Payload)
	}
}

// SendAudio re-encodes one egress WAV batch as opus RTP packets.
func (t *rtcTransport) SendAudio(ctx context.Context, batch []byte) error {
	samples, _, err := wav.Parse(batch)
	if err != nil {
		return fmt.Errorf("parse egress batch: %w", err)
	}
	packets, err := t.enc.Encode(pcm.Int16ToFloat32(samples))
	if err != nil {
		return fmt.Errorf("encode egress batch: %w", err)
	}
	for _, payload := range packets {
		t.seq++
		t.timestamp += rtpSamplesPerPacket
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    rtpPayloadTypeOpus,
				SequenceNumber: t.seq,
				Timestamp:      t.timestamp,
				SSRC:           t.ssrc,
			},
			Payload: payload,
		}
		if err := t.track.WriteRTP(pkt); err != nil {
			return fmt.Errorf("write rtp: %w", err)
		}
	}
	return nil
}

// SendText delivers a token over the data channel. Tokens emitted
// before the browser opens the channel are dropped.
func (t *rtcTransport) SendText(ctx context.Context, token string) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		t.log.Debug("gateway: token dropped, no open data channel")
		return nil
	}
	return dc.SendText(token)
}

func (t *rtcTransport) ReceiveAudio(ctx context.Context) ([]byte, error) {
	pkt, ok, err := t.ring.TryNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return pkt, nil
}

func (t *rtcTransport) Alive(ctx context.Context) bool {
	return t.alive.Load()
}
