package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/pkg/buffer"
	"github.com/voxloop/voxloop/pkg/duplex"
	"github.com/voxloop/voxloop/pkg/engine"
	"github.com/voxloop/voxloop/pkg/voices"
)

// DefaultClientRate is assumed when a start message carries no rate.
const DefaultClientRate = 48000

const (
	wsStartWait  = 10 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = 15 * time.Second

	ringSize  = 256
	readyPoll = 25 * time.Millisecond
)

const (
	msgStart  = "start"
	msgReady  = "ready"
	msgText   = "text"
	msgClosed = "closed"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the text-frame envelope in both directions. Binary
// frames carry audio: opus packets inbound, WAV batches outbound.
type wsMessage struct {
	Type string `json:"type"`

	// start fields
	Voice  string `json:"voice,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Seed   int64  `json:"seed,omitempty"`
	Rate   int    `json:"rate,omitempty"`

	// server fields
	Session string `json:"session,omitempty"`
	Token   string `json:"token,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// handleWS upgrades the connection, waits for the start message, and
// drives one engine session over the socket. The handler blocks for
// the whole session, including the wait for the engine gate.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("gateway: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	log := s.log.With("remote", conn.RemoteAddr().String())
	tr := newWSTransport(conn, log)

	start, err := readStart(conn)
	if err != nil {
		log.Warn("gateway: websocket handshake failed", "error", err)
		tr.sendMsg(wsMessage{Type: msgClosed, Reason: err.Error()})
		return
	}
	voice := start.Voice
	if voice == "" {
		voice = voices.Default
	}
	if !voices.IsValid(voice) {
		tr.sendMsg(wsMessage{Type: msgClosed, Reason: "unknown voice " + voice})
		return
	}
	rate := start.Rate
	if rate == 0 {
		rate = DefaultClientRate
	}
	prompt := start.Prompt
	if prompt == "" {
		prompt = s.defaultPrompt
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := s.engine.WaitReady(ctx); err != nil {
		tr.sendMsg(wsMessage{Type: msgClosed, Reason: "engine not ready"})
		return
	}
	codec, err := newOpusCodec(rate, s.engine.SampleRate())
	if err != nil {
		tr.sendMsg(wsMessage{Type: msgClosed, Reason: err.Error()})
		return
	}

	log.Info("gateway: websocket session starting", "voice", voice, "rate", rate)
	go tr.readPump(cancel)
	go tr.pingLoop(ctx)

	admitted := make(chan *duplex.Session, 1)
	opts := engine.SessionOptions{
		Voice:  voice,
		Prompt: prompt,
		Seed:   start.Seed,
		OnAdmit: func(sess *duplex.Session) {
			admitted <- sess
		},
	}
	go s.notifyReady(ctx, tr, admitted)

	sess, runErr := s.engine.RunSession(ctx, tr, codec, opts)
	reason := closeReason(sess, runErr)
	tr.sendMsg(wsMessage{Type: msgClosed, Reason: reason})
	log.Info("gateway: websocket session finished", "reason", reason)
}

// readStart consumes the mandatory first frame of the socket.
func readStart(conn *websocket.Conn) (wsMessage, error) {
	conn.SetReadDeadline(time.Now().Add(wsStartWait))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return wsMessage{}, fmt.Errorf("read start message: %w", err)
	}
	if mt != websocket.TextMessage {
		return wsMessage{}, errors.New("first message must be a text start message")
	}
	var m wsMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return wsMessage{}, fmt.Errorf("decode start message: %w", err)
	}
	if m.Type != msgStart {
		return wsMessage{}, fmt.Errorf("unexpected message type %q", m.Type)
	}
	return m, nil
}

// notifyReady tells the client when it can start talking. Admission
// happens before conditioning, so the session is polled until audio
// is actually flowing.
func (s *Server) notifyReady(ctx context.Context, tr *wsTransport, admitted <-chan *duplex.Session) {
	var sess *duplex.Session
	select {
	case sess = <-admitted:
	case <-ctx.Done():
		return
	}
	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if sess.ReadyForAudio() {
				tr.sendMsg(wsMessage{Type: msgReady, Session: sess.ID})
				return
			}
			if st := sess.State(); st == duplex.StateClosing || st == duplex.StateTerminated {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func closeReason(sess *duplex.Session, err error) string {
	if sess != nil {
		if r := sess.CloseReason(); r != "" {
			return r
		}
	}
	if err != nil {
		return err.Error()
	}
	return "session complete"
}

// wsTransport adapts one websocket connection to the duplex transport
// contract. Inbound opus packets buffer in a ring so a stalled model
// never backs up into the socket.
type wsTransport struct {
	conn *websocket.Conn
	log  *slog.Logger
	ring *buffer.Ring[[]byte]

	writeMu sync.Mutex
	alive   atomic.Bool
}

var _ duplex.Transport = (*wsTransport)(nil)

func newWSTransport(conn *websocket.Conn, log *slog.Logger) *wsTransport {
	t := &wsTransport{
		conn: conn,
		log:  log,
		ring: buffer.NewRing[[]byte](ringSize),
	}
	t.alive.Store(true)
	return t
}

// readPump owns the read side of the socket. When the peer goes away
// it fails the ring so the session sees a closed transport, and
// cancels the session context in case the session is still waiting on
// the engine gate.
func (t *wsTransport) readPump(cancel context.CancelFunc) {
	defer func() {
		t.alive.Store(false)
		t.ring.CloseWithError(duplex.ErrConnClosed)
		cancel()
	}()
	t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Debug("gateway: websocket read ended", "error", err)
			}
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if mt == websocket.BinaryMessage {
			t.ring.Add(data)
		}
	}
}

func (t *wsTransport) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *wsTransport) write(messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(messageType, data)
}

func (t *wsTransport) sendMsg(m wsMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return t.write(websocket.TextMessage, data)
}

func (t *wsTransport) SendAudio(ctx context.Context, batch []byte) error {
	return t.write(websocket.BinaryMessage, batch)
}

func (t *wsTransport) SendText(ctx context.Context, token string) error {
	return t.sendMsg(wsMessage{Type: msgText, Token: token})
}

func (t *wsTransport) ReceiveAudio(ctx context.Context) ([]byte, error) {
	pkt, ok, err := t.ring.TryNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return pkt, nil
}

func (t *wsTransport) Alive(ctx context.Context) bool {
	return t.alive.Load()
}
