package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/pkg/duplex"
)

// Backend bundles the local implementations a runner serves.
type Backend struct {
	CodecIn   duplex.Codec
	CodecOut  duplex.Codec
	Model     duplex.Model
	Codebooks int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades every request to a websocket speaking the runner
// protocol. Requests on a connection are handled strictly in arrival
// order, which is the sequencing the model side requires anyway.
func Handler(b Backend, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("runner: upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		log.Info("runner: client connected", "remote", r.RemoteAddr)
		serveConn(r.Context(), conn, b, log)
		log.Info("runner: client disconnected", "remote", r.RemoteAddr)
	})
}

// ListenAndServe runs a runner server until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, b Backend, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{Addr: addr, Handler: Handler(b, log)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info("runner: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("runner: serve: %w", err)
	}
	return nil
}

type serverConn struct {
	conn    *websocket.Conn
	backend Backend
	log     *slog.Logger
}

func serveConn(ctx context.Context, conn *websocket.Conn, b Backend, log *slog.Logger) {
	s := &serverConn{conn: conn, backend: b, log: log}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("runner: read failed", "error", err)
			}
			return
		}
		msg, err := unmarshalMessage(data)
		if err != nil {
			log.Warn("runner: dropping malformed request", "error", err)
			continue
		}
		if done := s.handle(ctx, msg); done {
			return
		}
	}
}

// handle dispatches one request and writes its reply. The returned
// bool is true once the peer asked to close.
func (s *serverConn) handle(ctx context.Context, req *message) bool {
	switch {
	case req.typ == msgTypeCtrl:
		return s.handleCtrl(ctx, req)
	case req.typ == msgTypePCM && (req.stream == streamCodecIn || req.stream == streamCodecOut):
		s.handleEncode(ctx, req)
	case req.typ == msgTypeFrame && (req.stream == streamCodecIn || req.stream == streamCodecOut):
		s.handleDecode(ctx, req)
	case req.typ == msgTypeFrame && req.stream == streamModel:
		s.handleStep(ctx, req)
	default:
		s.sendErr(req, 400, fmt.Sprintf("unsupported request: type %#x on stream %d", byte(req.typ), req.stream))
	}
	return false
}

func (s *serverConn) handleCtrl(ctx context.Context, req *message) bool {
	body, extra, err := decodeCtrl(req.payload)
	if err != nil {
		s.sendErr(req, 400, err.Error())
		return false
	}
	switch body.Op {
	case opHello:
		s.sendCtrl(req, ctrlBody{
			Op:         opReady,
			FrameRate:  s.backend.Model.FrameRate(),
			SampleRate: s.backend.Model.SampleRate(),
			Codebooks:  s.backend.Codebooks,
		})
	case opReset:
		if err := s.resetTarget(ctx, req.stream); err != nil {
			s.sendErr(req, 500, err.Error())
			return false
		}
		s.sendCtrl(req, ctrlBody{Op: opOK})
	case opPrime:
		cond := duplex.Conditioning{Text: body.Text, Voice: extra, Seed: body.Seed}
		// Liveness doubles as progress reporting: each callback pushes
		// one progress frame, and a dead socket aborts the prime.
		alive := func() bool {
			return s.send(&message{typ: msgTypeCtrl, flags: flagProgress, stream: req.stream, seq: req.seq}) == nil
		}
		if err := s.backend.Model.Prime(ctx, cond, alive); err != nil {
			s.sendErr(req, 500, err.Error())
			return false
		}
		s.sendCtrl(req, ctrlBody{Op: opOK})
	case opClose:
		s.sendCtrl(req, ctrlBody{Op: opOK})
		return true
	default:
		s.sendErr(req, 400, fmt.Sprintf("unknown op %q", body.Op))
	}
	return false
}

func (s *serverConn) handleEncode(ctx context.Context, req *message) {
	frame, err := s.codecFor(req.stream).Encode(ctx, decodePCM(req.payload))
	if err != nil {
		s.sendErr(req, 500, err.Error())
		return
	}
	if frame == nil {
		s.send(&message{typ: msgTypeFrame, flags: flagDeferred, stream: req.stream, seq: req.seq})
		return
	}
	payload, err := encodeFrame(frame)
	if err != nil {
		s.sendErr(req, 500, err.Error())
		return
	}
	s.send(&message{typ: msgTypeFrame, stream: req.stream, seq: req.seq, payload: payload})
}

func (s *serverConn) handleDecode(ctx context.Context, req *message) {
	frame, _, err := decodeFrame(req.payload)
	if err != nil {
		s.sendErr(req, 400, err.Error())
		return
	}
	samples, err := s.codecFor(req.stream).Decode(ctx, frame)
	if err != nil {
		s.sendErr(req, 500, err.Error())
		return
	}
	s.send(&message{typ: msgTypePCM, stream: req.stream, seq: req.seq, payload: encodePCM(samples)})
}

func (s *serverConn) handleStep(ctx context.Context, req *message) {
	frame, _, err := decodeFrame(req.payload)
	if err != nil {
		s.sendErr(req, 400, err.Error())
		return
	}
	out, err := s.backend.Model.Step(ctx, frame)
	if err != nil {
		s.sendErr(req, 500, err.Error())
		return
	}
	flags, payload, err := encodeStep(out)
	if err != nil {
		s.sendErr(req, 500, err.Error())
		return
	}
	s.send(&message{typ: msgTypeStep, flags: flags, stream: streamModel, seq: req.seq, payload: payload})
}

func (s *serverConn) codecFor(stream streamID) duplex.Codec {
	if stream == streamCodecIn {
		return s.backend.CodecIn
	}
	return s.backend.CodecOut
}

func (s *serverConn) resetTarget(ctx context.Context, stream streamID) error {
	switch stream {
	case streamCodecIn:
		return s.backend.CodecIn.ResetStreaming(ctx)
	case streamCodecOut:
		return s.backend.CodecOut.ResetStreaming(ctx)
	case streamModel:
		return s.backend.Model.ResetStreaming(ctx)
	}
	return fmt.Errorf("stream %d has no streaming state", stream)
}

func (s *serverConn) sendCtrl(req *message, body ctrlBody) {
	payload, err := encodeCtrl(body, nil)
	if err != nil {
		s.log.Error("runner: encode control reply failed", "error", err)
		return
	}
	s.send(&message{typ: msgTypeCtrl, stream: req.stream, seq: req.seq, payload: payload})
}

func (s *serverConn) sendErr(req *message, code uint32, text string) {
	s.send(&message{typ: msgTypeErr, stream: req.stream, seq: req.seq, payload: encodeErr(code, text)})
}

func (s *serverConn) send(msg *message) error {
	data, err := msg.marshal()
	if err != nil {
		s.log.Error("runner: marshal reply failed", "error", err)
		return err
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.log.Debug("runner: write failed", "error", err)
		return err
	}
	return nil
}
