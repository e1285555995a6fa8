package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxloop/voxloop/pkg/duplex"
)

// ErrRunnerGone means the runner connection died; every in-flight and
// future call fails until a new client is dialed.
var ErrRunnerGone = errors.New("runner: connection lost")

// Client is one websocket connection to a model runner. It exposes the
// remote codec pair and model through the duplex contracts. Calls may
// come from different goroutines; replies are correlated by sequence
// number.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	frameRate  float64
	sampleRate int
	codebooks  int

	writeMu sync.Mutex
	seq     atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan *message
	failure error

	closeOnce sync.Once
	closeChan chan struct{}
}

// Dial connects to a runner, performs the hello handshake, and starts
// the receive loop.
func Dial(ctx context.Context, url string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("runner: dial %s: %w", url, err)
	}
	c := &Client{
		conn:      conn,
		log:       log,
		pending:   make(map[uint32]chan *message),
		closeChan: make(chan struct{}),
	}
	go c.receiveLoop()

	reply, err := c.ctrl(ctx, streamCtrl, ctrlBody{Op: opHello}, nil, nil)
	if err != nil {
		c.shutdown(err)
		return nil, err
	}
	if reply.Op != opReady {
		err := fmt.Errorf("runner: unexpected handshake op %q", reply.Op)
		c.shutdown(err)
		return nil, err
	}
	if reply.SampleRate <= 0 || reply.FrameRate <= 0 {
		err := fmt.Errorf("runner: handshake reports invalid rates: %d Hz at %g fps", reply.SampleRate, reply.FrameRate)
		c.shutdown(err)
		return nil, err
	}
	c.frameRate = reply.FrameRate
	c.sampleRate = reply.SampleRate
	c.codebooks = reply.Codebooks
	log.Info("runner: connected", "sample_rate", c.sampleRate, "frame_rate", c.frameRate, "codebooks", c.codebooks)
	return c, nil
}

// Codebooks reports the code count per frame the runner announced.
func (c *Client) Codebooks() int { return c.codebooks }

// Ping round-trips a hello, proving the runner still answers.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.ctrl(ctx, streamCtrl, ctrlBody{Op: opHello}, nil, nil)
	if err != nil {
		return err
	}
	if reply.Op != opReady {
		return fmt.Errorf("runner: unexpected ping reply op %q", reply.Op)
	}
	return nil
}

// Close says goodbye to the runner and tears the connection down.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = c.ctrl(ctx, streamCtrl, ctrlBody{Op: opClose}, nil, nil)
	c.shutdown(errors.New("runner: client closed"))
	return nil
}

// CodecIn returns the remote caller-audio codec.
func (c *Client) CodecIn() duplex.Codec { return &codecHandle{c: c, stream: streamCodecIn} }

// CodecOut returns the remote generated-audio codec.
func (c *Client) CodecOut() duplex.Codec { return &codecHandle{c: c, stream: streamCodecOut} }

// Model returns the remote generative model.
func (c *Client) Model() duplex.Model { return &modelHandle{c: c} }

func (c *Client) receiveLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrRunnerGone, err))
			return
		}
		msg, err := unmarshalMessage(data)
		if err != nil {
			c.log.Warn("runner: dropping malformed message", "error", err)
			continue
		}
		c.mu.Lock()
		ch := c.pending[msg.seq]
		c.mu.Unlock()
		if ch == nil {
			c.log.Debug("runner: reply without a waiter", "seq", msg.seq)
			continue
		}
		select {
		case ch <- msg:
		default:
			c.log.Warn("runner: waiter backlog full, dropping reply", "seq", msg.seq)
		}
	}
}

// call sends one request and waits for its non-progress reply. Each
// progress frame invokes onProgress; returning false abandons the
// call.
func (c *Client) call(ctx context.Context, msg *message, onProgress func() bool) (*message, error) {
	msg.seq = c.seq.Add(1)
	ch := make(chan *message, 8)

	c.mu.Lock()
	if c.failure != nil {
		err := c.failure
		c.mu.Unlock()
		return nil, err
	}
	c.pending[msg.seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.seq)
		c.mu.Unlock()
	}()

	data, err := msg.marshal()
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("runner: write: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closeChan:
			return nil, c.failureErr()
		case reply := <-ch:
			if reply.flags&flagProgress != 0 {
				if onProgress != nil && !onProgress() {
					return nil, fmt.Errorf("runner: call %d abandoned: peer gone", msg.seq)
				}
				continue
			}
			if reply.typ == msgTypeErr {
				code, text := decodeErr(reply.payload)
				return nil, fmt.Errorf("runner: remote error %d: %s", code, text)
			}
			return reply, nil
		}
	}
}

func (c *Client) ctrl(ctx context.Context, stream streamID, body ctrlBody, extra []byte, onProgress func() bool) (ctrlBody, error) {
	payload, err := encodeCtrl(body, extra)
	if err != nil {
		return ctrlBody{}, fmt.Errorf("runner: %w", err)
	}
	reply, err := c.call(ctx, &message{typ: msgTypeCtrl, stream: stream, payload: payload}, onProgress)
	if err != nil {
		return ctrlBody{}, err
	}
	if reply.typ != msgTypeCtrl {
		return ctrlBody{}, fmt.Errorf("runner: unexpected reply type %#x to %s", byte(reply.typ), body.Op)
	}
	rb, _, err := decodeCtrl(reply.payload)
	if err != nil {
		return ctrlBody{}, fmt.Errorf("runner: %w", err)
	}
	return rb, nil
}

func (c *Client) reset(ctx context.Context, stream streamID) error {
	reply, err := c.ctrl(ctx, stream, ctrlBody{Op: opReset}, nil, nil)
	if err != nil {
		return err
	}
	if reply.Op != opOK {
		return fmt.Errorf("runner: unexpected reset reply op %q", reply.Op)
	}
	return nil
}

func (c *Client) failureErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}
	return ErrRunnerGone
}

// shutdown records the first failure, closes the socket, and wakes
// every waiter. Safe to call more than once.
func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.failure = err
		c.mu.Unlock()
		close(c.closeChan)
		c.conn.Close()
	})
}

type codecHandle struct {
	c      *Client
	stream streamID
}

func (h *codecHandle) Encode(ctx context.Context, samples []float32) (*duplex.TokenFrame, error) {
	reply, err := h.c.call(ctx, &message{typ: msgTypePCM, stream: h.stream, payload: encodePCM(samples)}, nil)
	if err != nil {
		return nil, err
	}
	if reply.flags&flagDeferred != 0 {
		return nil, nil
	}
	if reply.typ != msgTypeFrame {
		return nil, fmt.Errorf("runner: unexpected encode reply type %#x", byte(reply.typ))
	}
	frame, _, err := decodeFrame(reply.payload)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	return frame, nil
}

func (h *codecHandle) Decode(ctx context.Context, frame *duplex.TokenFrame) ([]float32, error) {
	payload, err := encodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	reply, err := h.c.call(ctx, &message{typ: msgTypeFrame, stream: h.stream, payload: payload}, nil)
	if err != nil {
		return nil, err
	}
	if reply.typ != msgTypePCM {
		return nil, fmt.Errorf("runner: unexpected decode reply type %#x", byte(reply.typ))
	}
	return decodePCM(reply.payload), nil
}

func (h *codecHandle) ResetStreaming(ctx context.Context) error {
	return h.c.reset(ctx, h.stream)
}

type modelHandle struct {
	c *Client
}

func (h *modelHandle) ResetStreaming(ctx context.Context) error {
	return h.c.reset(ctx, streamModel)
}

func (h *modelHandle) Prime(ctx context.Context, cond duplex.Conditioning, alive func() bool) error {
	body := ctrlBody{Op: opPrime, Text: cond.Text, Seed: cond.Seed}
	reply, err := h.c.ctrl(ctx, streamModel, body, cond.Voice, alive)
	if err != nil {
		return err
	}
	if reply.Op != opOK {
		return fmt.Errorf("runner: unexpected prime reply op %q", reply.Op)
	}
	return nil
}

func (h *modelHandle) Step(ctx context.Context, frame *duplex.TokenFrame) (*duplex.StepOutput, error) {
	payload, err := encodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	reply, err := h.c.call(ctx, &message{typ: msgTypeFrame, stream: streamModel, payload: payload}, nil)
	if err != nil {
		return nil, err
	}
	if reply.typ != msgTypeStep {
		return nil, fmt.Errorf("runner: unexpected step reply type %#x", byte(reply.typ))
	}
	out, err := decodeStep(reply.flags, reply.payload)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	return out, nil
}

func (h *modelHandle) FrameRate() float64 { return h.c.frameRate }

func (h *modelHandle) SampleRate() int { return h.c.sampleRate }

var _ duplex.Codec = (*codecHandle)(nil)
var _ duplex.Model = (*modelHandle)(nil)
