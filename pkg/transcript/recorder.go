package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/voxloop/voxloop/pkg/duplex"
	"github.com/voxloop/voxloop/pkg/kv"
)

// DefaultQueueSize bounds the number of writes waiting on the
// background writer.
const DefaultQueueSize = 256

// Recorder persists session state changes and emitted text. It
// implements duplex.Observer: callbacks enqueue and return without
// waiting on the store, and recording failures never reach the audio
// path. When the queue is full the record is dropped with a warning.
type Recorder struct {
	store *Store
	log   *slog.Logger

	queue chan recordOp
	seqs  map[string]uint64 // touched only by the run goroutine

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

type recordOp struct {
	info  duplex.Info
	kind  string
	value string
	at    int64
}

// NewRecorder starts a recorder writing through store. Call Close to
// flush pending records and stop the writer.
func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		store:   store,
		log:     log,
		queue:   make(chan recordOp, DefaultQueueSize),
		seqs:    make(map[string]uint64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// StateChanged implements duplex.Observer.
func (r *Recorder) StateChanged(s *duplex.Session, st duplex.State) {
	r.enqueue(recordOp{
		info:  s.Snapshot(),
		kind:  KindState,
		value: st.String(),
		at:    time.Now().UnixMilli(),
	})
}

// TextEmitted implements duplex.Observer.
func (r *Recorder) TextEmitted(s *duplex.Session, piece string) {
	r.enqueue(recordOp{
		info:  s.Snapshot(),
		kind:  KindText,
		value: piece,
		at:    time.Now().UnixMilli(),
	})
}

// Close flushes queued records and stops the writer. Safe to call
// more than once; callbacks arriving after Close are discarded.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() { close(r.closing) })
	<-r.done
	return nil
}

func (r *Recorder) enqueue(op recordOp) {
	select {
	case <-r.closing:
		return
	default:
	}
	select {
	case r.queue <- op:
	default:
		r.log.Warn("transcript: record dropped, queue full",
			"session", op.info.ID, "kind", op.kind)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case op := <-r.queue:
			r.apply(op)
		case <-r.closing:
			for {
				select {
				case op := <-r.queue:
					r.apply(op)
				default:
					return
				}
			}
		}
	}
}

// apply writes one event record and, for state changes, refreshes the
// session's index record in the same batch.
func (r *Recorder) apply(op recordOp) {
	ctx := context.Background()
	id := op.info.ID

	seq := r.seqs[id] + 1
	r.seqs[id] = seq

	evData, err := msgpack.Marshal(Event{
		Seq:   seq,
		At:    op.at,
		Kind:  op.kind,
		Value: op.value,
	})
	if err != nil {
		r.log.Error("transcript: encode event", "session", id, "error", err)
		return
	}
	entries := []kv.Entry{{Key: eventKey(id, seq), Value: evData}}

	if op.kind == KindState {
		rec := Record{
			ID:          id,
			Voice:       op.info.Voice,
			State:       op.value,
			StartedAt:   op.info.StartedAt.Time().UnixMilli(),
			CloseReason: op.info.CloseReason,
		}
		if op.info.EndedAt != nil {
			rec.EndedAt = op.info.EndedAt.Time().UnixMilli()
		}
		recData, err := msgpack.Marshal(rec)
		if err != nil {
			r.log.Error("transcript: encode index", "session", id, "error", err)
		} else {
			entries = append(entries, kv.Entry{Key: indexKey(id), Value: recData})
		}
		if op.value == duplex.StateTerminated.String() {
			delete(r.seqs, id)
		}
	}

	if err := r.store.kv.BatchSet(ctx, entries); err != nil {
		r.log.Error("transcript: write failed", "session", id, "error", err)
	}
}

var _ duplex.Observer = (*Recorder)(nil)
