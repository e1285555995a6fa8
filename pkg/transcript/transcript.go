// Package transcript persists session lifecycles and emitted text as
// durable per-session records, and reads them back for the CLI and
// the gateway session API.
//
// Key layout:
//
//	session/{id}/index          → msgpack-encoded Record
//	session/{id}/event/{seq}    → msgpack-encoded Event
//
// Sequence numbers are zero-padded to eight digits so lexicographic
// key order matches emission order.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/voxloop/voxloop/pkg/kv"
)

// Event kinds.
const (
	KindState = "state"
	KindText  = "text"
)

// Record is the per-session index entry. Timestamps are Unix
// milliseconds.
type Record struct {
	ID          string `json:"id" msgpack:"id"`
	Voice       string `json:"voice" msgpack:"voice"`
	State       string `json:"state" msgpack:"state"`
	StartedAt   int64  `json:"started_at" msgpack:"started_at"`
	EndedAt     int64  `json:"ended_at,omitempty" msgpack:"ended_at,omitempty"`
	CloseReason string `json:"close_reason,omitempty" msgpack:"close_reason,omitempty"`
}

// Event is one ordered transcript entry. At is Unix milliseconds.
type Event struct {
	Seq   uint64 `json:"seq" msgpack:"seq"`
	At    int64  `json:"at" msgpack:"at"`
	Kind  string `json:"kind" msgpack:"kind"`
	Value string `json:"value" msgpack:"value"`
}

const (
	rootSegment  = "session"
	indexSegment = "index"
	eventSegment = "event"
)

func indexKey(id string) kv.Key {
	return kv.Key{rootSegment, id, indexSegment}
}

func eventKey(id string, seq uint64) kv.Key {
	return kv.Key{rootSegment, id, eventSegment, fmt.Sprintf("%08d", seq)}
}

func eventPrefix(id string) kv.Key {
	return kv.Key{rootSegment, id, eventSegment}
}

func sessionPrefix(id string) kv.Key {
	return kv.Key{rootSegment, id}
}

// isIndexKey reports whether key addresses a session index record.
func isIndexKey(k kv.Key) bool {
	return len(k) == 3 && k[0] == rootSegment && k[2] == indexSegment
}

// Store reads and deletes transcripts over a kv store. The write side
// is Recorder.
type Store struct {
	kv kv.Store
}

// NewStore wraps a kv store. The caller keeps ownership of the store
// and closes it.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// List returns the index records of every recorded session, newest
// first. Malformed records are skipped.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var out []Record
	for entry, err := range s.kv.List(ctx, kv.Key{rootSegment}) {
		if err != nil {
			return nil, err
		}
		if !isIndexKey(entry.Key) {
			continue
		}
		var rec Record
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			continue // skip malformed entries
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns one session's index record, or nil when the session was
// never recorded.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.kv.Get(ctx, indexKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("transcript: decode index %s: %w", id, err)
	}
	return &rec, nil
}

// Events returns a session's events in emission order. Malformed
// entries are skipped.
func (s *Store) Events(ctx context.Context, id string) ([]Event, error) {
	var out []Event
	for entry, err := range s.kv.List(ctx, eventPrefix(id)) {
		if err != nil {
			return nil, err
		}
		var ev Event
		if err := msgpack.Unmarshal(entry.Value, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Purge deletes one session's index and events. Returns the number of
// records removed.
func (s *Store) Purge(ctx context.Context, id string) (int, error) {
	var keys []kv.Key
	for entry, err := range s.kv.List(ctx, sessionPrefix(id)) {
		if err != nil {
			return 0, err
		}
		keys = append(keys, entry.Key)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.kv.BatchDelete(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
