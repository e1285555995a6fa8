// Package kv is a small key-value store layer with hierarchical
// path-style keys, used for session transcripts and other durable
// per-session records. A BadgerDB implementation backs production
// use; the in-memory implementation serves tests.
package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path, one string per segment. Segments must
// not contain the store's separator byte.
type Key []string

// String renders the key with '/' between segments, for logs only.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// With returns a new key extending k by the given segments.
func (k Key) With(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Entry pairs a key with its stored value.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with prefix iteration.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set writes a value, replacing any previous one.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key Key) error

	// List yields all entries strictly under prefix, in lexicographic
	// order of the encoded key. A nil prefix lists everything.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet writes several entries in one transaction.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete removes several keys in one transaction.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases the store.
	Close() error
}

// DefaultSeparator joins key segments in the encoded form.
const DefaultSeparator byte = '/'

// Options carries settings shared by all Store implementations.
type Options struct {
	// Separator overrides DefaultSeparator when non-zero.
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

// encode joins the key segments with the separator. Panics if a
// segment contains the separator, since that would alias another key.
func (o *Options) encode(k Key) []byte {
	s := o.sep()
	n := 0
	for i, seg := range k {
		if strings.IndexByte(seg, s) >= 0 {
			panic(fmt.Sprintf("kv: key segment %q contains separator %q", seg, s))
		}
		if i > 0 {
			n++
		}
		n += len(seg)
	}
	buf := make([]byte, 0, n)
	for i, seg := range k {
		if i > 0 {
			buf = append(buf, s)
		}
		buf = append(buf, seg...)
	}
	return buf
}

// decode splits an encoded key back into segments.
func (o *Options) decode(b []byte) Key {
	parts := bytes.Split(b, []byte{o.sep()})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}
