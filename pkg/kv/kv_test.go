package kv_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/voxloop/voxloop/pkg/kv"
)

// backends lists every Store implementation under test. The same
// assertions run against each.
var backends = map[string]func(t *testing.T, opts *kv.Options) kv.Store{
	"memory": func(t *testing.T, opts *kv.Options) kv.Store {
		t.Helper()
		s := kv.NewMemory(opts)
		t.Cleanup(func() { s.Close() })
		return s
	},
	"badger": func(t *testing.T, opts *kv.Options) kv.Store {
		t.Helper()
		s, err := kv.NewBadger(kv.BadgerOptions{Options: opts, InMemory: true})
		if err != nil {
			t.Fatalf("NewBadger: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func TestGetSetDelete(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, nil)

			key := kv.Key{"session", "abc123", "event", "00000001"}
			val := []byte("hello")

			_, err := s.Get(ctx, key)
			if !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := s.Set(ctx, key, val); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != string(val) {
				t.Fatalf("Get = %q, want %q", got, val)
			}

			val2 := []byte("world")
			if err := s.Set(ctx, key, val2); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, err = s.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get after overwrite: %v", err)
			}
			if string(got) != string(val2) {
				t.Fatalf("Get = %q, want %q", got, val2)
			}

			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}

			// Deleting an absent key is fine.
			if err := s.Delete(ctx, kv.Key{"no", "such", "key"}); err != nil {
				t.Fatalf("Delete non-existent: %v", err)
			}
		})
	}
}

func TestList(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, nil)

			entries := []kv.Entry{
				{Key: kv.Key{"session", "s1", "event", "00000001"}, Value: []byte("a")},
				{Key: kv.Key{"session", "s1", "event", "00000002"}, Value: []byte("b")},
				{Key: kv.Key{"session", "s1", "meta"}, Value: []byte("m")},
				{Key: kv.Key{"session", "s2", "event", "00000001"}, Value: []byte("c")},
				{Key: kv.Key{"other", "x"}, Value: []byte("o")},
			}
			if err := s.BatchSet(ctx, entries); err != nil {
				t.Fatalf("BatchSet: %v", err)
			}

			var got []string
			for entry, err := range s.List(ctx, kv.Key{"session", "s1", "event"}) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				got = append(got, entry.Key.String()+"="+string(entry.Value))
			}
			want := []string{
				"session/s1/event/00000001=a",
				"session/s1/event/00000002=b",
			}
			if !slices.Equal(got, want) {
				t.Fatalf("List session/s1/event = %v, want %v", got, want)
			}

			got = nil
			for entry, err := range s.List(ctx, kv.Key{"session"}) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				got = append(got, entry.Key.String())
			}
			if len(got) != 4 {
				t.Fatalf("List session: got %d entries, want 4: %v", len(got), got)
			}

			got = nil
			for entry, err := range s.List(ctx, nil) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				got = append(got, entry.Key.String())
			}
			if len(got) != 5 {
				t.Fatalf("List all: got %d entries, want 5: %v", len(got), got)
			}
		})
	}
}

func TestListPrefixBoundary(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, nil)

			// Prefix "ab" must not match key "abc/x".
			entries := []kv.Entry{
				{Key: kv.Key{"ab", "1"}, Value: []byte("yes")},
				{Key: kv.Key{"abc", "2"}, Value: []byte("no")},
				{Key: kv.Key{"ab", "3"}, Value: []byte("yes")},
			}
			if err := s.BatchSet(ctx, entries); err != nil {
				t.Fatalf("BatchSet: %v", err)
			}

			var got []string
			for entry, err := range s.List(ctx, kv.Key{"ab"}) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				got = append(got, entry.Key.String())
			}
			want := []string{"ab/1", "ab/3"}
			if !slices.Equal(got, want) {
				t.Fatalf("List ab = %v, want %v", got, want)
			}
		})
	}
}

func TestBatchDelete(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, nil)

			entries := []kv.Entry{
				{Key: kv.Key{"a", "1"}, Value: []byte("v1")},
				{Key: kv.Key{"a", "2"}, Value: []byte("v2")},
				{Key: kv.Key{"a", "3"}, Value: []byte("v3")},
			}
			if err := s.BatchSet(ctx, entries); err != nil {
				t.Fatalf("BatchSet: %v", err)
			}

			if err := s.BatchDelete(ctx, []kv.Key{{"a", "1"}, {"a", "2"}}); err != nil {
				t.Fatalf("BatchDelete: %v", err)
			}

			if _, err := s.Get(ctx, kv.Key{"a", "1"}); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound for a/1, got %v", err)
			}
			got, err := s.Get(ctx, kv.Key{"a", "3"})
			if err != nil {
				t.Fatalf("Get a/3: %v", err)
			}
			if string(got) != "v3" {
				t.Fatalf("Get a/3 = %q, want %q", got, "v3")
			}
		})
	}
}

func TestValueIsolation(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory(nil)
	defer s.Close()

	key := kv.Key{"iso", "test"}
	original := []byte("original")

	if err := s.Set(ctx, key, original); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Mutating either slice must not reach the stored copy.
	original[0] = 'X'
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got[0] != 'o' {
		t.Fatal("store value was mutated via original slice")
	}
	got[0] = 'Y'
	got2, _ := s.Get(ctx, key)
	if got2[0] != 'o' {
		t.Fatal("store value was mutated via returned slice")
	}
}

func TestKeyWith(t *testing.T) {
	base := kv.Key{"session", "s1"}
	child := base.With("event", "00000001")
	if child.String() != "session/s1/event/00000001" {
		t.Fatalf("With = %q", child.String())
	}
	if base.String() != "session/s1" {
		t.Fatalf("base mutated: %q", base.String())
	}
}

func TestKeySegmentValidation(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory(nil)
	defer s.Close()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for key segment containing separator")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "contains separator") {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()

	_ = s.Set(ctx, kv.Key{"bad/seg", "x"}, []byte("v"))
}
