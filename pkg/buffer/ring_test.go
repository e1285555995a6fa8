package buffer

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestRingAddNext(t *testing.T) {
	rb := NewRing[int](4)
	for i := 1; i <= 3; i++ {
		if err := rb.Add(i); err != nil {
			t.Fatalf("Add(%d) error: %v", i, err)
		}
	}
	if got := rb.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	for i := 1; i <= 3; i++ {
		v, err := rb.Next()
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if v != i {
			t.Errorf("Next = %d, want %d", v, i)
		}
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	rb := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		if err := rb.Add(i); err != nil {
			t.Fatalf("Add(%d) error: %v", i, err)
		}
	}
	if got := rb.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	got := rb.Items()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Items = %v, want %v", got, want)
		}
	}
}

func TestRingTryNext(t *testing.T) {
	rb := NewRing[string](2)

	t.Run("empty", func(t *testing.T) {
		_, ok, err := rb.TryNext()
		if err != nil {
			t.Fatalf("TryNext error: %v", err)
		}
		if ok {
			t.Error("TryNext on empty buffer reported ok")
		}
	})

	t.Run("one element", func(t *testing.T) {
		rb.Add("a")
		v, ok, err := rb.TryNext()
		if err != nil || !ok {
			t.Fatalf("TryNext = (%q, %v, %v), want (a, true, nil)", v, ok, err)
		}
		if v != "a" {
			t.Errorf("TryNext = %q, want a", v)
		}
	})

	t.Run("drained after close", func(t *testing.T) {
		rb.Add("b")
		rb.CloseWrite()
		if v, ok, err := rb.TryNext(); !ok || err != nil || v != "b" {
			t.Fatalf("TryNext = (%q, %v, %v), want (b, true, nil)", v, ok, err)
		}
		if _, _, err := rb.TryNext(); !errors.Is(err, ErrDone) {
			t.Errorf("TryNext after drain = %v, want ErrDone", err)
		}
	})
}

func TestRingNextBlocksUntilAdd(t *testing.T) {
	rb := NewRing[int](2)
	done := make(chan int, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := rb.Next()
		if err != nil {
			t.Errorf("Next error: %v", err)
			return
		}
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	rb.Add(42)
	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("Next = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after Add")
	}
	wg.Wait()
}

func TestRingCloseWithError(t *testing.T) {
	rb := NewRing[int](2)
	rb.Add(1)

	wantErr := errors.New("connection lost")
	rb.CloseWithError(wantErr)

	if _, err := rb.Next(); !errors.Is(err, wantErr) {
		t.Errorf("Next after close = %v, want %v", err, wantErr)
	}
	if err := rb.Add(2); !errors.Is(err, wantErr) {
		t.Errorf("Add after close = %v, want %v", err, wantErr)
	}
	if got := rb.Error(); !errors.Is(got, wantErr) {
		t.Errorf("Error = %v, want %v", got, wantErr)
	}
}

func TestRingCloseDefaultsToClosedPipe(t *testing.T) {
	rb := NewRing[int](2)
	rb.Close()
	if _, err := rb.Next(); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Next after Close = %v, want io.ErrClosedPipe", err)
	}
}

func TestRingReset(t *testing.T) {
	rb := NewRing[int](4)
	rb.Add(1)
	rb.Add(2)
	rb.Reset()
	if got := rb.Len(); got != 0 {
		t.Errorf("Len after Reset = %d, want 0", got)
	}
	if got := rb.Items(); got != nil {
		t.Errorf("Items after Reset = %v, want nil", got)
	}
}
