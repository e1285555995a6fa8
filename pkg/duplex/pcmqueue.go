package duplex

import "sync"

// PCMQueue is a growable window of PCM samples shared between one
// producer and one consumer loop. The ingress accumulator and the
// egress buffer are both instances. Unlike a message queue, samples
// lose their framing on append; the consumer re-frames or drains as
// it sees fit.
type PCMQueue struct {
	mu      sync.Mutex
	samples []float32
}

// NewPCMQueue returns an empty queue.
func NewPCMQueue() *PCMQueue {
	return &PCMQueue{}
}

// Append adds samples to the end of the window.
func (q *PCMQueue) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	q.mu.Lock()
	q.samples = append(q.samples, samples...)
	q.mu.Unlock()
}

// Len returns the number of buffered samples.
func (q *PCMQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.samples)
}

// TakeFrame removes and returns exactly n samples from the front, or
// reports false when fewer are buffered.
func (q *PCMQueue) TakeFrame(n int) ([]float32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.samples) < n {
		return nil, false
	}
	frame := make([]float32, n)
	copy(frame, q.samples[:n])
	q.samples = q.samples[:copy(q.samples, q.samples[n:])]
	return frame, true
}

// DrainAll removes and returns everything buffered, oldest first.
func (q *PCMQueue) DrainAll() []float32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.samples) == 0 {
		return nil
	}
	out := make([]float32, len(q.samples))
	copy(out, q.samples)
	q.samples = q.samples[:0]
	return out
}

// EvictOlderThan drops all but the newest keep samples and returns
// how many were dropped. Keeping the newest end trades completeness
// for real-time responsiveness when the consumer has fallen behind.
func (q *PCMQueue) EvictOlderThan(keep int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.samples) <= keep {
		return 0
	}
	dropped := len(q.samples) - keep
	q.samples = q.samples[:copy(q.samples, q.samples[dropped:])]
	return dropped
}

// Reset empties the queue.
func (q *PCMQueue) Reset() {
	q.mu.Lock()
	q.samples = q.samples[:0]
	q.mu.Unlock()
}
