package cli

import (
	"strings"

	"github.com/voxloop/voxloop/pkg/buffer"
)

// LogWriter captures log output for terminal display: an io.Writer
// that keeps the most recent lines in a ring and signals arrivals on
// a channel so a TUI can redraw.
type LogWriter struct {
	ring *buffer.Ring[string]
	ch   chan string
}

// NewLogWriter keeps up to maxLines of output.
func NewLogWriter(maxLines int) *LogWriter {
	return &LogWriter{
		ring: buffer.NewRing[string](maxLines),
		ch:   make(chan string, 100),
	}
}

// Write splits p into lines and buffers each one. Notification sends
// never block; a slow reader just misses wakeups, not lines.
func (w *LogWriter) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	for _, line := range strings.Split(text, "\n") {
		w.ring.Add(line)
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}

// Lines returns the buffered lines, oldest first.
func (w *LogWriter) Lines() []string {
	return w.ring.Items()
}

// Channel signals each new line.
func (w *LogWriter) Channel() <-chan string {
	return w.ch
}
