// SPDX-License-Identifier: MIT

package transcode

import (
	"strings"
	"sync"
)

// LineRing is a thread-safe ring buffer holding the last N lines of a
// subprocess's diagnostic stream. An encode can run for minutes and emit
// unbounded stderr; only the tail is ever useful for a failure message.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// NewLineRing creates a LineRing with the given capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 64
	}
	return &LineRing{lines: make([]string, capacity), size: capacity}
}

// Write implements io.Writer, splitting input into lines. Partial-line writes
// are not reassembled; stderr from ffmpeg is line oriented in practice.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns the last n lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// ErrorTail returns the lines matching common ffmpeg failure markers, falling
// back to the plain tail when nothing matches.
func (r *LineRing) ErrorTail(n int) []string {
	all := r.LastN(r.size)
	matched := make([]string, 0, n)
	for _, line := range all {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "invalid") {
			matched = append(matched, line)
		}
	}
	if len(matched) == 0 {
		return r.LastN(n)
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}
