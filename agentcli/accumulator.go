package agentcli

import (
	"strings"
	"sync"
)

// StreamAccumulator assembles the delta text of one assistant message.
//
// Thread-safe for concurrent append and read operations.
type StreamAccumulator struct {
	mu      sync.RWMutex
	content strings.Builder
	deltas  int
}

// NewStreamAccumulator creates an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Append adds a delta.
func (a *StreamAccumulator) Append(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content.WriteString(delta)
	a.deltas++
}

// Content returns the text so far.
func (a *StreamAccumulator) Content() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.content.String()
}

// Deltas returns how many deltas were appended.
func (a *StreamAccumulator) Deltas() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deltas
}
