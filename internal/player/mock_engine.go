package player

import (
	"context"
	"sync"

	"github.com/voxbuzz/voxqueue/internal/queue"
)

// MockEngine implements Engine for testing purposes. It records every
// command and lets tests fire engine events at the subscribed handler.
type MockEngine struct {
	mu      sync.Mutex
	entries []queue.Entry
	index   int
	handler EventHandler

	// Injectable failures
	ResetErr error
	AddErr   error
	PlayErr  error
	PauseErr error
	SkipErr  error

	// Call counters
	ResetCount int
	AddCount   int
	PlayCount  int
	PauseCount int
	SkipCount  int
}

// NewMockEngine creates an empty mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Reset implements Engine.
func (m *MockEngine) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCount++
	if m.ResetErr != nil {
		return m.ResetErr
	}
	m.entries = nil
	m.index = 0
	return nil
}

// Add implements Engine.
func (m *MockEngine) Add(ctx context.Context, entries []queue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCount++
	if m.AddErr != nil {
		return m.AddErr
	}
	m.entries = append(m.entries, entries...)
	return nil
}

// Play implements Engine.
func (m *MockEngine) Play(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlayCount++
	return m.PlayErr
}

// Pause implements Engine.
func (m *MockEngine) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PauseCount++
	return m.PauseErr
}

// Skip implements Engine.
func (m *MockEngine) Skip(ctx context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkipCount++
	if m.SkipErr != nil {
		return m.SkipErr
	}
	m.index = index
	return nil
}

// Queue implements Engine.
func (m *MockEngine) Queue(ctx context.Context) ([]queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// CurrentIndex implements Engine.
func (m *MockEngine) CurrentIndex(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index, nil
}

// Subscribe implements Engine.
func (m *MockEngine) Subscribe(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Entries returns a copy of the loaded queue for assertions.
func (m *MockEngine) Entries() []queue.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Index returns the last skipped-to index.
func (m *MockEngine) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// FireTrackChanged delivers a track change event to the subscriber.
func (m *MockEngine) FireTrackChanged(entryID string, hasNext bool) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.TrackChanged(entryID, hasNext)
	}
}

// FireStateChanged delivers a state change event to the subscriber.
func (m *MockEngine) FireStateChanged(state EngineState) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.StateChanged(state)
	}
}

// FireQueueEnded delivers a queue ended event to the subscriber.
func (m *MockEngine) FireQueueEnded() {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.QueueEnded()
	}
}

// FirePlaybackError delivers a playback error event to the subscriber.
func (m *MockEngine) FirePlaybackError(entryID string, err error) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.PlaybackError(entryID, err)
	}
}

// Ensure MockEngine implements Engine interface
var _ Engine = (*MockEngine)(nil)
