package player

import (
	"context"
	"fmt"

	"github.com/voxbuzz/voxqueue/internal/queue"
)

// EngineState mirrors the playback states reported by the external engine.
type EngineState int

const (
	// EngineBuffering means the engine is fetching or decoding audio.
	EngineBuffering EngineState = iota
	// EnginePlaying means audio output is running.
	EnginePlaying
	// EnginePaused means playback is suspended and resumable.
	EnginePaused
	// EngineStopped means playback was stopped explicitly.
	EngineStopped
	// EngineEnded means the current entry finished naturally.
	EngineEnded
	// EngineErrored means the engine reported an unrecoverable condition.
	EngineErrored
)

// String returns the string representation of the state.
func (s EngineState) String() string {
	switch s {
	case EngineBuffering:
		return "buffering"
	case EnginePlaying:
		return "playing"
	case EnginePaused:
		return "paused"
	case EngineStopped:
		return "stopped"
	case EngineEnded:
		return "ended"
	case EngineErrored:
		return "error"
	default:
		return "unknown"
	}
}

// EventHandler receives asynchronous engine events. Handlers may be invoked
// from arbitrary goroutines; the Driver serializes internally.
type EventHandler interface {
	// TrackChanged fires when the engine advances to a new entry. hasNext
	// is false when the engine ran past the final entry.
	TrackChanged(entryID string, hasNext bool)
	// StateChanged fires on every engine state transition.
	StateChanged(state EngineState)
	// QueueEnded fires when the loaded queue is exhausted.
	QueueEnded()
	// PlaybackError fires when a single entry failed to play.
	PlaybackError(entryID string, err error)
}

// Engine is the external playback engine contract. Exactly one Driver owns
// an Engine instance; no other component issues commands to it.
type Engine interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, entries []queue.Entry) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Skip(ctx context.Context, index int) error
	Queue(ctx context.Context) ([]queue.Entry, error)
	CurrentIndex(ctx context.Context) (int, error)
	Subscribe(h EventHandler)
}

// EngineError wraps an engine-reported failure for a single entry. It is
// retryable in the sense that the driver drops the entry and continues; the
// session survives.
type EngineError struct {
	EntryID string
	Err     error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("playback engine error on entry %s: %v", e.EntryID, e.Err)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}
