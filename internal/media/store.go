package media

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

var (
	// ErrWrite indicates a payload could not be materialized to local
	// storage. Fatal to the single chunk, never to the session.
	ErrWrite = errors.New("failed to write audio payload")

	// ErrStoreClosed is returned when operations are attempted after Teardown.
	ErrStoreClosed = errors.New("media store is closed")

	// ErrUnknownHandle is returned for handles the store does not track.
	ErrUnknownHandle = errors.New("unknown media file handle")
)

// HandleState tracks where a materialized file is in its lifecycle.
type HandleState int

const (
	// StateActive means the file is needed for playback or immediate
	// replay and must not be deleted.
	StateActive HandleState = iota
	// StatePendingCleanup means a deferred deletion is armed.
	StatePendingCleanup
	// StateDeleted means the file has been removed from disk.
	StateDeleted
)

// String returns the string representation of the state.
func (s HandleState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePendingCleanup:
		return "pending-cleanup"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Handle identifies one materialized audio file. Handles are owned by the
// store that created them; all state lives in the store.
type Handle struct {
	Path    string
	session uint64
}

// sessionCounter gives every store instance a distinct, monotonically
// increasing session id so completions belonging to a dead session are
// detectable.
var sessionCounter atomic.Uint64

// fileEntry is the store-side record for one handle.
type fileEntry struct {
	state    HandleState
	deadline time.Time
	timer    *time.Timer
}

// Store materializes audio payloads into a private cache directory and
// manages deferred, cancelable deletion. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	dir     string
	session uint64
	entries map[string]*fileEntry
	closed  bool
}

// NewStore creates a store rooted at dir. When dir is empty the per-user
// cache directory is used. The directory is created if missing.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		scope := gap.NewScope(gap.User, "voxqueue")
		cacheDir, err := scope.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolving cache dir: %w", err)
		}
		dir = filepath.Join(cacheDir, "audio")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return &Store{
		dir:     dir,
		session: sessionCounter.Add(1),
		entries: make(map[string]*fileEntry),
	}, nil
}

// Dir returns the cache directory backing this store.
func (s *Store) Dir() string {
	return s.dir
}

// Session returns the store's session id.
func (s *Store) Session() uint64 {
	return s.session
}

// Materialize decodes a base64 audio payload and writes it to a new file in
// the cache directory. The returned handle starts Active. A data-URL prefix
// ("data:audio/mp3;base64,") is stripped if present.
func (s *Store) Materialize(payload string) (*Handle, error) {
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %v", ErrWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	path := filepath.Join(s.dir, newFileName())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	s.entries[path] = &fileEntry{state: StateActive}
	log.Debug("materialized audio chunk", "path", path, "bytes", len(data), "session", s.session)

	return &Handle{Path: path, session: s.session}, nil
}

// newFileName builds a collision-resistant filename from a timestamp and a
// random suffix.
func newFileName() string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("chunk_%d_%s.mp3", time.Now().UnixNano(), hex.EncodeToString(suffix[:]))
}

// MarkActive marks the handle as needed for playback or immediate replay.
// Idempotent. Re-activating a handle with a pending cleanup cancels the
// deletion.
func (s *Store) MarkActive(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryFor(h)
	if err != nil {
		return err
	}
	if e.state == StateDeleted {
		return fmt.Errorf("%w: %s already deleted", ErrUnknownHandle, h.Path)
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.state = StateActive
	e.deadline = time.Time{}
	return nil
}

// MarkInactive releases the replay protection on the handle. Idempotent; it
// does not by itself schedule a cleanup.
func (s *Store) MarkInactive(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryFor(h)
	if err != nil {
		return err
	}
	if e.state == StateActive {
		e.state = StatePendingCleanup
		e.deadline = time.Time{}
	}
	return nil
}

// IsActive reports whether the handle is currently protected from cleanup.
func (s *Store) IsActive(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h.Path]
	return ok && h.session == s.session && e.state == StateActive
}

// State returns the lifecycle state of the handle.
func (s *Store) State(h *Handle) HandleState {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h.Path]
	if !ok || h.session != s.session {
		return StateDeleted
	}
	return e.state
}

// ScheduleCleanup arms a deferred deletion for the handle. Active handles
// are skipped. A prior pending timer for the same handle is canceled and
// replaced, so repeated calls debounce to one deletion at the most recent
// deadline.
func (s *Store) ScheduleCleanup(h *Handle, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryFor(h)
	if err != nil {
		return err
	}
	if e.state == StateDeleted {
		return nil
	}
	if e.state == StateActive {
		log.Debug("keeping active audio file for replay", "path", h.Path)
		return nil
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.state = StatePendingCleanup
	e.deadline = time.Now().Add(delay)
	path := h.Path
	e.timer = time.AfterFunc(delay, func() {
		s.runCleanup(path, h.session)
	})
	log.Debug("scheduled audio file cleanup", "path", h.Path, "delay", delay)
	return nil
}

// runCleanup fires when a cleanup timer elapses. The Active check is
// repeated here: the gap between scheduling and firing is not atomic, and a
// replay may have re-activated the handle in the interim.
func (s *Store) runCleanup(path string, session uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || session != s.session {
		// The owning session is gone; teardown already handled the file.
		return
	}
	e, ok := s.entries[path]
	if !ok || e.state != StatePendingCleanup {
		return
	}
	s.deleteLocked(path, e)
}

// deleteLocked removes the file from disk and marks the entry deleted.
// Deleting a missing file is a no-op, not an error.
func (s *Store) deleteLocked(path string, e *fileEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to delete audio file", "path", path, "error", err)
	} else {
		log.Debug("deleted audio file", "path", path)
	}
	e.state = StateDeleted
}

// Delete removes the handle's file immediately regardless of pending
// timers. Used when playback of a chunk failed and the file has no further
// value.
func (s *Store) Delete(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryFor(h)
	if err != nil {
		return err
	}
	if e.state == StateDeleted {
		return nil
	}
	s.deleteLocked(h.Path, e)
	return nil
}

// FileExists reports whether the file behind the path is still on disk.
// Callers check this before handing a path to the playback engine; a replay
// request can race a cleanup timer that already fired.
func (s *Store) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Teardown cancels every pending timer and force-deletes every tracked file
// regardless of Active state. The store accepts no further operations.
func (s *Store) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for path, e := range s.entries {
		if e.state != StateDeleted {
			s.deleteLocked(path, e)
		}
	}
	log.Debug("media store torn down", "session", s.session, "files", len(s.entries))
	s.entries = make(map[string]*fileEntry)
	return nil
}

// entryFor resolves a handle to its store record, rejecting handles from
// other sessions and closed stores.
func (s *Store) entryFor(h *Handle) (*fileEntry, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if h == nil || h.session != s.session {
		return nil, ErrUnknownHandle
	}
	e, ok := s.entries[h.Path]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return e, nil
}
