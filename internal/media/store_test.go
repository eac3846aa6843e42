package media

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Teardown() })
	return s
}

func payload(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// waitForState polls until the handle reaches the state or the deadline
// passes. Cleanup timers fire on their own goroutines.
func waitForState(t *testing.T, s *Store, h *Handle, want HandleState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State(h) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("handle state = %v, want %v", s.State(h), want)
}

// TestMaterialize verifies decode, write and the initial Active state.
func TestMaterialize(t *testing.T) {
	s := newTestStore(t)

	h, err := s.Materialize(payload("mp3 bytes"))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	data, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("reading chunk file: %v", err)
	}
	if string(data) != "mp3 bytes" {
		t.Errorf("file contents = %q, want decoded payload", data)
	}
	if !strings.HasPrefix(filepath.Base(h.Path), "chunk_") {
		t.Errorf("file name = %s, want chunk_ prefix", filepath.Base(h.Path))
	}
	if !s.IsActive(h) {
		t.Error("fresh handle is not active")
	}
}

// TestMaterializeDataURL verifies the data-URL prefix is stripped.
func TestMaterializeDataURL(t *testing.T) {
	s := newTestStore(t)

	h, err := s.Materialize("data:audio/mp3;base64," + payload("x"))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	data, _ := os.ReadFile(h.Path)
	if string(data) != "x" {
		t.Errorf("file contents = %q, want x", data)
	}
}

// TestMaterializeBadPayload verifies the write sentinel.
func TestMaterializeBadPayload(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Materialize("not//valid//base64!!!"); !errors.Is(err, ErrWrite) {
		t.Errorf("Materialize() error = %v, want ErrWrite", err)
	}
}

// TestUniqueNames verifies concurrent-safe naming: two identical payloads
// land in distinct files.
func TestUniqueNames(t *testing.T) {
	s := newTestStore(t)
	h1, err := s.Materialize(payload("same"))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	h2, err := s.Materialize(payload("same"))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if h1.Path == h2.Path {
		t.Errorf("both payloads landed at %s", h1.Path)
	}
}

// TestScheduleCleanupSkipsActive verifies active files are never deleted
// by deferred cleanup.
func TestScheduleCleanupSkipsActive(t *testing.T) {
	s := newTestStore(t)
	h, _ := s.Materialize(payload("x"))

	if err := s.ScheduleCleanup(h, time.Millisecond); err != nil {
		t.Fatalf("ScheduleCleanup() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if !s.FileExists(h.Path) {
		t.Error("active file was deleted")
	}
	if s.State(h) != StateActive {
		t.Errorf("state = %v, want active", s.State(h))
	}
}

// TestCleanupAfterInactive verifies the normal lifecycle: inactive,
// scheduled, deleted.
func TestCleanupAfterInactive(t *testing.T) {
	s := newTestStore(t)
	h, _ := s.Materialize(payload("x"))

	if err := s.MarkInactive(h); err != nil {
		t.Fatalf("MarkInactive() error = %v", err)
	}
	if err := s.ScheduleCleanup(h, time.Millisecond); err != nil {
		t.Fatalf("ScheduleCleanup() error = %v", err)
	}
	waitForState(t, s, h, StateDeleted)
	if s.FileExists(h.Path) {
		t.Error("file survives cleanup")
	}
}

// TestReactivationCancelsCleanup verifies the replay race: re-activating
// between scheduling and expiry keeps the file.
func TestReactivationCancelsCleanup(t *testing.T) {
	s := newTestStore(t)
	h, _ := s.Materialize(payload("x"))

	if err := s.MarkInactive(h); err != nil {
		t.Fatalf("MarkInactive() error = %v", err)
	}
	if err := s.ScheduleCleanup(h, 100*time.Millisecond); err != nil {
		t.Fatalf("ScheduleCleanup() error = %v", err)
	}
	if err := s.MarkActive(h); err != nil {
		t.Fatalf("MarkActive() error = %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if !s.FileExists(h.Path) {
		t.Error("file deleted despite reactivation")
	}
	if s.State(h) != StateActive {
		t.Errorf("state = %v, want active", s.State(h))
	}
}

// TestScheduleCleanupDebounces verifies repeated scheduling collapses to
// one deletion at the latest deadline.
func TestScheduleCleanupDebounces(t *testing.T) {
	s := newTestStore(t)
	h, _ := s.Materialize(payload("x"))
	_ = s.MarkInactive(h)

	if err := s.ScheduleCleanup(h, 20*time.Millisecond); err != nil {
		t.Fatalf("ScheduleCleanup() error = %v", err)
	}
	if err := s.ScheduleCleanup(h, 150*time.Millisecond); err != nil {
		t.Fatalf("ScheduleCleanup() error = %v", err)
	}

	// The first deadline passes without effect.
	time.Sleep(60 * time.Millisecond)
	if !s.FileExists(h.Path) {
		t.Fatal("file deleted at superseded deadline")
	}
	waitForState(t, s, h, StateDeleted)
}

// TestDeleteImmediate verifies the no-wait deletion path.
func TestDeleteImmediate(t *testing.T) {
	s := newTestStore(t)
	h, _ := s.Materialize(payload("x"))

	if err := s.Delete(h); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.FileExists(h.Path) {
		t.Error("file survives immediate delete")
	}
	// Idempotent.
	if err := s.Delete(h); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

// TestTeardown verifies every file goes, active or not, and the store
// rejects further work.
func TestTeardown(t *testing.T) {
	s := newTestStore(t)
	active, _ := s.Materialize(payload("a"))
	pending, _ := s.Materialize(payload("b"))
	_ = s.MarkInactive(pending)
	_ = s.ScheduleCleanup(pending, time.Hour)

	if err := s.Teardown(); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if s.FileExists(active.Path) || s.FileExists(pending.Path) {
		t.Error("files survive teardown")
	}
	if _, err := s.Materialize(payload("c")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Materialize() after teardown error = %v, want ErrStoreClosed", err)
	}
	if err := s.MarkActive(active); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("MarkActive() after teardown error = %v, want ErrStoreClosed", err)
	}
}

// TestForeignHandleRejected verifies handles from another store session
// are refused.
func TestForeignHandleRejected(t *testing.T) {
	s1 := newTestStore(t)
	s2 := newTestStore(t)

	h, _ := s1.Materialize(payload("x"))
	if err := s2.MarkActive(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("MarkActive(foreign) error = %v, want ErrUnknownHandle", err)
	}
}
