package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxbuzz/voxqueue/internal/channel"
	"github.com/voxbuzz/voxqueue/internal/media"
	"github.com/voxbuzz/voxqueue/internal/player"
	"github.com/voxbuzz/voxqueue/internal/queue"
)

var (
	// ErrNotReady is returned when a replay is requested but no audio for
	// the message survives locally or remotely.
	ErrNotReady = errors.New("no replayable audio for message")

	// ErrAdapterClosed is returned for operations after Teardown.
	ErrAdapterClosed = errors.New("chat adapter is closed")
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry. Assistant messages accumulate audio
// state: a local file while the chunk is fresh, a hosted URL once the
// backend persists it.
type Message struct {
	ID             string
	Role           Role
	Text           string
	HostedAudioURL string
}

// pendingChunk is one assistant audio chunk waiting for, or in, playback.
type pendingChunk struct {
	chunkID   string
	messageID string
	handle    *media.Handle
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	// ReplayGrace is how long a finished chunk's local file is kept for
	// replay before deletion.
	ReplayGrace time.Duration

	// ChatID is the conversation to join.
	ChatID string
}

// Adapter bridges the assistant channel to the playback driver. Reply
// chunks are materialized to local files and played strictly in arrival
// order, one at a time; the driver's queue-done signal paces the drain.
type Adapter struct {
	driver *player.Driver
	store  *media.Store
	ch     channel.Channel
	grace  time.Duration
	chatID string

	mu       sync.Mutex
	messages []Message
	pending  []pendingChunk
	playing  *pendingChunk
	// finished is the most recent completed chunk; replayable while its
	// local file survives the grace window.
	finished      *pendingChunk
	finishedAt    time.Time
	playingFailed bool
	chunkSeq      int
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates an adapter. The driver must be dedicated to chat
// playback while the adapter is live; the adapter registers itself as the
// driver's queue-done listener.
func NewAdapter(driver *player.Driver, store *media.Store, ch channel.Channel, cfg AdapterConfig) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		driver: driver,
		store:  store,
		ch:     ch,
		grace:  cfg.ReplayGrace,
		chatID: cfg.ChatID,
		ctx:    ctx,
		cancel: cancel,
	}
	driver.OnQueueDone(a.chunkFinished)
	driver.OnError(a.chunkErrored)
	return a
}

// Start joins the chat and begins consuming the channel streams. The
// channel must already be connected.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.ch.JoinChat(ctx, a.chatID); err != nil {
		return fmt.Errorf("joining chat %s: %w", a.chatID, err)
	}

	a.wg.Add(2)
	go a.consumeResponses()
	go a.consumeUpdates()
	return nil
}

// SendVoiceNote submits a recorded voice note as a base64 payload. The
// transcript gains the user message once the backend echoes the
// transcription back with the reply.
func (a *Adapter) SendVoiceNote(ctx context.Context, payload string) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrAdapterClosed
	}
	return a.ch.SendAudio(ctx, payload)
}

// Messages returns a snapshot of the transcript.
func (a *Adapter) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Replay replays an assistant message's audio. The message still loaded
// in the driver just toggles pause/resume. Anything else is reloaded:
// from the hosted copy once the backend has published one, otherwise from
// the local file while it survives the grace window. ErrNotReady means
// neither exists.
func (a *Adapter) Replay(ctx context.Context, messageID string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAdapterClosed
	}

	// Cheap path: same message still loaded.
	if a.playing != nil && a.playing.messageID == messageID {
		a.mu.Unlock()
		return a.driver.TogglePlayback(ctx)
	}

	if hosted := a.hostedURLLocked(messageID); hosted != "" {
		a.releasePlayingLocked()
		a.chunkSeq++
		chunk := pendingChunk{
			chunkID:   fmt.Sprintf("chunk-%d-hosted", a.chunkSeq),
			messageID: messageID,
		}
		a.playing = &chunk
		if a.finished != nil && a.finished.messageID == messageID {
			a.finished = nil
		}
		entries := queue.BuildSingle(chunk.chunkID, hosted, "Assistant", "Assistant")
		a.mu.Unlock()
		log.Debug("replaying from hosted copy", "message", messageID)
		return a.driver.Load(ctx, entries, nil)
	}

	// No hosted copy yet; the local file may still be in its grace window.
	chunk := a.finished
	if chunk == nil || chunk.messageID != messageID || chunk.handle == nil ||
		!a.store.FileExists(chunk.handle.Path) {
		a.mu.Unlock()
		return ErrNotReady
	}
	if err := a.store.MarkActive(chunk.handle); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("reactivating chunk file: %w", err)
	}
	age := time.Since(a.finishedAt)
	a.releasePlayingLocked()
	a.playing = chunk
	a.finished = nil
	entries := queue.BuildSingle(chunk.chunkID, chunk.handle.Path, "Assistant", "Assistant")
	a.mu.Unlock()
	log.Debug("replaying local chunk", "message", messageID, "age", age)
	return a.driver.Load(ctx, entries, nil)
}

// releasePlayingLocked hands a superseded chunk's file to deferred
// cleanup. Callers hold a.mu.
func (a *Adapter) releasePlayingLocked() {
	prev := a.playing
	a.playing = nil
	a.playingFailed = false
	if prev == nil || prev.handle == nil {
		return
	}
	if err := a.store.MarkInactive(prev.handle); err != nil {
		log.Warn("deactivating superseded chunk file", "chunk", prev.chunkID, "error", err)
	}
	if err := a.store.ScheduleCleanup(prev.handle, a.grace); err != nil {
		log.Warn("scheduling superseded chunk cleanup", "chunk", prev.chunkID, "error", err)
	}
}

// Teardown stops the stream consumers and releases every local file. The
// channel itself belongs to the caller and stays open.
func (a *Adapter) Teardown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.pending = nil
	a.playing = nil
	a.finished = nil
	a.mu.Unlock()

	a.cancel()
	if err := a.driver.Stop(ctx); err != nil {
		log.Warn("stopping driver during chat teardown", "error", err)
	}
	if err := a.store.Teardown(); err != nil {
		log.Warn("tearing down media store", "error", err)
	}
	a.wg.Wait()
	return nil
}

// consumeResponses drains the reply stream until it closes.
func (a *Adapter) consumeResponses() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case resp, ok := <-a.ch.Responses():
			if !ok {
				if err := a.ch.Err(); err != nil {
					log.Error("assistant channel terminated", "error", err)
				}
				return
			}
			a.handleResponse(resp)
		}
	}
}

// consumeUpdates drains the message-update stream until it closes.
func (a *Adapter) consumeUpdates() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case upd, ok := <-a.ch.Updates():
			if !ok {
				return
			}
			a.handleUpdate(upd)
		}
	}
}

// handleResponse records the transcript entries for one reply chunk and
// queues its audio. A chunk whose payload fails to materialize is dropped
// with an error log; the conversation continues.
func (a *Adapter) handleResponse(resp channel.AIResponse) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	if resp.TranscribedText != "" {
		if i := a.messageIndexLocked(resp.MessageID + "-user"); i >= 0 {
			a.messages[i].Text = resp.TranscribedText
		} else {
			a.messages = append(a.messages, Message{
				ID:   resp.MessageID + "-user",
				Role: RoleUser,
				Text: resp.TranscribedText,
			})
		}
	}
	if resp.Content != "" || resp.Audio != "" {
		// Deltas for one message accumulate into a single transcript entry.
		if i := a.messageIndexLocked(resp.MessageID); i >= 0 {
			a.messages[i].Text += resp.Content
			if resp.HostedAudioURL != "" {
				a.messages[i].HostedAudioURL = resp.HostedAudioURL
			}
		} else {
			a.messages = append(a.messages, Message{
				ID:             resp.MessageID,
				Role:           RoleAssistant,
				Text:           resp.Content,
				HostedAudioURL: resp.HostedAudioURL,
			})
		}
	}

	if resp.Audio == "" {
		a.mu.Unlock()
		return
	}

	a.chunkSeq++
	chunkID := fmt.Sprintf("chunk-%d", a.chunkSeq)
	a.mu.Unlock()

	handle, err := a.store.Materialize(resp.Audio)
	if err != nil {
		log.Error("dropping undecodable audio chunk", "message", resp.MessageID, "error", err)
		return
	}

	a.mu.Lock()
	a.pending = append(a.pending, pendingChunk{
		chunkID:   chunkID,
		messageID: resp.MessageID,
		handle:    handle,
	})
	idle := a.playing == nil
	a.mu.Unlock()

	if idle {
		a.playNext()
	}
}

// handleUpdate records a hosted URL for an already delivered message. The
// local file is left alone: a chunk still playing or inside its grace
// window keeps playing from disk, and the hosted copy only matters once
// the local one is gone.
func (a *Adapter) handleUpdate(upd channel.ChatUpdate) {
	if upd.HostedAudioURL == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := a.messageIndexLocked(upd.MessageID); i >= 0 {
		a.messages[i].HostedAudioURL = upd.HostedAudioURL
		log.Debug("hosted audio available", "message", upd.MessageID)
		return
	}
	log.Debug("hosted audio for unknown message", "message", upd.MessageID)
}

// playNext loads the oldest pending chunk into the driver.
func (a *Adapter) playNext() {
	a.mu.Lock()
	if a.closed || a.playing != nil || len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	chunk := a.pending[0]
	a.pending = a.pending[1:]
	a.playing = &chunk
	a.mu.Unlock()

	if err := a.store.MarkActive(chunk.handle); err != nil {
		log.Warn("activating chunk file", "chunk", chunk.chunkID, "error", err)
	}
	entries := queue.BuildSingle(chunk.chunkID, chunk.handle.Path, "Assistant", "Assistant")
	if err := a.driver.Load(a.ctx, entries, nil); err != nil {
		log.Error("loading chunk failed, dropping", "chunk", chunk.chunkID, "error", err)
		if derr := a.store.Delete(chunk.handle); derr != nil {
			log.Warn("deleting failed chunk file", "chunk", chunk.chunkID, "error", derr)
		}
		a.mu.Lock()
		a.playing = nil
		a.mu.Unlock()
		a.playNext()
	}
}

// chunkErrored marks the playing chunk for immediate deletion. The grace
// window only applies to chunks that completed.
func (a *Adapter) chunkErrored(err error) {
	var engErr *player.EngineError
	if !errors.As(err, &engErr) {
		return
	}
	a.mu.Lock()
	if a.playing != nil && a.playing.chunkID == engErr.EntryID {
		a.playingFailed = true
		log.Warn("chunk playback failed", "chunk", a.playing.chunkID, "error", engErr.Err)
	}
	a.mu.Unlock()
}

// chunkFinished fires on the driver's queue-done signal. A completed
// chunk's file drops to inactive with a deferred deletion; an immediate
// replay inside the grace window cancels it. A failed chunk's file goes
// straight away.
func (a *Adapter) chunkFinished() {
	a.mu.Lock()
	chunk := a.playing
	failed := a.playingFailed
	a.playing = nil
	a.playingFailed = false
	if chunk != nil && !failed {
		a.finished = chunk
		a.finishedAt = time.Now()
	}
	a.mu.Unlock()

	if chunk != nil && chunk.handle != nil {
		if failed {
			if err := a.store.Delete(chunk.handle); err != nil {
				log.Warn("deleting failed chunk file", "chunk", chunk.chunkID, "error", err)
			}
		} else {
			if err := a.store.MarkInactive(chunk.handle); err != nil {
				log.Warn("deactivating chunk file", "chunk", chunk.chunkID, "error", err)
			}
			if err := a.store.ScheduleCleanup(chunk.handle, a.grace); err != nil {
				log.Warn("scheduling chunk cleanup", "chunk", chunk.chunkID, "error", err)
			}
		}
	}
	a.playNext()
}

// hostedURLLocked returns the hosted URL for a message id, or empty.
// Callers hold a.mu.
func (a *Adapter) hostedURLLocked(messageID string) string {
	if i := a.messageIndexLocked(messageID); i >= 0 {
		return a.messages[i].HostedAudioURL
	}
	return ""
}

// messageIndexLocked returns the transcript index for a message id, or -1.
// Callers hold a.mu.
func (a *Adapter) messageIndexLocked(id string) int {
	for i := range a.messages {
		if a.messages[i].ID == id {
			return i
		}
	}
	return -1
}
