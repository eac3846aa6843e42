package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/voxbuzz/voxqueue/internal/content"
	"github.com/voxbuzz/voxqueue/internal/queue"
)

var (
	// ErrModeUnsupported is returned when a dialogue-mode toggle is
	// requested for a source without conversation data. The toggle fails
	// closed; the active mode is unchanged.
	ErrModeUnsupported = errors.New("dialogue mode unavailable for current source")

	// ErrEmptyQueue is returned when Load is called with no entries.
	ErrEmptyQueue = errors.New("cannot load an empty queue")
)

// Projection is the read-only view of the current utterance exposed to the
// UI layer. It is updated on every track or state change.
type Projection struct {
	Text         string
	SpeakerLabel string
	SourceID     string
	IsPlaying    bool
	IsBuffering  bool
}

// sessionScope distinguishes how the loaded queue relates to the source list.
type sessionScope int

const (
	// scopeNone: an ad-hoc queue (assistant chunk), no source list semantics.
	scopeNone sessionScope = iota
	// scopeFull: the whole source list in one queue, transitions inline.
	scopeFull
	// scopeSingle: one source per queue; the driver hands off between
	// sources with a transition micro-queue.
	scopeSingle
)

// Driver owns the playback session. It is the single writer of session
// state: UI commands and engine events both funnel through it, so torn
// state between a user tap and an engine callback cannot occur. Engine
// callbacks may arrive interleaved with in-flight operations; every
// mutating path re-checks current state and generation before acting.
type Driver struct {
	engine Engine
	norm   *content.Normalizer

	mu      sync.Mutex
	loadMu  sync.Mutex // serializes engine reset/add/play sequences
	machine *stateMachine

	// generation is bumped by every Load and Stop; engine completions and
	// stale loads carrying an older generation are dropped.
	generation uint64

	sources       []content.Article
	sourceMode    content.SourceMode
	scope         sessionScope
	currentSource int

	entries []queue.Entry
	utts    []content.Utterance
	cursor  int

	handoff    bool // transition micro-queue in flight
	nextSource int

	projection   Projection
	onProjection func(Projection)
	onError      func(error)
	onQueueDone  func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a driver bound to the given engine. The driver subscribes to
// engine events immediately; exactly one driver must own an engine.
func New(engine Engine, norm *content.Normalizer) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		engine:  engine,
		norm:    norm,
		machine: newStateMachine(),
		cursor:  -1,
		ctx:     ctx,
		cancel:  cancel,
	}
	engine.Subscribe(d)
	return d
}

// OnProjection registers the projection callback. Called on every track and
// state change, outside driver locks.
func (d *Driver) OnProjection(fn func(Projection)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onProjection = fn
}

// OnError registers the callback for recoverable playback errors.
func (d *Driver) OnError(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onError = fn
}

// OnQueueDone registers the callback invoked when a loaded queue finishes
// naturally with nothing further to play.
func (d *Driver) OnQueueDone(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onQueueDone = fn
}

// Mode returns the current session mode.
func (d *Driver) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.mode()
}

// SourceMode returns the active utterance projection mode.
func (d *Driver) SourceMode() content.SourceMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sourceMode
}

// Current returns the projection snapshot.
func (d *Driver) Current() Projection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.projection
}

// CurrentEntry returns the entry under the cursor.
func (d *Driver) CurrentEntry() (queue.Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor < 0 || d.cursor >= len(d.entries) {
		return queue.Entry{}, false
	}
	return d.entries[d.cursor], true
}

// StartSession normalizes the full source list under the given mode and
// loads it as one queue with transitions inline.
func (d *Driver) StartSession(ctx context.Context, articles []content.Article, mode content.SourceMode) error {
	utts, err := d.norm.Normalize(articles, mode)
	if err != nil {
		return err
	}
	entries := queue.Build(utts)
	if len(entries) == 0 {
		return ErrEmptyQueue
	}

	d.mu.Lock()
	d.sources = articles
	d.sourceMode = mode
	d.scope = scopeFull
	d.currentSource = entries[0].SourceIndex
	d.mu.Unlock()

	return d.Load(ctx, entries, utts)
}

// PlaySource starts a per-source session beginning at the given source.
// Only that source's queue is loaded; when it runs out the driver plays the
// transition clip and hands off to the next contributing source.
func (d *Driver) PlaySource(ctx context.Context, articles []content.Article, mode content.SourceMode, index int) error {
	d.mu.Lock()
	d.sources = articles
	d.sourceMode = mode
	d.mu.Unlock()
	return d.loadSource(ctx, index)
}

// Load resets the engine, adds the entries and requests playback. Loads are
// serialized: a second Load while one is in flight supersedes the first,
// whose results are dropped.
func (d *Driver) Load(ctx context.Context, entries []queue.Entry, utts []content.Utterance) error {
	if len(entries) == 0 {
		return ErrEmptyQueue
	}

	d.mu.Lock()
	d.generation++
	gen := d.generation
	if !d.machine.transition(ModeLoading) {
		// Error is the only mode Loading is unreachable from via the
		// table; recover through Idle.
		d.machine.transition(ModeIdle)
		d.machine.transition(ModeLoading)
	}
	d.mu.Unlock()

	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		log.Debug("load superseded before engine touched", "generation", gen)
		return nil
	}
	d.mu.Unlock()

	if err := d.engine.Reset(ctx); err != nil {
		return d.failLoad(gen, fmt.Errorf("engine reset: %w", err))
	}
	if err := d.engine.Add(ctx, entries); err != nil {
		return d.failLoad(gen, fmt.Errorf("engine add: %w", err))
	}
	if err := d.engine.Play(ctx); err != nil {
		return d.failLoad(gen, fmt.Errorf("engine play: %w", err))
	}

	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		log.Debug("load superseded mid-flight", "generation", gen)
		return nil
	}
	d.entries = entries
	d.utts = utts
	d.cursor = 0
	d.machine.transition(ModePlaying)
	d.refreshProjectionLocked()
	emit := d.projectionEmitLocked()
	d.mu.Unlock()
	emit()
	return nil
}

func (d *Driver) failLoad(gen uint64, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation != gen {
		return nil
	}
	d.machine.transition(ModeError)
	d.machine.transition(ModeIdle)
	return err
}

// Stop clears the queue, resets the engine and returns the session to
// idle. In-flight loads and late engine completions are invalidated.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.generation++
	d.entries = nil
	d.utts = nil
	d.cursor = -1
	d.scope = scopeNone
	d.handoff = false
	d.machine.transition(ModeIdle)
	d.projection = Projection{}
	emit := d.projectionEmitLocked()
	d.mu.Unlock()
	emit()

	return d.engine.Reset(ctx)
}

// Shutdown tears the session down and releases the driver.
func (d *Driver) Shutdown(ctx context.Context) error {
	err := d.Stop(ctx)
	d.cancel()
	return err
}

// TogglePlayback flips between playing and paused. No-op in every other
// mode.
func (d *Driver) TogglePlayback(ctx context.Context) error {
	d.mu.Lock()
	mode := d.machine.mode()
	d.mu.Unlock()

	switch mode {
	case ModePlaying:
		if err := d.engine.Pause(ctx); err != nil {
			return fmt.Errorf("engine pause: %w", err)
		}
		d.setMode(ModePaused)
	case ModePaused:
		if err := d.engine.Play(ctx); err != nil {
			return fmt.Errorf("engine play: %w", err)
		}
		d.setMode(ModePlaying)
	default:
		log.Debug("toggle ignored", "mode", mode)
	}
	return nil
}

// AdvanceToNextSource skips to the first utterance of the nearest source
// after the current one. A source may have zero or many utterances, so this
// is not simply "next track". No-op when no later source exists.
func (d *Driver) AdvanceToNextSource(ctx context.Context) error {
	return d.advance(ctx, +1)
}

// AdvanceToPreviousSource skips to the first utterance of the nearest
// source before the current one.
func (d *Driver) AdvanceToPreviousSource(ctx context.Context) error {
	return d.advance(ctx, -1)
}

func (d *Driver) advance(ctx context.Context, dir int) error {
	d.mu.Lock()
	scope := d.scope
	cursor := d.cursor
	entries := d.entries
	current := d.currentSource
	d.mu.Unlock()

	switch scope {
	case scopeFull:
		var target int
		if dir > 0 {
			target = queue.NextSourceStart(entries, cursor)
		} else {
			target = queue.PreviousSourceStart(entries, cursor)
		}
		if target < 0 {
			return nil
		}
		if err := d.engine.Skip(ctx, target); err != nil {
			return fmt.Errorf("engine skip: %w", err)
		}
		return d.engine.Play(ctx)
	case scopeSingle:
		next := d.contributingSource(current, dir)
		if next < 0 {
			return nil
		}
		return d.loadSource(ctx, next)
	default:
		return nil
	}
}

// SetSourceMode switches between standard narration and dialogue for the
// current source only; the rest of the source list is rebuilt lazily as the
// user advances into it. When the current source cannot support dialogue
// the toggle fails closed with ErrModeUnsupported.
func (d *Driver) SetSourceMode(ctx context.Context, target content.SourceMode) error {
	d.mu.Lock()
	if target == d.sourceMode {
		d.mu.Unlock()
		return nil
	}
	if len(d.sources) == 0 {
		d.sourceMode = target
		d.mu.Unlock()
		return nil
	}
	src := d.sourceAt(d.currentSource)
	if target == content.ModeDialogue && (src == nil || !src.HasDialogue()) {
		d.mu.Unlock()
		return ErrModeUnsupported
	}
	idle := d.machine.mode() == ModeIdle
	d.sourceMode = target
	current := d.currentSource
	d.mu.Unlock()

	if idle {
		return nil
	}
	if err := d.engine.Pause(ctx); err != nil {
		log.Warn("pause before mode switch failed", "error", err)
	}
	return d.loadSource(ctx, current)
}

// loadSource builds and loads the queue for a single source under the
// active mode, switching the session into per-source scope.
func (d *Driver) loadSource(ctx context.Context, i int) error {
	d.mu.Lock()
	if i < 0 || i >= len(d.sources) {
		d.mu.Unlock()
		return fmt.Errorf("source index %d out of range", i)
	}
	src := d.sources[i]
	mode := d.sourceMode
	d.scope = scopeSingle
	d.currentSource = i
	d.mu.Unlock()

	utts := d.norm.SourceUtterances(&src, i, mode)
	if len(utts) == 0 {
		return fmt.Errorf("source %s has no utterances in %s mode", src.ID, mode)
	}
	return d.Load(ctx, queue.Build(utts), utts)
}

// TrackChanged implements EventHandler.
func (d *Driver) TrackChanged(entryID string, hasNext bool) {
	if !hasNext {
		return
	}

	d.mu.Lock()
	i := queue.Find(d.entries, entryID)
	if i < 0 {
		// Late event from a superseded queue.
		d.mu.Unlock()
		log.Debug("dropping track change for unknown entry", "entry", entryID)
		return
	}
	d.cursor = i
	e := d.entries[i]
	if !e.IsTransition() {
		d.currentSource = e.SourceIndex
	}
	d.refreshProjectionLocked()
	emit := d.projectionEmitLocked()
	d.mu.Unlock()
	emit()
}

// StateChanged implements EventHandler.
func (d *Driver) StateChanged(state EngineState) {
	switch state {
	case EngineBuffering:
		d.setMode(ModeBuffering)
	case EnginePlaying:
		d.setMode(ModePlaying)
	case EnginePaused:
		d.setMode(ModePaused)
	case EngineStopped, EngineEnded, EngineErrored:
		// Queue exhaustion and entry failures arrive as dedicated events.
	}
}

// QueueEnded implements EventHandler. In per-source scope the hand-off is
// two-phase: a transition-only micro-queue plays first, then the next
// source's queue. The engine has no "insert a sound between tracks"
// primitive, so the transition is modeled as sequential queue replacement.
func (d *Driver) QueueEnded() {
	d.mu.Lock()

	if d.handoff {
		d.handoff = false
		next := d.nextSource
		d.mu.Unlock()
		if err := d.loadSource(d.ctx, next); err != nil {
			d.reportError(fmt.Errorf("loading next source: %w", err))
		}
		return
	}

	if d.scope == scopeSingle {
		if next := d.contributingSource(d.currentSource, +1); next >= 0 {
			d.handoff = true
			d.nextSource = next
			src := d.sourceAt(d.currentSource)
			sourceID := ""
			if src != nil {
				sourceID = src.ID
			}
			tu := d.norm.TransitionUtterance(sourceID, d.currentSource)
			d.mu.Unlock()
			micro := []content.Utterance{tu}
			if err := d.Load(d.ctx, queue.Build(micro), micro); err != nil {
				d.reportError(fmt.Errorf("loading transition: %w", err))
			}
			return
		}
	}

	// Nothing further to play.
	d.machine.transition(ModeIdle)
	d.generation++
	d.entries = nil
	d.utts = nil
	d.cursor = -1
	d.projection = Projection{}
	done := d.onQueueDone
	emit := d.projectionEmitLocked()
	d.mu.Unlock()
	if err := d.engine.Reset(d.ctx); err != nil {
		log.Warn("engine reset after queue end failed", "error", err)
	}
	emit()
	if done != nil {
		done()
	}
}

// PlaybackError implements EventHandler. A failing entry is skipped, never
// the whole session: the driver advances to the next entry if one remains,
// otherwise treats the queue as ended.
func (d *Driver) PlaybackError(entryID string, err error) {
	wrapped := &EngineError{EntryID: entryID, Err: err}
	d.reportError(wrapped)

	d.mu.Lock()
	i := queue.Find(d.entries, entryID)
	if i < 0 {
		d.mu.Unlock()
		return
	}
	next := i + 1
	if next < len(d.entries) {
		d.mu.Unlock()
		log.Warn("entry failed, skipping to next", "entry", entryID, "error", err)
		if serr := d.engine.Skip(d.ctx, next); serr != nil {
			d.reportError(fmt.Errorf("skip past failed entry: %w", serr))
			return
		}
		if perr := d.engine.Play(d.ctx); perr != nil {
			d.reportError(fmt.Errorf("resume after failed entry: %w", perr))
		}
		return
	}
	d.mu.Unlock()
	log.Warn("final entry failed, ending queue", "entry", entryID, "error", err)
	d.QueueEnded()
}

// setMode applies an event-driven mode change and refreshes the projection.
func (d *Driver) setMode(m Mode) {
	d.mu.Lock()
	if !d.machine.transition(m) {
		d.mu.Unlock()
		return
	}
	d.refreshProjectionLocked()
	emit := d.projectionEmitLocked()
	d.mu.Unlock()
	emit()
}

// refreshProjectionLocked rebuilds the UI projection from the cursor.
func (d *Driver) refreshProjectionLocked() {
	mode := d.machine.mode()
	d.projection.IsPlaying = mode == ModePlaying || mode == ModeLoading
	d.projection.IsBuffering = mode == ModeBuffering || mode == ModeLoading

	if d.cursor < 0 || d.cursor >= len(d.entries) {
		d.projection.Text = ""
		d.projection.SpeakerLabel = ""
		d.projection.SourceID = ""
		return
	}
	e := d.entries[d.cursor]
	u, ok := queue.Resolve(d.entries, d.utts, e.EntryID)
	if !ok || u.IsTransition() {
		d.projection.Text = ""
		d.projection.SpeakerLabel = ""
		d.projection.SourceID = u.SourceID
		return
	}
	d.projection.Text = u.Text
	d.projection.SpeakerLabel = u.SpeakerLabel
	d.projection.SourceID = u.SourceID
}

// projectionEmitLocked captures the projection and its callback for
// invocation after the lock is released.
func (d *Driver) projectionEmitLocked() func() {
	fn := d.onProjection
	p := d.projection
	if fn == nil {
		return func() {}
	}
	return func() { fn(p) }
}

func (d *Driver) reportError(err error) {
	d.mu.Lock()
	fn := d.onError
	d.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// contributingSource finds the nearest source in the given direction that
// yields at least one utterance under the active mode, or -1.
func (d *Driver) contributingSource(from, dir int) int {
	for i := from + dir; i >= 0 && i < len(d.sources); i += dir {
		if len(d.norm.SourceUtterances(&d.sources[i], i, d.sourceMode)) > 0 {
			return i
		}
	}
	return -1
}

func (d *Driver) sourceAt(i int) *content.Article {
	if i < 0 || i >= len(d.sources) {
		return nil
	}
	return &d.sources[i]
}
