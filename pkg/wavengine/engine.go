package wavengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/voxbuzz/voxqueue/internal/player"
	"github.com/voxbuzz/voxqueue/internal/queue"
)

// Config contains the output format of the engine. Every queued WAV file
// must match it; oto contexts cannot change format after creation.
type Config struct {
	SampleRate int // 44100 or 48000 Hz only
	Channels   int // 1 = mono, 2 = stereo
	FetchTTL   time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		Channels:   1,
		FetchTTL:   30 * time.Second,
	}
}

// Engine plays 16-bit PCM WAV entries through oto. Entries reference local
// files or HTTP URLs; each is fetched, decoded and streamed in order, with
// events delivered to the subscribed handler.
type Engine struct {
	otoCtx *oto.Context
	cfg    Config
	client *http.Client

	mu      sync.Mutex
	entries []queue.Entry
	index   int
	handler player.EventHandler
	oto     *oto.Player
	// pcm keeps the decoded samples alive while oto reads them.
	pcm        []byte
	paused     bool
	generation uint64
	closed     bool
}

// New creates the engine and opens the audio device.
func New(cfg Config) (*Engine, error) {
	if cfg.SampleRate != 44100 && cfg.SampleRate != 48000 {
		return nil, fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", cfg.Channels)
	}
	if cfg.FetchTTL <= 0 {
		cfg.FetchTTL = DefaultConfig().FetchTTL
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("creating audio context: %w", err)
	}
	<-ready

	return &Engine{
		otoCtx: otoCtx,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTTL},
	}, nil
}

// Reset implements player.Engine.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.generation++
	e.stopLocked()
	e.entries = nil
	e.index = 0
	e.paused = false
	e.mu.Unlock()
	return nil
}

// Add implements player.Engine.
func (e *Engine) Add(ctx context.Context, entries []queue.Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	e.entries = append(e.entries, entries...)
	return nil
}

// Play implements player.Engine. A paused entry resumes in place; otherwise
// playback starts at the current index.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.New("engine is closed")
	}
	if e.paused && e.oto != nil {
		e.paused = false
		p := e.oto
		handler := e.handler
		e.mu.Unlock()
		p.Play()
		if handler != nil {
			handler.StateChanged(player.EnginePlaying)
		}
		return nil
	}
	if e.oto != nil {
		// Already playing.
		e.mu.Unlock()
		return nil
	}
	if e.index >= len(e.entries) {
		e.mu.Unlock()
		return errors.New("no entry to play")
	}
	gen := e.generation
	e.mu.Unlock()

	go e.run(gen)
	return nil
}

// Pause implements player.Engine.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if e.oto == nil || e.paused {
		e.mu.Unlock()
		return nil
	}
	e.paused = true
	p := e.oto
	handler := e.handler
	e.mu.Unlock()

	p.Pause()
	if handler != nil {
		handler.StateChanged(player.EnginePaused)
	}
	return nil
}

// Skip implements player.Engine. The current entry stops; the next Play
// starts from the new index.
func (e *Engine) Skip(ctx context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.entries) {
		return fmt.Errorf("skip index %d out of range [0,%d)", index, len(e.entries))
	}
	e.generation++
	e.stopLocked()
	e.index = index
	e.paused = false
	return nil
}

// Queue implements player.Engine.
func (e *Engine) Queue(ctx context.Context) ([]queue.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]queue.Entry, len(e.entries))
	copy(out, e.entries)
	return out, nil
}

// CurrentIndex implements player.Engine.
func (e *Engine) CurrentIndex(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index, nil
}

// Subscribe implements player.Engine.
func (e *Engine) Subscribe(h player.EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Close stops playback and releases the audio device reference.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.stopLocked()
	e.closed = true
	return nil
}

// run plays entries sequentially from the current index until the queue
// runs out or the generation is superseded by Reset or Skip.
func (e *Engine) run(gen uint64) {
	for {
		e.mu.Lock()
		if e.closed || e.generation != gen {
			e.mu.Unlock()
			return
		}
		if e.index >= len(e.entries) {
			handler := e.handler
			e.mu.Unlock()
			if handler != nil {
				handler.StateChanged(player.EngineEnded)
				handler.QueueEnded()
			}
			return
		}
		entry := e.entries[e.index]
		hasNext := e.index+1 < len(e.entries)
		handler := e.handler
		e.mu.Unlock()

		if handler != nil {
			handler.TrackChanged(entry.EntryID, true)
			handler.StateChanged(player.EngineBuffering)
		}

		if err := e.playEntry(gen, entry, handler); err != nil {
			if errors.Is(err, errSuperseded) {
				return
			}
			log.Warn("entry failed", "entry", entry.EntryID, "error", err)
			if handler != nil {
				handler.PlaybackError(entry.EntryID, err)
			}
			// The driver decides what happens next; this run is done.
			return
		}

		e.mu.Lock()
		if e.generation != gen {
			e.mu.Unlock()
			return
		}
		if hasNext {
			e.index++
			e.mu.Unlock()
			continue
		}
		e.index = len(e.entries)
		e.mu.Unlock()
	}
}

// errSuperseded aborts a run whose generation was invalidated mid-entry.
var errSuperseded = errors.New("playback superseded")

// playEntry fetches, decodes and plays one entry to completion.
func (e *Engine) playEntry(gen uint64, entry queue.Entry, handler player.EventHandler) error {
	raw, err := e.fetch(entry.AudioRef)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", entry.AudioRef, err)
	}
	pcm, format, err := decodeWAV(raw)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", entry.AudioRef, err)
	}
	if format.sampleRate != e.cfg.SampleRate || format.channels != e.cfg.Channels {
		return fmt.Errorf("format mismatch: file is %dHz/%dch, engine is %dHz/%dch",
			format.sampleRate, format.channels, e.cfg.SampleRate, e.cfg.Channels)
	}

	e.mu.Lock()
	if e.closed || e.generation != gen {
		e.mu.Unlock()
		return errSuperseded
	}
	e.pcm = pcm
	p := e.otoCtx.NewPlayer(bytes.NewReader(pcm))
	e.oto = p
	e.mu.Unlock()

	p.Play()
	if handler != nil {
		handler.StateChanged(player.EnginePlaying)
	}

	// Poll until oto drains the stream. Pauses keep IsPlaying false, so
	// the paused flag distinguishes them from completion.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		e.mu.Lock()
		if e.closed || e.generation != gen {
			e.mu.Unlock()
			return errSuperseded
		}
		paused := e.paused
		e.mu.Unlock()
		if paused {
			continue
		}
		if !p.IsPlaying() {
			break
		}
	}

	e.mu.Lock()
	e.stopLocked()
	e.mu.Unlock()
	return nil
}

// fetch loads WAV bytes from a local path or an HTTP URL.
func (e *Engine) fetch(ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		resp, err := e.client.Get(ref)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(ref)
}

// stopLocked closes the active oto player and releases the sample buffer.
// Callers hold e.mu.
func (e *Engine) stopLocked() {
	if e.oto != nil {
		e.oto.Pause()
		_ = e.oto.Close()
		e.oto = nil
	}
	e.pcm = nil
	e.paused = false
}

// Ensure Engine implements player.Engine interface
var _ player.Engine = (*Engine)(nil)
