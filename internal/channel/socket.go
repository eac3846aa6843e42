package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

// Default reconnection parameters.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
)

// Conn is the subset of the websocket connection the socket uses. Tests
// inject fakes through the Dialer.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

func defaultDialer(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// frame is the envelope for every message in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// joinPayload subscribes the connection to a conversation.
type joinPayload struct {
	ChatID string `json:"chatId"`
}

// audioPayload carries an outbound voice note.
type audioPayload struct {
	ChatID string `json:"chatId"`
	Audio  string `json:"audio"`
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	// URL is the websocket endpoint.
	URL string

	// Dialer opens connections. Defaults to a coder/websocket dial.
	Dialer Dialer

	// BaseDelay is the first reconnect delay. Doubles each attempt.
	// Defaults to 1s if zero.
	BaseDelay time.Duration

	// MaxAttempts is the number of reconnection attempts before the
	// channel is declared down. Defaults to 3 if zero.
	MaxAttempts int
}

// Socket implements Channel over a websocket with automatic reconnection.
// A dropped connection is retried with exponential backoff; the chat
// subscription is replayed on the new connection. Once attempts are
// exhausted the streams close and Err reports ErrChannelDown.
type Socket struct {
	url         string
	dialer      Dialer
	baseDelay   time.Duration
	maxAttempts int

	responses chan AIResponse
	updates   chan ChatUpdate

	mu     sync.Mutex
	conn   Conn
	chatID string
	err    error
	closed bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSocket creates a socket channel from the configuration.
func NewSocket(cfg SocketConfig) *Socket {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = defaultDialer
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Socket{
		url:         cfg.URL,
		dialer:      dialer,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		responses:   make(chan AIResponse, 16),
		updates:     make(chan ChatUpdate, 16),
	}
}

// Connect implements Channel.
func (s *Socket) Connect(ctx context.Context) error {
	conn, err := s.dialer(ctx, s.url)
	if err != nil {
		return fmt.Errorf("channel connect: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, loopCtx := errgroup.WithContext(loopCtx)

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.group = g
	s.mu.Unlock()

	g.Go(func() error {
		return s.receiveLoop(loopCtx)
	})
	log.Debug("assistant channel connected", "url", s.url)
	return nil
}

// JoinChat implements Channel.
func (s *Socket) JoinChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.chatID = chatID
	s.mu.Unlock()
	return s.send(ctx, "join-chat", joinPayload{ChatID: chatID})
}

// SendAudio implements Channel.
func (s *Socket) SendAudio(ctx context.Context, payload string) error {
	s.mu.Lock()
	chatID := s.chatID
	s.mu.Unlock()
	return s.send(ctx, "audio-message", audioPayload{ChatID: chatID, Audio: payload})
}

// Responses implements Channel.
func (s *Socket) Responses() <-chan AIResponse {
	return s.responses
}

// Updates implements Channel.
func (s *Socket) Updates() <-chan ChatUpdate {
	return s.updates
}

// Err implements Channel.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Channel.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if group != nil {
		_ = group.Wait()
	}
	return nil
}

// send marshals a frame and writes it to the current connection.
func (s *Socket) send(ctx context.Context, event string, data any) error {
	s.mu.Lock()
	conn := s.conn
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if conn == nil {
		return ErrNotConnected
	}

	raw, merr := json.Marshal(data)
	if merr != nil {
		return fmt.Errorf("encoding %s payload: %w", event, merr)
	}
	f, merr := json.Marshal(frame{Event: event, Data: raw})
	if merr != nil {
		return fmt.Errorf("encoding %s frame: %w", event, merr)
	}
	if werr := conn.Write(ctx, websocket.MessageText, f); werr != nil {
		return fmt.Errorf("sending %s: %w", event, werr)
	}
	return nil
}

// receiveLoop reads frames until the connection drops, then reconnects.
// The loop exits when the context is canceled, the socket is closed, or
// reconnection attempts run out.
func (s *Socket) receiveLoop(ctx context.Context) error {
	defer close(s.responses)
	defer close(s.updates)

	for {
		s.mu.Lock()
		conn := s.conn
		closed := s.closed
		s.mu.Unlock()
		if closed || conn == nil {
			return nil
		}

		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			log.Warn("assistant channel dropped", "error", err)
			if rerr := s.reconnect(ctx); rerr != nil {
				s.mu.Lock()
				s.err = rerr
				s.conn = nil
				s.mu.Unlock()
				return rerr
			}
			continue
		}
		s.dispatch(ctx, msg)
	}
}

// dispatch decodes one inbound frame and forwards it to the right stream.
// Unknown events and malformed frames are logged and dropped.
func (s *Socket) dispatch(ctx context.Context, msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		log.Warn("discarding malformed channel frame", "error", err)
		return
	}

	switch f.Event {
	case "ai-response":
		var resp AIResponse
		if err := json.Unmarshal(f.Data, &resp); err != nil {
			log.Warn("discarding malformed ai-response", "error", err)
			return
		}
		select {
		case s.responses <- resp:
		case <-ctx.Done():
		}
	case "chat-update":
		var upd ChatUpdate
		if err := json.Unmarshal(f.Data, &upd); err != nil {
			log.Warn("discarding malformed chat-update", "error", err)
			return
		}
		select {
		case s.updates <- upd:
		case <-ctx.Done():
		}
	default:
		log.Debug("ignoring channel event", "event", f.Event)
	}
}

// reconnect redials with exponential backoff and replays the chat
// subscription. The delay for attempt n is BaseDelay * 2^n.
func (s *Socket) reconnect(ctx context.Context) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		delay := s.baseDelay << attempt

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if s.isClosed() {
			return nil
		}

		log.Info("reconnecting assistant channel",
			"attempt", attempt+1,
			"max_attempts", s.maxAttempts,
			"delay", delay,
		)

		conn, err := s.dialer(ctx, s.url)
		if err != nil {
			log.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		s.mu.Lock()
		old := s.conn
		s.conn = conn
		chatID := s.chatID
		s.mu.Unlock()
		if old != nil {
			_ = old.Close(websocket.StatusAbnormalClosure, "replaced")
		}

		if chatID != "" {
			if err := s.send(ctx, "join-chat", joinPayload{ChatID: chatID}); err != nil {
				log.Warn("rejoining chat after reconnect failed", "error", err)
				continue
			}
		}
		log.Info("assistant channel reconnected", "attempt", attempt+1)
		return nil
	}
	log.Error("assistant channel down", "attempts", s.maxAttempts)
	return ErrChannelDown
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ensure Socket implements Channel interface
var _ Channel = (*Socket)(nil)
