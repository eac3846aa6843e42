package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeConn is a scriptable connection. Reads block on the inbound channel;
// writes are recorded.
type fakeConn struct {
	inbound chan []byte
	readErr chan error

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg := <-c.inbound:
		return websocket.MessageText, msg, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentFrames(t *testing.T) []frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]frame, 0, len(c.writes))
	for _, w := range c.writes {
		var f frame
		if err := json.Unmarshal(w, &f); err != nil {
			t.Fatalf("sent frame is not valid JSON: %v", err)
		}
		frames = append(frames, f)
	}
	return frames
}

func (c *fakeConn) deliver(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	f, err := json.Marshal(frame{Event: event, Data: raw})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.inbound <- f
}

// scriptDialer hands out connections in order and fails with err once the
// script runs out.
type scriptDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	calls int
}

func (d *scriptDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.conns) == 0 {
		return nil, d.err
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func newTestSocket(d *scriptDialer) *Socket {
	return NewSocket(SocketConfig{
		URL:         "wss://example.com/chat",
		Dialer:      d.dial,
		BaseDelay:   time.Millisecond,
		MaxAttempts: 3,
	})
}

// TestJoinAndSendAudio verifies the outbound frame shapes.
func TestJoinAndSendAudio(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{conns: []*fakeConn{conn}}
	s := newTestSocket(d)
	defer s.Close()

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.JoinChat(ctx, "chat-7"); err != nil {
		t.Fatalf("JoinChat() error = %v", err)
	}
	if err := s.SendAudio(ctx, "UklGRg=="); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	frames := conn.sentFrames(t)
	if len(frames) != 2 {
		t.Fatalf("sent %d frames, want 2", len(frames))
	}
	if frames[0].Event != "join-chat" {
		t.Errorf("first event = %q, want join-chat", frames[0].Event)
	}
	var join joinPayload
	if err := json.Unmarshal(frames[0].Data, &join); err != nil || join.ChatID != "chat-7" {
		t.Errorf("join payload = %s, want chatId chat-7", frames[0].Data)
	}
	if frames[1].Event != "audio-message" {
		t.Errorf("second event = %q, want audio-message", frames[1].Event)
	}
	var audio audioPayload
	if err := json.Unmarshal(frames[1].Data, &audio); err != nil {
		t.Fatalf("audio payload: %v", err)
	}
	if audio.ChatID != "chat-7" || audio.Audio != "UklGRg==" {
		t.Errorf("audio payload = %+v, want chat-7 with payload", audio)
	}
}

// TestResponseDispatch verifies inbound frames land on the right streams
// and unknown events are dropped.
func TestResponseDispatch(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{conns: []*fakeConn{conn}}
	s := newTestSocket(d)
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn.deliver(t, "presence", map[string]string{"user": "x"})
	conn.deliver(t, "ai-response", AIResponse{
		Content:    "hello",
		Audio:      "bW9jaw==",
		MessageID:  "msg-1",
		IsComplete: false,
	})
	conn.deliver(t, "chat-update", ChatUpdate{
		ChatID:         "chat-7",
		MessageID:      "msg-1",
		HostedAudioURL: "https://cdn.example.com/msg-1.mp3",
	})

	select {
	case resp := <-s.Responses():
		if resp.MessageID != "msg-1" || resp.Audio != "bW9jaw==" {
			t.Errorf("response = %+v, want msg-1 with audio", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ai-response")
	}

	select {
	case upd := <-s.Updates():
		if upd.HostedAudioURL != "https://cdn.example.com/msg-1.mp3" {
			t.Errorf("update = %+v, want hosted URL", upd)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chat-update")
	}
}

// TestReconnectReplaysSubscription verifies a dropped connection is
// replaced and the chat join is replayed on the new connection.
func TestReconnectReplaysSubscription(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	d := &scriptDialer{conns: []*fakeConn{first, second}}
	s := newTestSocket(d)
	defer s.Close()

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.JoinChat(ctx, "chat-7"); err != nil {
		t.Fatalf("JoinChat() error = %v", err)
	}

	first.readErr <- errors.New("connection reset")

	// The replacement connection must carry the replayed join.
	deadline := time.After(2 * time.Second)
	for {
		frames := second.sentFrames(t)
		if len(frames) > 0 {
			if frames[0].Event != "join-chat" {
				t.Fatalf("first frame after reconnect = %q, want join-chat", frames[0].Event)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for rejoin after reconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The stream keeps working on the new connection.
	second.deliver(t, "ai-response", AIResponse{MessageID: "msg-2"})
	select {
	case resp := <-s.Responses():
		if resp.MessageID != "msg-2" {
			t.Errorf("response = %+v, want msg-2", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-reconnect response")
	}
}

// TestReconnectExhaustion verifies the terminal path: attempts run out,
// streams close and Err reports the outage.
func TestReconnectExhaustion(t *testing.T) {
	conn := newFakeConn()
	d := &scriptDialer{
		conns: []*fakeConn{conn},
		err:   fmt.Errorf("dial tcp: connection refused"),
	}
	s := newTestSocket(d)
	defer s.Close()

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn.readErr <- errors.New("connection reset")

	select {
	case _, ok := <-s.Responses():
		if ok {
			t.Fatal("expected closed responses stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}

	if !errors.Is(s.Err(), ErrChannelDown) {
		t.Errorf("Err() = %v, want ErrChannelDown", s.Err())
	}
	// Initial dial plus three failed retries.
	if d.calls != 4 {
		t.Errorf("dial calls = %d, want 4", d.calls)
	}

	if err := s.SendAudio(ctx, "payload"); !errors.Is(err, ErrChannelDown) {
		t.Errorf("SendAudio() after outage error = %v, want ErrChannelDown", err)
	}
}
