package channel

import (
	"context"
	"errors"
)

// ErrChannelDown is returned once reconnection attempts are exhausted. The
// channel is terminal; callers surface the outage instead of queueing
// messages into the void.
var ErrChannelDown = errors.New("assistant channel is down")

// ErrNotConnected is returned for sends before Connect or after Close.
var ErrNotConnected = errors.New("assistant channel is not connected")

// AIResponse is one assistant reply chunk. Audio carries the base64 payload
// for immediate playback; HostedAudioURL arrives later, once the backend
// has persisted the chunk, and may be empty.
type AIResponse struct {
	Content         string `json:"content"`
	Audio           string `json:"audio"`
	IsComplete      bool   `json:"isComplete"`
	TranscribedText string `json:"transcribedText"`
	MessageID       string `json:"messageId"`
	HostedAudioURL  string `json:"hostedAudioUrl"`
}

// ChatUpdate announces server-side changes to an already delivered message,
// such as the hosted audio URL becoming available.
type ChatUpdate struct {
	ChatID         string `json:"chatId"`
	MessageID      string `json:"messageId"`
	HostedAudioURL string `json:"hostedAudioUrl"`
}

// Channel is the real-time assistant connection. Implementations own
// reconnection; consumers see a single logical stream that either delivers
// events or terminates with ErrChannelDown.
type Channel interface {
	// Connect establishes the connection and starts the receive loop.
	Connect(ctx context.Context) error
	// JoinChat subscribes to a conversation. The subscription survives
	// reconnects.
	JoinChat(ctx context.Context, chatID string) error
	// SendAudio submits a recorded voice note as a base64 payload.
	SendAudio(ctx context.Context, payload string) error
	// Responses streams assistant reply chunks. Closed when the channel
	// goes down or is closed.
	Responses() <-chan AIResponse
	// Updates streams post-delivery message updates.
	Updates() <-chan ChatUpdate
	// Err reports why the streams closed, or nil after a clean Close.
	Err() error
	// Close tears the connection down.
	Close() error
}
