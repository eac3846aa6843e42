package config

import (
	"fmt"
	"time"
)

// Config holds every tunable of the narration engine. Values come from
// defaults, then the config file, then VOXQUEUE_* environment variables.
type Config struct {
	// CacheDir is where chunk audio files are materialized. Empty means
	// the per-user cache directory.
	CacheDir string `env:"CACHE_DIR"`

	// TransitionURL is the audio clip played between sources.
	TransitionURL string `env:"TRANSITION_URL"`

	// ReplayGrace is how long a finished chat chunk's local file is kept
	// for replay before deletion.
	ReplayGrace time.Duration `env:"REPLAY_GRACE"`

	// CleanupDelay is the debounce applied to deferred file deletions.
	CleanupDelay time.Duration `env:"CLEANUP_DELAY"`

	// ChannelURL is the assistant websocket endpoint.
	ChannelURL string `env:"CHANNEL_URL"`

	// ReconnectBaseDelay is the first reconnect delay for the assistant
	// channel. Doubles each attempt.
	ReconnectBaseDelay time.Duration `env:"RECONNECT_BASE_DELAY"`

	// ReconnectMaxAttempts bounds channel reconnection before the outage
	// is surfaced.
	ReconnectMaxAttempts int `env:"RECONNECT_MAX_ATTEMPTS"`

	// Engine selects the playback engine ("wav" or "mock").
	Engine string `env:"ENGINE"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		TransitionURL:        "https://cdn.voxbuzz.app/audio/transition.mp3",
		ReplayGrace:          30 * time.Second,
		CleanupDelay:         5 * time.Second,
		ChannelURL:           "wss://api.voxbuzz.app/chat",
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxAttempts: 3,
		Engine:               "wav",
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if c.TransitionURL == "" {
		return fmt.Errorf("transition_url must not be empty")
	}
	if c.ReplayGrace <= 0 {
		return fmt.Errorf("replay_grace must be positive, got %s", c.ReplayGrace)
	}
	if c.CleanupDelay <= 0 {
		return fmt.Errorf("cleanup_delay must be positive, got %s", c.CleanupDelay)
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect_base_delay must be positive, got %s", c.ReconnectBaseDelay)
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("reconnect_max_attempts must be positive, got %d", c.ReconnectMaxAttempts)
	}
	switch c.Engine {
	case "wav", "mock":
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	return nil
}
