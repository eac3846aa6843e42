package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Load builds the configuration: defaults, then whatever Viper currently
// holds (config file and flags bound by the CLI), then VOXQUEUE_*
// environment variables on top.
func Load() (Config, error) {
	cfg := LoadFromViper()

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "VOXQUEUE_"}); err != nil {
		return cfg, fmt.Errorf("reading environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromViper reads the configuration from Viper over the defaults.
func LoadFromViper() Config {
	cfg := DefaultConfig()

	if viper.IsSet("cache_dir") {
		cfg.CacheDir = viper.GetString("cache_dir")
	}
	if viper.IsSet("transition_url") {
		cfg.TransitionURL = viper.GetString("transition_url")
	}
	if viper.IsSet("replay_grace") {
		if d, err := time.ParseDuration(viper.GetString("replay_grace")); err == nil {
			cfg.ReplayGrace = d
		}
	}
	if viper.IsSet("cleanup_delay") {
		if d, err := time.ParseDuration(viper.GetString("cleanup_delay")); err == nil {
			cfg.CleanupDelay = d
		}
	}
	if viper.IsSet("channel_url") {
		cfg.ChannelURL = viper.GetString("channel_url")
	}
	if viper.IsSet("reconnect_base_delay") {
		if d, err := time.ParseDuration(viper.GetString("reconnect_base_delay")); err == nil {
			cfg.ReconnectBaseDelay = d
		}
	}
	if viper.IsSet("reconnect_max_attempts") {
		cfg.ReconnectMaxAttempts = viper.GetInt("reconnect_max_attempts")
	}
	if viper.IsSet("engine") {
		cfg.Engine = viper.GetString("engine")
	}

	return cfg
}

// SetDefaults registers the built-in defaults with Viper so config files
// only need to name what they change.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("cache_dir", defaults.CacheDir)
	viper.SetDefault("transition_url", defaults.TransitionURL)
	viper.SetDefault("replay_grace", defaults.ReplayGrace.String())
	viper.SetDefault("cleanup_delay", defaults.CleanupDelay.String())
	viper.SetDefault("channel_url", defaults.ChannelURL)
	viper.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay.String())
	viper.SetDefault("reconnect_max_attempts", defaults.ReconnectMaxAttempts)
	viper.SetDefault("engine", defaults.Engine)
}
