// Package config centralizes the narration engine's tunables: cache
// location, transition clip, chunk lifecycle timing and channel
// reconnection policy.
package config
