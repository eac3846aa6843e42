// Package queue maps utterances onto playback-engine queue entries and
// resolves opaque entry ids back to their utterances.
package queue
