// Package player owns the playback session state machine. The Driver is
// the only component that issues commands to the external playback engine;
// it reacts to engine events and exposes a read-only projection of the
// current utterance for the UI layer.
package player
