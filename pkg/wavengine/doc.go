// Package wavengine is a playback engine for 16-bit PCM WAV audio built on
// oto. It fetches entries from disk or HTTP, plays them in queue order and
// reports progress through engine events.
package wavengine
