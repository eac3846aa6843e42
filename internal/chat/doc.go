// Package chat bridges the real-time assistant channel to the playback
// driver. Reply chunks arrive as base64 audio, land on disk and play back
// in arrival order; finished chunks linger briefly for replay before
// their files are reclaimed.
package chat
