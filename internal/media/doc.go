// Package media materializes base64 audio payloads as local files and
// manages their lifecycle: active protection, deferred cancelable cleanup,
// and session teardown.
package media
