// Package channel maintains the real-time connection to the assistant
// backend. It delivers reply chunks and message updates as streams and
// hides reconnection from consumers.
package channel
