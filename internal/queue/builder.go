package queue

import (
	"fmt"

	"github.com/voxbuzz/voxqueue/internal/content"
)

// Entry is a playback-engine-facing wrapper around one utterance. The
// SourceIndex/UtteranceIndex pair recovers the owning utterance from an
// opaque track-changed event; UtteranceIndex is -1 for transition entries.
type Entry struct {
	EntryID        string
	AudioRef       string
	DisplayTitle   string
	DisplayArtist  string
	SourceIndex    int
	UtteranceIndex int
}

// IsTransition reports whether the entry plays the inter-source transition
// clip rather than content.
func (e Entry) IsTransition() bool {
	return e.UtteranceIndex == content.TransitionIndex
}

// Build maps utterances to queue entries. Entry ids are derived from the
// (SourceIndex, SequenceIndex) composite, never from the audio URL, so the
// repeated transition clip still yields unique ids. Build never touches the
// playback engine; callers decide when to reset and add.
func Build(utts []content.Utterance) []Entry {
	entries := make([]Entry, 0, len(utts))
	for _, u := range utts {
		entries = append(entries, fromUtterance(u))
	}
	return entries
}

// BuildSingle wraps a single ad-hoc audio reference, such as an assistant
// reply chunk, as a one-entry queue. The id must be unique per chunk; the
// caller supplies it.
func BuildSingle(entryID, audioRef, title, artist string) []Entry {
	return []Entry{{
		EntryID:        entryID,
		AudioRef:       audioRef,
		DisplayTitle:   title,
		DisplayArtist:  artist,
		SourceIndex:    0,
		UtteranceIndex: 0,
	}}
}

func fromUtterance(u content.Utterance) Entry {
	if u.IsTransition() {
		return Entry{
			EntryID:        fmt.Sprintf("transition-%d", u.SourceIndex),
			AudioRef:       u.AudioURL,
			DisplayTitle:   "Transition",
			DisplayArtist:  "Transition",
			SourceIndex:    u.SourceIndex,
			UtteranceIndex: content.TransitionIndex,
		}
	}
	return Entry{
		EntryID:        fmt.Sprintf("%d-%d", u.SourceIndex, u.SequenceIndex),
		AudioRef:       u.AudioURL,
		DisplayTitle:   u.SourceID,
		DisplayArtist:  u.SpeakerLabel,
		SourceIndex:    u.SourceIndex,
		UtteranceIndex: u.SequenceIndex,
	}
}

// Find returns the position of the entry with the given id, or -1.
func Find(entries []Entry, entryID string) int {
	for i, e := range entries {
		if e.EntryID == entryID {
			return i
		}
	}
	return -1
}

// Resolve maps an entry back to its utterance. Transition entries resolve
// with ok=true and a transition utterance. An id the queue does not contain
// resolves with ok=false.
func Resolve(entries []Entry, utts []content.Utterance, entryID string) (content.Utterance, bool) {
	i := Find(entries, entryID)
	if i < 0 {
		return content.Utterance{}, false
	}
	e := entries[i]
	for _, u := range utts {
		if u.SourceIndex == e.SourceIndex && u.SequenceIndex == e.UtteranceIndex {
			return u, true
		}
	}
	return content.Utterance{}, false
}

// NextSourceStart returns the position of the first entry
// (UtteranceIndex == 0) of the nearest source after the entry at cur, or -1
// when no later source exists. A source may contribute zero entries, so this
// scans forward rather than assuming source indexes are dense.
func NextSourceStart(entries []Entry, cur int) int {
	if cur < 0 || cur >= len(entries) {
		return -1
	}
	from := entries[cur].SourceIndex
	for i := cur + 1; i < len(entries); i++ {
		if entries[i].SourceIndex > from && entries[i].UtteranceIndex == 0 {
			return i
		}
	}
	return -1
}

// PreviousSourceStart returns the position of the first entry of the nearest
// source before the entry at cur, or -1 when none exists.
func PreviousSourceStart(entries []Entry, cur int) int {
	if cur < 0 || cur >= len(entries) {
		return -1
	}
	from := entries[cur].SourceIndex
	best := -1
	bestSource := -1
	for i := 0; i < cur; i++ {
		if entries[i].SourceIndex < from && entries[i].UtteranceIndex == 0 &&
			entries[i].SourceIndex > bestSource {
			best = i
			bestSource = entries[i].SourceIndex
		}
	}
	return best
}
